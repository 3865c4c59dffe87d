package idle

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedTimer struct {
	mu     sync.Mutex
	values []time.Duration
	errs   int
}

func (s *scriptedTimer) IdleTime() (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.errs > 0 {
		s.errs--
		return 0, errors.New("extension missing")
	}
	if len(s.values) == 1 {
		return s.values[0], nil
	}
	v := s.values[0]
	s.values = s.values[1:]
	return v, nil
}

func receive(t *testing.T, c <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-c:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestPollingControllerIdleAndResume(t *testing.T) {
	timer := &scriptedTimer{
		values: []time.Duration{
			0,
			time.Second,
			5 * time.Second,
			6 * time.Second,
			100 * time.Millisecond,
		},
	}
	m := NewPollingController(timer, time.Millisecond, nil)
	defer m.Close()

	idleC := make(chan struct{})
	resumeC := make(chan struct{})
	w, err := m.Watch(Request{
		After:  5 * time.Second,
		Idle:   idleC,
		Resume: resumeC,
	})
	require.NoError(t, err)
	defer w.Close()

	timer.mu.Lock()
	timer.errs = 2
	timer.mu.Unlock()

	receive(t, idleC, "idle")
	receive(t, resumeC, "resume")

	select {
	case <-idleC:
		t.Fatal("idle notified again while active")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestPollingControllerIdleOnly(t *testing.T) {
	timer := &scriptedTimer{values: []time.Duration{0, 10 * time.Second, 0, 10 * time.Second}}
	m := NewPollingController(timer, time.Millisecond, nil)
	defer m.Close()

	idleC := make(chan struct{})
	_, err := m.Watch(Request{After: time.Second, Idle: idleC})
	require.NoError(t, err)

	receive(t, idleC, "first idle")
	receive(t, idleC, "second idle")
}

func TestPollingControllerRequiresChannel(t *testing.T) {
	m := NewPollingController(&scriptedTimer{values: []time.Duration{0}}, 0, nil)
	defer m.Close()

	_, err := m.Watch(Request{After: time.Second})
	assert.Error(t, err)
}

func TestPollingControllerRequiresPositiveDuration(t *testing.T) {
	m := NewPollingController(&scriptedTimer{values: []time.Duration{0}}, 0, nil)
	defer m.Close()

	_, err := m.Watch(Request{Idle: make(chan struct{})})
	assert.Error(t, err)
}

func TestPollingWatcherCloseIsIdempotent(t *testing.T) {
	m := NewPollingController(&scriptedTimer{values: []time.Duration{0}}, time.Millisecond, nil)
	w, err := m.Watch(Request{After: time.Second, Idle: make(chan struct{})})
	require.NoError(t, err)

	assert.NoError(t, w.Close())
	assert.NoError(t, w.Close())
	assert.NoError(t, m.Close())
	assert.NoError(t, m.Close())
}

func TestPollingControllerWatchFailsWithoutIdleTime(t *testing.T) {
	m := NewPollingController(&scriptedTimer{errs: 1, values: []time.Duration{0}}, time.Millisecond, nil)
	defer m.Close()

	_, err := m.Watch(Request{After: time.Second, Idle: make(chan struct{})})
	assert.ErrorContains(t, err, "extension missing")
}
