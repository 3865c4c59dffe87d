package unlock

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MatthiasKunnen/trlock/pkg/throttle"
)

type fakeVerifier struct {
	secret string
	calls  []string
}

func (v *fakeVerifier) Verify(candidate string) bool {
	v.calls = append(v.calls, candidate)
	return candidate == v.secret
}

type bellCounter int

func (b *bellCounter) Bell() { *b++ }

// typer feeds keys to a machine with strictly increasing event times.
type typer struct {
	m   *Machine
	now time.Duration
}

func (ty *typer) key(k Key) State {
	ty.now += 100 * time.Millisecond
	k.Time = ty.now
	return ty.m.HandleKey(k)
}

func (ty *typer) text(s string) State {
	var st State
	for _, r := range s {
		st = ty.key(Key{Kind: KeyText, Text: string(r)})
	}
	return st
}

func (ty *typer) enter() State {
	return ty.key(Key{Kind: KeySubmit})
}

func newTyper(v Verifier, opts ...Option) *typer {
	return &typer{m: New(v, opts...), now: time.Hour}
}

func TestCorrectPasswordUnlocks(t *testing.T) {
	v := &fakeVerifier{secret: "hunter2"}
	th := throttle.New(throttle.DefaultConfig())
	ty := newTyper(v, WithThrottle(th))

	assert.Equal(t, StateIdle, ty.m.State())
	assert.Equal(t, StateComposing, ty.text("hunter2"))
	assert.Equal(t, StateUnlocked, ty.enter())

	assert.Equal(t, []string{"hunter2"}, v.calls)
	_, armed := th.Deadline()
	assert.False(t, armed, "no lockout armed")
	assert.Equal(t, 0, ty.m.Len())

	assert.Equal(t, StateUnlocked, ty.text("x"), "keys after unlock are ignored")
}

func TestEmptySubmitIsNoop(t *testing.T) {
	v := &fakeVerifier{secret: "hunter2"}
	th := throttle.New(throttle.DefaultConfig())
	var bells bellCounter
	ty := newTyper(v, WithThrottle(th), WithAlert(&bells))

	assert.Equal(t, StateIdle, ty.enter())

	assert.Empty(t, v.calls)
	assert.Equal(t, throttle.DefaultMaxGoodwill, th.Goodwill())
	_, armed := th.Deadline()
	assert.False(t, armed)
	assert.Zero(t, bells)
}

func TestEditing(t *testing.T) {
	v := &fakeVerifier{secret: "ab"}
	ty := newTyper(v)

	ty.key(Key{Kind: KeyErase})
	assert.Equal(t, StateIdle, ty.m.State(), "backspace on empty entry")

	ty.text("axyz")
	ty.key(Key{Kind: KeyCancel})
	assert.Equal(t, 0, ty.m.Len())

	ty.text("ac")
	ty.key(Key{Kind: KeyErase})
	ty.text("b")
	assert.Equal(t, StateUnlocked, ty.enter())
	assert.Equal(t, []string{"ab"}, v.calls)
}

func TestIgnoredInput(t *testing.T) {
	v := &fakeVerifier{secret: "a"}
	ty := newTyper(v)

	ty.key(Key{Kind: KeyText, Text: ""})
	ty.key(Key{Kind: KeyText, Text: "´e"})
	ty.key(Key{Kind: KeyIgnored})
	assert.Equal(t, 0, ty.m.Len())

	ty.key(Key{Kind: KeyText, Text: "a"})
	assert.Equal(t, StateUnlocked, ty.enter())
}

func TestOverflowIsDropped(t *testing.T) {
	v := &fakeVerifier{secret: "abcd"}
	ty := newTyper(v, WithCapacity(4))

	ty.text("abcdefgh")
	assert.Equal(t, 4, ty.m.Len())
	assert.Equal(t, StateUnlocked, ty.enter())
}

func TestWrongPasswordThreeTimes(t *testing.T) {
	v := &fakeVerifier{secret: "hunter2"}
	var bells bellCounter
	th := throttle.New(throttle.DefaultConfig())
	var failures []Failure
	m := New(v, WithThrottle(th), WithAlert(&bells), WithFailureHook(func(f Failure) {
		failures = append(failures, f)
	}))

	// Each key one millisecond apart: no idle time between attempts.
	now := time.Hour
	press := func(k Key) State {
		now += time.Millisecond
		k.Time = now
		return m.HandleKey(k)
	}
	attempt := func() {
		for _, r := range "wrong" {
			press(Key{Kind: KeyText, Text: string(r)})
		}
		press(Key{Kind: KeySubmit})
	}

	attempt()
	attempt()
	require.Len(t, failures, 2)
	attempt()
	require.Len(t, failures, 3)

	assert.Less(t, failures[0].Deadline, failures[1].Deadline)
	assert.Less(t, failures[1].Deadline, failures[2].Deadline)
	assert.Equal(t, 3, m.Failures())
	assert.Equal(t, 3, int(bells))
	assert.Equal(t, StateLockedOut, m.State())

	// During lockout keys are discarded and Enter is not evaluated.
	assert.Equal(t, StateLockedOut, press(Key{Kind: KeyText, Text: "h"}))
	assert.Equal(t, StateLockedOut, press(Key{Kind: KeySubmit}))
	assert.Equal(t, 0, m.Len())
	assert.Len(t, v.calls, 3)
	assert.Equal(t, 5, int(bells))

	// After the deadline the correct password works again.
	now = failures[2].Deadline
	for _, r := range "hunter2" {
		press(Key{Kind: KeyText, Text: string(r)})
	}
	assert.Equal(t, StateUnlocked, press(Key{Kind: KeySubmit}))
}

func TestLockoutDropsEdits(t *testing.T) {
	v := &fakeVerifier{secret: "hunter2"}
	var bells bellCounter
	var last Failure
	m := New(v, WithThrottle(throttle.New(throttle.DefaultConfig())), WithAlert(&bells), WithFailureHook(func(f Failure) {
		last = f
	}))

	now := time.Hour
	for i := 0; i < 3; i++ {
		for _, r := range "wrong" {
			now += time.Millisecond
			m.HandleKey(Key{Time: now, Kind: KeyText, Text: string(r)})
		}
		now += time.Millisecond
		m.HandleKey(Key{Time: now, Kind: KeySubmit})
	}
	require.Greater(t, last.Deadline, now)

	// A partial entry typed at the deadline, then edits stamped before it.
	m.HandleKey(Key{Time: last.Deadline, Kind: KeyText, Text: "h"})
	m.HandleKey(Key{Time: last.Deadline, Kind: KeyText, Text: "u"})
	require.Equal(t, 2, m.Len())
	bellsBefore := int(bells)

	early := last.Deadline - time.Millisecond
	assert.Equal(t, StateLockedOut, m.HandleKey(Key{Time: early, Kind: KeyCancel}))
	assert.Equal(t, StateLockedOut, m.HandleKey(Key{Time: early, Kind: KeyErase}))
	assert.Equal(t, 2, m.Len())
	assert.Equal(t, bellsBefore+2, int(bells))

	// Escape and BackSpace during lockout ring the bell even with nothing typed.
	m.HandleKey(Key{Time: last.Deadline, Kind: KeyCancel})
	require.Equal(t, 0, m.Len())
	assert.Equal(t, StateLockedOut, m.HandleKey(Key{Time: early, Kind: KeyCancel}))
	assert.Equal(t, StateLockedOut, m.HandleKey(Key{Time: early, Kind: KeyErase}))
	assert.Equal(t, bellsBefore+4, int(bells))
	assert.Len(t, v.calls, 3)
}

func TestFailureClearsEntry(t *testing.T) {
	v := &fakeVerifier{secret: "right"}
	ty := newTyper(v)

	ty.text("wrong")
	ty.enter()
	assert.Equal(t, 0, ty.m.Len())
	assert.Equal(t, []string{"wrong"}, v.calls)
}

func TestStateString(t *testing.T) {
	names := []string{StateIdle.String(), StateComposing.String(), StateLockedOut.String(), StateUnlocked.String()}
	assert.Equal(t, "idle composing locked-out unlocked", strings.Join(names, " "))
}
