package idle

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

type pollingController struct {
	timer     IdleTimer
	interval  time.Duration
	log       *slog.Logger
	close     chan struct{}
	closeOnce sync.Once
}

type pollingWatcher struct {
	stop     chan struct{}
	stopOnce sync.Once
}

func (n *pollingWatcher) Close() error {
	n.stopOnce.Do(func() { close(n.stop) })
	return nil
}

// NewPollingController creates a Controller that queries timer every interval.
// Idle and resume are therefore noticed up to one interval late.
func NewPollingController(timer IdleTimer, interval time.Duration, log *slog.Logger) Controller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if log == nil {
		log = slog.Default()
	}

	return &pollingController{
		timer:    timer,
		interval: interval,
		log:      log,
		close:    make(chan struct{}),
	}
}

func (m *pollingController) Close() error {
	m.closeOnce.Do(func() { close(m.close) })
	return nil
}

// Watch queries the timer once and starts a poll goroutine for req.
// One of Idle or Resume must be non-nil. A timer that cannot report the idle time fails Watch.
func (m *pollingController) Watch(req Request) (Watcher, error) {
	if req.Idle == nil && req.Resume == nil {
		return nil, errors.New("either Idle or Resume is required")
	}
	if req.After <= 0 {
		return nil, fmt.Errorf("idle duration must be positive, got %s", req.After)
	}

	if _, err := m.timer.IdleTime(); err != nil {
		return nil, fmt.Errorf("cannot query idle time: %w", err)
	}

	n := &pollingWatcher{stop: make(chan struct{})}
	go m.poll(n, req)

	return n, nil
}

func (m *pollingController) poll(n *pollingWatcher, in Request) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	idle := false
	failing := false
	for {
		select {
		case <-m.close:
			return
		case <-n.stop:
			return
		case <-ticker.C:
		}

		t, err := m.timer.IdleTime()
		if err != nil {
			if !failing {
				m.log.Warn("Failed to query idle time", "err", err)
			} else {
				m.log.Debug("Failed to query idle time", "err", err)
			}
			failing = true
			continue
		}
		failing = false

		var target chan<- struct{}
		switch {
		case !idle && t >= in.After:
			idle = true
			target = in.Idle
		case idle && t < in.After:
			idle = false
			target = in.Resume
		default:
			continue
		}
		if target == nil {
			continue
		}

		select {
		case target <- struct{}{}:
		case <-m.close:
			return
		case <-n.stop:
			return
		}
	}
}
