// Package grab takes exclusive control of keyboard and pointer input.
//
// A screen lock that cannot guarantee exclusive input must not run: any key it does not own
// would be delivered to another program. Acquire therefore either returns a Handle holding
// both grabs or an error, never a partial grab.
package grab

import (
	"errors"
	"fmt"
	"log/slog"
	"time"
)

var (
	ErrKeyboardGrab = errors.New("cannot grab keyboard")
	ErrPointerGrab  = errors.New("cannot grab pointer")
)

const (
	DefaultAttempts = 100
	DefaultInterval = 10 * time.Millisecond
	DefaultBlink    = 100 * time.Millisecond
)

// Display is the part of a display server connection needed to lock input.
// The input window is an invisible window receiving key events, the overlay is an opaque window
// covering the screen.
type Display interface {
	MapInput() error
	MapOverlay() error
	UnmapOverlay() error

	// GrabKeyboard returns an error when the keyboard is grabbed by another client.
	GrabKeyboard() error
	UngrabKeyboard() error
	GrabPointer() error
	UngrabPointer() error

	// Sync blocks until the server processed all previous requests.
	Sync() error
}

type Config struct {
	// Attempts is the number of keyboard grab attempts.
	Attempts int
	// Interval is the pause after every failed keyboard grab attempt.
	Interval time.Duration
	// Blank keeps the overlay mapped while locked.
	Blank bool
	// Blink shows the overlay for this long after locking to confirm the lock.
	// Ignored when Blank is set. Zero disables the blink.
	Blink time.Duration
}

func DefaultConfig() Config {
	return Config{
		Attempts: DefaultAttempts,
		Interval: DefaultInterval,
		Blink:    DefaultBlink,
	}
}

type Manager struct {
	display Display
	cfg     Config
	log     *slog.Logger
	sleep   func(time.Duration)
}

func NewManager(d Display, cfg Config, log *slog.Logger) *Manager {
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	if log == nil {
		log = slog.Default()
	}

	return &Manager{
		display: d,
		cfg:     cfg,
		log:     log,
		sleep:   time.Sleep,
	}
}

// Handle represents the keyboard and pointer grab.
type Handle struct {
	display  Display
	released bool
}

// Acquire maps the input window and grabs keyboard then pointer.
//
// The keyboard grab is retried since the program launching the lock, often a window manager
// reacting to a key binding, may still hold its own grab for a moment.
func (m *Manager) Acquire() (*Handle, error) {
	if err := m.display.MapInput(); err != nil {
		return nil, fmt.Errorf("failed to map input window: %w", err)
	}

	if err := m.grabKeyboard(); err != nil {
		return nil, err
	}

	if err := m.display.GrabPointer(); err != nil {
		if uerr := m.display.UngrabKeyboard(); uerr != nil {
			m.log.Error("Failed to release keyboard grab", "err", uerr)
		}
		return nil, fmt.Errorf("%w: %w", ErrPointerGrab, err)
	}

	if !m.cfg.Blank && m.cfg.Blink > 0 {
		if err := m.blink(); err != nil {
			m.log.Warn("Lock confirmation blink failed", "err", err)
		}
	}

	if m.cfg.Blank {
		if err := m.display.MapOverlay(); err != nil {
			m.log.Warn("Failed to map blank overlay", "err", err)
		}
	}

	return &Handle{display: m.display}, nil
}

func (m *Manager) grabKeyboard() error {
	var lastErr error
	for attempt := 1; attempt <= m.cfg.Attempts; attempt++ {
		lastErr = m.display.GrabKeyboard()
		if lastErr == nil {
			if attempt > 1 {
				m.log.Debug("Keyboard grabbed after retrying", "attempts", attempt)
			}
			return nil
		}

		m.sleep(m.cfg.Interval)
	}

	return fmt.Errorf("%w after %d attempts: %w", ErrKeyboardGrab, m.cfg.Attempts, lastErr)
}

func (m *Manager) blink() error {
	if err := m.display.MapOverlay(); err != nil {
		return err
	}
	if err := m.display.Sync(); err != nil {
		return err
	}

	m.sleep(m.cfg.Blink)

	if err := m.display.UnmapOverlay(); err != nil {
		return err
	}
	if err := m.display.MapInput(); err != nil {
		return err
	}

	return m.display.Sync()
}

// Release ungrabs pointer and keyboard. Calling Release more than once is a no-op.
func (h *Handle) Release() error {
	if h.released {
		return nil
	}
	h.released = true

	return errors.Join(
		h.display.UngrabPointer(),
		h.display.UngrabKeyboard(),
		h.display.Sync(),
	)
}
