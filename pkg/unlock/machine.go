// Package unlock implements the password prompt of the lock: it consumes key presses one at a
// time, maintains the typed entry and decides when the screen may be unlocked.
package unlock

import (
	"time"
	"unicode/utf8"

	"github.com/MatthiasKunnen/trlock/pkg/entry"
	"github.com/MatthiasKunnen/trlock/pkg/throttle"
)

// KeyKind classifies a key press by what the prompt does with it.
type KeyKind int

const (
	// KeyIgnored is a key without meaning to the prompt, like a modifier.
	KeyIgnored KeyKind = iota
	// KeyText carries the characters the key produced in Key.Text.
	KeyText
	// KeyCancel discards the entry (Escape, Clear).
	KeyCancel
	// KeyErase removes the last character (BackSpace, Delete).
	KeyErase
	// KeySubmit submits the entry (Return, Linefeed, KP_Enter).
	KeySubmit
)

// Key is a single key press.
type Key struct {
	// Time is the event time of the press in the display server's time domain.
	Time time.Duration
	Kind KeyKind
	Text string
}

type State int

const (
	StateIdle State = iota
	StateComposing
	StateLockedOut
	StateUnlocked
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateComposing:
		return "composing"
	case StateLockedOut:
		return "locked-out"
	case StateUnlocked:
		return "unlocked"
	default:
		return "unknown"
	}
}

// Verifier checks a submitted entry against the reference secret.
type Verifier interface {
	Verify(candidate string) bool
}

// Alerter produces the audible cue for rejected input.
type Alerter interface {
	Bell()
}

// Failure describes a rejected submission.
type Failure struct {
	At       time.Duration
	Deadline time.Duration
	Attempt  int
}

// Machine is the prompt state machine. It is not safe for concurrent use.
type Machine struct {
	verifier  Verifier
	alert     Alerter
	buf       *entry.Buffer
	throttle  *throttle.Throttle
	onFailure func(Failure)

	last     time.Duration
	failures int
	unlocked bool
}

type Option func(*Machine)

// WithAlert sets the Alerter used for the bell. By default the bell is silent.
func WithAlert(a Alerter) Option {
	return func(m *Machine) {
		m.alert = a
	}
}

// WithThrottle replaces the default throttle.
func WithThrottle(t *throttle.Throttle) Option {
	return func(m *Machine) {
		m.throttle = t
	}
}

// WithCapacity sets the maximum entry length.
func WithCapacity(n int) Option {
	return func(m *Machine) {
		m.buf = entry.New(n)
	}
}

// WithFailureHook registers a function called after every rejected submission.
func WithFailureHook(fn func(Failure)) Option {
	return func(m *Machine) {
		m.onFailure = fn
	}
}

func New(v Verifier, opts ...Option) *Machine {
	m := &Machine{
		verifier: v,
		alert:    silent{},
		buf:      entry.New(entry.DefaultCapacity),
		throttle: throttle.New(throttle.DefaultConfig()),
	}
	for _, opt := range opts {
		opt(m)
	}

	return m
}

// HandleKey processes one key press and returns the resulting state.
// Once StateUnlocked is reached further keys are ignored.
func (m *Machine) HandleKey(k Key) State {
	if m.unlocked {
		return StateUnlocked
	}
	m.last = k.Time

	if m.throttle.Locked(k.Time) {
		m.alert.Bell()
		return m.State()
	}

	switch k.Kind {
	case KeyCancel:
		m.buf.Clear()
	case KeyErase:
		m.buf.Backspace()
	case KeySubmit:
		m.submit(k.Time)
	case KeyText:
		if utf8.RuneCountInString(k.Text) != 1 {
			break
		}
		r, _ := utf8.DecodeRuneInString(k.Text)
		m.buf.Append(r)
	}

	return m.State()
}

func (m *Machine) submit(at time.Duration) {
	if m.buf.Len() == 0 {
		return
	}

	ok := m.verifier.Verify(m.buf.String())
	m.buf.Clear()
	if ok {
		m.unlocked = true
		return
	}

	m.alert.Bell()
	m.failures++
	deadline := m.throttle.OnFailure(at)
	if m.onFailure != nil {
		m.onFailure(Failure{At: at, Deadline: deadline, Attempt: m.failures})
	}
}

// State returns the state as of the last handled key.
func (m *Machine) State() State {
	switch {
	case m.unlocked:
		return StateUnlocked
	case m.throttle.Locked(m.last):
		return StateLockedOut
	case m.buf.Len() > 0:
		return StateComposing
	default:
		return StateIdle
	}
}

// Len returns the number of characters typed so far.
func (m *Machine) Len() int {
	return m.buf.Len()
}

// Failures returns the number of rejected submissions.
func (m *Machine) Failures() int {
	return m.failures
}

type silent struct{}

func (silent) Bell() {}
