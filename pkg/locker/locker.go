// Package locker runs a lock session: it takes the input grabs, feeds key presses to the prompt
// until the secret is entered and gives the session back.
//
// Everything besides the grab is best effort. A lock that fails to publish its state to logind,
// lock the keyring or show a notification stays locked.
package locker

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/MatthiasKunnen/trlock/pkg/audit"
	"github.com/MatthiasKunnen/trlock/pkg/credential"
	"github.com/MatthiasKunnen/trlock/pkg/grab"
	"github.com/MatthiasKunnen/trlock/pkg/notify"
	"github.com/MatthiasKunnen/trlock/pkg/throttle"
	"github.com/MatthiasKunnen/trlock/pkg/unlock"
)

const noticeTimeout = time.Second

// Privileges gives up elevated privileges for good.
type Privileges interface {
	Drop() error
}

// ResolveSecret resolves the reference secret and then drops privileges, whether resolving
// succeeded or not. Nothing after it runs with the privileges needed to read the shadow file.
func ResolveSecret(r credential.Resolver, src credential.Source, priv Privileges) (credential.Provider, error) {
	p, err := r.Resolve(src)
	if dropErr := priv.Drop(); dropErr != nil {
		return nil, errors.Join(err, dropErr)
	}
	if err != nil {
		return nil, err
	}

	return p, nil
}

// Display is the display server connection a session locks.
type Display interface {
	grab.Display
	unlock.Alerter
	// NextKey blocks until the next key press.
	NextKey() (unlock.Key, error)
}

type LockedHinter interface {
	SetLockedHint(locked bool) error
}

type Notifier interface {
	Notify(n notify.Notice) error
}

type Recorder interface {
	Record(kind audit.Kind, detail string) error
}

type Keyring interface {
	LockAll() ([]dbus.ObjectPath, error)
}

// Options configures a Session. Nil collaborators are skipped.
type Options struct {
	Grab     grab.Config
	Throttle throttle.Config

	Hint     LockedHinter
	Keyring  Keyring
	Notifier Notifier
	Journal  Recorder

	LockedIcon   string
	UnlockedIcon string

	// OnLocked is called once the grabs are held.
	OnLocked func()

	Log *slog.Logger
}

// Session is a single lock. It is not reusable after Run returns.
type Session struct {
	display Display
	grabs   *grab.Manager
	machine *unlock.Machine
	opts    Options
	log     *slog.Logger
}

func NewSession(d Display, v unlock.Verifier, opts Options) *Session {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}

	s := &Session{
		display: d,
		grabs:   grab.NewManager(d, opts.Grab, log),
		opts:    opts,
		log:     log,
	}
	s.machine = unlock.New(v,
		unlock.WithAlert(d),
		unlock.WithThrottle(throttle.New(opts.Throttle)),
		unlock.WithFailureHook(s.failed),
	)

	return s
}

// Run locks the display and returns nil once the secret was entered.
// Failing to take the grabs or losing the display connection is returned as an error.
func (s *Session) Run() error {
	handle, err := s.grabs.Acquire()
	if err != nil {
		return err
	}

	s.locked()

	if err := s.loop(); err != nil {
		return errors.Join(err, handle.Release())
	}

	if err := handle.Release(); err != nil {
		s.log.Warn("Failed to release grabs", "err", err)
	}

	s.unlocked()

	return nil
}

func (s *Session) loop() error {
	for {
		k, err := s.display.NextKey()
		if err != nil {
			return fmt.Errorf("failed to read key: %w", err)
		}

		if s.machine.HandleKey(k) == unlock.StateUnlocked {
			return nil
		}
	}
}

func (s *Session) locked() {
	s.log.Info("Locked")

	if s.opts.Hint != nil {
		if err := s.opts.Hint.SetLockedHint(true); err != nil {
			s.log.Warn("Failed to set locked hint", "err", err)
		}
	}

	if s.opts.Keyring != nil {
		locked, err := s.opts.Keyring.LockAll()
		if err != nil {
			s.log.Warn("Failed to lock keyring", "err", err)
		} else {
			s.log.Debug("Keyring locked", "collections", len(locked))
		}
	}

	s.notify(notify.Notice{
		Summary: "Successfully Locked",
		Icon:    s.opts.LockedIcon,
		Timeout: noticeTimeout,
	})
	s.record(audit.KindLocked, "")

	if s.opts.OnLocked != nil {
		s.opts.OnLocked()
	}
}

func (s *Session) unlocked() {
	failures := s.machine.Failures()
	s.log.Info("Unlocked", "failures", failures)

	if s.opts.Hint != nil {
		if err := s.opts.Hint.SetLockedHint(false); err != nil {
			s.log.Warn("Failed to clear locked hint", "err", err)
		}
	}

	s.record(audit.KindUnlocked, fmt.Sprintf("failures=%d", failures))
	s.notify(notify.Notice{
		Summary: "Successfully Unlocked",
		Icon:    s.opts.UnlockedIcon,
		Timeout: noticeTimeout,
	})
}

func (s *Session) failed(f unlock.Failure) {
	lockout := max(f.Deadline-f.At, 0)
	s.log.Info("Wrong password", "attempt", f.Attempt, "lockout", lockout)
	s.record(audit.KindFailed, fmt.Sprintf("attempt=%d lockout=%s", f.Attempt, lockout))
}

func (s *Session) notify(n notify.Notice) {
	if s.opts.Notifier == nil {
		return
	}
	if err := s.opts.Notifier.Notify(n); err != nil {
		s.log.Warn("Failed to notify", "summary", n.Summary, "err", err)
	}
}

func (s *Session) record(kind audit.Kind, detail string) {
	if s.opts.Journal == nil {
		return
	}
	if err := s.opts.Journal.Record(kind, detail); err != nil {
		s.log.Warn("Failed to write journal", "kind", kind, "err", err)
	}
}
