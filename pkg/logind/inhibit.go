package logind

import (
	"errors"
	"fmt"
	"github.com/godbus/dbus/v5"
	"io"
	"os"
	"strings"
)

type What string

const (
	WhatHandleHibernateKey What = "handle-hibernate-key"
	WhatHandleLidSwitch    What = "handle-lid-switch"
	WhatHandlePowerKey     What = "handle-power-key"
	WhatHandleSuspendKey   What = "handle-suspend-key"
	WhatIdle               What = "idle"
	WhatShutdown           What = "shutdown"
	WhatSleep              What = "sleep"
)

type Mode string

const (
	ModeBlock     Mode = "block"
	ModeBlockWeak Mode = "block-weak"
	ModeDelay     Mode = "delay"
)

// Inhibit creates an inhibition lock.
//   - who should be a short human-readable string identifying the application taking the lock.
//   - why should be a short human-readable string identifying the reason why the lock is taken.
//   - mode determines whether the inhibition shall be considered mandatory ("block") or whether it
//     should just delay the operation to a certain maximum time ("delay"),
//     while "block-weak" will create an inhibitor that is automatically ignored in some
//     circumstances.
//   - what is one or more of actions that should be inhibited.
//
// The lock is released the moment when the returned object and all its duplicates are closed.
func (s *Session) Inhibit(who string, why string, mode Mode, what ...What) (io.Closer, error) {
	if len(what) == 0 {
		return nil, errors.New("Inhibit: at least one What is required")
	}

	var fd dbus.UnixFD

	err := s.manager.
		Call(dbusManagerInterface+".Inhibit", 0, joinWhat(what), who, why, string(mode)).
		Store(&fd)
	if err != nil {
		return nil, fmt.Errorf("failed to create inhibit lock: %w", err)
	}

	return os.NewFile(uintptr(fd), "inhibit"), nil
}

// SubscribePrepareForSleep registers the channel so that it will be notified when the system wants
// to sleep (true) or resumes from suspend (false).
// Unregister the channel using UnsubscribePrepareForSleep.
func (s *Session) SubscribePrepareForSleep(c chan<- bool) error {
	if c == nil {
		return errors.New("SubscribePrepareForSleep: channel cannot be nil")
	}

	s.muSignals.Lock()
	defer s.muSignals.Unlock()

	if !s.prepareForSleepSignalActive {
		if err := s.conn.AddMatchSignal(s.prepareForSleepMatch()...); err != nil {
			return fmt.Errorf("failed to register Dbus PrepareForSleep signal: %w", err)
		}
		s.prepareForSleepSignalActive = true
	}

	s.prepareForSleepSubs[c] = struct{}{}

	return nil
}

func (s *Session) UnsubscribePrepareForSleep(c chan<- bool) error {
	if c == nil {
		return errors.New("UnsubscribePrepareForSleep: channel cannot be nil")
	}

	s.muSignals.Lock()
	defer s.muSignals.Unlock()

	delete(s.prepareForSleepSubs, c)

	if len(s.prepareForSleepSubs) == 0 {
		return s.removePrepareForSleepSignal()
	}

	return nil
}

func (s *Session) prepareForSleepMatch() []dbus.MatchOption {
	return []dbus.MatchOption{
		dbus.WithMatchObjectPath(s.managerPath),
		dbus.WithMatchInterface(dbusManagerInterface),
		dbus.WithMatchSender(dbusDest),
		dbus.WithMatchMember("PrepareForSleep"),
	}
}

// removePrepareForSleepSignal removes the PrepareForSleep signal if it was registered.
// Holding the muSignals mutex is required.
func (s *Session) removePrepareForSleepSignal() error {
	if !s.prepareForSleepSignalActive {
		return nil
	}

	if err := s.conn.RemoveMatchSignal(s.prepareForSleepMatch()...); err != nil {
		return fmt.Errorf("failed to remove Dbus PrepareForSleep signal: %w", err)
	}

	s.prepareForSleepSignalActive = false

	return nil
}

func joinWhat(elems []What) string {
	parts := make([]string, len(elems))
	for i, elem := range elems {
		parts[i] = string(elem)
	}
	return strings.Join(parts, ":")
}
