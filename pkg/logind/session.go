package logind

import (
	"errors"
	"fmt"
	"github.com/godbus/dbus/v5"
	"os"
	"sync"
)

const (
	dbusDest             = "org.freedesktop.login1"
	dbusManagerInterface = "org.freedesktop.login1.Manager"
	dbusSessionInterface = "org.freedesktop.login1.Session"
	dbusPath             = "/org/freedesktop/login1"
)

// Session is a login session of systemd-logind.
//
// It is safe to call Session's methods concurrently.
type Session struct {
	conn               *dbus.Conn
	manager            dbus.BusObject
	session            dbus.BusObject
	managerPath        dbus.ObjectPath
	sessionPath        dbus.ObjectPath
	muSignals          sync.Mutex
	closeSignalHandler chan struct{}

	lockSubs            map[chan<- struct{}]struct{}
	prepareForSleepSubs map[chan<- bool]struct{}

	lockSignalActive            bool
	prepareForSleepSignalActive bool
}

// NewSession connects to the system bus and resolves the session object.
//
// sessionId is the ID of the session, usually the XDG_SESSION_ID env var. When empty, the session
// the current process belongs to is used.
func NewSession(sessionId string) (*Session, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to system bus: %w", err)
	}

	s := newSession(conn)
	s.manager = conn.Object(dbusDest, dbusPath)

	sessionPath, err := s.findSession(sessionId)
	if err != nil {
		return nil, errors.Join(err, conn.Close())
	}
	s.sessionPath = sessionPath
	s.session = conn.Object(dbusDest, sessionPath)

	c := make(chan *dbus.Signal, 10)
	conn.Signal(c)
	go func() {
		for {
			select {
			case <-s.closeSignalHandler:
				conn.RemoveSignal(c)
				return
			case v := <-c:
				s.handleIncomingSignal(v)
			}
		}
	}()

	return s, nil
}

func newSession(conn *dbus.Conn) *Session {
	return &Session{
		conn:                conn,
		managerPath:         dbusPath,
		closeSignalHandler:  make(chan struct{}),
		lockSubs:            make(map[chan<- struct{}]struct{}),
		prepareForSleepSubs: make(map[chan<- bool]struct{}),
	}
}

func (s *Session) findSession(sessionId string) (dbus.ObjectPath, error) {
	if sessionId == "" {
		var path dbus.ObjectPath
		err := s.manager.
			Call(dbusManagerInterface+".GetSessionByPID", 0, uint32(os.Getpid())).
			Store(&path)
		if err != nil {
			return "", fmt.Errorf("failed to get session of process: %w", err)
		}
		return path, nil
	}

	var sessions []interface{}
	err := s.manager.
		Call(dbusManagerInterface+".ListSessions", 0).
		Store(&sessions)
	if err != nil {
		return "", fmt.Errorf("failed to list sessions: %w", err)
	}

	return sessionPathFromList(sessions, sessionId)
}

// sessionPathFromList finds the object path of sessionId in a ListSessions reply, an array of
// (session id, uid, user name, seat id, object path).
func sessionPathFromList(sessions []interface{}, sessionId string) (dbus.ObjectPath, error) {
	for i, sessionInt := range sessions {
		session, ok := sessionInt.([]interface{})
		if !ok || len(session) < 5 {
			return "", fmt.Errorf("session %d is not a session tuple: %+v", i, sessionInt)
		}
		currentSessionId, ok := session[0].(string)
		if !ok {
			return "", fmt.Errorf("session %d[0] is not a string: %+v", i, session[0])
		}

		if currentSessionId == sessionId {
			sessionPath, ok := session[4].(dbus.ObjectPath)
			if !ok {
				return "", fmt.Errorf("session %d[4] is not an ObjectPath: %+v", i, session[4])
			}
			return sessionPath, nil
		}
	}

	return "", fmt.Errorf("failed to find session object for session %q", sessionId)
}

// SetLockedHint tells logind whether the session is locked.
func (s *Session) SetLockedHint(locked bool) error {
	err := s.session.
		Call(dbusSessionInterface+".SetLockedHint", 0, locked).Err
	if err != nil {
		return fmt.Errorf("could not set locked hint: %w", err)
	}

	return nil
}

func (s *Session) LockedHint() (bool, error) {
	variant, err := s.session.GetProperty(dbusSessionInterface + ".LockedHint")
	if err != nil {
		return false, fmt.Errorf("could not get locked hint: %w", err)
	}

	lockedHint, ok := variant.Value().(bool)
	if !ok {
		return false, fmt.Errorf("LockedHint property result is not a boolean")
	}

	return lockedHint, nil
}

// SubscribeLock registers a channel that is notified when logind asks the session to lock, for
// example on `loginctl lock-session`.
//
// Writing to this channel does not block.
// Use a buffered channel if you don't want to miss anything.
func (s *Session) SubscribeLock(c chan<- struct{}) error {
	if c == nil {
		return errors.New("SubscribeLock: channel cannot be nil")
	}

	s.muSignals.Lock()
	defer s.muSignals.Unlock()

	if !s.lockSignalActive {
		if err := s.conn.AddMatchSignal(s.lockMatch()...); err != nil {
			return fmt.Errorf("failed to register Dbus Lock signal: %w", err)
		}
		s.lockSignalActive = true
	}

	s.lockSubs[c] = struct{}{}

	return nil
}

// UnsubscribeLock unregisters a channel previously registered with SubscribeLock.
// It can be safely called with an unregistered channel.
func (s *Session) UnsubscribeLock(c chan<- struct{}) error {
	if c == nil {
		return errors.New("UnsubscribeLock: channel cannot be nil")
	}

	s.muSignals.Lock()
	defer s.muSignals.Unlock()

	delete(s.lockSubs, c)

	if len(s.lockSubs) == 0 {
		return s.removeLockSignal()
	}

	return nil
}

func (s *Session) lockMatch() []dbus.MatchOption {
	return []dbus.MatchOption{
		dbus.WithMatchObjectPath(s.sessionPath),
		dbus.WithMatchInterface(dbusSessionInterface),
		dbus.WithMatchSender(dbusDest),
		dbus.WithMatchMember("Lock"),
	}
}

// removeLockSignal removes the Lock signal.
// Holding the muSignals mutex is required.
func (s *Session) removeLockSignal() error {
	if !s.lockSignalActive {
		return nil
	}

	if err := s.conn.RemoveMatchSignal(s.lockMatch()...); err != nil {
		return fmt.Errorf("failed to remove Dbus Lock signal: %w", err)
	}

	s.lockSignalActive = false

	return nil
}

// Close stops processing signals and closes the bus connection. Inhibitor locks taken through
// the session stay valid until they are closed themselves.
func (s *Session) Close() error {
	s.muSignals.Lock()
	defer s.muSignals.Unlock()

	var err error

	clear(s.lockSubs)
	err = errors.Join(err, s.removeLockSignal())
	clear(s.prepareForSleepSubs)
	err = errors.Join(err, s.removePrepareForSleepSignal())

	close(s.closeSignalHandler)
	return errors.Join(err, s.conn.Close())
}

func (s *Session) handleIncomingSignal(sig *dbus.Signal) {
	if sig == nil {
		// Seems to happen on close
		return
	}

	s.muSignals.Lock()
	defer s.muSignals.Unlock()

	switch {
	case sig.Path == s.sessionPath && sig.Name == dbusSessionInterface+".Lock":
		for c := range s.lockSubs {
			select {
			case c <- struct{}{}:
			default:
			}
		}
	case sig.Path == s.managerPath && sig.Name == dbusManagerInterface+".PrepareForSleep":
		if len(sig.Body) == 0 {
			return
		}
		start, ok := sig.Body[0].(bool)
		if !ok {
			return
		}

		for c := range s.prepareForSleepSubs {
			select {
			case c <- start:
			default:
			}
		}
	}
}
