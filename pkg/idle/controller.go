// Package idle notifies when the user has not touched keyboard or pointer for a while.
//
// The lock uses it for --on-idle: the X connection reports the idle time and a Controller turns
// that into idle and resume notifications.
package idle

import (
	"time"
)

// DefaultPollInterval is the idle time query interval of NewPollingController.
const DefaultPollInterval = time.Second

// IdleTimer reports how long the user has been idle, like the X11 MIT-SCREEN-SAVER extension
// does.
type IdleTimer interface {
	IdleTime() (time.Duration, error)
}

type Controller interface {
	// Watch starts notifying the channels of req until the returned Watcher is closed.
	Watch(req Request) (Watcher, error)

	// Close stops all watchers. Do not use the Controller after this.
	Close() error
}

type Watcher interface {
	// Close stops this watcher.
	// Safe to be called from another goroutine and more than once.
	Close() error
}

type Request struct {
	// After is the idle time at which Idle is notified.
	After time.Duration

	// Idle is notified when the user has been idle for After.
	Idle chan<- struct{}

	// Resume is notified when the user is active again after Idle was notified.
	Resume chan<- struct{}
}
