package locker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/MatthiasKunnen/trlock/pkg/idle"
	"github.com/MatthiasKunnen/trlock/pkg/logind"
)

// LockRequests delivers the requests to lock the session.
type LockRequests interface {
	SubscribeLock(c chan<- struct{}) error
	UnsubscribeLock(c chan<- struct{}) error
	SubscribePrepareForSleep(c chan<- bool) error
	UnsubscribePrepareForSleep(c chan<- bool) error
	Inhibit(who string, why string, mode logind.Mode, what ...logind.What) (io.Closer, error)
}

// WaitForLockRequest blocks until logind asks the session to lock or the system prepares to
// sleep.
//
// A sleep delay inhibitor is held while waiting so the lock can be taken before the system
// suspends. The returned function releases it and must be called once the grabs are held.
func WaitForLockRequest(ctx context.Context, r LockRequests, log *slog.Logger) (func() error, error) {
	if log == nil {
		log = slog.Default()
	}

	release := func() error { return nil }
	inhibitor, err := r.Inhibit("trlock", "Lock screen before sleep", logind.ModeDelay, logind.WhatSleep)
	if err != nil {
		log.Warn("Failed to take sleep inhibitor, the screen may lock after suspend", "err", err)
	} else {
		release = inhibitor.Close
	}

	lock := make(chan struct{}, 1)
	sleep := make(chan bool, 1)

	if err := r.SubscribeLock(lock); err != nil {
		return nil, errors.Join(err, release())
	}
	defer func() {
		if err := r.UnsubscribeLock(lock); err != nil {
			log.Warn("Failed to unsubscribe from Lock", "err", err)
		}
	}()

	if err := r.SubscribePrepareForSleep(sleep); err != nil {
		return nil, errors.Join(err, release())
	}
	defer func() {
		if err := r.UnsubscribePrepareForSleep(sleep); err != nil {
			log.Warn("Failed to unsubscribe from PrepareForSleep", "err", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil, errors.Join(ctx.Err(), release())
		case <-lock:
			log.Info("Lock requested by logind")
			return release, nil
		case start := <-sleep:
			if start {
				log.Info("System is going to sleep")
				return release, nil
			}
		}
	}
}

// WaitForIdle blocks until the user has been idle for the given duration.
func WaitForIdle(ctx context.Context, c idle.Controller, after time.Duration) error {
	idled := make(chan struct{})
	w, err := c.Watch(idle.Request{After: after, Idle: idled})
	if err != nil {
		return fmt.Errorf("failed to watch idle time: %w", err)
	}
	defer w.Close()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-idled:
		return nil
	}
}
