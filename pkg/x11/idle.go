package x11

import (
	"fmt"
	"time"

	"github.com/jezek/xgb/screensaver"
	"github.com/jezek/xgb/xproto"

	"github.com/MatthiasKunnen/trlock/pkg/idle"
)

var _ idle.IdleTimer = (*Conn)(nil)

// IdleTime returns the time since the last keyboard or pointer input, as reported by the
// MIT-SCREEN-SAVER extension.
func (c *Conn) IdleTime() (time.Duration, error) {
	c.saverOnce.Do(func() {
		c.saverErr = screensaver.Init(c.conn)
	})
	if c.saverErr != nil {
		return 0, fmt.Errorf("MIT-SCREEN-SAVER extension unavailable: %w", c.saverErr)
	}

	info, err := screensaver.QueryInfo(c.conn, xproto.Drawable(c.screen.Root)).Reply()
	if err != nil {
		return 0, fmt.Errorf("failed to query idle time: %w", err)
	}

	return time.Duration(info.MsSinceUserInput) * time.Millisecond, nil
}
