package x11

import (
	"time"

	"github.com/jezek/xgb/xproto"
)

// clock converts 32-bit server timestamps, which wrap after about 49.7 days, into a monotonic
// duration since the server's time origin.
type clock struct {
	started bool
	last    uint32
	wraps   int64
}

func (c *clock) at(ts xproto.Timestamp) time.Duration {
	t := uint32(ts)
	if c.started && t < c.last && c.last-t > 1<<31 {
		c.wraps++
	}
	c.last = t
	c.started = true

	return time.Duration(c.wraps<<32+int64(t)) * time.Millisecond
}
