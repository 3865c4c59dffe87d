// Package x11 connects the lock to an X server.
//
// It owns the two windows a lock needs: an opaque override-redirect window covering the default
// screen, used for blank mode and the lock confirmation blink, and a 1x1 input-only window that
// receives key presses while keyboard and pointer are grabbed. Conn implements grab.Display and
// supplies the prompt with decoded key presses.
package x11

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jezek/xgb"
	"github.com/jezek/xgb/xproto"

	"github.com/MatthiasKunnen/trlock/pkg/grab"
	"github.com/MatthiasKunnen/trlock/pkg/unlock"
)

var _ grab.Display = (*Conn)(nil)

// ErrClosed is returned by NextKey when the connection to the X server is gone.
var ErrClosed = errors.New("connection to X server closed")

type Conn struct {
	conn    *xgb.Conn
	screen  *xproto.ScreenInfo
	overlay xproto.Window
	input   xproto.Window
	cursor  xproto.Cursor
	keys    *keymap
	clock   clock
	log     *slog.Logger

	saverOnce sync.Once
	saverErr  error
}

// Open connects to the named display, $DISPLAY when empty, and creates the lock windows.
// The windows are not mapped.
func Open(display string, log *slog.Logger) (*Conn, error) {
	if log == nil {
		log = slog.Default()
	}

	conn, err := xgb.NewConnDisplay(display)
	if err != nil {
		return nil, fmt.Errorf("cannot open display %q: %w", display, err)
	}

	c := &Conn{
		conn:   conn,
		screen: xproto.Setup(conn).DefaultScreen(conn),
		log:    log,
	}

	if err := c.init(); err != nil {
		return nil, errors.Join(err, c.Close())
	}

	return c, nil
}

func (c *Conn) init() error {
	var err error

	c.overlay, err = xproto.NewWindowId(c.conn)
	if err != nil {
		return fmt.Errorf("failed to allocate overlay window id: %w", err)
	}
	err = xproto.CreateWindowChecked(
		c.conn,
		c.screen.RootDepth,
		c.overlay,
		c.screen.Root,
		0, 0, c.screen.WidthInPixels, c.screen.HeightInPixels, 0,
		xproto.WindowClassInputOutput,
		c.screen.RootVisual,
		xproto.CwBackPixel|xproto.CwOverrideRedirect,
		[]uint32{c.screen.BlackPixel, 1},
	).Check()
	if err != nil {
		c.overlay = 0
		return fmt.Errorf("failed to create overlay window: %w", err)
	}

	c.input, err = xproto.NewWindowId(c.conn)
	if err != nil {
		return fmt.Errorf("failed to allocate input window id: %w", err)
	}
	err = xproto.CreateWindowChecked(
		c.conn,
		0,
		c.input,
		c.screen.Root,
		0, 0, 1, 1, 0,
		xproto.WindowClassInputOnly,
		0,
		xproto.CwOverrideRedirect|xproto.CwEventMask,
		[]uint32{1, xproto.EventMaskKeyPress | xproto.EventMaskKeyRelease},
	).Check()
	if err != nil {
		c.input = 0
		return fmt.Errorf("failed to create input window: %w", err)
	}

	if err := c.createCursor(); err != nil {
		return err
	}

	return c.loadKeymap()
}

// createCursor creates a fully transparent cursor for the pointer grab.
func (c *Conn) createCursor() error {
	pixmap, err := xproto.NewPixmapId(c.conn)
	if err != nil {
		return fmt.Errorf("failed to allocate pixmap id: %w", err)
	}
	err = xproto.CreatePixmapChecked(c.conn, 1, pixmap, xproto.Drawable(c.screen.Root), 1, 1).Check()
	if err != nil {
		return fmt.Errorf("failed to create cursor pixmap: %w", err)
	}
	defer xproto.FreePixmap(c.conn, pixmap)

	gc, err := xproto.NewGcontextId(c.conn)
	if err != nil {
		return fmt.Errorf("failed to allocate graphics context id: %w", err)
	}
	err = xproto.CreateGCChecked(c.conn, gc, xproto.Drawable(pixmap), xproto.GcForeground, []uint32{0}).Check()
	if err != nil {
		return fmt.Errorf("failed to create graphics context: %w", err)
	}
	xproto.PolyFillRectangle(c.conn, xproto.Drawable(pixmap), gc, []xproto.Rectangle{{Width: 1, Height: 1}})
	xproto.FreeGC(c.conn, gc)

	cursor, err := xproto.NewCursorId(c.conn)
	if err != nil {
		return fmt.Errorf("failed to allocate cursor id: %w", err)
	}
	err = xproto.CreateCursorChecked(c.conn, cursor, pixmap, pixmap, 0, 0, 0, 0, 0, 0, 0, 0).Check()
	if err != nil {
		return fmt.Errorf("failed to create cursor: %w", err)
	}
	c.cursor = cursor

	return nil
}

func (c *Conn) loadKeymap() error {
	setup := xproto.Setup(c.conn)
	count := byte(setup.MaxKeycode - setup.MinKeycode + 1)

	mapping, err := xproto.GetKeyboardMapping(c.conn, setup.MinKeycode, count).Reply()
	if err != nil {
		return fmt.Errorf("failed to get keyboard mapping: %w", err)
	}
	modifiers, err := xproto.GetModifierMapping(c.conn).Reply()
	if err != nil {
		return fmt.Errorf("failed to get modifier mapping: %w", err)
	}

	c.keys = newKeymap(
		setup.MinKeycode,
		int(mapping.KeysymsPerKeycode),
		mapping.Keysyms,
		modifiers.Keycodes,
		int(modifiers.KeycodesPerModifier),
	)

	return nil
}

func (c *Conn) MapInput() error {
	return xproto.MapWindowChecked(c.conn, c.input).Check()
}

func (c *Conn) MapOverlay() error {
	return xproto.MapWindowChecked(c.conn, c.overlay).Check()
}

func (c *Conn) UnmapOverlay() error {
	return xproto.UnmapWindowChecked(c.conn, c.overlay).Check()
}

func (c *Conn) GrabKeyboard() error {
	reply, err := xproto.GrabKeyboard(
		c.conn,
		false,
		c.input,
		xproto.TimeCurrentTime,
		xproto.GrabModeAsync,
		xproto.GrabModeAsync,
	).Reply()
	if err != nil {
		return err
	}

	return grabStatusError(reply.Status)
}

func (c *Conn) UngrabKeyboard() error {
	return xproto.UngrabKeyboardChecked(c.conn, xproto.TimeCurrentTime).Check()
}

// GrabPointer grabs the pointer with an empty event mask: pointer events are not needed, the
// grab only keeps them away from other clients.
func (c *Conn) GrabPointer() error {
	reply, err := xproto.GrabPointer(
		c.conn,
		false,
		c.input,
		0,
		xproto.GrabModeAsync,
		xproto.GrabModeAsync,
		xproto.WindowNone,
		c.cursor,
		xproto.TimeCurrentTime,
	).Reply()
	if err != nil {
		return err
	}

	return grabStatusError(reply.Status)
}

func (c *Conn) UngrabPointer() error {
	return xproto.UngrabPointerChecked(c.conn, xproto.TimeCurrentTime).Check()
}

// Sync does a round trip so that all previous requests have been processed by the server.
func (c *Conn) Sync() error {
	_, err := xproto.GetInputFocus(c.conn).Reply()
	return err
}

// Bell rings the keyboard bell at the base volume.
func (c *Conn) Bell() {
	xproto.Bell(c.conn, 0)
}

// NextKey blocks until the next key press and returns it decoded.
// Other events are consumed and dropped; keyboard mapping changes are applied.
func (c *Conn) NextKey() (unlock.Key, error) {
	for {
		ev, xerr := c.conn.WaitForEvent()
		if ev == nil && xerr == nil {
			return unlock.Key{}, ErrClosed
		}
		if xerr != nil {
			c.log.Debug("X error while locked", "err", xerr)
			continue
		}

		switch e := ev.(type) {
		case xproto.KeyPressEvent:
			kind, text := c.keys.lookup(e.Detail, e.State)
			return unlock.Key{
				Time: c.clock.at(e.Time),
				Kind: kind,
				Text: text,
			}, nil
		case xproto.MappingNotifyEvent:
			if err := c.loadKeymap(); err != nil {
				c.log.Warn("Failed to reload keyboard mapping", "err", err)
			}
		}
	}
}

// Close destroys the lock windows and closes the connection.
func (c *Conn) Close() error {
	if c.cursor != 0 {
		xproto.FreeCursor(c.conn, c.cursor)
	}
	if c.input != 0 {
		xproto.DestroyWindow(c.conn, c.input)
	}
	if c.overlay != 0 {
		xproto.DestroyWindow(c.conn, c.overlay)
	}

	err := c.Sync()
	c.conn.Close()
	if err != nil {
		return fmt.Errorf("failed to flush X requests on close: %w", err)
	}

	return nil
}

func grabStatusError(status byte) error {
	switch status {
	case xproto.GrabStatusSuccess:
		return nil
	case xproto.GrabStatusAlreadyGrabbed:
		return errors.New("already grabbed by another client")
	case xproto.GrabStatusInvalidTime:
		return errors.New("invalid grab time")
	case xproto.GrabStatusNotViewable:
		return errors.New("grab window not viewable")
	case xproto.GrabStatusFrozen:
		return errors.New("device frozen by another grab")
	default:
		return fmt.Errorf("unknown grab status %d", status)
	}
}
