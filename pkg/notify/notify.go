// Package notify sends desktop notifications through [org.freedesktop.Notifications].
//
// [org.freedesktop.Notifications]: https://specifications.freedesktop.org/notification-spec/latest/
package notify

import (
	"fmt"
	"github.com/godbus/dbus/v5"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	dbusDest      = "org.freedesktop.Notifications"
	dbusInterface = "org.freedesktop.Notifications"
	dbusPath      = "/org/freedesktop/Notifications"
)

// Notice is a single notification.
type Notice struct {
	Summary string
	Body    string
	// Icon is a path to an image file or the name of a themed icon.
	Icon string
	// Timeout is the time until the notification closes. Zero lets the server decide.
	// Some servers ignore it.
	Timeout time.Duration
}

type DBus struct {
	conn    *dbus.Conn
	obj     dbus.BusObject
	appName string
	log     *slog.Logger
}

// New connects to the session bus. appName identifies the sender in notifications.
func New(appName string, log *slog.Logger) (*DBus, error) {
	if log == nil {
		log = slog.Default()
	}

	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}

	return &DBus{
		conn:    conn,
		obj:     conn.Object(dbusDest, dbusPath),
		appName: appName,
		log:     log,
	}, nil
}

// Notify shows n. An icon that cannot be read is logged and left out.
func (d *DBus) Notify(n Notice) error {
	appIcon, hints, err := iconArgs(n.Icon)
	if err != nil {
		d.log.Warn("Failed to read notification icon", "icon", n.Icon, "err", err)
	}

	var id uint32
	err = d.obj.Call(
		dbusInterface+".Notify", 0,
		d.appName,
		uint32(0),
		appIcon,
		n.Summary,
		n.Body,
		[]string{},
		hints,
		expireTimeout(n.Timeout),
	).Store(&id)
	if err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}

	return nil
}

func (d *DBus) Close() error {
	return d.conn.Close()
}

// iconArgs resolves icon into the app_icon argument and the hints of a Notify call.
// Image files go into the image-path hint, names without a path separator are themed icons.
func iconArgs(icon string) (string, map[string]dbus.Variant, error) {
	hints := map[string]dbus.Variant{}
	if icon == "" {
		return "", hints, nil
	}

	if !strings.ContainsRune(icon, filepath.Separator) {
		return icon, hints, nil
	}

	path, err := filepath.Abs(icon)
	if err != nil {
		return "", hints, err
	}
	f, err := os.Open(path)
	if err != nil {
		return "", hints, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return "", hints, err
	}
	if info.IsDir() {
		return "", hints, fmt.Errorf("%s is a directory", path)
	}

	hints["image-path"] = dbus.MakeVariant("file://" + path)
	return "", hints, nil
}

func expireTimeout(d time.Duration) int32 {
	if d <= 0 {
		return -1
	}
	return int32(d.Milliseconds())
}
