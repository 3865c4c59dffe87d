package secrets

import (
	"fmt"
	"github.com/godbus/dbus/v5"
	"strings"
)

const (
	dbusDest             = "org.freedesktop.secrets"
	dbusServiceInterface = "org.freedesktop.Secret.Service"
	dbusPath             = "/org/freedesktop/secrets"
)

type Secrets struct {
	conn *dbus.Conn
	obj  dbus.BusObject
}

func New() (*Secrets, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}

	s := &Secrets{
		conn: conn,
	}
	s.obj = conn.Object(dbusDest, dbusPath)

	return s, nil
}

// Collections returns the object paths of all collections.
func (s *Secrets) Collections() ([]dbus.ObjectPath, error) {
	variant, err := s.obj.GetProperty(dbusServiceInterface + ".Collections")
	if err != nil {
		return nil, fmt.Errorf("could not get collections: %w", err)
	}

	paths, ok := variant.Value().([]dbus.ObjectPath)
	if !ok {
		return nil, fmt.Errorf("Collections property result is not an array of object paths")
	}

	return paths, nil
}

// Lock locks the given objects. The given objects are prepended by "/org/freedesktop/secrets/".
func (s *Secrets) Lock(paths []string) ([]dbus.ObjectPath, error) {
	return s.lock(objectPaths(paths))
}

// LockAll locks every collection and returns the ones that were locked.
func (s *Secrets) LockAll() ([]dbus.ObjectPath, error) {
	collections, err := s.Collections()
	if err != nil {
		return nil, err
	}
	if len(collections) == 0 {
		return nil, nil
	}

	return s.lock(collections)
}

// lock calls Service.Lock. Objects that need a prompt to lock are not locked, a lock screen has
// no way to show it.
func (s *Secrets) lock(objs []dbus.ObjectPath) ([]dbus.ObjectPath, error) {
	var locked []dbus.ObjectPath
	var prompt dbus.ObjectPath

	err := s.obj.Call(dbusServiceInterface+".Lock", 0, objs).Store(&locked, &prompt)
	if err != nil {
		return nil, fmt.Errorf("could not lock collection: %w", err)
	}

	if prompt != "/" && prompt != "" {
		return locked, fmt.Errorf("locking %d objects requires a prompt", len(objs)-len(locked))
	}

	return locked, nil
}

func (s *Secrets) Close() error {
	return s.conn.Close()
}

func objectPaths(paths []string) []dbus.ObjectPath {
	objs := make([]dbus.ObjectPath, len(paths))
	for i, path := range paths {
		objs[i] = dbus.ObjectPath(dbusPath + "/" + strings.TrimPrefix(path, "/"))
	}
	return objs
}

