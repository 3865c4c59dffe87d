// Package logind talks to systemd-logind using its D-Bus interface, [org.freedesktop.login1].
//
// A Session publishes the lock state of the login session through its LockedHint, delivers the
// Lock requests logind sends to the session and the PrepareForSleep announcements of the
// manager, and takes inhibitor locks.
//
// [org.freedesktop.login1]: https://www.freedesktop.org/software/systemd/man/latest/org.freedesktop.login1.html
package logind
