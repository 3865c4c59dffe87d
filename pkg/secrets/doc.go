// Package secrets locks the collections of a [org.freedesktop.Secret] service, such as Gnome
// Keyring, KDE Wallet or keepassxc, when the screen is locked.
//
// Secrets unlocked before the lock are then no longer readable by processes started while the
// screen is locked. Unlocking the collections again is left to the service, which prompts the
// user on next use.
//
// [org.freedesktop.Secret]: https://specifications.freedesktop.org/secret-service-spec/latest/
package secrets
