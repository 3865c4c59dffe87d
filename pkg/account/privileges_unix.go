//go:build unix

package account

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Privileges drops set-user-ID and set-group-ID privileges of the running process.
type Privileges struct{}

// Drop permanently sets real, effective and saved IDs to the real user and group.
// The group is dropped first, it can no longer be changed once the user ID is dropped.
func (Privileges) Drop() error {
	gid := unix.Getgid()
	if err := unix.Setresgid(gid, gid, gid); err != nil {
		return fmt.Errorf("failed to drop group privileges: %w", err)
	}

	uid := unix.Getuid()
	if err := unix.Setresuid(uid, uid, uid); err != nil {
		return fmt.Errorf("failed to drop user privileges: %w", err)
	}

	if uid != 0 && unix.Setreuid(-1, 0) == nil {
		return errors.New("privileges could be regained after dropping them")
	}

	return nil
}

// LockMemory keeps the pages mapped so far out of swap.
// Future mappings are not locked: once privileges are dropped RLIMIT_MEMLOCK would make heap
// growth fail.
func LockMemory() error {
	return unix.Mlockall(unix.MCL_CURRENT)
}
