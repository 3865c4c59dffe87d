// Package account resolves the password hash of the invoking user from the host's account
// database and gives up the privileges needed to read it.
//
// A lock installed setuid or setgid to read /etc/shadow must call Privileges.Drop as soon as the
// hash is known, before any input is processed.
package account

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

var (
	ErrNoEntry    = errors.New("password entry for uid not found")
	ErrNoPassword = errors.New("password entry has no password")
)

const (
	DefaultPasswdPath = "/etc/passwd"
	DefaultShadowPath = "/etc/shadow"
)

// Entry is the part of a passwd(5) entry the lock needs, with the hash taken from shadow(5) when
// the shadow file is readable.
type Entry struct {
	Name string
	UID  int
	GID  int
	Home string
	Hash string
}

// Files names the account database files.
type Files struct {
	Passwd string
	Shadow string
}

func DefaultFiles() Files {
	return Files{Passwd: DefaultPasswdPath, Shadow: DefaultShadowPath}
}

// Lookup returns the account entry of uid.
//
// An unreadable shadow file is not an error: systems without shadow passwords keep the hash in
// passwd. A hash of one character or less, like the "x" placeholder left by shadow, or a locked
// hash starting with "!" or "*" yields ErrNoPassword.
func (f Files) Lookup(uid int) (*Entry, error) {
	passwd, err := os.ReadFile(f.Passwd)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", f.Passwd, err)
	}

	e, err := findPasswd(bytes.NewReader(passwd), uid)
	if err != nil {
		return nil, err
	}

	if f.Shadow != "" {
		shadow, err := os.ReadFile(f.Shadow)
		if err == nil {
			hash, found, err := findShadow(bytes.NewReader(shadow), e.Name)
			if err != nil {
				return nil, err
			}
			if found {
				e.Hash = hash
			}
		}
	}

	if len(e.Hash) <= 1 || strings.HasPrefix(e.Hash, "!") || strings.HasPrefix(e.Hash, "*") {
		return nil, fmt.Errorf("%w: %s", ErrNoPassword, e.Name)
	}

	return e, nil
}

func findPasswd(r io.Reader, uid int) (*Entry, error) {
	lines, err := readLines(r)
	if err != nil {
		return nil, err
	}

	for _, line := range lines {
		parts := parseColonLine(line)
		if parts == nil || len(parts) < 7 {
			continue
		}

		id, err := strconv.Atoi(parts[2])
		if err != nil || id != uid {
			continue
		}
		gid, err := strconv.Atoi(parts[3])
		if err != nil {
			return nil, fmt.Errorf("invalid gid %q for %s: %w", parts[3], parts[0], err)
		}

		return &Entry{
			Name: parts[0],
			UID:  id,
			GID:  gid,
			Home: parts[5],
			Hash: parts[1],
		}, nil
	}

	return nil, fmt.Errorf("%w: %d", ErrNoEntry, uid)
}

func findShadow(r io.Reader, name string) (string, bool, error) {
	lines, err := readLines(r)
	if err != nil {
		return "", false, err
	}

	for _, line := range lines {
		parts := parseColonLine(line)
		if len(parts) < 2 || parts[0] != name {
			continue
		}
		return parts[1], true, nil
	}

	return "", false, nil
}

// parseColonLine splits a database line, keeping trailing empty fields.
// Blank lines and comments yield nil.
func parseColonLine(line string) []string {
	trim := strings.TrimSpace(line)
	if trim == "" || strings.HasPrefix(trim, "#") {
		return nil
	}
	return strings.Split(line, ":")
}

func readLines(r io.Reader) ([]string, error) {
	s := bufio.NewScanner(r)
	buf := make([]byte, 0, 64*1024)
	s.Buffer(buf, 1024*1024)
	var lines []string
	for s.Scan() {
		lines = append(lines, s.Text())
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}
