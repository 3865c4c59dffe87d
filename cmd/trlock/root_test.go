package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MatthiasKunnen/trlock/pkg/account"
	"github.com/MatthiasKunnen/trlock/pkg/audit"
	"github.com/MatthiasKunnen/trlock/pkg/credential"
)

type fakePrivileges struct{ dropped int }

func (p *fakePrivileges) Drop() error {
	p.dropped++
	return nil
}

type noAccounts struct{}

func (noAccounts) Lookup(uid int) (*account.Entry, error) {
	return nil, fmt.Errorf("%w: %d", account.ErrNoEntry, uid)
}

func execute(t *testing.T, a app, stdin string, args ...string) (string, string, error) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("XDG_STATE_HOME", t.TempDir())

	cmd := newRootCmdWith(a)
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)

	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func testApp() (app, *fakePrivileges) {
	p := &fakePrivileges{}
	return app{
		privileges: p,
		accounts:   noAccounts{},
		lockMemory: func() error { return nil },
	}, p
}

func TestRootCommandHasSubcommands(t *testing.T) {
	found := map[string]bool{}
	for _, c := range newRootCmd().Commands() {
		found[c.Name()] = true
	}

	assert.True(t, found["hash"])
	assert.True(t, found["attempts"])
}

func TestRootCommandShorthands(t *testing.T) {
	flags := newRootCmd().Flags()
	for short, long := range map[string]string{
		"l": "lock-user-password",
		"p": "password",
		"e": "encrypted-password",
		"c": "calculate",
		"b": "block-screen",
		"d": "delay-of-blink",
		"n": "notify",
	} {
		f := flags.ShorthandLookup(short)
		if assert.NotNil(t, f, "-%s", short) {
			assert.Equal(t, long, f.Name)
		}
	}
}

func TestNoActionPrintsHelpToStderr(t *testing.T) {
	a, p := testApp()
	stdout, stderr, err := execute(t, a, "")

	assert.ErrorIs(t, err, errNoAction)
	assert.Empty(t, stdout)
	assert.Contains(t, stderr, "--lock-user-password")
	assert.Zero(t, p.dropped)
}

func TestCalculate(t *testing.T) {
	a, priv := testApp()
	stdout, _, err := execute(t, a, "", "-c", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, 1, priv.dropped)

	p, err := credential.ParseHash(strings.TrimSpace(stdout))
	require.NoError(t, err)
	assert.True(t, p.Verify("hunter2"))
}

func TestActionsAreExclusive(t *testing.T) {
	a, _ := testApp()
	_, _, err := execute(t, a, "", "-l", "-p", "hunter2")
	assert.Error(t, err)
}

func TestShortPasswordFailsAfterDroppingPrivileges(t *testing.T) {
	a, p := testApp()
	_, _, err := execute(t, a, "", "-p", "x")

	assert.ErrorIs(t, err, credential.ErrTooShort)
	assert.Equal(t, 1, p.dropped)
}

func TestMissingAccount(t *testing.T) {
	a, p := testApp()
	_, _, err := execute(t, a, "", "-l")

	assert.ErrorIs(t, err, account.ErrNoEntry)
	assert.Equal(t, 1, p.dropped)
}

func TestInvalidLogLevel(t *testing.T) {
	a, _ := testApp()
	_, _, err := execute(t, a, "", "-p", "hunter2", "--log-level", "loud")
	assert.ErrorContains(t, err, "unknown log level")
}

func TestHashCommand(t *testing.T) {
	a, priv := testApp()

	stdout, _, err := execute(t, a, "", "hash", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, 1, priv.dropped)
	p, err := credential.ParseHash(strings.TrimSpace(stdout))
	require.NoError(t, err)
	assert.True(t, p.Verify("hunter2"))

	stdout, _, err = execute(t, a, "correct horse\n", "hash")
	require.NoError(t, err)
	p, err = credential.ParseHash(strings.TrimSpace(stdout))
	require.NoError(t, err)
	assert.True(t, p.Verify("correct horse"))

	_, _, err = execute(t, a, "", "hash", "x")
	assert.ErrorIs(t, err, credential.ErrTooShort)
}

func TestAttemptsCommand(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "journal.db")
	configPath := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(configPath, []byte(fmt.Sprintf("audit_db = %q\n", dbPath)), 0o600))

	j, err := audit.Open(dbPath)
	require.NoError(t, err)
	require.NoError(t, j.Record(audit.KindLocked, ""))
	require.NoError(t, j.Record(audit.KindFailed, "attempt=1 lockout=0s"))
	require.NoError(t, j.Close())

	a, priv := testApp()
	stdout, _, err := execute(t, a, "", "attempts", "--config", configPath)
	require.NoError(t, err)
	assert.Equal(t, 1, priv.dropped)

	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "EVENT")
	assert.Contains(t, lines[1], "failed")
	assert.Contains(t, lines[1], "attempt=1 lockout=0s")
	assert.Contains(t, lines[2], "locked")
}

func TestAttemptsJournalDisabled(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("audit_db: \"\"\n"), 0o600))

	a, _ := testApp()
	_, _, err := execute(t, a, "", "attempts", "--config", configPath)
	assert.ErrorContains(t, err, "journal is disabled")
}

type failingPrivileges struct{}

func (failingPrivileges) Drop() error { return errors.New("operation not permitted") }

func TestSubcommandsDropPrivilegesBeforeReadingConfig(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "chosen", "journal.db")
	configPath := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(configPath, []byte(fmt.Sprintf("audit_db = %q\n", dbPath)), 0o600))

	a, _ := testApp()
	a.privileges = failingPrivileges{}
	_, _, err := execute(t, a, "", "attempts", "--config", configPath)

	assert.ErrorContains(t, err, "failed to drop privileges")
	assert.NoDirExists(t, filepath.Dir(dbPath))
}

func TestHashCommandFailsWhenPrivilegesStay(t *testing.T) {
	a, _ := testApp()
	a.privileges = failingPrivileges{}
	stdout, _, err := execute(t, a, "", "hash", "hunter2")

	assert.ErrorContains(t, err, "failed to drop privileges")
	assert.Empty(t, stdout)
}
