package locker

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MatthiasKunnen/trlock/pkg/account"
	"github.com/MatthiasKunnen/trlock/pkg/audit"
	"github.com/MatthiasKunnen/trlock/pkg/credential"
	"github.com/MatthiasKunnen/trlock/pkg/grab"
	"github.com/MatthiasKunnen/trlock/pkg/notify"
	"github.com/MatthiasKunnen/trlock/pkg/throttle"
	"github.com/MatthiasKunnen/trlock/pkg/unlock"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type calls []string

func (c *calls) add(s string) { *c = append(*c, s) }

type fakeDisplay struct {
	calls   *calls
	keys    []unlock.Key
	bells   int
	grabErr error
}

func (d *fakeDisplay) MapInput() error { d.calls.add("map input"); return nil }
func (d *fakeDisplay) MapOverlay() error { d.calls.add("map overlay"); return nil }
func (d *fakeDisplay) UnmapOverlay() error { d.calls.add("unmap overlay"); return nil }
func (d *fakeDisplay) GrabKeyboard() error {
	d.calls.add("grab keyboard")
	return d.grabErr
}
func (d *fakeDisplay) UngrabKeyboard() error { d.calls.add("ungrab keyboard"); return nil }
func (d *fakeDisplay) GrabPointer() error { d.calls.add("grab pointer"); return nil }
func (d *fakeDisplay) UngrabPointer() error { d.calls.add("ungrab pointer"); return nil }
func (d *fakeDisplay) Sync() error { return nil }
func (d *fakeDisplay) Bell() { d.bells++ }

func (d *fakeDisplay) NextKey() (unlock.Key, error) {
	if len(d.keys) == 0 {
		return unlock.Key{}, io.EOF
	}
	k := d.keys[0]
	d.keys = d.keys[1:]
	return k, nil
}

type fakeHint struct {
	calls *calls
	err   error
}

func (h *fakeHint) SetLockedHint(locked bool) error {
	if locked {
		h.calls.add("hint locked")
	} else {
		h.calls.add("hint unlocked")
	}
	return h.err
}

type fakeKeyring struct{ calls *calls }

func (k *fakeKeyring) LockAll() ([]dbus.ObjectPath, error) {
	k.calls.add("lock keyring")
	return []dbus.ObjectPath{"/org/freedesktop/secrets/collection/login"}, nil
}

type fakeNotifier struct {
	calls   *calls
	notices []notify.Notice
	err     error
}

func (n *fakeNotifier) Notify(notice notify.Notice) error {
	n.calls.add("notify " + notice.Summary)
	n.notices = append(n.notices, notice)
	return n.err
}

type fakeJournal struct {
	calls   *calls
	details []string
}

func (j *fakeJournal) Record(kind audit.Kind, detail string) error {
	j.calls.add("journal " + string(kind))
	j.details = append(j.details, detail)
	return nil
}

type password string

func (p password) Verify(candidate string) bool { return string(p) == candidate }

func typed(at time.Duration, s string) []unlock.Key {
	var keys []unlock.Key
	for _, r := range s {
		keys = append(keys, unlock.Key{Time: at, Kind: unlock.KeyText, Text: string(r)})
	}
	return append(keys, unlock.Key{Time: at, Kind: unlock.KeySubmit})
}

func testOptions(c *calls) (Options, *fakeNotifier, *fakeJournal) {
	n := &fakeNotifier{calls: c}
	j := &fakeJournal{calls: c}
	return Options{
		Grab:         grab.Config{Attempts: 1},
		Throttle:     throttle.DefaultConfig(),
		Hint:         &fakeHint{calls: c},
		Keyring:      &fakeKeyring{calls: c},
		Notifier:     n,
		Journal:      j,
		LockedIcon:   "locked.png",
		UnlockedIcon: "unlocked.png",
		OnLocked:     func() { c.add("on locked") },
		Log:          discard,
	}, n, j
}

func TestSessionUnlocksWithSecret(t *testing.T) {
	c := &calls{}
	d := &fakeDisplay{calls: c, keys: typed(time.Second, "hunter2")}
	opts, n, _ := testOptions(c)

	require.NoError(t, NewSession(d, password("hunter2"), opts).Run())

	assert.Equal(t, calls{
		"map input",
		"grab keyboard",
		"grab pointer",
		"hint locked",
		"lock keyring",
		"notify Successfully Locked",
		"journal locked",
		"on locked",
		"ungrab pointer",
		"ungrab keyboard",
		"hint unlocked",
		"journal unlocked",
		"notify Successfully Unlocked",
	}, *c)
	assert.Zero(t, d.bells)

	require.Len(t, n.notices, 2)
	assert.Equal(t, "locked.png", n.notices[0].Icon)
	assert.Equal(t, "unlocked.png", n.notices[1].Icon)
	assert.Equal(t, time.Second, n.notices[0].Timeout)
}

func TestSessionRecordsFailures(t *testing.T) {
	c := &calls{}
	keys := typed(time.Second, "hunter3")
	keys = append(keys, typed(2*time.Second, "hunter2")...)
	d := &fakeDisplay{calls: c, keys: keys}
	opts, _, j := testOptions(c)
	opts.Hint = nil
	opts.Keyring = nil
	opts.Notifier = nil
	opts.OnLocked = nil

	require.NoError(t, NewSession(d, password("hunter2"), opts).Run())

	assert.Equal(t, calls{
		"map input",
		"grab keyboard",
		"grab pointer",
		"journal locked",
		"journal failed",
		"ungrab pointer",
		"ungrab keyboard",
		"journal unlocked",
	}, *c)
	assert.Equal(t, []string{"", "attempt=1 lockout=0s", "failures=1"}, j.details)
	assert.Equal(t, 1, d.bells)
}

func TestSessionGrabFailure(t *testing.T) {
	c := &calls{}
	d := &fakeDisplay{calls: c, grabErr: errors.New("already grabbed")}
	opts, _, _ := testOptions(c)

	err := NewSession(d, password("hunter2"), opts).Run()
	assert.ErrorIs(t, err, grab.ErrKeyboardGrab)
	assert.Equal(t, calls{"map input", "grab keyboard"}, *c)
}

func TestSessionDisplayLost(t *testing.T) {
	c := &calls{}
	d := &fakeDisplay{calls: c, keys: typed(time.Second, "hunt")[:4]}
	opts, _, _ := testOptions(c)

	err := NewSession(d, password("hunter2"), opts).Run()
	assert.ErrorIs(t, err, io.EOF)
	assert.Contains(t, *c, "ungrab keyboard")
	assert.NotContains(t, *c, "hint unlocked")
	assert.NotContains(t, *c, "journal unlocked")
}

func TestSessionDegradedCollaborators(t *testing.T) {
	c := &calls{}
	d := &fakeDisplay{calls: c, keys: typed(time.Second, "hunter2")}
	opts, n, _ := testOptions(c)
	opts.Hint = &fakeHint{calls: c, err: errors.New("no logind")}
	n.err = errors.New("no notification daemon")

	require.NoError(t, NewSession(d, password("hunter2"), opts).Run())
	assert.Contains(t, *c, "journal unlocked")
}

type fakePrivileges struct {
	calls *calls
	err   error
}

func (p *fakePrivileges) Drop() error {
	p.calls.add("drop")
	return p.err
}

type fakeAccounts struct {
	calls *calls
	entry *account.Entry
}

func (a *fakeAccounts) Lookup(uid int) (*account.Entry, error) {
	a.calls.add("lookup")
	if a.entry == nil {
		return nil, account.ErrNoEntry
	}
	return a.entry, nil
}

func TestResolveSecretDropsPrivilegesAfterLookup(t *testing.T) {
	hash, err := credential.FromPlaintext("hunter2")
	require.NoError(t, err)

	c := &calls{}
	r := credential.Resolver{
		Accounts: &fakeAccounts{calls: c, entry: &account.Entry{Name: "alice", UID: 1000, Hash: hash}},
		Log:      discard,
	}

	p, err := ResolveSecret(r, credential.Account(1000), &fakePrivileges{calls: c})
	require.NoError(t, err)
	assert.True(t, p.Verify("hunter2"))
	assert.Equal(t, calls{"lookup", "drop"}, *c)
}

func TestResolveSecretDropsPrivilegesOnFailure(t *testing.T) {
	c := &calls{}
	r := credential.Resolver{Accounts: &fakeAccounts{calls: c}, Log: discard}

	_, err := ResolveSecret(r, credential.Account(1000), &fakePrivileges{calls: c})
	assert.ErrorIs(t, err, account.ErrNoEntry)
	assert.Equal(t, calls{"lookup", "drop"}, *c)
}

func TestResolveSecretDropFailure(t *testing.T) {
	dropErr := errors.New("setresuid: operation not permitted")
	_, err := ResolveSecret(credential.Resolver{}, credential.Plaintext("hunter2"), &fakePrivileges{calls: &calls{}, err: dropErr})
	assert.ErrorIs(t, err, dropErr)
}
