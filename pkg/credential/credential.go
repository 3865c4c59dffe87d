// Package credential resolves the reference secret an unlock attempt is checked against.
//
// A secret comes from one of three sources: the login account of the invoking user, a plaintext
// password given at startup, or a crypt(3) hash given at startup. All of them resolve to a
// Provider; the plaintext is hashed immediately and not kept.
package credential

import (
	"errors"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/MatthiasKunnen/trlock/pkg/account"
)

var (
	ErrMalformedHash   = errors.New("malformed password hash")
	ErrUnsupportedHash = errors.New("unsupported password hash")
	ErrTooShort        = errors.New("password too short")
)

// MinLength is the minimum number of characters of a plaintext secret.
const MinLength = 2

// Provider checks a typed candidate against the reference secret.
type Provider interface {
	Verify(candidate string) bool
}

type SourceKind int

const (
	// SourceAccount uses the password of the login account.
	SourceAccount SourceKind = iota
	// SourcePlaintext uses a password given in clear text.
	SourcePlaintext
	// SourceHashed uses a crypt(3) hash.
	SourceHashed
)

func (k SourceKind) String() string {
	switch k {
	case SourceAccount:
		return "account"
	case SourcePlaintext:
		return "plaintext"
	case SourceHashed:
		return "hashed"
	default:
		return fmt.Sprintf("SourceKind(%d)", int(k))
	}
}

// Source selects where the reference secret comes from.
type Source struct {
	Kind SourceKind
	// UID is the account looked up for SourceAccount.
	UID int
	// Value is the plaintext for SourcePlaintext and the hash for SourceHashed.
	Value string
}

func Account(uid int) Source {
	return Source{Kind: SourceAccount, UID: uid}
}

func Plaintext(password string) Source {
	return Source{Kind: SourcePlaintext, Value: password}
}

func Hashed(hash string) Source {
	return Source{Kind: SourceHashed, Value: hash}
}

// Accounts looks up login accounts. It is satisfied by account.Files.
type Accounts interface {
	Lookup(uid int) (*account.Entry, error)
}

// Resolver turns a Source into a Provider.
type Resolver struct {
	Accounts Accounts
	Log      *slog.Logger
}

// Resolve returns the Provider for src.
//
// Every failure is a configuration error: an account without a usable password, a hash that
// cannot be parsed or checked, or a plaintext shorter than MinLength.
func (r Resolver) Resolve(src Source) (Provider, error) {
	log := r.Log
	if log == nil {
		log = slog.Default()
	}

	switch src.Kind {
	case SourceAccount:
		accounts := r.Accounts
		if accounts == nil {
			accounts = account.DefaultFiles()
		}
		e, err := accounts.Lookup(src.UID)
		if err != nil {
			return nil, fmt.Errorf("failed to look up account password: %w", err)
		}

		p, err := ParseHash(e.Hash)
		if errors.Is(err, ErrUnsupportedHash) && systemOnly(e.Hash) {
			log.Info("Account hash not supported natively, verifying through su", "user", e.Name)
			return newSu(e.Name, log), nil
		}
		if err != nil {
			return nil, fmt.Errorf("account %s: %w", e.Name, err)
		}
		return p, nil
	case SourcePlaintext:
		hash, err := FromPlaintext(src.Value)
		if err != nil {
			return nil, err
		}
		return ParseHash(hash)
	case SourceHashed:
		return ParseHash(src.Value)
	default:
		return nil, fmt.Errorf("unknown secret source %v", src.Kind)
	}
}

// CheckLength rejects plaintext secrets shorter than MinLength characters.
func CheckLength(password string) error {
	if utf8.RuneCountInString(password) < MinLength {
		return fmt.Errorf("%w: at least %d characters required", ErrTooShort, MinLength)
	}
	return nil
}
