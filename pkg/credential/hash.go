package credential

import (
	"errors"
	"fmt"
	"strings"

	"github.com/GehirnInc/crypt"
	"github.com/GehirnInc/crypt/md5_crypt"
	"github.com/GehirnInc/crypt/sha256_crypt"
	"github.com/GehirnInc/crypt/sha512_crypt"
	"golang.org/x/crypto/bcrypt"
)

// cryptHash verifies against md5, sha256 or sha512 crypt hashes.
type cryptHash struct {
	hash    string
	crypter crypt.Crypter
}

func (h *cryptHash) Verify(candidate string) bool {
	return h.crypter.Verify(h.hash, []byte(candidate)) == nil
}

type bcryptHash []byte

func (h bcryptHash) Verify(candidate string) bool {
	return bcrypt.CompareHashAndPassword(h, []byte(candidate)) == nil
}

// ParseHash returns a Provider for a crypt(3) style hash.
//
// Supported are md5-crypt ($1$), sha256-crypt ($5$), sha512-crypt ($6$) and bcrypt ($2a$, $2b$,
// $2y$). Yescrypt, gost-yescrypt, scrypt and traditional DES hashes yield ErrUnsupportedHash.
func ParseHash(hash string) (Provider, error) {
	var c crypt.Crypter
	switch {
	case strings.HasPrefix(hash, "$6$"):
		c = sha512_crypt.New()
	case strings.HasPrefix(hash, "$5$"):
		c = sha256_crypt.New()
	case strings.HasPrefix(hash, "$1$"):
		c = md5_crypt.New()
	case strings.HasPrefix(hash, "$2a$"), strings.HasPrefix(hash, "$2b$"), strings.HasPrefix(hash, "$2y$"):
		if _, err := bcrypt.Cost([]byte(hash)); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedHash, err)
		}
		switch err := bcrypt.CompareHashAndPassword([]byte(hash), nil); {
		case err == nil:
			return nil, fmt.Errorf("%w: hash of an empty password", ErrTooShort)
		case !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
			return nil, fmt.Errorf("%w: %v", ErrMalformedHash, err)
		}
		return bcryptHash(hash), nil
	case systemOnly(hash):
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedHash, hashID(hash))
	case len(hash) <= 1:
		return nil, fmt.Errorf("%w: empty hash", ErrMalformedHash)
	case !strings.HasPrefix(hash, "$"):
		return nil, fmt.Errorf("%w: traditional DES crypt", ErrUnsupportedHash)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedHash, hashID(hash))
	}

	if strings.HasSuffix(hash, "$") {
		return nil, fmt.Errorf("%w: missing checksum", ErrMalformedHash)
	}
	// Anything but a mismatch against the empty key means the hash itself could not be parsed.
	switch err := c.Verify(hash, nil); {
	case err == nil:
		return nil, fmt.Errorf("%w: hash of an empty password", ErrTooShort)
	case !errors.Is(err, crypt.ErrKeyMismatch):
		return nil, fmt.Errorf("%w: %v", ErrMalformedHash, err)
	}

	return &cryptHash{hash: hash, crypter: c}, nil
}

// FromPlaintext hashes password with sha512-crypt and a random salt.
func FromPlaintext(password string) (string, error) {
	if err := CheckLength(password); err != nil {
		return "", err
	}

	hash, err := sha512_crypt.New().Generate([]byte(password), nil)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}

	return hash, nil
}

// systemOnly reports whether hash uses a scheme only the system's own libcrypt can check.
func systemOnly(hash string) bool {
	for _, prefix := range []string{"$y$", "$gy$", "$7$"} {
		if strings.HasPrefix(hash, prefix) {
			return true
		}
	}
	return false
}

func hashID(hash string) string {
	parts := strings.SplitN(hash, "$", 3)
	if len(parts) < 3 {
		return "unknown scheme"
	}
	return "$" + parts[1] + "$"
}
