package secret

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

// Hasher computes the one-way digest stored in place of a secret value.
// With a pepper the digest is HMAC-SHA256 keyed by the pepper, otherwise a
// plain SHA-256. Both are deterministic for a given pepper.
type Hasher struct {
	pepper []byte
}

// NewHasher returns a hasher keyed by pepper. A nil or empty pepper selects
// plain SHA-256.
func NewHasher(pepper []byte) *Hasher {
	p := make([]byte, len(pepper))
	copy(p, pepper)
	return &Hasher{pepper: p}
}

// Hash returns the hex digest of value. The empty string hashes to a
// well-defined digest distinct from any non-empty value.
func (h *Hasher) Hash(value string) string {
	if len(h.pepper) == 0 {
		sum := sha256.Sum256([]byte(value))
		return hex.EncodeToString(sum[:])
	}
	mac := hmac.New(sha256.New, h.pepper)
	mac.Write([]byte(value))
	return hex.EncodeToString(mac.Sum(nil))
}

// Keyed reports whether the hasher uses a pepper.
func (h *Hasher) Keyed() bool {
	return len(h.pepper) > 0
}

// KeyringPepper loads the hashing pepper from the OS keyring, generating and
// storing a new random one on first use.
func KeyringPepper(service, account string) ([]byte, error) {
	stored, err := keyring.Get(service, account)
	if err == nil {
		pepper, decodeErr := hex.DecodeString(stored)
		if decodeErr != nil {
			return nil, fmt.Errorf("keyring pepper for %s/%s is not hex: %w", service, account, decodeErr)
		}
		return pepper, nil
	}
	if !errors.Is(err, keyring.ErrNotFound) {
		return nil, fmt.Errorf("failed to read pepper from keyring: %w", err)
	}

	pepper := make([]byte, 32)
	if _, err := rand.Read(pepper); err != nil {
		return nil, fmt.Errorf("failed to generate pepper: %w", err)
	}
	if err := keyring.Set(service, account, hex.EncodeToString(pepper)); err != nil {
		return nil, fmt.Errorf("failed to store pepper in keyring: %w", err)
	}
	return pepper, nil
}
