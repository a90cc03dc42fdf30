package secure

import (
	"sync"

	"github.com/awnumar/memguard"
)

// SecureBuffer holds one sensitive value inside a memguard enclave, so the
// plaintext is encrypted while at rest in process memory and only exists in
// a locked buffer while it is being read.
type SecureBuffer struct {
	enclave *memguard.Enclave
	mu      sync.RWMutex
	// destroyed makes Destroy idempotent and blocks use after destroy
	destroyed bool
}

// NewSecureBuffer creates a protected buffer from secret bytes.
// memguard wipes the source slice once it has been sealed.
//
// If mlock is unavailable (e.g., due to RLIMIT_MEMLOCK), memguard degrades to
// standard allocation rather than failing.
func NewSecureBuffer(data []byte) (*SecureBuffer, error) {
	return &SecureBuffer{
		enclave: memguard.NewEnclave(data),
	}, nil
}

// Open decrypts and returns the protected data in a locked buffer.
// The caller MUST call Destroy() on the returned LockedBuffer when done.
//
//	locked, err := buf.Open()
//	if err != nil {
//	    return err
//	}
//	defer locked.Destroy()
//	secret := locked.Bytes()
func (s *SecureBuffer) Open() (*memguard.LockedBuffer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// memguard returns a nil enclave for empty input
	if s.destroyed || s.enclave == nil {
		return memguard.NewBufferFromBytes([]byte{}), nil
	}

	return s.enclave.Open()
}

// Destroy marks this SecureBuffer as destroyed and drops the enclave.
// After Destroy, Open returns an empty buffer. Calling it twice is safe.
//
// For complete cleanup of all memguard data at exit, call memguard.Purge()
// in main.
func (s *SecureBuffer) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed {
		return
	}

	s.enclave = nil
	s.destroyed = true
}
