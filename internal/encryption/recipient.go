// Package encryption implements the end-to-end encryption used for multipart
// uploads: an authenticated stream cipher for the file parts and a sealed box
// for transporting the symmetric key to the gateway.
//
// Create a new Session for every file so that the key, header and stream
// state are never shared between uploads.
package encryption

import (
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
)

const (
	// RecipientKeySize is the size of the gateway's X25519 public key.
	RecipientKeySize = 32
)

// ErrAuthenticationFailed indicates a ciphertext failed authentication: it
// was tampered with, truncated, or presented out of stream order. Callers
// must treat this as a hard failure, never as empty or partial content.
var ErrAuthenticationFailed = errors.New("ciphertext authentication failed")

// Recipient is the capability object holding the gateway's public key. It is
// initialized once at startup and read-only afterwards, so it is safe to
// share across concurrent uploads.
type Recipient struct {
	publicKey [RecipientKeySize]byte
}

// NewRecipient decodes a base64-encoded X25519 public key.
func NewRecipient(encodedPublicKey string) (*Recipient, error) {
	raw, err := base64.StdEncoding.DecodeString(encodedPublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decode recipient public key: %w", err)
	}
	if len(raw) != RecipientKeySize {
		return nil, fmt.Errorf("recipient public key must be %d bytes, got %d", RecipientKeySize, len(raw))
	}
	r := &Recipient{}
	copy(r.publicKey[:], raw)
	return r, nil
}

// PublicKey returns a copy of the recipient public key.
func (r *Recipient) PublicKey() []byte {
	out := make([]byte, RecipientKeySize)
	copy(out, r.publicKey[:])
	return out
}

var (
	loadMu sync.Mutex
	loaded *Recipient
)

// LoadRecipient initializes the process-wide recipient. The first call
// decodes and caches the key; later calls with the same key return the cached
// instance, and calls with a different key fail — two recipient identities in
// one process is a programming error.
func LoadRecipient(encodedPublicKey string) (*Recipient, error) {
	r, err := NewRecipient(encodedPublicKey)
	if err != nil {
		return nil, err
	}

	loadMu.Lock()
	defer loadMu.Unlock()

	if loaded == nil {
		loaded = r
		return loaded, nil
	}
	if subtle.ConstantTimeCompare(loaded.publicKey[:], r.publicKey[:]) != 1 {
		return nil, errors.New("recipient public key already initialized with a different key")
	}
	return loaded, nil
}

// resetLoadedRecipient clears the cached recipient. Test hook only.
func resetLoadedRecipient() {
	loadMu.Lock()
	defer loadMu.Unlock()
	loaded = nil
}
