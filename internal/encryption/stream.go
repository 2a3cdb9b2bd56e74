package encryption

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/nacl/box"
)

const (
	// KeySize is the size of the single-use symmetric key.
	KeySize = chacha20poly1305.KeySize
	// HeaderSize is the size of the stream header emitted once per session,
	// before the first ciphertext chunk.
	HeaderSize = chacha20poly1305.NonceSizeX
	// Overhead is the per-chunk ciphertext expansion (the authentication tag).
	Overhead = chacha20poly1305.Overhead
)

// Session is one push-direction encryption stream. It binds a fresh random
// symmetric key, a stream header, and a monotonically advancing chunk counter.
//
// Chunks must be encrypted in the exact order they will be transmitted: each
// ciphertext is bound to its stream position, so the decrypting side rejects
// reordering, truncation and splicing. A Session is single-use and must not
// be shared between files or goroutines.
type Session struct {
	recipient *Recipient
	key       [KeySize]byte
	header    [HeaderSize]byte
	aead      cipher.AEAD
	counter   uint64
}

// NewSession opens a new push stream for one upload: a fresh random key and
// a fresh random header.
func NewSession(recipient *Recipient) (*Session, error) {
	if recipient == nil {
		return nil, fmt.Errorf("recipient is required")
	}

	s := &Session{recipient: recipient}
	if _, err := rand.Read(s.key[:]); err != nil {
		return nil, fmt.Errorf("failed to generate symmetric key: %w", err)
	}
	if _, err := rand.Read(s.header[:]); err != nil {
		return nil, fmt.Errorf("failed to generate stream header: %w", err)
	}

	aead, err := chacha20poly1305.NewX(s.key[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create stream cipher: %w", err)
	}
	s.aead = aead
	return s, nil
}

// Header returns the stream header. It is sent to the gateway once, at
// finalize time, so the receiving side can open the matching pull stream.
func (s *Session) Header() []byte {
	out := make([]byte, HeaderSize)
	copy(out, s.header[:])
	return out
}

// EncodedHeader returns the header in its base64 transport encoding.
func (s *Session) EncodedHeader() string {
	return base64.StdEncoding.EncodeToString(s.header[:])
}

// Key returns a copy of the symmetric key. Used by the client-side preview
// path to open a pull stream over data it encrypted itself.
func (s *Session) Key() []byte {
	out := make([]byte, KeySize)
	copy(out, s.key[:])
	return out
}

// EncryptChunk advances the stream state and seals one chunk. The ciphertext
// is len(plaintext)+Overhead bytes. Calls must be strictly sequential.
func (s *Session) EncryptChunk(plaintext []byte) ([]byte, error) {
	nonce := chunkNonce(s.header[:], s.counter)
	ciphertext := s.aead.Seal(nil, nonce, plaintext, nil)
	s.counter++
	return ciphertext, nil
}

// WrapKey seals the session's symmetric key under the recipient public key
// with an anonymous sealed box and returns the base64 transport encoding.
// Only the holder of the matching private key can open it.
func (s *Session) WrapKey() (string, error) {
	sealed, err := box.SealAnonymous(nil, s.key[:], &s.recipient.publicKey, rand.Reader)
	if err != nil {
		return "", fmt.Errorf("failed to seal symmetric key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// PullSession is the decrypt direction of the stream, used for client-side
// preview. It authenticates chunks in the same order they were encrypted.
type PullSession struct {
	header  [HeaderSize]byte
	aead    cipher.AEAD
	counter uint64
}

// NewPullSession opens a pull stream from a header and the matching
// symmetric key.
func NewPullSession(header, key []byte) (*PullSession, error) {
	if len(header) != HeaderSize {
		return nil, fmt.Errorf("stream header must be %d bytes, got %d", HeaderSize, len(header))
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("symmetric key must be %d bytes, got %d", KeySize, len(key))
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create stream cipher: %w", err)
	}
	p := &PullSession{aead: aead}
	copy(p.header[:], header)
	return p, nil
}

// DecryptChunk authenticates and opens the next chunk of the stream. It
// returns ErrAuthenticationFailed when the ciphertext was tampered with or is
// out of sequence.
func (p *PullSession) DecryptChunk(ciphertext []byte) ([]byte, error) {
	nonce := chunkNonce(p.header[:], p.counter)
	plaintext, err := p.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("chunk %d: %w", p.counter, ErrAuthenticationFailed)
	}
	p.counter++
	return plaintext, nil
}

// chunkNonce derives the per-chunk nonce by folding the big-endian chunk
// counter into the trailing bytes of the stream header. This ties every
// ciphertext to its position in the stream.
func chunkNonce(header []byte, counter uint64) []byte {
	nonce := make([]byte, HeaderSize)
	copy(nonce, header)
	var ctr [8]byte
	binary.BigEndian.PutUint64(ctr[:], counter)
	for i := 0; i < len(ctr); i++ {
		nonce[HeaderSize-len(ctr)+i] ^= ctr[i]
	}
	return nonce
}
