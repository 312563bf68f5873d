// codec.go - Encrypted-output codec for the shielded pool.
//
// Notes travel as opaque byte blobs: nonce || ciphertext || tag under
// XChaCha20-Poly1305 keyed by the wallet's derived encryption key. The blob
// is the only externally visible artifact for a note; anything that fails to
// authenticate is simply not ours.

package note

import (
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"math/big"

	"golang.org/x/crypto/chacha20poly1305"
)

// KeySize is the symmetric key size the codec expects.
const KeySize = chacha20poly1305.KeySize

// DecryptionError reports an encrypted output that does not authenticate
// under our key. The sync path treats it as "not my note" and skips the
// item rather than aborting.
type DecryptionError struct {
	Err error
}

func (e *DecryptionError) Error() string {
	return fmt.Sprintf("note decryption failed: %v", e.Err)
}

func (e *DecryptionError) Unwrap() error { return e.Err }

// Codec encrypts and decrypts note payloads with a wallet-scoped key.
type Codec struct {
	aead cipher.AEAD
}

// NewCodec builds a codec from a derived encryption key.
func NewCodec(key []byte) (*Codec, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("codec init failed: %w", err)
	}
	return &Codec{aead: aead}, nil
}

// Encrypt serializes and seals a note. A fresh random nonce is generated per
// call and prepended to the ciphertext.
func (c *Codec) Encrypt(n *Note) ([]byte, error) {
	plaintext, err := n.Serialize()
	if err != nil {
		return nil, fmt.Errorf("note serialization failed: %w", err)
	}
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("nonce generation failed: %w", err)
	}
	return c.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens an encrypted output and attaches the owner secret to the
// decoded note. Authentication failure yields a *DecryptionError.
func (c *Codec) Decrypt(blob []byte, ownerSecret *big.Int) (*Note, error) {
	if len(blob) < c.aead.NonceSize() {
		return nil, &DecryptionError{Err: fmt.Errorf("blob shorter than nonce: %d bytes", len(blob))}
	}
	nonce, ciphertext := blob[:c.aead.NonceSize()], blob[c.aead.NonceSize():]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, &DecryptionError{Err: err}
	}
	n, err := Deserialize(plaintext, ownerSecret)
	if err != nil {
		return nil, &DecryptionError{Err: err}
	}
	return n, nil
}
