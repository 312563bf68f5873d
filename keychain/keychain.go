// keychain.go - Deterministic key material derived from a wallet signing key.
//
// The encryption key and the note owner secret are both derived from a
// signature the holder alone can produce over a fixed domain message. The
// same wallet therefore always re-derives the same keys, and nothing beyond
// the wallet key itself needs to be backed up. Signature material is used
// in-memory only and never persisted.

package keychain

import (
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"
	"io"
	"math/big"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"golang.org/x/crypto/hkdf"

	"github.com/veilpool/veil/note"
)

// derivationMessage is the fixed message whose signature seeds all derived
// key material. Changing it invalidates every wallet's note history.
const derivationMessage = "veil shielded pool key derivation v1"

const (
	infoEncryptionKey = "veil/encryption-key/v1"
	infoOwnerSecret   = "veil/owner-secret/v1"
)

// KeyDerivationError reports a credential that cannot produce the derivation
// signature, e.g. a watch-only wallet used outside the unsigned flow.
type KeyDerivationError struct {
	Reason string
}

func (e *KeyDerivationError) Error() string {
	return fmt.Sprintf("key derivation failed: %s", e.Reason)
}

// Signer is the wallet credential surface the keychain needs. Watch-only
// credentials return an error from SignMessage.
type Signer interface {
	// PublicKey returns the wallet's raw public key bytes.
	PublicKey() []byte
	// SignMessage signs an arbitrary message with the wallet key.
	SignMessage(msg []byte) ([]byte, error)
}

// Keychain holds the derived key material for one wallet for the lifetime of
// a client session. Construct it once and pass it by reference; it is never
// a process-wide singleton.
type Keychain struct {
	signer        Signer
	encryptionKey []byte
	ownerSecret   *big.Int
}

// FromSigner derives a keychain from the wallet credential. Fails with
// *KeyDerivationError if the credential cannot sign.
func FromSigner(signer Signer) (*Keychain, error) {
	sig, err := signer.SignMessage([]byte(derivationMessage))
	if err != nil {
		return nil, &KeyDerivationError{Reason: err.Error()}
	}

	encKey, err := expand(sig, infoEncryptionKey, note.KeySize)
	if err != nil {
		return nil, &KeyDerivationError{Reason: err.Error()}
	}
	secretBytes, err := expand(sig, infoOwnerSecret, fr.Bytes)
	if err != nil {
		return nil, &KeyDerivationError{Reason: err.Error()}
	}
	var secret fr.Element
	secret.SetBytes(secretBytes)

	return &Keychain{
		signer:        signer,
		encryptionKey: encKey,
		ownerSecret:   secret.BigInt(new(big.Int)),
	}, nil
}

// EncryptionKey returns the symmetric key for the note codec.
func (k *Keychain) EncryptionKey() []byte { return k.encryptionKey }

// OwnerSecret returns the note owner secret as a field element.
func (k *Keychain) OwnerSecret() *big.Int { return new(big.Int).Set(k.ownerSecret) }

// OwnerPublicKey returns MiMC(ownerSecret), the value committed into notes.
func (k *Keychain) OwnerPublicKey() *big.Int { return note.HashFields(k.ownerSecret) }

// Address returns the wallet's public address string.
func (k *Keychain) Address() string { return base58.Encode(k.signer.PublicKey()) }

// Signer returns the underlying wallet credential.
func (k *Keychain) Signer() Signer { return k.signer }

func expand(secret []byte, info string, n int) ([]byte, error) {
	r := hkdf.New(sha256.New, secret, nil, []byte(info))
	out := make([]byte, n)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}
	return out, nil
}

// WalletKeypair is an ed25519 wallet credential able to sign transactions
// and the derivation message.
type WalletKeypair struct {
	priv ed25519.PrivateKey
}

// NewWalletKeypair wraps an ed25519 private key.
func NewWalletKeypair(priv ed25519.PrivateKey) *WalletKeypair {
	return &WalletKeypair{priv: priv}
}

// GenerateWalletKeypair creates a fresh wallet credential.
func GenerateWalletKeypair() (*WalletKeypair, error) {
	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, fmt.Errorf("wallet keygen failed: %w", err)
	}
	return &WalletKeypair{priv: priv}, nil
}

func (w *WalletKeypair) PublicKey() []byte {
	return []byte(w.priv.Public().(ed25519.PublicKey))
}

func (w *WalletKeypair) SignMessage(msg []byte) ([]byte, error) {
	return ed25519.Sign(w.priv, msg), nil
}

// Encode returns the base58 encoding of the private key, the key file
// format the CLI reads.
func (w *WalletKeypair) Encode() string { return base58.Encode(w.priv) }

// WatchOnly is a public-key-only credential. It supports the unsigned
// transaction flow but cannot derive decryption keys.
type WatchOnly struct {
	pub ed25519.PublicKey
}

// NewWatchOnly wraps a bare public key.
func NewWatchOnly(pub ed25519.PublicKey) *WatchOnly {
	return &WatchOnly{pub: pub}
}

func (w *WatchOnly) PublicKey() []byte { return []byte(w.pub) }

func (w *WatchOnly) SignMessage([]byte) ([]byte, error) {
	return nil, fmt.Errorf("watch-only credential cannot sign")
}
