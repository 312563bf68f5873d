// note.go - Note type and hashing rules for the shielded pool.
//
// A Note is an unspent private value record: amount, blinding factor, and an
// owner secret derived from the wallet key. Notes are committed with MiMC so
// the same hash is usable off-circuit and inside the spend circuit.

package note

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	mimcNative "github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
)

// PlaintextSize is the serialized note layout ahead of encryption:
// amount (8) || blinding (32) || leaf index (8).
const PlaintextSize = 8 + fr.Bytes + 8

// ErrNoLeafIndex is returned when a nullifier is requested for a note that
// has not been included in the commitment tree yet.
var ErrNoLeafIndex = errors.New("note: leaf index not set")

// Note represents a confidential value record in the shielded pool.
// Commitment is stable for the note's lifetime; the nullifier additionally
// binds the leaf index and is computed lazily at spend time.
type Note struct {
	Amount      uint64
	Blinding    *big.Int
	OwnerSecret *big.Int
	LeafIndex   *uint64
}

// New creates a note for the given amount and owner secret with a blinding
// factor sampled uniformly from the scalar field.
func New(amount uint64, ownerSecret *big.Int) (*Note, error) {
	var b fr.Element
	if _, err := b.SetRandom(); err != nil {
		return nil, fmt.Errorf("blinding sampling failed: %w", err)
	}
	return &Note{
		Amount:      amount,
		Blinding:    b.BigInt(new(big.Int)),
		OwnerSecret: new(big.Int).Set(ownerSecret),
	}, nil
}

// OwnerPublicKey derives the owner public key as MiMC(ownerSecret).
func (n *Note) OwnerPublicKey() *big.Int {
	return HashFields(n.OwnerSecret)
}

// Commitment computes the note commitment:
// cm = MiMC(amount, blinding, MiMC(ownerSecret)).
func (n *Note) Commitment() *big.Int {
	return HashFields(new(big.Int).SetUint64(n.Amount), n.Blinding, n.OwnerPublicKey())
}

// Nullifier computes the spend nullifier:
// nf = MiMC(commitment, ownerSecret, leafIndex).
// Returns ErrNoLeafIndex for notes not yet included in the tree.
func (n *Note) Nullifier() (*big.Int, error) {
	if n.LeafIndex == nil {
		return nil, ErrNoLeafIndex
	}
	return HashFields(n.Commitment(), n.OwnerSecret, new(big.Int).SetUint64(*n.LeafIndex)), nil
}

// WithLeafIndex returns a copy of the note positioned at the given leaf.
func (n *Note) WithLeafIndex(idx uint64) *Note {
	out := *n
	out.LeafIndex = &idx
	return &out
}

// Serialize encodes the note fields the codec encrypts. The owner secret is
// never serialized: it is re-derived from the wallet key on decode.
func (n *Note) Serialize() ([]byte, error) {
	if n.LeafIndex == nil {
		return nil, ErrNoLeafIndex
	}
	var blinding fr.Element
	blinding.SetBigInt(n.Blinding)
	blindingBytes := blinding.Bytes()

	buf := make([]byte, 0, PlaintextSize)
	buf = binary.BigEndian.AppendUint64(buf, n.Amount)
	buf = append(buf, blindingBytes[:]...)
	buf = binary.BigEndian.AppendUint64(buf, *n.LeafIndex)
	return buf, nil
}

// Deserialize decodes a serialized note and attaches the owner secret.
func Deserialize(data []byte, ownerSecret *big.Int) (*Note, error) {
	if len(data) != PlaintextSize {
		return nil, fmt.Errorf("invalid note plaintext length: %d", len(data))
	}
	amount := binary.BigEndian.Uint64(data[:8])
	blinding := new(big.Int).SetBytes(data[8 : 8+fr.Bytes])
	leafIndex := binary.BigEndian.Uint64(data[8+fr.Bytes:])
	return &Note{
		Amount:      amount,
		Blinding:    blinding,
		OwnerSecret: new(big.Int).Set(ownerSecret),
		LeafIndex:   &leafIndex,
	}, nil
}

// HashFields computes MiMC over the given values, each reduced into the
// scalar field and written as a 32-byte block. The same sequencing is
// enforced inside the spend circuit.
func HashFields(elems ...*big.Int) *big.Int {
	h := mimcNative.NewMiMC()
	for _, e := range elems {
		var fe fr.Element
		fe.SetBigInt(e)
		b := fe.Bytes()
		h.Write(b[:])
	}
	return new(big.Int).SetBytes(h.Sum(nil))
}
