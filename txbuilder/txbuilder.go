// txbuilder.go - Ledger transaction construction for proven transfers.
//
// A transaction carries the proof and public signals as instruction data
// against the pool's state account. Two modes: self-signed, ready for
// submission, or unsigned with a metadata bundle so an external signer can
// complete the flow without the proof-building side ever holding the key.

package txbuilder

import (
	"bytes"
	"crypto/ed25519"
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/base58"

	"github.com/veilpool/veil/keychain"
	"github.com/veilpool/veil/zkproof"
)

// Transaction is a pool spend ready for (or awaiting) signing. Signatures
// has one slot per required signer; slots are empty until signed.
type Transaction struct {
	PoolAccount string
	Signer      string
	Data        []byte
	Signatures  [][]byte
}

// Message returns the deterministic byte serialization covered by the
// signatures.
func (tx *Transaction) Message() []byte {
	var buf bytes.Buffer
	writeBytes(&buf, []byte(tx.PoolAccount))
	writeBytes(&buf, []byte(tx.Signer))
	writeBytes(&buf, tx.Data)
	return buf.Bytes()
}

// Serialize encodes the full transaction, signatures included, for relay
// submission.
func (tx *Transaction) Serialize() []byte {
	var buf bytes.Buffer
	msg := tx.Message()
	writeBytes(&buf, msg)
	var count [2]byte
	binary.BigEndian.PutUint16(count[:], uint16(len(tx.Signatures)))
	buf.Write(count[:])
	for _, sig := range tx.Signatures {
		writeBytes(&buf, sig)
	}
	return buf.Bytes()
}

// IsSigned reports whether every signature slot is filled.
func (tx *Transaction) IsSigned() bool {
	if len(tx.Signatures) == 0 {
		return false
	}
	for _, sig := range tx.Signatures {
		if len(sig) == 0 {
			return false
		}
	}
	return true
}

func writeBytes(buf *bytes.Buffer, b []byte) {
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(b)))
	buf.Write(n[:])
	buf.Write(b)
}

// Metadata is the minimal state an external signer and the relay step need
// to complete a deposit built elsewhere.
type Metadata struct {
	EncryptedOutput []byte
	OwnerPublicKey  string
	Referrer        string
	MintAddress     string
}

// Result is the outcome of building (and possibly relaying) a transfer:
// either Unsigned{tx, metadata} or Signed{txSignature}.
type Result interface {
	isResult()
}

// Unsigned carries a transaction awaiting an external signature plus the
// metadata the signer-side needs.
type Unsigned struct {
	Tx       *Transaction
	Metadata *Metadata
}

func (*Unsigned) isResult() {}

// Signed carries the ledger signature of a submitted transaction.
type Signed struct {
	TxSignature string
}

func (*Signed) isResult() {}

// Builder constructs pool transactions.
type Builder struct {
	poolAccount string
}

// NewBuilder creates a builder against the pool's on-chain state account.
func NewBuilder(poolAccount string) *Builder {
	return &Builder{poolAccount: poolAccount}
}

// BuildUnsigned constructs the transaction with its signature slot left
// empty.
func (b *Builder) BuildUnsigned(transfer *zkproof.Transfer, sender string) *Transaction {
	data := make([]byte, 0, len(transfer.Proof)+len(transfer.Signals.Bytes()))
	data = append(data, transfer.Proof...)
	data = append(data, transfer.Signals.Bytes()...)
	return &Transaction{
		PoolAccount: b.poolAccount,
		Signer:      sender,
		Data:        data,
		Signatures:  make([][]byte, 1),
	}
}

// BuildSigned constructs and signs the transaction with the holder's
// credential.
func (b *Builder) BuildSigned(transfer *zkproof.Transfer, signer keychain.Signer) (*Transaction, error) {
	tx := b.BuildUnsigned(transfer, base58.Encode(signer.PublicKey()))
	if err := Sign(tx, signer); err != nil {
		return nil, err
	}
	return tx, nil
}

// Sign fills the transaction's signature slot. Also used by the external
// signer in the split flow.
func Sign(tx *Transaction, signer keychain.Signer) error {
	sig, err := signer.SignMessage(tx.Message())
	if err != nil {
		return fmt.Errorf("transaction signing failed: %w", err)
	}
	tx.Signatures[0] = sig
	return nil
}

// VerifySignature checks the first signature slot against the signer's
// public key.
func VerifySignature(tx *Transaction, pub ed25519.PublicKey) bool {
	if !tx.IsSigned() {
		return false
	}
	return ed25519.Verify(pub, tx.Message(), tx.Signatures[0])
}
