package zkproof

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/veilpool/veil/indexer"
	"github.com/veilpool/veil/keychain"
	"github.com/veilpool/veil/note"
)

// fakeTree serves a testTree over the TreeSource interface.
type fakeTree struct {
	tree *testTree
}

func (f *fakeTree) TreeState(context.Context) (*indexer.TreeState, error) {
	return &indexer.TreeState{Root: f.tree.root(), NextIndex: uint64(len(f.tree.leaves))}, nil
}

func (f *fakeTree) MembershipProof(_ context.Context, leafIndex uint64) (*indexer.MembershipProof, error) {
	return f.tree.proof(leafIndex), nil
}

// stubProver records the assignment instead of proving.
type stubProver struct {
	depth      int
	assignment *TransferCircuit
}

func (s *stubProver) Depth() int { return s.depth }

func (s *stubProver) Prove(assignment *TransferCircuit) ([]byte, error) {
	s.assignment = assignment
	return []byte("proof"), nil
}

func testKeychain(t *testing.T) *keychain.Keychain {
	t.Helper()
	wallet, err := keychain.GenerateWalletKeypair()
	require.NoError(t, err)
	keys, err := keychain.FromSigner(wallet)
	require.NoError(t, err)
	return keys
}

func TestSelectInputs(t *testing.T) {
	keys := testKeychain(t)
	mkNote := func(amount uint64, leaf uint64) *note.Note {
		n, err := note.New(amount, keys.OwnerSecret())
		require.NoError(t, err)
		return n.WithLeafIndex(leaf)
	}
	unspent := []*note.Note{mkNote(100, 0), mkNote(50, 1), mkNote(200, 2)}

	// First note alone covers the target.
	selected, sum, err := SelectInputs(unspent, 80)
	require.NoError(t, err)
	require.Len(t, selected, 1)
	require.EqualValues(t, 100, sum)

	// Two notes needed, taken in cache order.
	selected, sum, err = SelectInputs(unspent, 120)
	require.NoError(t, err)
	require.Len(t, selected, 2)
	require.EqualValues(t, 150, sum)

	// Whole set cannot cover the target.
	_, _, err = SelectInputs(unspent, 1000)
	var insufficient *InsufficientBalanceError
	require.True(t, errors.As(err, &insufficient))
	require.EqualValues(t, 1000, insufficient.Requested)
	require.EqualValues(t, 350, insufficient.Available)

	// Coverable, but not within the circuit arity.
	_, _, err = SelectInputs(unspent, 340)
	require.Error(t, err)
	var arityErr *InsufficientBalanceError
	require.False(t, errors.As(err, &arityErr))
}

func TestAssembleDeposit(t *testing.T) {
	keys := testKeychain(t)
	prover := &stubProver{depth: 4}
	asm := NewAssembler(&fakeTree{tree: newTestTree(4)}, prover, keys, zerolog.Nop())

	transfer, err := asm.Assemble(context.Background(), &Request{
		Kind:   KindDeposit,
		Amount: 10_000_000,
	})
	require.NoError(t, err)
	require.Equal(t, []byte("proof"), transfer.Proof)

	// publicAmount is the plain deposit amount.
	require.EqualValues(t, 10_000_000, transfer.Signals.PublicAmount.Int64())

	// The primary output carries the deposit, the filler is empty, and
	// leaves are assigned from the next free slot.
	require.Len(t, transfer.Outputs, NumOutputs)
	require.EqualValues(t, 10_000_000, transfer.Outputs[0].Amount)
	require.Zero(t, transfer.Outputs[1].Amount)
	require.EqualValues(t, 0, *transfer.Outputs[0].LeafIndex)
	require.EqualValues(t, 1, *transfer.Outputs[1].LeafIndex)

	// Both inputs are dummies with distinct nullifiers.
	require.Len(t, transfer.Inputs, NumInputs)
	require.Zero(t, transfer.Inputs[0].Amount)
	require.Zero(t, transfer.Inputs[1].Amount)
	require.NotZero(t, transfer.Signals.InputNullifiers[0].Cmp(transfer.Signals.InputNullifiers[1]))

	// Signals match the recorded assignment.
	require.Len(t, transfer.Signals.OutputCommitments, NumOutputs)
	require.Zero(t, transfer.Signals.OutputCommitments[0].Cmp(transfer.Outputs[0].Commitment()))
}

func TestAssembleWithdrawConservation(t *testing.T) {
	keys := testKeychain(t)
	tree := newTestTree(4)

	funded, err := note.New(1000, keys.OwnerSecret())
	require.NoError(t, err)
	leaf := tree.add(funded.Commitment())
	funded = funded.WithLeafIndex(leaf)

	prover := &stubProver{depth: 4}
	asm := NewAssembler(&fakeTree{tree: tree}, prover, keys, zerolog.Nop())

	recipient := RecipientField([]byte("recipient-address"))
	transfer, err := asm.Assemble(context.Background(), &Request{
		Kind:      KindWithdraw,
		Amount:    300,
		Fee:       50,
		Recipient: recipient,
		Unspent:   []*note.Note{funded},
	})
	require.NoError(t, err)

	// publicAmount = modulus - (paid + fee).
	expected := new(big.Int).Sub(fr.Modulus(), big.NewInt(350))
	require.Zero(t, transfer.Signals.PublicAmount.Cmp(expected))
	require.Zero(t, transfer.Signals.Recipient.Cmp(recipient))
	require.EqualValues(t, 50, transfer.Signals.Fee)

	// Change output conserves value: 1000 - 300 - 50.
	require.EqualValues(t, 650, transfer.Outputs[0].Amount)

	// The funded note is input 0; the pad is a dummy.
	require.EqualValues(t, 1000, transfer.Inputs[0].Amount)
	require.Zero(t, transfer.Inputs[1].Amount)
}

func TestAssembleWithdrawInsufficient(t *testing.T) {
	keys := testKeychain(t)
	asm := NewAssembler(&fakeTree{tree: newTestTree(4)}, &stubProver{depth: 4}, keys, zerolog.Nop())

	_, err := asm.Assemble(context.Background(), &Request{
		Kind:   KindWithdraw,
		Amount: 100,
		Fee:    1,
	})
	var insufficient *InsufficientBalanceError
	require.True(t, errors.As(err, &insufficient))
}

func TestPublicSignalsBytes(t *testing.T) {
	s := &PublicSignals{
		Root:              big.NewInt(1),
		PublicAmount:      big.NewInt(2),
		Recipient:         big.NewInt(3),
		Fee:               4,
		InputNullifiers:   []*big.Int{big.NewInt(5), big.NewInt(6)},
		OutputCommitments: []*big.Int{big.NewInt(7), big.NewInt(8)},
	}
	data := s.Bytes()
	require.Len(t, data, 8*fr.Bytes)
	// Last byte of each 32-byte word is the small value itself.
	require.EqualValues(t, 1, data[fr.Bytes-1])
	require.EqualValues(t, 8, data[8*fr.Bytes-1])
}
