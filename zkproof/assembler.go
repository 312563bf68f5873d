// assembler.go - Witness assembly for deposit and withdraw proofs.
//
// Selects input notes, constructs change/output notes so value is
// conserved, fetches and checks Merkle membership data, and invokes the
// prover. Assembly failures are deterministic for identical inputs and are
// never retried locally.

package zkproof

import (
	"context"
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/rs/zerolog"

	"github.com/veilpool/veil/indexer"
	"github.com/veilpool/veil/keychain"
	"github.com/veilpool/veil/note"
)

// Kind selects the direction of value across the pool boundary.
type Kind int

const (
	// KindDeposit moves public value into the pool.
	KindDeposit Kind = iota
	// KindWithdraw moves value out to a public recipient, less the fee.
	KindWithdraw
)

// Request describes one transfer to prove.
type Request struct {
	Kind Kind
	// Amount is the deposit amount, or the amount paid to the recipient
	// for withdrawals.
	Amount uint64
	// Fee is the protocol fee leaving the pool alongside a withdrawal.
	Fee uint64
	// Recipient is the field-encoded public recipient for withdrawals.
	Recipient *big.Int
	// Unspent is the current spendable set in cache order.
	Unspent []*note.Note
}

// PublicSignals are the public inputs the ledger program verifies the proof
// against, in circuit order.
type PublicSignals struct {
	Root              *big.Int
	PublicAmount      *big.Int
	Recipient         *big.Int
	Fee               uint64
	InputNullifiers   []*big.Int
	OutputCommitments []*big.Int
}

// Bytes serializes the signals as fixed-width 32-byte words for instruction
// data.
func (s *PublicSignals) Bytes() []byte {
	words := []*big.Int{s.Root, s.PublicAmount, s.Recipient, new(big.Int).SetUint64(s.Fee)}
	words = append(words, s.InputNullifiers...)
	words = append(words, s.OutputCommitments...)
	out := make([]byte, 0, len(words)*fr.Bytes)
	for _, w := range words {
		var fe fr.Element
		fe.SetBigInt(w)
		b := fe.Bytes()
		out = append(out, b[:]...)
	}
	return out
}

// Transfer is a proven spend ready for transaction building.
type Transfer struct {
	Proof   []byte
	Signals *PublicSignals
	// Inputs are the spent notes, dummies included.
	Inputs []*note.Note
	// Outputs are the created notes with leaf indices assigned from the
	// tree's next free slot; Outputs[0] is the deposit/change note.
	Outputs []*note.Note
}

// TreeSource is the slice of the indexer the assembler reads.
type TreeSource interface {
	TreeState(ctx context.Context) (*indexer.TreeState, error)
	MembershipProof(ctx context.Context, leafIndex uint64) (*indexer.MembershipProof, error)
}

// TransferProver produces a proof from a filled circuit assignment.
type TransferProver interface {
	Depth() int
	Prove(assignment *TransferCircuit) ([]byte, error)
}

// Assembler builds and proves transfer witnesses.
type Assembler struct {
	tree   TreeSource
	prover TransferProver
	keys   *keychain.Keychain
	log    zerolog.Logger
}

// NewAssembler wires an assembler from its collaborators.
func NewAssembler(tree TreeSource, prover TransferProver, keys *keychain.Keychain, log zerolog.Logger) *Assembler {
	return &Assembler{
		tree:   tree,
		prover: prover,
		keys:   keys,
		log:    log.With().Str("component", "assembler").Logger(),
	}
}

// Assemble selects inputs, builds outputs and the circuit witness, and
// proves the transfer.
func (a *Assembler) Assemble(ctx context.Context, req *Request) (*Transfer, error) {
	need := req.Amount
	if req.Kind == KindWithdraw {
		need = req.Amount + req.Fee
	}

	var inputs []*note.Note
	var sumIn uint64
	if req.Kind == KindWithdraw {
		var err error
		inputs, sumIn, err = SelectInputs(req.Unspent, need)
		if err != nil {
			return nil, err
		}
	}

	state, err := a.tree.TreeState(ctx)
	if err != nil {
		return nil, fmt.Errorf("tree state fetch failed: %w", err)
	}

	proofs := make([]*indexer.MembershipProof, len(inputs))
	for i, in := range inputs {
		p, err := a.tree.MembershipProof(ctx, *in.LeafIndex)
		if err != nil {
			return nil, fmt.Errorf("membership proof fetch failed for leaf %d: %w", *in.LeafIndex, err)
		}
		if err := VerifyMembership(in.Commitment(), *in.LeafIndex, p, state.Root, a.prover.Depth()); err != nil {
			return nil, &ProofGenerationError{Err: err}
		}
		proofs[i] = p
	}

	// Pad to the circuit shape with zero-amount dummies; their paths are
	// arbitrary since the circuit skips the root check at amount zero.
	for len(inputs) < NumInputs {
		dummy, err := note.New(0, a.keys.OwnerSecret())
		if err != nil {
			return nil, &ProofGenerationError{Err: err}
		}
		inputs = append(inputs, dummy.WithLeafIndex(uint64(len(inputs))))
		proofs = append(proofs, emptyPath(a.prover.Depth()))
	}

	outputs, err := a.buildOutputs(req, sumIn, state.NextIndex)
	if err != nil {
		return nil, err
	}

	signals, assignment, err := a.buildWitness(req, state, inputs, proofs, outputs)
	if err != nil {
		return nil, err
	}

	proof, err := a.prover.Prove(assignment)
	if err != nil {
		return nil, err
	}
	a.log.Debug().Int("inputs", len(inputs)).Int("outputs", len(outputs)).Msg("transfer proven")

	return &Transfer{
		Proof:   proof,
		Signals: signals,
		Inputs:  inputs,
		Outputs: outputs,
	}, nil
}

// SelectInputs greedily accumulates unspent notes in cache order until the
// target is covered. Fails with *InsufficientBalanceError when the whole
// set cannot cover it, and a consolidation error when it can but not within
// the circuit's input arity.
func SelectInputs(unspent []*note.Note, target uint64) ([]*note.Note, uint64, error) {
	var selected []*note.Note
	var sum uint64
	for _, n := range unspent {
		if sum >= target {
			break
		}
		selected = append(selected, n)
		sum += n.Amount
	}
	if sum < target {
		return nil, 0, &InsufficientBalanceError{Requested: target, Available: sum}
	}
	if len(selected) > NumInputs {
		return nil, 0, fmt.Errorf("spend requires %d inputs but transfers take at most %d; consolidate notes first",
			len(selected), NumInputs)
	}
	return selected, sum, nil
}

func (a *Assembler) buildOutputs(req *Request, sumIn uint64, nextIndex uint64) ([]*note.Note, error) {
	var primaryAmount uint64
	switch req.Kind {
	case KindDeposit:
		primaryAmount = req.Amount
	case KindWithdraw:
		primaryAmount = sumIn - req.Amount - req.Fee // change
	}

	primary, err := note.New(primaryAmount, a.keys.OwnerSecret())
	if err != nil {
		return nil, &ProofGenerationError{Err: err}
	}
	filler, err := note.New(0, a.keys.OwnerSecret())
	if err != nil {
		return nil, &ProofGenerationError{Err: err}
	}
	return []*note.Note{
		primary.WithLeafIndex(nextIndex),
		filler.WithLeafIndex(nextIndex + 1),
	}, nil
}

func (a *Assembler) buildWitness(req *Request, state *indexer.TreeState, inputs []*note.Note, proofs []*indexer.MembershipProof, outputs []*note.Note) (*PublicSignals, *TransferCircuit, error) {
	recipient := big.NewInt(0)
	if req.Recipient != nil {
		recipient = req.Recipient
	}
	signals := &PublicSignals{
		Root:         state.Root,
		PublicAmount: EncodePublicAmount(req.Kind, req.Amount, req.Fee),
		Recipient:    recipient,
		Fee:          req.Fee,
	}

	assignment := NewTransferCircuit(a.prover.Depth())
	assignment.Root = state.Root
	assignment.PublicAmount = signals.PublicAmount
	assignment.Recipient = recipient
	assignment.Fee = new(big.Int).SetUint64(req.Fee)
	assignment.OwnerSecret = a.keys.OwnerSecret()

	for i, in := range inputs {
		nf, err := in.Nullifier()
		if err != nil {
			return nil, nil, &ProofGenerationError{Err: err}
		}
		signals.InputNullifiers = append(signals.InputNullifiers, nf)
		assignment.InputNullifiers[i] = nf
		assignment.InAmounts[i] = new(big.Int).SetUint64(in.Amount)
		assignment.InBlindings[i] = in.Blinding
		assignment.InLeafIndices[i] = new(big.Int).SetUint64(*in.LeafIndex)
		for lvl, sibling := range proofs[i].PathElements {
			assignment.InPathElements[i][lvl] = sibling
		}
	}
	for j, out := range outputs {
		cm := out.Commitment()
		signals.OutputCommitments = append(signals.OutputCommitments, cm)
		assignment.OutputCommitments[j] = cm
		assignment.OutAmounts[j] = new(big.Int).SetUint64(out.Amount)
		assignment.OutBlindings[j] = out.Blinding
		assignment.OutOwnerKeys[j] = out.OwnerPublicKey()
	}
	return signals, assignment, nil
}

// EncodePublicAmount encodes the net value crossing the pool boundary as a
// field element: positive for deposits, negative (modulus - total) for
// withdrawals.
func EncodePublicAmount(kind Kind, amount, fee uint64) *big.Int {
	if kind == KindDeposit {
		return new(big.Int).SetUint64(amount)
	}
	total := new(big.Int).SetUint64(amount + fee)
	return new(big.Int).Sub(fr.Modulus(), total)
}

// RecipientField encodes a public address as a field element for the
// circuit's recipient binding.
func RecipientField(addr []byte) *big.Int {
	v := new(big.Int).SetBytes(addr)
	return v.Mod(v, fr.Modulus())
}

func emptyPath(depth int) *indexer.MembershipProof {
	p := &indexer.MembershipProof{
		PathElements: make([]*big.Int, depth),
		PathIndices:  make([]uint8, depth),
	}
	for i := range p.PathElements {
		p.PathElements[i] = big.NewInt(0)
	}
	return p
}
