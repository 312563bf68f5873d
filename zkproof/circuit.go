// circuit.go - Transfer circuit for the shielded pool.
//
// The spend statement: each input note is committed in the tree (unless it
// is a zero-amount dummy), its nullifier is derived from the commitment,
// owner secret, and leaf position, and value is conserved between inputs,
// outputs, and the public amount. Recipient and fee ride along as public
// inputs so the proof binds the withdrawal destination.

package zkproof

import (
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/hash/mimc"
)

const (
	// NumInputs and NumOutputs fix the transfer shape. Spends needing fewer
	// real notes use zero-amount dummies.
	NumInputs  = 2
	NumOutputs = 2

	// DefaultTreeDepth is the commitment tree depth of the deployed pool.
	DefaultTreeDepth = 26

	// amountBits bounds note amounts so sums cannot wrap the field.
	amountBits = 64
)

// TransferCircuit is the 2-in/2-out spend statement. Path slices are sized
// by NewTransferCircuit before compilation.
type TransferCircuit struct {
	// Public inputs
	Root              frontend.Variable             `gnark:",public"`
	PublicAmount      frontend.Variable             `gnark:",public"`
	Recipient         frontend.Variable             `gnark:",public"`
	Fee               frontend.Variable             `gnark:",public"`
	InputNullifiers   [NumInputs]frontend.Variable  `gnark:",public"`
	OutputCommitments [NumOutputs]frontend.Variable `gnark:",public"`

	// Private inputs
	OwnerSecret    frontend.Variable
	InAmounts      [NumInputs]frontend.Variable
	InBlindings    [NumInputs]frontend.Variable
	InLeafIndices  [NumInputs]frontend.Variable
	InPathElements [NumInputs][]frontend.Variable
	OutAmounts     [NumOutputs]frontend.Variable
	OutBlindings   [NumOutputs]frontend.Variable
	OutOwnerKeys   [NumOutputs]frontend.Variable
}

// NewTransferCircuit allocates a circuit template (or assignment shell) for
// the given tree depth.
func NewTransferCircuit(depth int) *TransferCircuit {
	c := &TransferCircuit{}
	for i := 0; i < NumInputs; i++ {
		c.InPathElements[i] = make([]frontend.Variable, depth)
	}
	return c
}

func (c *TransferCircuit) Define(api frontend.API) error {
	// Owner public key (pk = H(sk)), shared by all inputs.
	hasher, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}
	hasher.Write(c.OwnerSecret)
	ownerKey := hasher.Sum()

	sumIn := frontend.Variable(0)
	for i := 0; i < NumInputs; i++ {
		api.ToBinary(c.InAmounts[i], amountBits)

		// cm = H(amount, blinding, pk)
		hasher.Reset()
		hasher.Write(c.InAmounts[i])
		hasher.Write(c.InBlindings[i])
		hasher.Write(ownerKey)
		cm := hasher.Sum()

		// nf = H(cm, sk, leafIndex)
		hasher.Reset()
		hasher.Write(cm)
		hasher.Write(c.OwnerSecret)
		hasher.Write(c.InLeafIndices[i])
		api.AssertIsEqual(c.InputNullifiers[i], hasher.Sum())

		// Recompute the root along the sibling path; the leaf index bits
		// select left/right at each level.
		depth := len(c.InPathElements[i])
		bits := api.ToBinary(c.InLeafIndices[i], depth)
		node := cm
		for lvl := 0; lvl < depth; lvl++ {
			left := api.Select(bits[lvl], c.InPathElements[i][lvl], node)
			right := api.Select(bits[lvl], node, c.InPathElements[i][lvl])
			hasher.Reset()
			hasher.Write(left)
			hasher.Write(right)
			node = hasher.Sum()
		}
		// Membership is only enforced for funded inputs; dummies carry
		// amount zero and an arbitrary path.
		api.AssertIsEqual(api.Mul(c.InAmounts[i], api.Sub(node, c.Root)), 0)

		sumIn = api.Add(sumIn, c.InAmounts[i])
	}

	sumOut := frontend.Variable(0)
	for j := 0; j < NumOutputs; j++ {
		api.ToBinary(c.OutAmounts[j], amountBits)

		hasher.Reset()
		hasher.Write(c.OutAmounts[j])
		hasher.Write(c.OutBlindings[j])
		hasher.Write(c.OutOwnerKeys[j])
		api.AssertIsEqual(c.OutputCommitments[j], hasher.Sum())

		sumOut = api.Add(sumOut, c.OutAmounts[j])
	}

	// Value conservation: sum(in) + publicAmount == sum(out), with
	// publicAmount negative (field-encoded) for withdrawals.
	api.AssertIsEqual(api.Add(sumIn, c.PublicAmount), sumOut)

	// No input may be spent twice within one transfer.
	api.AssertIsDifferent(c.InputNullifiers[0], c.InputNullifiers[1])

	return nil
}
