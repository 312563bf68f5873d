// merkle.go - Off-circuit membership path verification.
//
// Used to reject stale or inconsistent indexer paths before spending proving
// time on a witness that cannot verify.

package zkproof

import (
	"fmt"
	"math/big"

	"github.com/veilpool/veil/indexer"
	"github.com/veilpool/veil/note"
)

// RecomputeRoot folds a leaf up the sibling path. A path index of 1 means
// the running node is the right child at that level, matching the leaf
// index bit decomposition used in the circuit.
func RecomputeRoot(leaf *big.Int, proof *indexer.MembershipProof) *big.Int {
	node := leaf
	for i, sibling := range proof.PathElements {
		if proof.PathIndices[i] == 1 {
			node = note.HashFields(sibling, node)
		} else {
			node = note.HashFields(node, sibling)
		}
	}
	return node
}

// VerifyMembership checks a membership proof against the expected root and
// leaf position: the path must have the right depth, its indices must equal
// the leaf index bits, and the recomputed root must match.
func VerifyMembership(leaf *big.Int, leafIndex uint64, proof *indexer.MembershipProof, root *big.Int, depth int) error {
	if len(proof.PathElements) != depth {
		return fmt.Errorf("membership proof depth %d, want %d", len(proof.PathElements), depth)
	}
	for lvl, idx := range proof.PathIndices {
		if uint8(leafIndex>>uint(lvl)&1) != idx {
			return fmt.Errorf("path index at level %d inconsistent with leaf %d", lvl, leafIndex)
		}
	}
	if RecomputeRoot(leaf, proof).Cmp(root) != 0 {
		return fmt.Errorf("membership proof does not reach root")
	}
	return nil
}
