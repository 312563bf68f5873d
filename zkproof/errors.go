package zkproof

import "fmt"

// InsufficientBalanceError reports that the unspent set cannot cover the
// requested spend. User-facing, never retried.
type InsufficientBalanceError struct {
	Requested uint64
	Available uint64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient shielded balance: requested %d, available %d", e.Requested, e.Available)
}

// ProofGenerationError reports a witness construction or prover failure.
// Retrying with identical inputs reproduces the same failure, so it is
// surfaced to the caller untouched.
type ProofGenerationError struct {
	Err error
}

func (e *ProofGenerationError) Error() string {
	return fmt.Sprintf("proof generation failed: %v", e.Err)
}

func (e *ProofGenerationError) Unwrap() error { return e.Err }
