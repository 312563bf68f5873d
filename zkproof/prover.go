// prover.go - Groth16 proving over file-addressed artifacts.
//
// The compiled constraint system and the proving key live as files under a
// configured artifact directory. The engine treats that path as
// configuration; generating the artifacts (the trusted setup) is a separate
// step from using them.

package zkproof

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
)

// Artifact file layout relative to the configured base path.
const (
	CircuitFile      = "transfer_circuit.r1cs"
	ProvingKeyFile   = "transfer_proving.key"
	VerifyingKeyFile = "transfer_verifying.key"
)

// Prover holds the loaded constraint system and proving key for the
// transfer circuit at a fixed tree depth.
type Prover struct {
	ccs   constraint.ConstraintSystem
	pk    groth16.ProvingKey
	depth int
}

// NewProver loads the proving artifacts from dir.
func NewProver(dir string, depth int) (*Prover, error) {
	ccs, err := loadCircuit(filepath.Join(dir, CircuitFile))
	if err != nil {
		return nil, err
	}
	pk, err := LoadProvingKey(filepath.Join(dir, ProvingKeyFile))
	if err != nil {
		return nil, err
	}
	return &Prover{ccs: ccs, pk: pk, depth: depth}, nil
}

// Depth returns the tree depth the artifacts were built for.
func (p *Prover) Depth() int { return p.depth }

// Prove builds the witness from the assignment and runs Groth16.
func (p *Prover) Prove(assignment *TransferCircuit) ([]byte, error) {
	w, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField())
	if err != nil {
		return nil, &ProofGenerationError{Err: fmt.Errorf("witness creation failed: %w", err)}
	}
	proof, err := groth16.Prove(p.ccs, p.pk, w)
	if err != nil {
		return nil, &ProofGenerationError{Err: err}
	}
	var buf bytes.Buffer
	if _, err := proof.WriteTo(&buf); err != nil {
		return nil, &ProofGenerationError{Err: fmt.Errorf("proof marshaling failed: %w", err)}
	}
	return buf.Bytes(), nil
}

// Setup compiles the transfer circuit for the given depth, runs the Groth16
// setup, and writes all artifacts under dir. Existing artifacts are reused.
func Setup(dir string, depth int) error {
	ccsPath := filepath.Join(dir, CircuitFile)
	pkPath := filepath.Join(dir, ProvingKeyFile)
	vkPath := filepath.Join(dir, VerifyingKeyFile)
	if fileExists(ccsPath) && fileExists(pkPath) && fileExists(vkPath) {
		return nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("artifact dir creation failed: %w", err)
	}

	ccs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, NewTransferCircuit(depth))
	if err != nil {
		return fmt.Errorf("circuit compilation failed: %w", err)
	}
	pk, vk, err := groth16.Setup(ccs)
	if err != nil {
		return fmt.Errorf("groth16 setup failed: %w", err)
	}

	if err := writeArtifact(ccsPath, ccs); err != nil {
		return err
	}
	if err := writeArtifact(pkPath, pk); err != nil {
		return err
	}
	return writeArtifact(vkPath, vk)
}

// LoadProvingKey loads a Groth16 proving key from disk.
func LoadProvingKey(path string) (groth16.ProvingKey, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("proving key unavailable: %w", err)
	}
	defer f.Close()
	pk := groth16.NewProvingKey(ecc.BN254)
	if _, err := pk.ReadFrom(f); err != nil {
		return nil, fmt.Errorf("proving key read failed: %w", err)
	}
	return pk, nil
}

// LoadVerifyingKey loads a Groth16 verifying key from disk.
func LoadVerifyingKey(path string) (groth16.VerifyingKey, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("verifying key unavailable: %w", err)
	}
	defer f.Close()
	vk := groth16.NewVerifyingKey(ecc.BN254)
	if _, err := vk.ReadFrom(f); err != nil {
		return nil, fmt.Errorf("verifying key read failed: %w", err)
	}
	return vk, nil
}

func loadCircuit(path string) (constraint.ConstraintSystem, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("circuit artifact unavailable: %w", err)
	}
	defer f.Close()
	ccs := groth16.NewCS(ecc.BN254)
	if _, err := ccs.ReadFrom(f); err != nil {
		return nil, fmt.Errorf("circuit artifact read failed: %w", err)
	}
	return ccs, nil
}

func writeArtifact(path string, artifact io.WriterTo) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("artifact write failed: %w", err)
	}
	defer f.Close()
	if _, err := artifact.WriteTo(f); err != nil {
		return fmt.Errorf("artifact write failed: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
