// prover.go - Notes and withdrawal proof generation.

package circuit

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc"
	gnarkgroth16 "github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"

	"stealthpool/internal/field"
	"stealthpool/internal/groth16"
	"stealthpool/internal/merkle"
	"stealthpool/internal/poseidon"
	"stealthpool/internal/pool"
)

// ErrPathMismatch is returned when a note's path does not lead to the root.
var ErrPathMismatch = errors.New("merkle path does not match root")

// noteSecretBytes keeps random note values below the field modulus.
const noteSecretBytes = 31

// Note is the depositor's private record of one deposit.
type Note struct {
	Nullifier [32]byte
	Secret    [32]byte
	Amount    uint64
	Recipient pool.AccountID
	LeafIndex uint64
}

// NewNote draws a fresh nullifier and secret.
func NewNote(amount uint64, recipient pool.AccountID) (*Note, error) {
	n := &Note{Amount: amount, Recipient: recipient}
	if _, err := rand.Read(n.Nullifier[:noteSecretBytes]); err != nil {
		return nil, err
	}
	if _, err := rand.Read(n.Secret[:noteSecretBytes]); err != nil {
		return nil, err
	}
	return n, nil
}

// Commitment returns the pool leaf for the note.
func (n *Note) Commitment() [32]byte {
	return poseidon.Commitment(n.Nullifier, n.Secret, n.Amount, pool.RecipientElement(n.Recipient).BytesLE())
}

// NullifierHash returns the value published on withdrawal.
func (n *Note) NullifierHash() [32]byte {
	return poseidon.NullifierHash(n.Nullifier)
}

type noteJSON struct {
	Nullifier string         `json:"nullifier"`
	Secret    string         `json:"secret"`
	Amount    uint64         `json:"amount"`
	Recipient pool.AccountID `json:"recipient"`
	LeafIndex uint64         `json:"leaf_index"`
}

// MarshalJSON encodes the secrets as hex.
func (n Note) MarshalJSON() ([]byte, error) {
	return json.Marshal(noteJSON{
		Nullifier: hex.EncodeToString(n.Nullifier[:]),
		Secret:    hex.EncodeToString(n.Secret[:]),
		Amount:    n.Amount,
		Recipient: n.Recipient,
		LeafIndex: n.LeafIndex,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (n *Note) UnmarshalJSON(b []byte) error {
	var j noteJSON
	if err := json.Unmarshal(b, &j); err != nil {
		return err
	}
	if err := decodeHex32(j.Nullifier, &n.Nullifier); err != nil {
		return fmt.Errorf("nullifier: %w", err)
	}
	if err := decodeHex32(j.Secret, &n.Secret); err != nil {
		return fmt.Errorf("secret: %w", err)
	}
	n.Amount = j.Amount
	n.Recipient = j.Recipient
	n.LeafIndex = j.LeafIndex
	return nil
}

func decodeHex32(s string, out *[32]byte) error {
	b, err := hex.DecodeString(s)
	if err != nil {
		return err
	}
	if len(b) != 32 {
		return fmt.Errorf("length %d", len(b))
	}
	copy(out[:], b)
	return nil
}

// Withdrawal is a proof together with the values it commits to.
type Withdrawal struct {
	Proof         []byte
	Root          [32]byte
	NullifierHash [32]byte
	Recipient     pool.AccountID
	Amount        uint64
	PublicInputs  [][32]byte
}

// Request builds the pool request for the withdrawal.
func (w *Withdrawal) Request(relayerFee uint64, relayer pool.AccountID) pool.WithdrawRequest {
	return pool.WithdrawRequest{
		Root:          w.Root,
		NullifierHash: w.NullifierHash,
		Recipient:     w.Recipient,
		Proof:         w.Proof,
		RelayerFee:    relayerFee,
		Relayer:       relayer,
	}
}

// Prover generates withdrawal proofs. It is safe for concurrent use.
type Prover struct {
	ccs   constraint.ConstraintSystem
	pk    gnarkgroth16.ProvingKey
	depth int
}

// NewProver binds a compiled circuit and its proving key.
func NewProver(ccs constraint.ConstraintSystem, pk gnarkgroth16.ProvingKey, depth int) *Prover {
	return &Prover{ccs: ccs, pk: pk, depth: depth}
}

// ProveWithdraw proves that note is in the tree with the given root.
// Steps:
//  1. Check the path against the root
//  2. Build the witness
//  3. Prove and encode
func (p *Prover) ProveWithdraw(note *Note, path *merkle.Path, root [32]byte) (*Withdrawal, error) {
	// Step 1: Check the path against the root
	if len(path.Siblings) != p.depth {
		return nil, fmt.Errorf("path depth %d, circuit depth %d", len(path.Siblings), p.depth)
	}
	leaf := note.Commitment()
	if path.Root(leaf) != root {
		return nil, ErrPathMismatch
	}

	// Step 2: Build the witness
	nh := note.NullifierHash()
	assignment := NewWithdrawCircuit(p.depth)
	assignment.Root = leBig(root)
	assignment.NullifierHash = leBig(nh)
	assignment.Recipient = pool.RecipientElement(note.Recipient).BigInt()
	assignment.Amount = new(big.Int).SetUint64(note.Amount)
	assignment.Nullifier = leBig(note.Nullifier)
	assignment.Secret = leBig(note.Secret)
	for i, s := range path.Siblings {
		assignment.PathElements[i] = leBig(s)
		assignment.PathIndices[i] = (path.Index >> uint(i)) & 1
	}
	w, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField())
	if err != nil {
		return nil, fmt.Errorf("witness creation failed: %w", err)
	}

	// Step 3: Prove and encode
	proof, err := gnarkgroth16.Prove(p.ccs, p.pk, w)
	if err != nil {
		return nil, fmt.Errorf("proof generation failed: %w", err)
	}
	enc, err := groth16.FromGnarkProof(proof)
	if err != nil {
		return nil, err
	}

	return &Withdrawal{
		Proof:         enc.Bytes(),
		Root:          root,
		NullifierHash: nh,
		Recipient:     note.Recipient,
		Amount:        note.Amount,
		PublicInputs:  pool.PublicInputs(root, nh, note.Recipient, note.Amount),
	}, nil
}

func leBig(b [32]byte) *big.Int {
	return field.FromBytesLE(b[:]).BigInt()
}
