// withdraw.go - Withdrawal circuit for the shielded pool.
//
// Proves knowledge of a note (nullifier, secret) committed under a public
// amount and recipient, whose leaf sits in the tree with the public root, and
// whose nullifier hashes to the public nullifier hash.

package circuit

import (
	"github.com/consensys/gnark/frontend"

	"stealthpool/internal/merkle"
)

// WithdrawCircuit is the withdrawal statement. The public fields are declared
// in the order the verifier expects its inputs.
type WithdrawCircuit struct {
	// Public inputs
	Root          frontend.Variable `gnark:",public"`
	NullifierHash frontend.Variable `gnark:",public"`
	Recipient     frontend.Variable `gnark:",public"`
	Amount        frontend.Variable `gnark:",public"`

	// Private inputs
	Nullifier    frontend.Variable
	Secret       frontend.Variable
	PathElements []frontend.Variable
	PathIndices  []frontend.Variable
}

// NewWithdrawCircuit allocates a circuit for a tree of the given depth.
func NewWithdrawCircuit(depth int) *WithdrawCircuit {
	return &WithdrawCircuit{
		PathElements: make([]frontend.Variable, depth),
		PathIndices:  make([]frontend.Variable, depth),
	}
}

// Define implements frontend.Circuit.
func (c *WithdrawCircuit) Define(api frontend.API) error {
	// Step 1: leaf = Hash4(nullifier, secret, amount, recipient)
	cur := Hash4(api, c.Nullifier, c.Secret, c.Amount, c.Recipient)

	// Step 2: walk the authentication path
	for i := range c.PathElements {
		api.AssertIsBoolean(c.PathIndices[i])
		left := api.Select(c.PathIndices[i], c.PathElements[i], cur)
		right := api.Select(c.PathIndices[i], cur, c.PathElements[i])
		cur = Hash2(api, left, right)
	}
	api.AssertIsEqual(c.Root, cur)

	// Step 3: nullifier hash
	api.AssertIsEqual(c.NullifierHash, Hash2(api, c.Nullifier, 0))
	return nil
}

// Depth returns the tree depth the circuit was allocated for.
func (c *WithdrawCircuit) Depth() int {
	return len(c.PathElements)
}

// DefaultDepth matches the pool's tree.
const DefaultDepth = merkle.DefaultDepth
