// gnark.go - Conversion from gnark keys and proofs.

package groth16

import (
	"fmt"

	"github.com/consensys/gnark-crypto/ecc/bn254"
	gnarkgroth16 "github.com/consensys/gnark/backend/groth16"
	groth16_bn254 "github.com/consensys/gnark/backend/groth16/bn254"
)

// FromGnarkVerifyingKey converts a BN254 gnark key. Keys using gnark's
// Pedersen commitment extension are rejected since the plain pairing
// equation does not cover them.
func FromGnarkVerifyingKey(vk gnarkgroth16.VerifyingKey) (*VerifyingKey, error) {
	k, ok := vk.(*groth16_bn254.VerifyingKey)
	if !ok {
		return nil, fmt.Errorf("%w: not a bn254 key (%T)", ErrMalformedKey, vk)
	}
	if len(k.CommitmentKeys) != 0 {
		return nil, fmt.Errorf("%w: commitment extension not supported", ErrMalformedKey)
	}
	if len(k.G1.K) < MinICLength || len(k.G1.K) > MaxICLength {
		return nil, fmt.Errorf("%w: ic length %d", ErrMalformedKey, len(k.G1.K))
	}

	out := &VerifyingKey{
		Alpha: k.G1.Alpha,
		Beta:  k.G2.Beta,
		Gamma: k.G2.Gamma,
		Delta: k.G2.Delta,
		IC:    make([]bn254.G1Affine, len(k.G1.K)),
	}
	copy(out.IC, k.G1.K)
	return out, nil
}

// FromGnarkProof converts a BN254 gnark proof.
func FromGnarkProof(p gnarkgroth16.Proof) (*Proof, error) {
	pr, ok := p.(*groth16_bn254.Proof)
	if !ok {
		return nil, fmt.Errorf("%w: not a bn254 proof (%T)", ErrMalformedProof, p)
	}
	if len(pr.Commitments) != 0 {
		return nil, fmt.Errorf("%w: commitment extension not supported", ErrMalformedProof)
	}
	return &Proof{A: pr.Ar, B: pr.Bs, C: pr.Krs}, nil
}
