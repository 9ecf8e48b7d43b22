// verifier.go - Groth16 verification over BN254.
//
// Checks e(-A, B) · e(alpha, beta) · e(vk_x, gamma) · e(C, delta) = 1 with
// vk_x = IC[0] + sum(input_i · IC[i+1]).

package groth16

import (
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

// Verify checks a proof against big-endian public inputs. It returns an error
// for malformed input and (false, nil) for a well-formed proof that does not
// verify.
func Verify(proof *Proof, publicInputs [][32]byte, vk *VerifyingKey) (bool, error) {
	// 1. Shape checks
	if len(vk.IC) != len(publicInputs)+1 {
		return false, fmt.Errorf("%w: ic %d, inputs %d", ErrICLength, len(vk.IC), len(publicInputs))
	}
	if proof.A.IsInfinity() || proof.B.IsInfinity() || proof.C.IsInfinity() {
		return false, fmt.Errorf("%w: zero point", ErrMalformedProof)
	}

	// 2. Public inputs must be canonical field elements
	scalars := make([]*big.Int, len(publicInputs))
	for i := range publicInputs {
		e, err := fr.BigEndian.Element(&publicInputs[i])
		if err != nil {
			return false, fmt.Errorf("%w: input %d", ErrInputOutOfField, i)
		}
		scalars[i] = e.BigInt(new(big.Int))
	}

	// 3. vk_x
	var acc, term bn254.G1Jac
	acc.FromAffine(&vk.IC[0])
	for i, s := range scalars {
		term.FromAffine(&vk.IC[i+1])
		term.ScalarMultiplication(&term, s)
		acc.AddAssign(&term)
	}
	var vkX bn254.G1Affine
	vkX.FromJacobian(&acc)

	// 4. Pairing product
	var negA bn254.G1Affine
	negA.Neg(&proof.A)
	ok, err := bn254.PairingCheck(
		[]bn254.G1Affine{negA, vk.Alpha, vkX, proof.C},
		[]bn254.G2Affine{proof.B, vk.Beta, vk.Gamma, vk.Delta},
	)
	if err != nil {
		return false, fmt.Errorf("pairing: %w", err)
	}
	return ok, nil
}

// VerifyBytes parses a 256-byte proof and verifies it. A proof of the right
// size whose points fail the coordinate, curve or subgroup checks is
// rejected with (false, nil); length, zero-point and IC-length problems are
// errors.
func VerifyBytes(proof []byte, publicInputs [][32]byte, vk *VerifyingKey) (bool, error) {
	if len(vk.IC) != len(publicInputs)+1 {
		return false, fmt.Errorf("%w: ic %d, inputs %d", ErrICLength, len(vk.IC), len(publicInputs))
	}
	p, err := ParseProof(proof)
	if err != nil {
		if isPointRejection(err) {
			return false, nil
		}
		return false, err
	}
	return Verify(p, publicInputs, vk)
}

// Verifier binds a verifying key for repeated use. It is safe for concurrent
// use since the key is never modified.
type Verifier struct {
	VK *VerifyingKey
}

// NewVerifier parses a stored key.
func NewVerifier(vkBytes []byte) (*Verifier, error) {
	vk := new(VerifyingKey)
	if err := vk.UnmarshalBinary(vkBytes); err != nil {
		return nil, err
	}
	return &Verifier{VK: vk}, nil
}

// VerifyProof verifies encoded proof bytes.
func (v *Verifier) VerifyProof(proof []byte, publicInputs [][32]byte) (bool, error) {
	return VerifyBytes(proof, publicInputs, v.VK)
}
