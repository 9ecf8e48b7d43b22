// poseidon.go - circomlib-compatible Poseidon over the BN254 scalar field.
//
// Only the width-3 instance is provided: two inputs plus a zero capacity lane.
// Four-input hashing is defined as a two-level composition of the two-input
// hash, and that composition is what pool commitments commit to.

package poseidon

import (
	"fmt"
	"math/big"

	"stealthpool/internal/field"
)

const (
	// Width is the state size t.
	Width = 3
	// FullRounds is RF, split evenly before and after the partial rounds.
	FullRounds = 8
	// PartialRounds is RP.
	PartialRounds = 57

	numRoundConstants = Width * (FullRounds + PartialRounds)
)

var (
	roundConstants [numRoundConstants]field.Element
	mds            [Width][Width]field.Element
)

func init() {
	for i, s := range roundConstantsHex {
		roundConstants[i] = mustParse(s)
	}
	for i := range mdsHex {
		for j := range mdsHex[i] {
			mds[i][j] = mustParse(mdsHex[i][j])
		}
	}
}

func mustParse(s string) field.Element {
	v, ok := new(big.Int).SetString(s[2:], 16)
	if !ok || v.Cmp(field.Modulus()) >= 0 {
		panic(fmt.Sprintf("poseidon: bad constant %q", s))
	}
	return field.FromBigInt(v)
}

// Permute applies the full Poseidon permutation to state.
func Permute(state [Width]field.Element) [Width]field.Element {
	half := FullRounds / 2
	rounds := FullRounds + PartialRounds
	for r := 0; r < rounds; r++ {
		// 1. Add round constants
		for i := 0; i < Width; i++ {
			state[i] = state[i].Add(roundConstants[r*Width+i])
		}

		// 2. S-box
		if r < half || r >= half+PartialRounds {
			for i := 0; i < Width; i++ {
				state[i] = state[i].Pow5()
			}
		} else {
			state[0] = state[0].Pow5()
		}

		// 3. MDS mix
		state = mix(state)
	}
	return state
}

func mix(s [Width]field.Element) [Width]field.Element {
	var out [Width]field.Element
	for i := 0; i < Width; i++ {
		acc := field.Zero()
		for j := 0; j < Width; j++ {
			acc = acc.Add(s[j].Mul(mds[i][j]))
		}
		out[i] = acc
	}
	return out
}

// Hash2 hashes two field elements.
func Hash2(a, b field.Element) field.Element {
	out := Permute([Width]field.Element{field.Zero(), a, b})
	return out[0]
}

// Hash4 returns Hash2(Hash2(a, b), Hash2(c, d)).
func Hash4(a, b, c, d field.Element) field.Element {
	return Hash2(Hash2(a, b), Hash2(c, d))
}

// Hash2Bytes hashes two 32-byte little-endian values. Inputs at or above the
// field modulus are reduced.
func Hash2Bytes(a, b [32]byte) [32]byte {
	return Hash2(field.FromBytesLE(a[:]), field.FromBytesLE(b[:])).BytesLE()
}

// Hash4Bytes is the byte form of Hash4.
func Hash4Bytes(a, b, c, d [32]byte) [32]byte {
	return Hash4(
		field.FromBytesLE(a[:]),
		field.FromBytesLE(b[:]),
		field.FromBytesLE(c[:]),
		field.FromBytesLE(d[:]),
	).BytesLE()
}

// Commitment computes the pool leaf for a note.
// The amount is encoded as its 8 little-endian bytes zero-padded to 32.
func Commitment(nullifier, secret [32]byte, amount uint64, recipient [32]byte) [32]byte {
	return Hash4(
		field.FromBytesLE(nullifier[:]),
		field.FromBytesLE(secret[:]),
		field.FromUint64(amount),
		field.FromBytesLE(recipient[:]),
	).BytesLE()
}

// NullifierHash computes Hash2(nullifier, 0).
func NullifierHash(nullifier [32]byte) [32]byte {
	return Hash2(field.FromBytesLE(nullifier[:]), field.Zero()).BytesLE()
}

// RoundConstants returns the round constants as integers, for circuits.
func RoundConstants() []*big.Int {
	out := make([]*big.Int, numRoundConstants)
	for i := range roundConstants {
		out[i] = roundConstants[i].BigInt()
	}
	return out
}

// MDS returns the mixing matrix as integers, for circuits.
func MDS() [Width][Width]*big.Int {
	var out [Width][Width]*big.Int
	for i := range mds {
		for j := range mds[i] {
			out[i][j] = mds[i][j].BigInt()
		}
	}
	return out
}
