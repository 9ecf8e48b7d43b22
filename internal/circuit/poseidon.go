// poseidon.go - In-circuit Poseidon permutation.

package circuit

import (
	"math/big"

	"github.com/consensys/gnark/frontend"

	"stealthpool/internal/poseidon"
)

var (
	roundConstants = poseidon.RoundConstants()
	mds            = poseidon.MDS()
)

// Hash2 is the in-circuit counterpart of poseidon.Hash2.
func Hash2(api frontend.API, a, b frontend.Variable) frontend.Variable {
	state := [poseidon.Width]frontend.Variable{0, a, b}
	half := poseidon.FullRounds / 2
	rounds := poseidon.FullRounds + poseidon.PartialRounds

	for r := 0; r < rounds; r++ {
		for i := range state {
			state[i] = api.Add(state[i], roundConstants[r*poseidon.Width+i])
		}
		if r < half || r >= half+poseidon.PartialRounds {
			for i := range state {
				state[i] = sbox(api, state[i])
			}
		} else {
			state[0] = sbox(api, state[0])
		}
		state = mix(api, state)
	}
	return state[0]
}

// Hash4 is the in-circuit counterpart of poseidon.Hash4.
func Hash4(api frontend.API, a, b, c, d frontend.Variable) frontend.Variable {
	return Hash2(api, Hash2(api, a, b), Hash2(api, c, d))
}

func sbox(api frontend.API, x frontend.Variable) frontend.Variable {
	x2 := api.Mul(x, x)
	x4 := api.Mul(x2, x2)
	return api.Mul(x4, x)
}

func mix(api frontend.API, s [poseidon.Width]frontend.Variable) [poseidon.Width]frontend.Variable {
	var out [poseidon.Width]frontend.Variable
	for i := range out {
		terms := make([]frontend.Variable, 0, poseidon.Width)
		for j := range s {
			terms = append(terms, api.Mul(s[j], new(big.Int).Set(mds[i][j])))
		}
		out[i] = api.Add(terms[0], terms[1], terms[2:]...)
	}
	return out
}
