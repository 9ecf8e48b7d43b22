// reduce.go - Wide multiplication and 512-bit reduction mod r.

package field

import (
	"math/big"
	"math/bits"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

// pow64[i] = 2^(64*i) mod r
var pow64 [8]fr.Element

func init() {
	for i := range pow64 {
		pow64[i].SetBigInt(new(big.Int).Lsh(big.NewInt(1), uint(64*i)))
	}
}

// MulWide returns the full 512-bit schoolbook product of the canonical values
// of a and b, least significant limb first.
func MulWide(a, b Element) [8]uint64 {
	x, y := a.Limbs(), b.Limbs()
	var t [8]uint64
	for i := 0; i < 4; i++ {
		var carry uint64
		for j := 0; j < 4; j++ {
			hi, lo := bits.Mul64(x[i], y[j])
			var c uint64
			lo, c = bits.Add64(lo, t[i+j], 0)
			hi += c
			lo, c = bits.Add64(lo, carry, 0)
			hi += c
			t[i+j] = lo
			carry = hi
		}
		t[i+4] = carry
	}
	return t
}

// Reduce512 reduces a 512-bit little-endian limb vector mod r.
//
// Each limb is below 2^64 < r, so it maps to a field element exactly; the
// result is Σ w[i]·2^(64i) evaluated in the field. The operation count is
// fixed (eight multiplications, eight additions) for every input.
func Reduce512(w [8]uint64) Element {
	var acc, term fr.Element
	for i := 0; i < 8; i++ {
		term.SetUint64(w[i])
		term.Mul(&term, &pow64[i])
		acc.Add(&acc, &term)
	}
	return Element{v: acc}
}
