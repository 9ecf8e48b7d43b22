// element.go - BN254 scalar field elements used by the pool's Poseidon hash.
//
// Elements are four 64-bit limbs in Montgomery form (gnark-crypto fr). Addition
// and subtraction are done here branch-free on the limbs; multiplication uses
// gnark-crypto's Montgomery CIOS routine.

package field

import (
	"encoding/hex"
	"math/big"
	"math/bits"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

// Bytes is the size of an encoded field element.
const Bytes = fr.Bytes

// modulus limbs, little-endian
const (
	q0 uint64 = 0x43e1f593f0000001
	q1 uint64 = 0x2833e84879b97091
	q2 uint64 = 0xb85045b68181585d
	q3 uint64 = 0x30644e72e131a029
)

// Element is an element of the BN254 scalar field.
// The zero value is the field's zero.
type Element struct {
	v fr.Element
}

// Modulus returns a fresh copy of r.
func Modulus() *big.Int {
	return fr.Modulus()
}

// Zero returns 0.
func Zero() Element {
	return Element{}
}

// One returns 1.
func One() Element {
	return Element{v: fr.One()}
}

// FromUint64 returns x as a field element.
func FromUint64(x uint64) Element {
	var e Element
	e.v.SetUint64(x)
	return e
}

// FromBigInt reduces x mod r.
func FromBigInt(x *big.Int) Element {
	var e Element
	if x.Sign() < 0 {
		m := new(big.Int).Mod(x, fr.Modulus())
		e.v.SetBigInt(m)
		return e
	}
	e.v.SetBigInt(x)
	return e
}

// FromFr wraps a gnark-crypto element.
func FromFr(x fr.Element) Element {
	return Element{v: x}
}

// Fr returns the underlying gnark-crypto element.
func (a Element) Fr() fr.Element {
	return a.v
}

// FromBytesLE interprets up to 32 bytes as a little-endian integer and reduces
// it mod r. Every 256-bit input is accepted.
func FromBytesLE(b []byte) Element {
	var buf [32]byte
	copy(buf[:], b)
	var w [8]uint64
	for i := 0; i < 4; i++ {
		w[i] = leUint64(buf[i*8 : i*8+8])
	}
	return Reduce512(w)
}

// FromBytesBE interprets up to 32 bytes as a big-endian integer and reduces it
// mod r.
func FromBytesBE(b []byte) Element {
	var buf [32]byte
	if len(b) > 32 {
		b = b[len(b)-32:]
	}
	copy(buf[32-len(b):], b)
	var le [32]byte
	for i := 0; i < 32; i++ {
		le[i] = buf[31-i]
	}
	return FromBytesLE(le[:])
}

// BytesLE returns the canonical little-endian encoding.
func (a Element) BytesLE() [32]byte {
	var out [32]byte
	fr.LittleEndian.PutElement(&out, a.v)
	return out
}

// BytesBE returns the canonical big-endian encoding.
func (a Element) BytesBE() [32]byte {
	return a.v.Bytes()
}

// Limbs returns the canonical (non-Montgomery) limbs, least significant first.
func (a Element) Limbs() [4]uint64 {
	return a.v.Bits()
}

// BigInt returns the canonical integer value.
func (a Element) BigInt() *big.Int {
	return a.v.BigInt(new(big.Int))
}

// String returns 0x-prefixed big-endian hex.
func (a Element) String() string {
	b := a.BytesBE()
	return "0x" + hex.EncodeToString(b[:])
}

// Equal reports a == b.
func (a Element) Equal(b Element) bool {
	return a.v.Equal(&b.v)
}

// IsZero reports a == 0.
func (a Element) IsZero() bool {
	return a.v.IsZero()
}

// Add returns a + b mod r without data-dependent branches.
func (a Element) Add(b Element) Element {
	var z Element
	addCT(&z.v, &a.v, &b.v)
	return z
}

// Sub returns a - b mod r without data-dependent branches.
func (a Element) Sub(b Element) Element {
	var z Element
	subCT(&z.v, &a.v, &b.v)
	return z
}

// Neg returns -a mod r.
func (a Element) Neg() Element {
	return Zero().Sub(a)
}

// Mul returns a * b mod r.
func (a Element) Mul(b Element) Element {
	var z Element
	z.v.Mul(&a.v, &b.v)
	return z
}

// Square returns a^2 mod r.
func (a Element) Square() Element {
	var z Element
	z.v.Square(&a.v)
	return z
}

// Pow5 returns a^5, the Poseidon S-box.
func (a Element) Pow5() Element {
	var x2, x4, z fr.Element
	x2.Square(&a.v)
	x4.Square(&x2)
	z.Mul(&x4, &a.v)
	return Element{v: z}
}

// addCT works on Montgomery limbs directly: the representation is linear, so
// a modular sum of representations represents the sum. Inputs are < r < 2^254
// so the 256-bit sum never carries out.
func addCT(z, x, y *fr.Element) {
	var s [4]uint64
	var c uint64
	s[0], c = bits.Add64(x[0], y[0], 0)
	s[1], c = bits.Add64(x[1], y[1], c)
	s[2], c = bits.Add64(x[2], y[2], c)
	s[3], _ = bits.Add64(x[3], y[3], c)

	var d [4]uint64
	var b uint64
	d[0], b = bits.Sub64(s[0], q0, 0)
	d[1], b = bits.Sub64(s[1], q1, b)
	d[2], b = bits.Sub64(s[2], q2, b)
	d[3], b = bits.Sub64(s[3], q3, b)

	// b == 0: s >= r, take d
	mask := b - 1
	for i := 0; i < 4; i++ {
		z[i] = (d[i] & mask) | (s[i] &^ mask)
	}
}

func subCT(z, x, y *fr.Element) {
	var d [4]uint64
	var b uint64
	d[0], b = bits.Sub64(x[0], y[0], 0)
	d[1], b = bits.Sub64(x[1], y[1], b)
	d[2], b = bits.Sub64(x[2], y[2], b)
	d[3], b = bits.Sub64(x[3], y[3], b)

	mask := -b
	var c uint64
	z[0], c = bits.Add64(d[0], q0&mask, 0)
	z[1], c = bits.Add64(d[1], q1&mask, c)
	z[2], c = bits.Add64(d[2], q2&mask, c)
	z[3], _ = bits.Add64(d[3], q3&mask, c)
}

func leUint64(b []byte) uint64 {
	return uint64(b[0]) | uint64(b[1])<<8 | uint64(b[2])<<16 | uint64(b[3])<<24 |
		uint64(b[4])<<32 | uint64(b[5])<<40 | uint64(b[6])<<48 | uint64(b[7])<<56
}
