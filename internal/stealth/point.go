// point.go - Point validation and encoding.

package stealth

import (
	"crypto/subtle"

	"filippo.io/edwards25519"
)

// p = 2^255 - 19, little-endian
var fieldPrime = [32]byte{
	0xed, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x7f,
}

var smallOrderEncodings = [8][32]byte{
	{},
	{31: 0x80},
	{0: 0x01},
	{
		0xec, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
		0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
		0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
		0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x7f,
	},
	{
		0x26, 0xe8, 0x95, 0x8f, 0xc2, 0xb2, 0x27, 0xb0,
		0x45, 0xc3, 0xf4, 0x89, 0xf2, 0xef, 0x98, 0xf0,
		0xd5, 0xdf, 0xac, 0x05, 0xd3, 0xc6, 0x33, 0x39,
		0xb1, 0x38, 0x02, 0x88, 0x6d, 0x53, 0xfc, 0x05,
	},
	{
		0xc7, 0x17, 0x6a, 0x70, 0x3d, 0x4d, 0xd8, 0x4f,
		0xba, 0x3c, 0x0b, 0x76, 0x0d, 0x10, 0x67, 0x0f,
		0x2a, 0x20, 0x53, 0xfa, 0x2c, 0x39, 0xcc, 0xc6,
		0x4e, 0xc7, 0xfd, 0x77, 0x92, 0xac, 0x03, 0x7a,
	},
	{
		0x26, 0xe8, 0x95, 0x8f, 0xc2, 0xb2, 0x27, 0xb0,
		0x45, 0xc3, 0xf4, 0x89, 0xf2, 0xef, 0x98, 0xf0,
		0xd5, 0xdf, 0xac, 0x05, 0xd3, 0xc6, 0x33, 0x39,
		0xb1, 0x38, 0x02, 0x88, 0x6d, 0x53, 0xfc, 0x85,
	},
	{
		0xc7, 0x17, 0x6a, 0x70, 0x3d, 0x4d, 0xd8, 0x4f,
		0xba, 0x3c, 0x0b, 0x76, 0x0d, 0x10, 0x67, 0x0f,
		0x2a, 0x20, 0x53, 0xfa, 0x2c, 0x39, 0xcc, 0xc6,
		0x4e, 0xc7, 0xfd, 0x77, 0x92, 0xac, 0x03, 0xfa,
	},
}

// ValidatePoint reports whether b is a usable public key: a canonical encoding
// of a point outside the small-order torsion subgroup.
func ValidatePoint(b [32]byte) bool {
	_, err := decodePoint(b)
	return err == nil
}

func decodePoint(b [32]byte) (*edwards25519.Point, error) {
	if allBytes(b, 0x00) || allBytes(b, 0xff) {
		return nil, ErrInvalidPoint
	}
	if !yBelowPrime(b) {
		return nil, ErrInvalidPoint
	}
	for i := range smallOrderEncodings {
		if subtle.ConstantTimeCompare(b[:], smallOrderEncodings[i][:]) == 1 {
			return nil, ErrInvalidPoint
		}
	}
	p, err := edwards25519.NewIdentityPoint().SetBytes(b[:])
	if err != nil {
		return nil, ErrInvalidPoint
	}
	if new(edwards25519.Point).MultByCofactor(p).Equal(edwards25519.NewIdentityPoint()) == 1 {
		return nil, ErrInvalidPoint
	}
	return p, nil
}

func yBelowPrime(b [32]byte) bool {
	b[31] &= 0x7f
	for i := 31; i >= 0; i-- {
		if b[i] < fieldPrime[i] {
			return true
		}
		if b[i] > fieldPrime[i] {
			return false
		}
	}
	return false
}

func allBytes(b [32]byte, v byte) bool {
	for _, x := range b {
		if x != v {
			return false
		}
	}
	return true
}

func encode(p *edwards25519.Point) [32]byte {
	var out [32]byte
	copy(out[:], p.Bytes())
	return out
}

func basePoint(s *edwards25519.Scalar) *edwards25519.Point {
	return new(edwards25519.Point).ScalarBaseMult(s)
}
