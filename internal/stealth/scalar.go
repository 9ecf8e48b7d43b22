// scalar.go - Scalar helpers and key wiping.

package stealth

import (
	"crypto/sha256"
	"fmt"
	"io"

	"filippo.io/edwards25519"
)

// reduce32 reads 32 little-endian bytes as an integer and reduces it mod L.
func reduce32(b []byte) *edwards25519.Scalar {
	var wide [64]byte
	copy(wide[:32], b)
	s, err := edwards25519.NewScalar().SetUniformBytes(wide[:])
	if err != nil {
		// unreachable, input is always 64 bytes
		panic(err)
	}
	wipe(wide[:])
	return s
}

// hashToScalar returns SHA256(parts...) mod L.
func hashToScalar(parts ...[]byte) *edwards25519.Scalar {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	sum := h.Sum(nil)
	s := reduce32(sum)
	wipe(sum)
	return s
}

// randomScalar draws 64 uniform bytes and reduces them, so the bias is
// negligible. Zero is rejected.
func randomScalar(rng io.Reader) (*edwards25519.Scalar, error) {
	var buf [64]byte
	defer wipe(buf[:])

	zero := edwards25519.NewScalar()
	for {
		if _, err := io.ReadFull(rng, buf[:]); err != nil {
			return nil, fmt.Errorf("read randomness: %w", err)
		}
		s, err := edwards25519.NewScalar().SetUniformBytes(buf[:])
		if err != nil {
			return nil, err
		}
		if s.Equal(zero) == 0 {
			return s, nil
		}
	}
}

func isZeroScalar(s *edwards25519.Scalar) bool {
	return s.Equal(edwards25519.NewScalar()) == 1
}

func wipeScalar(s *edwards25519.Scalar) {
	if s != nil {
		s.Set(edwards25519.NewScalar())
	}
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
