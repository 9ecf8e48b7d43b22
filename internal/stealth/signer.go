// signer.go - Ed25519 signing with a raw scalar.

package stealth

import (
	"crypto/ed25519"
	"crypto/sha512"

	"filippo.io/edwards25519"
)

const nonceDomain = "stealthsol_nonce_v1"

// Signer produces RFC 8032 signatures for an arbitrary scalar. A stealth
// spending key is a sum of scalars with no seed behind it, so the standard
// seed-expanding ed25519.Sign cannot be used; signatures still verify with
// ed25519.Verify.
type Signer struct {
	a      *edwards25519.Scalar
	prefix [32]byte
	pub    [32]byte
}

// NewSigner builds a signer from a canonical non-zero scalar.
func NewSigner(scalar [32]byte) (*Signer, error) {
	a, err := edwards25519.NewScalar().SetCanonicalBytes(scalar[:])
	if err != nil {
		return nil, ErrInvalidScalar
	}
	return newSigner(a)
}

func newSigner(a *edwards25519.Scalar) (*Signer, error) {
	if isZeroScalar(a) {
		return nil, ErrInvalidScalar
	}
	s := &Signer{a: a, pub: encode(basePoint(a))}

	h := sha512.New()
	h.Write([]byte(nonceDomain))
	h.Write(a.Bytes())
	sum := h.Sum(nil)
	copy(s.prefix[:], sum[:32])
	wipe(sum)
	return s, nil
}

// PublicKey returns A = a·G.
func (s *Signer) PublicKey() ed25519.PublicKey {
	pk := make([]byte, ed25519.PublicKeySize)
	copy(pk, s.pub[:])
	return pk
}

// Sign returns R || S for msg.
func (s *Signer) Sign(msg []byte) []byte {
	// 1. Deterministic nonce r = H(prefix || msg) mod L
	h := sha512.New()
	h.Write(s.prefix[:])
	h.Write(msg)
	digest := h.Sum(nil)
	r, _ := edwards25519.NewScalar().SetUniformBytes(digest)
	wipe(digest)
	defer wipeScalar(r)

	R := basePoint(r).Bytes()

	// 2. Challenge k = H(R || A || msg) mod L
	h.Reset()
	h.Write(R)
	h.Write(s.pub[:])
	h.Write(msg)
	k, _ := edwards25519.NewScalar().SetUniformBytes(h.Sum(nil))

	// 3. S = r + k·a
	S := edwards25519.NewScalar().MultiplyAdd(k, s.a, r)

	sig := make([]byte, ed25519.SignatureSize)
	copy(sig[:32], R)
	copy(sig[32:], S.Bytes())
	return sig
}

// Wipe zeroes the signing scalar and nonce prefix.
func (s *Signer) Wipe() {
	if s == nil {
		return
	}
	wipeScalar(s.a)
	wipe(s.prefix[:])
}
