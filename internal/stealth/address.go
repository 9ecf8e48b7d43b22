// address.go - payer-side derivation and recipient-side scanning.

package stealth

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"io"

	"filippo.io/edwards25519"
)

const sharedSecretDomain = "stealthsol_v1"

// StealthAddress is the payer's output for one payment. Address receives
// the funds; EphemeralPub and Commitment are published in the announcement.
type StealthAddress struct {
	Address      [32]byte
	EphemeralPub [32]byte
	Commitment   [32]byte
}

// ComputeStealthAddress derives a one-time address for the recipient.
func ComputeStealthAddress(scanPub, spendPub [32]byte) (*StealthAddress, error) {
	return ComputeStealthAddressFrom(rand.Reader, scanPub, spendPub)
}

// ComputeStealthAddressFrom is ComputeStealthAddress with an explicit
// randomness source for the ephemeral scalar.
func ComputeStealthAddressFrom(rng io.Reader, scanPub, spendPub [32]byte) (*StealthAddress, error) {
	// 1. Validate recipient keys
	S, err := decodePoint(scanPub)
	if err != nil {
		return nil, fmt.Errorf("scan key: %w", err)
	}
	B, err := decodePoint(spendPub)
	if err != nil {
		return nil, fmt.Errorf("spend key: %w", err)
	}

	// 2. Ephemeral key pair
	r, err := randomScalar(rng)
	if err != nil {
		return nil, err
	}
	defer wipeScalar(r)
	R := basePoint(r)

	// 3. Shared secret and tweak
	shared := new(edwards25519.Point).ScalarMult(r, S)
	h := sharedTweak(shared)
	defer wipeScalar(h)

	// 4. P = B + h·G
	P := new(edwards25519.Point).Add(B, basePoint(h))

	out := &StealthAddress{
		Address:      encode(P),
		EphemeralPub: encode(R),
	}
	out.Commitment = ComputeCommitment(out.EphemeralPub, scanPub, spendPub, out.Address)
	return out, nil
}

func sharedTweak(shared *edwards25519.Point) *edwards25519.Scalar {
	return hashToScalar([]byte(sharedSecretDomain), shared.Bytes())
}

// ScanResult is a detected payment together with its spending scalar.
// Callers should defer Wipe.
type ScanResult struct {
	Address      [32]byte
	EphemeralPub [32]byte

	scalar *edwards25519.Scalar
}

// Scalar returns the canonical spending scalar p with p·G = Address.
func (r *ScanResult) Scalar() [32]byte {
	var out [32]byte
	copy(out[:], r.scalar.Bytes())
	return out
}

// Signer returns an ed25519 signer for the stealth address.
func (r *ScanResult) Signer() (*Signer, error) {
	return newSigner(edwards25519.NewScalar().Set(r.scalar))
}

// Wipe zeroes the spending scalar.
func (r *ScanResult) Wipe() {
	if r != nil {
		wipeScalar(r.scalar)
	}
}

// ScanPayment checks whether candidate was derived for keys from ephemeralPub
// and, if so, recovers the spending scalar.
func ScanPayment(keys *Keys, ephemeralPub, candidate [32]byte) (*ScanResult, bool) {
	R, err := decodePoint(ephemeralPub)
	if err != nil {
		return nil, false
	}
	B, err := decodePoint(keys.SpendPub)
	if err != nil {
		return nil, false
	}

	h := sharedTweak(new(edwards25519.Point).ScalarMult(keys.scan, R))
	defer wipeScalar(h)

	expected := new(edwards25519.Point).Add(B, basePoint(h))
	enc := expected.Bytes()
	if subtle.ConstantTimeCompare(enc, candidate[:]) != 1 {
		return nil, false
	}

	return &ScanResult{
		Address:      candidate,
		EphemeralPub: ephemeralPub,
		scalar:       edwards25519.NewScalar().Add(keys.spend, h),
	}, true
}

// ViewKey detects payments without being able to spend them.
type ViewKey struct {
	scan     *edwards25519.Scalar
	SpendPub [32]byte
}

// NewViewKey builds a view key from an exported scan secret.
func NewViewKey(scanSecret, spendPub [32]byte) (*ViewKey, error) {
	if !ValidatePoint(spendPub) {
		return nil, ErrInvalidPoint
	}
	return &ViewKey{scan: reduce32(scanSecret[:]), SpendPub: spendPub}, nil
}

// Check reports whether candidate belongs to the view key's owner.
func (v *ViewKey) Check(ephemeralPub, candidate [32]byte) bool {
	R, err := decodePoint(ephemeralPub)
	if err != nil {
		return false
	}
	B, err := decodePoint(v.SpendPub)
	if err != nil {
		return false
	}
	h := sharedTweak(new(edwards25519.Point).ScalarMult(v.scan, R))
	defer wipeScalar(h)

	expected := new(edwards25519.Point).Add(B, basePoint(h))
	return subtle.ConstantTimeCompare(expected.Bytes(), candidate[:]) == 1
}

// Wipe zeroes the scan secret.
func (v *ViewKey) Wipe() {
	if v != nil {
		wipeScalar(v.scan)
	}
}

// CheckPayment is the one-shot form of ViewKey.Check.
func CheckPayment(scanSecret, spendPub, ephemeralPub, candidate [32]byte) bool {
	v, err := NewViewKey(scanSecret, spendPub)
	if err != nil {
		return false
	}
	defer v.Wipe()
	return v.Check(ephemeralPub, candidate)
}
