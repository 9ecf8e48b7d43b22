// commitment.go - Announcement commitments.

package stealth

import (
	"crypto/sha256"
	"crypto/subtle"
)

const commitmentDomain = "stealthsol_commitment_v1"

// ComputeCommitment binds an announcement to the recipient's meta-address.
func ComputeCommitment(ephemeralPub, scanPub, spendPub, stealthAddr [32]byte) [32]byte {
	h := sha256.New()
	h.Write([]byte(commitmentDomain))
	h.Write(ephemeralPub[:])
	h.Write(scanPub[:])
	h.Write(spendPub[:])
	h.Write(stealthAddr[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// VerifyCommitment recomputes the commitment and compares in constant time.
func VerifyCommitment(commitment, ephemeralPub, scanPub, spendPub, stealthAddr [32]byte) bool {
	want := ComputeCommitment(ephemeralPub, scanPub, spendPub, stealthAddr)
	return subtle.ConstantTimeCompare(want[:], commitment[:]) == 1
}
