// auth.go - Owner signatures for commitment management.
//
// An owner account is an ed25519 public key. Requests that act on or read an
// owner's commitments carry a signature by that key over
// domain || action || payload.

package commitreveal

import (
	"crypto/ed25519"
	"encoding/binary"
	"time"

	"stealthpool/internal/pool"
	"stealthpool/internal/stealth"
)

const ownerAuthDomain = "stealthsol_commit_owner_v1"

// Owner actions.
const (
	ActionCancel = "cancel"
	ActionClose  = "close"
	ActionList   = "list"
)

// MaxListSkew bounds the age of a signed list request.
const MaxListSkew = 5 * time.Minute

var ErrNotOwner = pool.NewError(pool.KindCrypto, "request is not signed by the commitment owner")

// OwnerMessage returns the bytes an owner signs for action.
func OwnerMessage(action string, payload []byte) []byte {
	m := make([]byte, 0, len(ownerAuthDomain)+1+len(action)+1+len(payload))
	m = append(m, ownerAuthDomain...)
	m = append(m, 0)
	m = append(m, action...)
	m = append(m, 0)
	return append(m, payload...)
}

// ListPayload encodes the timestamp signed for a list request.
func ListPayload(at time.Time) []byte {
	return binary.LittleEndian.AppendUint64(nil, uint64(at.Unix()))
}

// SignOwner signs an owner action with a stealth spending key.
func SignOwner(s *stealth.Signer, action string, payload []byte) []byte {
	return s.Sign(OwnerMessage(action, payload))
}

// VerifyOwner checks sig against the owner's key.
func VerifyOwner(owner pool.AccountID, action string, payload, sig []byte) error {
	if len(sig) != ed25519.SignatureSize {
		return ErrNotOwner
	}
	if !ed25519.Verify(ed25519.PublicKey(owner[:]), OwnerMessage(action, payload), sig) {
		return ErrNotOwner
	}
	return nil
}

// VerifyListRequest checks a signed list request made at unix time ts.
func VerifyListRequest(owner pool.AccountID, ts int64, sig []byte, now time.Time) error {
	skew := now.Sub(time.Unix(ts, 0))
	if skew < -MaxListSkew || skew > MaxListSkew {
		return ErrNotOwner
	}
	return VerifyOwner(owner, ActionList, ListPayload(time.Unix(ts, 0)), sig)
}
