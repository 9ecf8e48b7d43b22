// errors.go - Sentinel errors.

package stealth

import "errors"

var (
	ErrInvalidPoint        = errors.New("invalid ed25519 point")
	ErrInvalidScalar       = errors.New("invalid scalar")
	ErrInvalidMetaAddress  = errors.New("invalid stealth meta-address")
	ErrInvalidMnemonic     = errors.New("invalid mnemonic")
	ErrInvalidAnnouncement = errors.New("invalid announcement encoding")
	ErrCommitmentMismatch  = errors.New("stealth commitment mismatch")
)
