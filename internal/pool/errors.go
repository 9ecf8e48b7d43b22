// errors.go - Pool error taxonomy.
//
// Every rejection belongs to one of five kinds so callers can tell a bad
// request from a failed proof, a policy refusal, a replay or an operational
// shortage without string matching.

package pool

import (
	"errors"

	"stealthpool/internal/groth16"
	"stealthpool/internal/merkle"
	"stealthpool/internal/stealth"
)

// ErrorKind classifies pool errors.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindMalformed
	KindCrypto
	KindPolicy
	KindReplay
	KindResource
)

func (k ErrorKind) String() string {
	switch k {
	case KindMalformed:
		return "malformed"
	case KindCrypto:
		return "crypto"
	case KindPolicy:
		return "policy"
	case KindReplay:
		return "replay"
	case KindResource:
		return "resource"
	default:
		return "unknown"
	}
}

// Error is a sentinel carrying its kind.
type Error struct {
	Kind ErrorKind
	msg  string
}

func (e *Error) Error() string { return e.msg }

// NewError creates a classified sentinel. Other packages use it so their
// errors classify without this package importing them.
func NewError(kind ErrorKind, msg string) error {
	return &Error{Kind: kind, msg: msg}
}

var (
	// malformed input
	ErrZeroCommitment     = NewError(KindMalformed, "commitment is zero")
	ErrRecipientReduction = NewError(KindMalformed, "recipient field element does not match public key")

	// cryptographic mismatch
	ErrInvalidProof = NewError(KindCrypto, "withdrawal proof is invalid")

	// policy
	ErrPoolNotActive               = NewError(KindPolicy, "pool is not active")
	ErrDepositsPaused              = NewError(KindPolicy, "deposits are paused")
	ErrWithdrawalsPaused           = NewError(KindPolicy, "withdrawals are paused")
	ErrDenominationMismatch        = NewError(KindPolicy, "amount does not match pool denomination")
	ErrDenominationNotEnabled      = NewError(KindPolicy, "denomination is not enabled")
	ErrDenominationExists          = NewError(KindPolicy, "denomination already registered")
	ErrDenominationOutOfRange      = NewError(KindPolicy, "denomination outside allowed range")
	ErrCustomDenominationsDisabled = NewError(KindPolicy, "custom denominations are disabled")
	ErrRegistryFull                = NewError(KindPolicy, "denomination registry is full")
	ErrRelayerFeeTooHigh           = NewError(KindPolicy, "relayer fee exceeds limit")
	ErrInvalidMerkleRoot           = NewError(KindPolicy, "merkle root is not current or recent")
	ErrInvalidFeeBps               = NewError(KindPolicy, "fee basis points out of range")

	// replay
	ErrNullifierAlreadyUsed = NewError(KindReplay, "nullifier already used")

	// resource
	ErrInsufficientPoolBalance = NewError(KindResource, "pool balance too low")
	ErrInsufficientFunds       = NewError(KindResource, "insufficient funds")

	// re-exported from the packages that detect them
	ErrTreeFull           = merkle.ErrTreeFull
	ErrInvalidPoint       = stealth.ErrInvalidPoint
	ErrCommitmentMismatch = stealth.ErrCommitmentMismatch
	ErrMalformedProof     = groth16.ErrMalformedProof
	ErrInputOutOfField    = groth16.ErrInputOutOfField
	ErrICLength           = groth16.ErrICLength
)

var foreignKinds = []struct {
	err  error
	kind ErrorKind
}{
	{merkle.ErrTreeFull, KindResource},
	{stealth.ErrInvalidPoint, KindMalformed},
	{stealth.ErrInvalidMetaAddress, KindMalformed},
	{stealth.ErrCommitmentMismatch, KindCrypto},
	{groth16.ErrMalformedProof, KindMalformed},
	{groth16.ErrMalformedKey, KindMalformed},
	{groth16.ErrInputOutOfField, KindMalformed},
	{groth16.ErrICLength, KindMalformed},
	{groth16.ErrInvalidProof, KindCrypto},
}

// Classify returns the kind of err, or KindUnknown.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	for _, f := range foreignKinds {
		if errors.Is(err, f.err) {
			return f.kind
		}
	}
	return KindUnknown
}

// IsReplay reports whether err is a nullifier replay. Replays are final and
// must not be retried.
func IsReplay(err error) bool {
	return errors.Is(err, ErrNullifierAlreadyUsed)
}
