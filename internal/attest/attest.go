// attest.go - Signed proof verification statements.
//
// An oracle checks a withdrawal proof with the pairing verifier and signs
// (proof_hash || inputs_hash || verified_at). Nodes that trust the oracle
// accept the signed statement in place of running the pairing check
// themselves. The statement travels appended to the proof bytes, so the
// pool's verifier interface is unchanged.

package attest

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"stealthpool/internal/pool"
)

const (
	// Size is the encoded attestation length.
	Size = 32 + 32 + 32 + ed25519.SignatureSize + 8
	// MaxAge is how long an attestation stays acceptable.
	MaxAge = 300 * time.Second

	messageSize = 32 + 32 + 8
)

var (
	ErrMissingAttestation = pool.NewError(pool.KindMalformed, "proof carries no attestation")
	ErrProofHashMismatch  = pool.NewError(pool.KindCrypto, "attestation is for a different proof")
	ErrInputsHashMismatch = pool.NewError(pool.KindCrypto, "attestation is for different public inputs")
	ErrInvalidSignature   = pool.NewError(pool.KindCrypto, "attestation signature is invalid")
	ErrExpired            = pool.NewError(pool.KindPolicy, "attestation is stale")
	ErrUntrustedVerifier  = pool.NewError(pool.KindPolicy, "attestation signer is not trusted")
)

// Attestation is an oracle's signed statement that a proof verified.
type Attestation struct {
	ProofHash  [32]byte
	InputsHash [32]byte
	Verifier   [32]byte
	Signature  [ed25519.SignatureSize]byte
	VerifiedAt int64
}

// HashInputs hashes the big-endian public inputs in order.
func HashInputs(inputs [][32]byte) [32]byte {
	h := sha256.New()
	for i := range inputs {
		h.Write(inputs[i][:])
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Message returns the signed bytes.
func (a *Attestation) Message() []byte {
	m := make([]byte, messageSize)
	copy(m, a.ProofHash[:])
	copy(m[32:], a.InputsHash[:])
	binary.LittleEndian.PutUint64(m[64:], uint64(a.VerifiedAt))
	return m
}

// MarshalBinary encodes the attestation in Size bytes.
func (a *Attestation) MarshalBinary() ([]byte, error) {
	b := make([]byte, 0, Size)
	b = append(b, a.ProofHash[:]...)
	b = append(b, a.InputsHash[:]...)
	b = append(b, a.Verifier[:]...)
	b = append(b, a.Signature[:]...)
	b = binary.LittleEndian.AppendUint64(b, uint64(a.VerifiedAt))
	return b, nil
}

// UnmarshalBinary decodes MarshalBinary output.
func (a *Attestation) UnmarshalBinary(b []byte) error {
	if len(b) != Size {
		return fmt.Errorf("%w: length %d", ErrMissingAttestation, len(b))
	}
	off := copy(a.ProofHash[:], b)
	off += copy(a.InputsHash[:], b[off:])
	off += copy(a.Verifier[:], b[off:])
	off += copy(a.Signature[:], b[off:])
	a.VerifiedAt = int64(binary.LittleEndian.Uint64(b[off:]))
	return nil
}

// Envelope appends an attestation to proof bytes.
func Envelope(proof []byte, a *Attestation) []byte {
	enc, _ := a.MarshalBinary()
	out := make([]byte, 0, len(proof)+len(enc))
	out = append(out, proof...)
	return append(out, enc...)
}

// Open splits an envelope into proof and attestation.
func Open(envelope []byte) ([]byte, *Attestation, error) {
	if len(envelope) <= Size {
		return nil, nil, ErrMissingAttestation
	}
	cut := len(envelope) - Size
	a := new(Attestation)
	if err := a.UnmarshalBinary(envelope[cut:]); err != nil {
		return nil, nil, err
	}
	return envelope[:cut], a, nil
}

// Oracle verifies proofs and signs attestations.
type Oracle struct {
	key      ed25519.PrivateKey
	verifier pool.ProofVerifier
	clock    func() time.Time
	log      zerolog.Logger
}

// NewOracle creates an oracle signing with key after checking proofs with
// verifier.
func NewOracle(key ed25519.PrivateKey, verifier pool.ProofVerifier, log zerolog.Logger) *Oracle {
	return &Oracle{key: key, verifier: verifier, clock: time.Now, log: log}
}

// PublicKey returns the oracle's verification key.
func (o *Oracle) PublicKey() ed25519.PublicKey {
	return o.key.Public().(ed25519.PublicKey)
}

// Attest verifies proof and, if valid, signs an attestation for it.
func (o *Oracle) Attest(proof []byte, inputs [][32]byte) (*Attestation, error) {
	ok, err := o.verifier.VerifyProof(proof, inputs)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, pool.ErrInvalidProof
	}

	a := &Attestation{
		ProofHash:  sha256.Sum256(proof),
		InputsHash: HashInputs(inputs),
		VerifiedAt: o.clock().Unix(),
	}
	copy(a.Verifier[:], o.PublicKey())
	copy(a.Signature[:], ed25519.Sign(o.key, a.Message()))
	o.log.Debug().Int64("verified_at", a.VerifiedAt).Msg("proof attested")
	return a, nil
}

// VerifierOption configures an AttestedVerifier.
type VerifierOption func(*AttestedVerifier)

// WithTrusted adds accepted signers. Keys of the wrong length are ignored.
func WithTrusted(keys ...ed25519.PublicKey) VerifierOption {
	return func(v *AttestedVerifier) {
		for _, k := range keys {
			if len(k) != ed25519.PublicKeySize {
				continue
			}
			var id [32]byte
			copy(id[:], k)
			v.trusted[id] = struct{}{}
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) VerifierOption {
	return func(v *AttestedVerifier) { v.clock = now }
}

// AttestedVerifier accepts proofs carrying a fresh, correctly signed
// attestation from a trusted signer. It implements pool.ProofVerifier.
// With no trusted keys every attestation is rejected.
type AttestedVerifier struct {
	trusted map[[32]byte]struct{}
	clock   func() time.Time
}

// NewAttestedVerifier creates a verifier. Signers must be added with
// WithTrusted.
func NewAttestedVerifier(opts ...VerifierOption) *AttestedVerifier {
	v := &AttestedVerifier{trusted: make(map[[32]byte]struct{}), clock: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// VerifyProof implements pool.ProofVerifier on an Envelope.
func (v *AttestedVerifier) VerifyProof(envelope []byte, inputs [][32]byte) (bool, error) {
	proof, a, err := Open(envelope)
	if err != nil {
		return false, err
	}

	// 1. Binding
	if sha256.Sum256(proof) != a.ProofHash {
		return false, ErrProofHashMismatch
	}
	if HashInputs(inputs) != a.InputsHash {
		return false, ErrInputsHashMismatch
	}

	// 2. Freshness
	age := v.clock().Unix() - a.VerifiedAt
	if age < 0 || age >= int64(MaxAge/time.Second) {
		return false, fmt.Errorf("%w: age %ds", ErrExpired, age)
	}

	// 3. Signer
	if _, ok := v.trusted[a.Verifier]; !ok {
		return false, ErrUntrustedVerifier
	}
	if a.Verifier == ([32]byte{}) || a.Signature == ([ed25519.SignatureSize]byte{}) {
		return false, ErrInvalidSignature
	}
	if !ed25519.Verify(ed25519.PublicKey(a.Verifier[:]), a.Message(), a.Signature[:]) {
		return false, ErrInvalidSignature
	}
	return true, nil
}
