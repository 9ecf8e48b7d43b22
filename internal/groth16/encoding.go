// encoding.go - alt_bn128 byte encodings for Groth16 proofs and verifying keys.
//
// Coordinates are 32-byte big-endian. G1 is x || y (64 bytes). G2 is
// x.c1 || x.c0 || y.c1 || y.c0 (128 bytes), the layout used by the EVM and
// Solana alt_bn128 precompiles. A proof is a || b || c (256 bytes).

package groth16

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark-crypto/ecc/bn254/fp"
)

const (
	G1Size    = 64
	G2Size    = 128
	ProofSize = 2*G1Size + G2Size

	// MinICLength and MaxICLength bound a stored key to 1..9 public inputs.
	MinICLength = 2
	MaxICLength = 10
)

var (
	ErrMalformedProof   = errors.New("malformed groth16 proof")
	ErrMalformedKey     = errors.New("malformed verifying key")
	ErrICLength         = errors.New("verifying key IC length does not match public inputs")
	ErrInputOutOfField  = errors.New("public input not in scalar field")
	ErrInvalidProof     = errors.New("groth16 proof rejected")
	errPointNotOnCurve  = errors.New("point not on curve")
	errPointNotSubgroup = errors.New("point not in prime-order subgroup")
	errPointInfinity    = errors.New("point at infinity")
	errCoordinate       = errors.New("coordinate not reduced")
)

// Proof is a parsed Groth16 proof.
type Proof struct {
	A bn254.G1Affine
	B bn254.G2Affine
	C bn254.G1Affine
}

// VerifyingKey is a parsed Groth16 verifying key. IC[0] is the constant term;
// IC[i+1] multiplies public input i.
type VerifyingKey struct {
	Alpha bn254.G1Affine
	Beta  bn254.G2Affine
	Gamma bn254.G2Affine
	Delta bn254.G2Affine
	IC    []bn254.G1Affine
}

// isPointRejection reports whether err came from a coordinate, curve or
// subgroup check rather than from the proof's framing.
func isPointRejection(err error) bool {
	return errors.Is(err, errCoordinate) || errors.Is(err, errPointNotOnCurve) ||
		errors.Is(err, errPointNotSubgroup) || errors.Is(err, errPointInfinity)
}

func readCoord(b []byte) (fp.Element, error) {
	var buf [fp.Bytes]byte
	copy(buf[:], b)
	e, err := fp.BigEndian.Element(&buf)
	if err != nil {
		return e, errCoordinate
	}
	return e, nil
}

// DecodeG1 parses and validates a G1 point.
func DecodeG1(b []byte) (bn254.G1Affine, error) {
	var p bn254.G1Affine
	if len(b) != G1Size {
		return p, fmt.Errorf("g1 length %d", len(b))
	}
	var err error
	if p.X, err = readCoord(b[0:32]); err != nil {
		return p, err
	}
	if p.Y, err = readCoord(b[32:64]); err != nil {
		return p, err
	}
	return p, checkG1(&p)
}

func checkG1(p *bn254.G1Affine) error {
	if p.IsInfinity() {
		return errPointInfinity
	}
	if !p.IsOnCurve() {
		return errPointNotOnCurve
	}
	if !p.IsInSubGroup() {
		return errPointNotSubgroup
	}
	return nil
}

// EncodeG1 serializes a G1 point.
func EncodeG1(p *bn254.G1Affine) [G1Size]byte {
	var out [G1Size]byte
	x, y := p.X.Bytes(), p.Y.Bytes()
	copy(out[0:32], x[:])
	copy(out[32:64], y[:])
	return out
}

// DecodeG2 parses and validates a G2 point.
func DecodeG2(b []byte) (bn254.G2Affine, error) {
	var p bn254.G2Affine
	if len(b) != G2Size {
		return p, fmt.Errorf("g2 length %d", len(b))
	}
	var err error
	if p.X.A1, err = readCoord(b[0:32]); err != nil {
		return p, err
	}
	if p.X.A0, err = readCoord(b[32:64]); err != nil {
		return p, err
	}
	if p.Y.A1, err = readCoord(b[64:96]); err != nil {
		return p, err
	}
	if p.Y.A0, err = readCoord(b[96:128]); err != nil {
		return p, err
	}
	return p, checkG2(&p)
}

func checkG2(p *bn254.G2Affine) error {
	if p.IsInfinity() {
		return errPointInfinity
	}
	if !p.IsOnCurve() {
		return errPointNotOnCurve
	}
	if !p.IsInSubGroup() {
		return errPointNotSubgroup
	}
	return nil
}

// EncodeG2 serializes a G2 point.
func EncodeG2(p *bn254.G2Affine) [G2Size]byte {
	var out [G2Size]byte
	xa1, xa0 := p.X.A1.Bytes(), p.X.A0.Bytes()
	ya1, ya0 := p.Y.A1.Bytes(), p.Y.A0.Bytes()
	copy(out[0:32], xa1[:])
	copy(out[32:64], xa0[:])
	copy(out[64:96], ya1[:])
	copy(out[96:128], ya0[:])
	return out
}

// ParseProof decodes the 256-byte proof encoding.
func ParseProof(b []byte) (*Proof, error) {
	if len(b) != ProofSize {
		return nil, fmt.Errorf("%w: length %d, want %d", ErrMalformedProof, len(b), ProofSize)
	}
	if isZero(b[0:64]) || isZero(b[64:192]) || isZero(b[192:256]) {
		return nil, fmt.Errorf("%w: zero point", ErrMalformedProof)
	}

	var (
		p   Proof
		err error
	)
	if p.A, err = DecodeG1(b[0:64]); err != nil {
		return nil, fmt.Errorf("%w: a: %w", ErrMalformedProof, err)
	}
	if p.B, err = DecodeG2(b[64:192]); err != nil {
		return nil, fmt.Errorf("%w: b: %w", ErrMalformedProof, err)
	}
	if p.C, err = DecodeG1(b[192:256]); err != nil {
		return nil, fmt.Errorf("%w: c: %w", ErrMalformedProof, err)
	}
	return &p, nil
}

// Bytes encodes the proof.
func (p *Proof) Bytes() []byte {
	out := make([]byte, 0, ProofSize)
	a, b, c := EncodeG1(&p.A), EncodeG2(&p.B), EncodeG1(&p.C)
	out = append(out, a[:]...)
	out = append(out, b[:]...)
	out = append(out, c[:]...)
	return out
}

// MarshalBinary encodes alpha || beta || gamma || delta || u32le(len(ic)) || ic.
func (vk *VerifyingKey) MarshalBinary() ([]byte, error) {
	if len(vk.IC) < MinICLength || len(vk.IC) > MaxICLength {
		return nil, fmt.Errorf("%w: ic length %d", ErrMalformedKey, len(vk.IC))
	}
	out := make([]byte, 0, G1Size+3*G2Size+4+len(vk.IC)*G1Size)
	alpha := EncodeG1(&vk.Alpha)
	beta, gamma, delta := EncodeG2(&vk.Beta), EncodeG2(&vk.Gamma), EncodeG2(&vk.Delta)
	out = append(out, alpha[:]...)
	out = append(out, beta[:]...)
	out = append(out, gamma[:]...)
	out = append(out, delta[:]...)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(vk.IC)))
	for i := range vk.IC {
		ic := EncodeG1(&vk.IC[i])
		out = append(out, ic[:]...)
	}
	return out, nil
}

// UnmarshalBinary decodes and validates a stored key.
func (vk *VerifyingKey) UnmarshalBinary(b []byte) error {
	const header = G1Size + 3*G2Size + 4
	if len(b) < header {
		return fmt.Errorf("%w: short key", ErrMalformedKey)
	}
	n := binary.LittleEndian.Uint32(b[header-4 : header])
	if n < MinICLength || n > MaxICLength {
		return fmt.Errorf("%w: ic length %d", ErrMalformedKey, n)
	}
	if len(b) != header+int(n)*G1Size {
		return fmt.Errorf("%w: length %d for %d ic points", ErrMalformedKey, len(b), n)
	}

	var (
		out VerifyingKey
		err error
	)
	off := 0
	if out.Alpha, err = DecodeG1(b[off : off+G1Size]); err != nil {
		return fmt.Errorf("%w: alpha: %v", ErrMalformedKey, err)
	}
	off += G1Size
	for _, dst := range []*bn254.G2Affine{&out.Beta, &out.Gamma, &out.Delta} {
		if *dst, err = DecodeG2(b[off : off+G2Size]); err != nil {
			return fmt.Errorf("%w: g2 at %d: %v", ErrMalformedKey, off, err)
		}
		off += G2Size
	}
	off += 4
	out.IC = make([]bn254.G1Affine, n)
	for i := range out.IC {
		if out.IC[i], err = DecodeG1(b[off : off+G1Size]); err != nil {
			return fmt.Errorf("%w: ic[%d]: %v", ErrMalformedKey, i, err)
		}
		off += G1Size
	}
	*vk = out
	return nil
}

func isZero(b []byte) bool {
	for _, x := range b {
		if x != 0 {
			return false
		}
	}
	return true
}
