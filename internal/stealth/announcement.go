// announcement.go - Announcement wire format.

package stealth

import (
	"encoding/binary"
	"fmt"
)

// AnnouncementSize is the fixed encoded length.
const AnnouncementSize = 32 + 32 + 32 + 8 + 32 + 8 + 8 + 1

// Announcement is the public record of a stealth payment.
type Announcement struct {
	EphemeralPub   [32]byte `json:"ephemeral_pubkey" cbor:"1,keyasint"`
	StealthAddress [32]byte `json:"stealth_address" cbor:"2,keyasint"`
	Commitment     [32]byte `json:"commitment" cbor:"3,keyasint"`
	Amount         uint64   `json:"amount" cbor:"4,keyasint"`
	TokenMint      [32]byte `json:"token_mint" cbor:"5,keyasint"`
	Slot           uint64   `json:"slot" cbor:"6,keyasint"`
	Timestamp      int64    `json:"timestamp" cbor:"7,keyasint"`
	Bump           uint8    `json:"bump" cbor:"8,keyasint"`
}

// MarshalBinary encodes the 185-byte wire layout.
func (a *Announcement) MarshalBinary() ([]byte, error) {
	b := make([]byte, AnnouncementSize)
	off := 0
	off += copy(b[off:], a.EphemeralPub[:])
	off += copy(b[off:], a.StealthAddress[:])
	off += copy(b[off:], a.Commitment[:])
	binary.LittleEndian.PutUint64(b[off:], a.Amount)
	off += 8
	off += copy(b[off:], a.TokenMint[:])
	binary.LittleEndian.PutUint64(b[off:], a.Slot)
	off += 8
	binary.LittleEndian.PutUint64(b[off:], uint64(a.Timestamp))
	off += 8
	b[off] = a.Bump
	return b, nil
}

// UnmarshalBinary decodes the wire layout.
func (a *Announcement) UnmarshalBinary(b []byte) error {
	if len(b) != AnnouncementSize {
		return fmt.Errorf("%w: length %d, want %d", ErrInvalidAnnouncement, len(b), AnnouncementSize)
	}
	off := 0
	off += copy(a.EphemeralPub[:], b[off:off+32])
	off += copy(a.StealthAddress[:], b[off:off+32])
	off += copy(a.Commitment[:], b[off:off+32])
	a.Amount = binary.LittleEndian.Uint64(b[off:])
	off += 8
	off += copy(a.TokenMint[:], b[off:off+32])
	a.Slot = binary.LittleEndian.Uint64(b[off:])
	off += 8
	a.Timestamp = int64(binary.LittleEndian.Uint64(b[off:]))
	off += 8
	a.Bump = b[off]
	return nil
}
