// meta.go - Meta-address encoding.

package stealth

import (
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
)

// MetaAddressPrefix is prepended to the base58 payload on output and
// optional on input.
const MetaAddressPrefix = "stealth:"

// MetaAddress is a recipient's published pair of public keys.
type MetaAddress struct {
	Scan  [32]byte
	Spend [32]byte
}

// String encodes the address as "stealth:" + base58(scan || spend).
func (m MetaAddress) String() string {
	var raw [64]byte
	copy(raw[:32], m.Scan[:])
	copy(raw[32:], m.Spend[:])
	return MetaAddressPrefix + base58.Encode(raw[:])
}

// ParseMetaAddress decodes a meta-address. Only the encoding is checked;
// the keys are validated as points when a payment is derived or scanned.
func ParseMetaAddress(s string) (MetaAddress, error) {
	var m MetaAddress
	raw, err := base58.Decode(strings.TrimPrefix(strings.TrimSpace(s), MetaAddressPrefix))
	if err != nil {
		return m, fmt.Errorf("%w: %v", ErrInvalidMetaAddress, err)
	}
	if len(raw) != 64 {
		return m, fmt.Errorf("%w: decoded length %d, want 64", ErrInvalidMetaAddress, len(raw))
	}
	copy(m.Scan[:], raw[:32])
	copy(m.Spend[:], raw[32:])
	return m, nil
}

// NewPayment derives a fresh stealth address paying this meta-address.
func (m MetaAddress) NewPayment() (*StealthAddress, error) {
	return ComputeStealthAddress(m.Scan, m.Spend)
}

// MarshalText implements encoding.TextMarshaler.
func (m MetaAddress) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *MetaAddress) UnmarshalText(b []byte) error {
	v, err := ParseMetaAddress(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}
