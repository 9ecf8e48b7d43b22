// keys.go - recipient key pairs: random, mnemonic-derived or imported.

package stealth

import (
	"crypto/rand"
	"fmt"
	"io"

	"filippo.io/edwards25519"
	"github.com/tyler-smith/go-bip39"
)

const (
	scanDerivationDomain  = "stealthsol/scan"
	spendDerivationDomain = "stealthsol/spend"

	mnemonicEntropyBits = 256
)

// Keys holds a recipient's scan and spend secrets and their public points.
// Callers should defer Wipe.
type Keys struct {
	scan  *edwards25519.Scalar
	spend *edwards25519.Scalar

	ScanPub  [32]byte
	SpendPub [32]byte
}

// Generate creates a fresh key pair from the system CSPRNG.
func Generate() (*Keys, error) {
	return GenerateFrom(rand.Reader)
}

// GenerateFrom creates a key pair from rng.
func GenerateFrom(rng io.Reader) (*Keys, error) {
	scan, err := randomScalar(rng)
	if err != nil {
		return nil, fmt.Errorf("scan secret: %w", err)
	}
	spend, err := randomScalar(rng)
	if err != nil {
		wipeScalar(scan)
		return nil, fmt.Errorf("spend secret: %w", err)
	}
	return newKeys(scan, spend), nil
}

// NewMnemonic returns a fresh 24-word BIP-39 phrase.
func NewMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(mnemonicEntropyBits)
	if err != nil {
		return "", err
	}
	defer wipe(entropy)
	return bip39.NewMnemonic(entropy)
}

// FromMnemonic derives keys deterministically from a BIP-39 phrase and
// passphrase.
func FromMnemonic(phrase, passphrase string) (*Keys, error) {
	seed, err := bip39.NewSeedWithErrorChecking(phrase, passphrase)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMnemonic, err)
	}
	defer wipe(seed)

	scan := hashToScalar([]byte(scanDerivationDomain), seed)
	spend := hashToScalar([]byte(spendDerivationDomain), seed)
	if isZeroScalar(scan) || isZeroScalar(spend) {
		return nil, ErrInvalidScalar
	}
	return newKeys(scan, spend), nil
}

// FromSecrets imports exported secrets. Values are reduced mod L.
func FromSecrets(scan, spend [32]byte) *Keys {
	return newKeys(reduce32(scan[:]), reduce32(spend[:]))
}

func newKeys(scan, spend *edwards25519.Scalar) *Keys {
	return &Keys{
		scan:     scan,
		spend:    spend,
		ScanPub:  encode(basePoint(scan)),
		SpendPub: encode(basePoint(spend)),
	}
}

// Export returns the canonical secret scalars.
func (k *Keys) Export() (scan, spend [32]byte) {
	copy(scan[:], k.scan.Bytes())
	copy(spend[:], k.spend.Bytes())
	return scan, spend
}

// MetaAddress returns the public half.
func (k *Keys) MetaAddress() MetaAddress {
	return MetaAddress{Scan: k.ScanPub, Spend: k.SpendPub}
}

// ViewKey returns a detection-only key.
func (k *Keys) ViewKey() *ViewKey {
	return &ViewKey{
		scan:     edwards25519.NewScalar().Set(k.scan),
		SpendPub: k.SpendPub,
	}
}

// Wipe zeroes both secrets. The Keys value is unusable afterwards.
func (k *Keys) Wipe() {
	if k == nil {
		return
	}
	wipeScalar(k.scan)
	wipeScalar(k.spend)
}
