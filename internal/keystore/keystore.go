// keystore.go - Password-encrypted storage for stealth keys.
//
// The key file is a CBOR envelope holding the argon2id parameters, salt,
// nonce and the XChaCha20-Poly1305 ciphertext of the two secrets and their
// public keys. The header is bound to the ciphertext as associated data.

package keystore

import (
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
	"unicode"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"stealthpool/internal/stealth"
)

const (
	version     = 1
	saltSize    = 16
	plainSize   = 4 * 32
	minPassword = 8
)

var (
	ErrWrongPassword      = errors.New("keystore: wrong password or corrupted file")
	ErrWeakPassword       = errors.New("keystore: password must be at least 8 characters with upper case, lower case and digits")
	ErrUnsupportedVersion = errors.New("keystore: unsupported file version")
	ErrCorrupt            = errors.New("keystore: malformed key file")
)

// Params are the argon2id cost parameters.
type Params struct {
	Time      uint32 `cbor:"1,keyasint"`
	MemoryKiB uint32 `cbor:"2,keyasint"`
	Threads   uint8  `cbor:"3,keyasint"`
}

// DefaultParams: 64 MiB, 3 passes, 4 lanes.
var DefaultParams = Params{Time: 3, MemoryKiB: 64 * 1024, Threads: 4}

type header struct {
	Version   uint8     `cbor:"1,keyasint"`
	KDF       Params    `cbor:"2,keyasint"`
	Salt      []byte    `cbor:"3,keyasint"`
	Nonce     []byte    `cbor:"4,keyasint"`
	CreatedAt time.Time `cbor:"5,keyasint"`
}

type envelope struct {
	Header     header `cbor:"1,keyasint"`
	Ciphertext []byte `cbor:"2,keyasint"`
}

var encMode = func() cbor.EncMode {
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	em, err := opts.EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// Store is a key file on disk.
type Store struct {
	path   string
	params Params
}

// Option configures a Store.
type Option func(*Store)

// WithParams overrides the argon2id cost for newly written files. Existing
// files are always read with the parameters they were written with.
func WithParams(p Params) Option {
	return func(s *Store) { s.params = p }
}

// New returns a store at path.
func New(path string, opts ...Option) *Store {
	s := &Store{path: path, params: DefaultParams}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DefaultPath is ~/.stealth/keys.enc.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".stealth", "keys.enc"), nil
}

// Path returns the file location.
func (s *Store) Path() string { return s.path }

// Exists reports whether the key file is present.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// ValidatePassword enforces the minimum password policy.
func ValidatePassword(pw string) error {
	if len(pw) < minPassword {
		return ErrWeakPassword
	}
	var upper, lower, digit bool
	for _, r := range pw {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	if !upper || !lower || !digit {
		return ErrWeakPassword
	}
	return nil
}

func deriveKey(password string, salt []byte, p Params) []byte {
	return argon2.IDKey([]byte(password), salt, p.Time, p.MemoryKiB, p.Threads, chacha20poly1305.KeySize)
}

func (h *header) aad() ([]byte, error) {
	return encMode.Marshal(h)
}

// Save encrypts keys under password and writes the file with mode 0600.
func (s *Store) Save(keys *stealth.Keys, password string) error {
	if err := ValidatePassword(password); err != nil {
		return err
	}

	// 1. Header
	h := header{
		Version:   version,
		KDF:       s.params,
		Salt:      make([]byte, saltSize),
		Nonce:     make([]byte, chacha20poly1305.NonceSizeX),
		CreatedAt: time.Now().UTC(),
	}
	if _, err := rand.Read(h.Salt); err != nil {
		return err
	}
	if _, err := rand.Read(h.Nonce); err != nil {
		return err
	}

	// 2. Encrypt
	key := deriveKey(password, h.Salt, h.KDF)
	defer wipe(key)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return err
	}
	scan, spend := keys.Export()
	plain := make([]byte, 0, plainSize)
	plain = append(plain, scan[:]...)
	plain = append(plain, spend[:]...)
	plain = append(plain, keys.ScanPub[:]...)
	plain = append(plain, keys.SpendPub[:]...)
	defer wipe(plain)
	wipe(scan[:])
	wipe(spend[:])

	aad, err := h.aad()
	if err != nil {
		return err
	}
	env := envelope{Header: h, Ciphertext: aead.Seal(nil, h.Nonce, plain, aad)}
	data, err := encMode.Marshal(&env)
	if err != nil {
		return err
	}

	// 3. Write atomically
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Load decrypts the key file.
func (s *Store) Load(password string) (*stealth.Keys, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	var env envelope
	if err := cbor.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	h := env.Header
	if h.Version != version {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, h.Version)
	}
	if len(h.Salt) != saltSize || len(h.Nonce) != chacha20poly1305.NonceSizeX || h.KDF.Threads == 0 {
		return nil, ErrCorrupt
	}

	key := deriveKey(password, h.Salt, h.KDF)
	defer wipe(key)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	aad, err := h.aad()
	if err != nil {
		return nil, err
	}
	plain, err := aead.Open(nil, h.Nonce, env.Ciphertext, aad)
	if err != nil {
		return nil, ErrWrongPassword
	}
	defer wipe(plain)
	if len(plain) != plainSize {
		return nil, ErrCorrupt
	}

	var scan, spend, scanPub, spendPub [32]byte
	copy(scan[:], plain[0:32])
	copy(spend[:], plain[32:64])
	copy(scanPub[:], plain[64:96])
	copy(spendPub[:], plain[96:128])
	keys := stealth.FromSecrets(scan, spend)
	wipe(scan[:])
	wipe(spend[:])
	if keys.ScanPub != scanPub || keys.SpendPub != spendPub {
		keys.Wipe()
		return nil, fmt.Errorf("%w: public keys do not match secrets", ErrCorrupt)
	}
	return keys, nil
}

// ChangePassword re-encrypts the file under a new password.
func (s *Store) ChangePassword(oldPassword, newPassword string) error {
	keys, err := s.Load(oldPassword)
	if err != nil {
		return err
	}
	defer keys.Wipe()
	return s.Save(keys, newPassword)
}

// Delete removes the file after checking the password.
func (s *Store) Delete(password string) error {
	keys, err := s.Load(password)
	if err != nil {
		return err
	}
	keys.Wipe()
	return os.Remove(s.path)
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
