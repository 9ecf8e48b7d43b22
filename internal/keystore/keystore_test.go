package keystore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stealthpool/internal/stealth"
)

// Cheap KDF so the tests don't spend seconds in argon2.
var testParams = Params{Time: 1, MemoryKiB: 64, Threads: 1}

const password = "ValidPass123"

func newStore(t *testing.T) *Store {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "nested", "keys.enc"), WithParams(testParams))
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := newStore(t)
	assert.False(t, s.Exists())

	keys, err := stealth.Generate()
	require.NoError(t, err)
	require.NoError(t, s.Save(keys, password))
	assert.True(t, s.Exists())

	info, err := os.Stat(s.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	got, err := s.Load(password)
	require.NoError(t, err)
	defer got.Wipe()
	assert.Equal(t, keys.MetaAddress(), got.MetaAddress())

	ws, wp := keys.Export()
	gs, gp := got.Export()
	assert.Equal(t, ws, gs)
	assert.Equal(t, wp, gp)
}

func TestWrongPassword(t *testing.T) {
	s := newStore(t)
	keys, err := stealth.Generate()
	require.NoError(t, err)
	require.NoError(t, s.Save(keys, password))

	_, err = s.Load("WrongPass456")
	require.ErrorIs(t, err, ErrWrongPassword)
}

func TestTamperedFile(t *testing.T) {
	s := newStore(t)
	keys, err := stealth.Generate()
	require.NoError(t, err)
	require.NoError(t, s.Save(keys, password))

	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	data[len(data)-1] ^= 1
	require.NoError(t, os.WriteFile(s.Path(), data, 0o600))

	_, err = s.Load(password)
	require.ErrorIs(t, err, ErrWrongPassword)

	require.NoError(t, os.WriteFile(s.Path(), []byte("not cbor"), 0o600))
	_, err = s.Load(password)
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestChangePassword(t *testing.T) {
	s := newStore(t)
	keys, err := stealth.Generate()
	require.NoError(t, err)
	require.NoError(t, s.Save(keys, password))

	const next = "AnotherPass789"
	require.ErrorIs(t, s.ChangePassword("WrongPass456", next), ErrWrongPassword)
	require.ErrorIs(t, s.ChangePassword(password, "weak"), ErrWeakPassword)
	require.NoError(t, s.ChangePassword(password, next))

	_, err = s.Load(password)
	require.ErrorIs(t, err, ErrWrongPassword)
	got, err := s.Load(next)
	require.NoError(t, err)
	assert.Equal(t, keys.MetaAddress(), got.MetaAddress())
}

func TestDelete(t *testing.T) {
	s := newStore(t)
	keys, err := stealth.Generate()
	require.NoError(t, err)
	require.NoError(t, s.Save(keys, password))

	require.ErrorIs(t, s.Delete("WrongPass456"), ErrWrongPassword)
	assert.True(t, s.Exists())
	require.NoError(t, s.Delete(password))
	assert.False(t, s.Exists())
}

func TestValidatePassword(t *testing.T) {
	for _, pw := range []string{"short", "alllowercase", "ALLUPPERCASE", "NoNumbers", "nouppercase1"} {
		assert.ErrorIs(t, ValidatePassword(pw), ErrWeakPassword, pw)
	}
	assert.NoError(t, ValidatePassword("ValidPass123"))

	keys, err := stealth.Generate()
	require.NoError(t, err)
	require.ErrorIs(t, newStore(t).Save(keys, "short"), ErrWeakPassword)
}
