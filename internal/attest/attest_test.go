package attest

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stealthpool/internal/field"
	"stealthpool/internal/poseidon"
	"stealthpool/internal/pool"
)

type stubVerifier struct {
	ok  bool
	err error
}

func (s stubVerifier) VerifyProof([]byte, [][32]byte) (bool, error) { return s.ok, s.err }

func newOracle(t *testing.T, v pool.ProofVerifier) *Oracle {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return NewOracle(priv, v, zerolog.Nop())
}

var (
	proof  = make([]byte, 256)
	inputs = [][32]byte{{1}, {2}, {3}, {4}}
)

func TestAttestAndVerify(t *testing.T) {
	o := newOracle(t, stubVerifier{ok: true})
	a, err := o.Attest(proof, inputs)
	require.NoError(t, err)

	env := Envelope(proof, a)
	require.Len(t, env, len(proof)+Size)

	v := NewAttestedVerifier(WithTrusted(o.PublicKey()))
	ok, err := v.VerifyProof(env, inputs)
	require.NoError(t, err)
	assert.True(t, ok)

	got, back, err := Open(env)
	require.NoError(t, err)
	assert.Equal(t, proof, got)
	assert.Equal(t, *a, *back)
}

func TestOracleRejectsBadProof(t *testing.T) {
	_, err := newOracle(t, stubVerifier{ok: false}).Attest(proof, inputs)
	require.ErrorIs(t, err, pool.ErrInvalidProof)

	boom := errors.New("boom")
	_, err = newOracle(t, stubVerifier{err: boom}).Attest(proof, inputs)
	require.ErrorIs(t, err, boom)
}

func TestAttestedVerifierRejections(t *testing.T) {
	o := newOracle(t, stubVerifier{ok: true})
	a, err := o.Attest(proof, inputs)
	require.NoError(t, err)
	now := time.Unix(a.VerifiedAt, 0)

	other := newOracle(t, stubVerifier{ok: true})

	tests := []struct {
		name   string
		env    func() []byte
		inputs [][32]byte
		opts   []VerifierOption
		signer ed25519.PublicKey
		want   error
	}{
		{"no attestation", func() []byte { return proof[:Size] }, inputs, nil, nil, ErrMissingAttestation},
		{"other proof", func() []byte {
			p := append([]byte(nil), proof...)
			p[0] = 1
			return Envelope(p, a)
		}, inputs, nil, nil, ErrProofHashMismatch},
		{"other inputs", func() []byte { return Envelope(proof, a) }, [][32]byte{{9}}, nil, nil, ErrInputsHashMismatch},
		{"stale", func() []byte { return Envelope(proof, a) }, inputs,
			[]VerifierOption{WithClock(func() time.Time { return now.Add(MaxAge) })}, nil, ErrExpired},
		{"from the future", func() []byte { return Envelope(proof, a) }, inputs,
			[]VerifierOption{WithClock(func() time.Time { return now.Add(-time.Second) })}, nil, ErrExpired},
		{"untrusted", func() []byte { return Envelope(proof, a) }, inputs,
			nil, other.PublicKey(), ErrUntrustedVerifier},
		{"forged signature", func() []byte {
			b := *a
			b.Signature[0] ^= 1
			return Envelope(proof, &b)
		}, inputs, nil, nil, ErrInvalidSignature},
		{"timestamp changed", func() []byte {
			b := *a
			b.VerifiedAt--
			return Envelope(proof, &b)
		}, inputs, nil, nil, ErrInvalidSignature},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			signer := tt.signer
			if signer == nil {
				signer = o.PublicKey()
			}
			opts := append([]VerifierOption{WithClock(func() time.Time { return now }), WithTrusted(signer)}, tt.opts...)
			ok, err := NewAttestedVerifier(opts...).VerifyProof(tt.env(), tt.inputs)
			require.ErrorIs(t, err, tt.want)
			assert.False(t, ok)
		})
	}

	t.Run("just inside the window", func(t *testing.T) {
		v := NewAttestedVerifier(WithTrusted(o.PublicKey()),
			WithClock(func() time.Time { return now.Add(MaxAge - time.Second) }))
		ok, err := v.VerifyProof(Envelope(proof, a), inputs)
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

func TestPoolWithAttestedVerifier(t *testing.T) {
	ctx := context.Background()
	ledger := pool.NewMemoryLedger()
	depositor, recipient := pool.AccountID{1}, pool.AccountID{2}
	require.NoError(t, ledger.Credit(depositor, 2*pool.LamportsPerSOL))

	o := newOracle(t, stubVerifier{ok: true})
	p, err := pool.New(pool.LamportsPerSOL, ledger, NewAttestedVerifier(WithTrusted(o.PublicKey())))
	require.NoError(t, err)
	_, err = p.Deposit(ctx, depositor, field.FromUint64(5).BytesLE(), pool.LamportsPerSOL)
	require.NoError(t, err)

	root := p.Root()
	nh := poseidon.NullifierHash(field.FromUint64(6).BytesLE())
	in := pool.PublicInputs(root, nh, recipient, pool.LamportsPerSOL)
	a, err := o.Attest(proof, in)
	require.NoError(t, err)

	req := pool.WithdrawRequest{Root: root, NullifierHash: nh, Recipient: pool.AccountID{3}, Proof: Envelope(proof, a)}
	_, err = p.Withdraw(ctx, req)
	require.ErrorIs(t, err, ErrInputsHashMismatch)
	assert.Equal(t, pool.KindCrypto, pool.Classify(err))

	req.Recipient = recipient
	_, err = p.Withdraw(ctx, req)
	require.NoError(t, err)
}

func TestAttestedVerifierWithoutTrustedKeys(t *testing.T) {
	o := newOracle(t, stubVerifier{ok: true})
	a, err := o.Attest(proof, inputs)
	require.NoError(t, err)
	now := func() time.Time { return time.Unix(a.VerifiedAt, 0) }

	ok, err := NewAttestedVerifier(WithClock(now)).VerifyProof(Envelope(proof, a), inputs)
	require.ErrorIs(t, err, ErrUntrustedVerifier)
	assert.False(t, ok)

	ok, err = NewAttestedVerifier(WithClock(now), WithTrusted(ed25519.PublicKey{1, 2, 3})).VerifyProof(Envelope(proof, a), inputs)
	require.ErrorIs(t, err, ErrUntrustedVerifier)
	assert.False(t, ok)
}

func TestPoolRejectsSelfSignedAttestation(t *testing.T) {
	ctx := context.Background()
	ledger := pool.NewMemoryLedger()
	depositor, thief := pool.AccountID{1}, pool.AccountID{0xbad}
	require.NoError(t, ledger.Credit(depositor, 2*pool.LamportsPerSOL))

	p, err := pool.New(pool.LamportsPerSOL, ledger, NewAttestedVerifier(), pool.WithDepth(4))
	require.NoError(t, err)
	_, err = p.Deposit(ctx, depositor, field.FromUint64(5).BytesLE(), pool.LamportsPerSOL)
	require.NoError(t, err)

	garbage := []byte("not a proof at all")
	nh := poseidon.NullifierHash(field.FromUint64(6).BytesLE())
	in := pool.PublicInputs(p.Root(), nh, thief, pool.LamportsPerSOL)
	a, err := newOracle(t, stubVerifier{ok: true}).Attest(garbage, in)
	require.NoError(t, err)

	_, err = p.Withdraw(ctx, pool.WithdrawRequest{Root: p.Root(), NullifierHash: nh, Recipient: thief, Proof: Envelope(garbage, a)})
	require.ErrorIs(t, err, ErrUntrustedVerifier)
	bal, err := ledger.Balance(ctx, thief)
	require.NoError(t, err)
	assert.Zero(t, bal)
}
