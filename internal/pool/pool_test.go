package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stealthpool/internal/field"
	"stealthpool/internal/merkle"
	"stealthpool/internal/poseidon"
	"stealthpool/internal/stealth"
)

// ============================================================================
// Fixtures
// ============================================================================

type fakeVerifier struct {
	ok    bool
	err   error
	calls atomic.Int64

	mu   sync.Mutex
	last [][32]byte
}

func (v *fakeVerifier) VerifyProof(proof []byte, inputs [][32]byte) (bool, error) {
	v.calls.Add(1)
	v.mu.Lock()
	v.last = inputs
	v.mu.Unlock()
	return v.ok, v.err
}

var (
	alice   = AccountID{1}
	bob     = AccountID{2}
	relayer = AccountID{3}
	treas   = AccountID{4}

	fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

const oneSOL = LamportsPerSOL

func leafValue(i uint64) [32]byte {
	return field.FromUint64(1000 + i).BytesLE()
}

func nullifierHash(i uint64) [32]byte {
	return poseidon.NullifierHash(field.FromUint64(i).BytesLE())
}

func newTestPool(t *testing.T, opts ...Option) (*Pool, *MemoryLedger, *fakeVerifier) {
	t.Helper()
	ledger := NewMemoryLedger()
	require.NoError(t, ledger.Credit(alice, 100*oneSOL))
	v := &fakeVerifier{ok: true}
	cfg := DefaultConfig()
	cfg.FeeRecipient = treas
	opts = append([]Option{WithConfig(cfg), WithClock(func() time.Time { return fixedNow })}, opts...)
	p, err := New(oneSOL, ledger, v, opts...)
	require.NoError(t, err)
	return p, ledger, v
}

func balance(t *testing.T, l Ledger, a AccountID) uint64 {
	t.Helper()
	b, err := l.Balance(context.Background(), a)
	require.NoError(t, err)
	return b
}

// ============================================================================
// Deposits
// ============================================================================

func TestDeposit(t *testing.T) {
	ctx := context.Background()
	p, ledger, _ := newTestPool(t)

	before := p.Root()
	idx, err := p.Deposit(ctx, alice, leafValue(0), oneSOL)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), idx)
	assert.NotEqual(t, before, p.Root())
	assert.True(t, p.IsValidRoot(before), "previous root stays in history")

	fee := DefaultConfig().DepositFee(oneSOL)
	assert.Equal(t, uint64(1_000_000), fee)
	assert.Equal(t, oneSOL, balance(t, ledger, p.Account()))
	assert.Equal(t, fee, balance(t, ledger, treas))
	assert.Equal(t, 100*oneSOL-oneSOL-fee, balance(t, ledger, alice))

	idx, err = p.Deposit(ctx, alice, leafValue(1), oneSOL)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), idx)

	s := p.Stats()
	assert.Equal(t, uint64(2), s.Deposits)
	assert.Equal(t, uint64(2), s.Leaves)
	assert.Equal(t, 2*oneSOL, s.TotalDeposited)
}

func TestDepositRejections(t *testing.T) {
	ctx := context.Background()

	t.Run("wrong amount", func(t *testing.T) {
		p, _, _ := newTestPool(t)
		_, err := p.Deposit(ctx, alice, leafValue(0), oneSOL+1)
		require.ErrorIs(t, err, ErrDenominationMismatch)
	})

	t.Run("zero commitment", func(t *testing.T) {
		p, _, _ := newTestPool(t)
		_, err := p.Deposit(ctx, alice, [32]byte{}, oneSOL)
		require.ErrorIs(t, err, ErrZeroCommitment)
	})

	t.Run("non-canonical commitment", func(t *testing.T) {
		p, _, _ := newTestPool(t)
		var c [32]byte
		for i := range c {
			c[i] = 0xFF
		}
		_, err := p.Deposit(ctx, alice, c, oneSOL)
		require.ErrorIs(t, err, ErrInputOutOfField)
	})

	t.Run("paused", func(t *testing.T) {
		p, ledger, _ := newTestPool(t)
		cfg := p.Config()
		cfg.DepositsPaused = true
		require.NoError(t, p.SetConfig(cfg))
		_, err := p.Deposit(ctx, alice, leafValue(0), oneSOL)
		require.ErrorIs(t, err, ErrDepositsPaused)
		assert.Equal(t, 100*oneSOL, balance(t, ledger, alice))
	})

	t.Run("inactive", func(t *testing.T) {
		p, _, _ := newTestPool(t)
		p.SetActive(false)
		_, err := p.Deposit(ctx, alice, leafValue(0), oneSOL)
		require.ErrorIs(t, err, ErrPoolNotActive)
	})

	t.Run("insufficient funds", func(t *testing.T) {
		p, ledger, _ := newTestPool(t)
		root := p.Root()
		_, err := p.Deposit(ctx, bob, leafValue(0), oneSOL)
		require.ErrorIs(t, err, ErrInsufficientFunds)
		assert.Equal(t, root, p.Root())
		assert.Zero(t, balance(t, ledger, p.Account()))
	})

	t.Run("tree full", func(t *testing.T) {
		p, ledger, _ := newTestPool(t, WithDepth(1))
		for i := uint64(0); i < 2; i++ {
			_, err := p.Deposit(ctx, alice, leafValue(i), oneSOL)
			require.NoError(t, err)
		}
		before := balance(t, ledger, alice)
		root := p.Root()
		_, err := p.Deposit(ctx, alice, leafValue(2), oneSOL)
		require.ErrorIs(t, err, ErrTreeFull)
		assert.Equal(t, KindResource, Classify(err))
		assert.Equal(t, before, balance(t, ledger, alice))
		assert.Equal(t, root, p.Root())
	})
}

func TestDepositFee(t *testing.T) {
	tests := []struct {
		bps    uint16
		amount uint64
		want   uint64
	}{
		{10, 10_000, 10},
		{10, 9_999, 9},
		{0, oneSOL, 0},
		{500, oneSOL, oneSOL / 20},
		{500, ^uint64(0), ^uint64(0)/10_000*500 + (^uint64(0))%10_000*500/10_000},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d_%d", tt.bps, tt.amount), func(t *testing.T) {
			assert.Equal(t, tt.want, Config{FeeBps: tt.bps}.DepositFee(tt.amount))
		})
	}

	require.ErrorIs(t, Config{FeeBps: MaxFeeBps + 1}.Validate(), ErrInvalidFeeBps)
	require.NoError(t, Config{FeeBps: MaxFeeBps}.Validate())
}

// ============================================================================
// Withdrawals
// ============================================================================

func depositN(t *testing.T, p *Pool, n uint64) {
	t.Helper()
	for i := uint64(0); i < n; i++ {
		_, err := p.Deposit(context.Background(), alice, leafValue(i), p.Denomination())
		require.NoError(t, err)
	}
}

func TestWithdraw(t *testing.T) {
	ctx := context.Background()
	p, ledger, v := newTestPool(t)
	depositN(t, p, 2)

	req := WithdrawRequest{
		Root:          p.Root(),
		NullifierHash: nullifierHash(1),
		Recipient:     bob,
		Proof:         make([]byte, 256),
		RelayerFee:    oneSOL / 10,
		Relayer:       relayer,
	}
	rcpt, err := p.Withdraw(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, oneSOL-oneSOL/10, rcpt.Amount)
	assert.Equal(t, fixedNow, rcpt.SpentAt)
	assert.Equal(t, oneSOL-oneSOL/10, balance(t, ledger, bob))
	assert.Equal(t, oneSOL/10, balance(t, ledger, relayer))
	assert.Equal(t, oneSOL, balance(t, ledger, p.Account()))
	assert.True(t, p.IsSpent(req.NullifierHash))

	assert.Equal(t, PublicInputs(req.Root, req.NullifierHash, bob, oneSOL), v.last)

	_, err = p.Withdraw(ctx, req)
	require.ErrorIs(t, err, ErrNullifierAlreadyUsed)
	assert.True(t, IsReplay(err))
	assert.Equal(t, int64(1), v.calls.Load(), "replay rejected before proof verification")
}

func TestWithdrawRejections(t *testing.T) {
	ctx := context.Background()

	base := func(p *Pool) WithdrawRequest {
		return WithdrawRequest{
			Root:          p.Root(),
			NullifierHash: nullifierHash(7),
			Recipient:     bob,
			Proof:         make([]byte, 256),
		}
	}
	var allOnes [32]byte
	for i := range allOnes {
		allOnes[i] = 0xFF
	}

	tests := []struct {
		name    string
		mutate  func(p *Pool, v *fakeVerifier, req *WithdrawRequest)
		wantErr error
	}{
		{"relayer fee too high", func(p *Pool, _ *fakeVerifier, r *WithdrawRequest) {
			r.RelayerFee = oneSOL/10 + 1
		}, ErrRelayerFeeTooHigh},
		{"unknown root", func(p *Pool, _ *fakeVerifier, r *WithdrawRequest) {
			r.Root = field.FromUint64(12345).BytesLE()
		}, ErrInvalidMerkleRoot},
		{"zero root", func(p *Pool, _ *fakeVerifier, r *WithdrawRequest) {
			r.Root = [32]byte{}
		}, ErrInvalidMerkleRoot},
		{"non-canonical nullifier", func(p *Pool, _ *fakeVerifier, r *WithdrawRequest) {
			r.NullifierHash = allOnes
		}, ErrInputOutOfField},
		{"proof rejected", func(p *Pool, v *fakeVerifier, _ *WithdrawRequest) {
			v.ok = false
		}, ErrInvalidProof},
		{"verifier error", func(p *Pool, v *fakeVerifier, _ *WithdrawRequest) {
			v.err = errors.New("garbage")
		}, ErrMalformedProof},
		{"paused", func(p *Pool, _ *fakeVerifier, _ *WithdrawRequest) {
			cfg := p.Config()
			cfg.WithdrawalsPaused = true
			_ = p.SetConfig(cfg)
		}, ErrWithdrawalsPaused},
		{"inactive", func(p *Pool, _ *fakeVerifier, _ *WithdrawRequest) {
			p.SetActive(false)
		}, ErrPoolNotActive},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, ledger, v := newTestPool(t)
			depositN(t, p, 1)
			req := base(p)
			tt.mutate(p, v, &req)

			_, err := p.Withdraw(ctx, req)
			require.ErrorIs(t, err, tt.wantErr)
			assert.False(t, p.IsSpent(req.NullifierHash))
			assert.Equal(t, oneSOL, balance(t, ledger, p.Account()))
			assert.Zero(t, balance(t, ledger, bob))
		})
	}
}

func TestWithdrawRelayerFeeAtCap(t *testing.T) {
	p, _, _ := newTestPool(t)
	depositN(t, p, 1)
	_, err := p.Withdraw(context.Background(), WithdrawRequest{
		Root:          p.Root(),
		NullifierHash: nullifierHash(1),
		Recipient:     bob,
		RelayerFee:    p.Denomination() / RelayerFeeDivisor,
		Relayer:       relayer,
	})
	require.NoError(t, err)
}

func TestWithdrawReleasesNullifierOnLedgerFailure(t *testing.T) {
	// Empty pool: the empty root is valid but there is nothing to pay out.
	p, _, _ := newTestPool(t)
	req := WithdrawRequest{Root: p.Root(), NullifierHash: nullifierHash(3), Recipient: bob}

	_, err := p.Withdraw(context.Background(), req)
	require.ErrorIs(t, err, ErrInsufficientPoolBalance)
	assert.Equal(t, KindResource, Classify(err))
	assert.False(t, p.IsSpent(req.NullifierHash))

	depositN(t, p, 1)
	req.Root = p.Root()
	_, err = p.Withdraw(context.Background(), req)
	require.NoError(t, err)
}

func TestWithdrawOldRootInHistory(t *testing.T) {
	p, _, _ := newTestPool(t)
	depositN(t, p, 1)
	old := p.Root()
	for i := uint64(1); i <= merkle.RootHistorySize+1; i++ {
		_, err := p.Deposit(context.Background(), alice, leafValue(100+i), oneSOL)
		require.NoError(t, err)
	}
	assert.False(t, p.IsValidRoot(old))
	_, err := p.Withdraw(context.Background(), WithdrawRequest{Root: old, NullifierHash: nullifierHash(1), Recipient: bob})
	require.ErrorIs(t, err, ErrInvalidMerkleRoot)
}

func TestConcurrentDoubleSpend(t *testing.T) {
	p, ledger, _ := newTestPool(t)
	depositN(t, p, 5)

	const workers = 32
	req := WithdrawRequest{Root: p.Root(), NullifierHash: nullifierHash(42), Recipient: bob}

	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		replays   atomic.Int32
		start     = make(chan struct{})
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := p.Withdraw(context.Background(), req)
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, ErrNullifierAlreadyUsed):
				replays.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), successes.Load())
	assert.Equal(t, int32(workers-1), replays.Load())
	assert.Equal(t, oneSOL, balance(t, ledger, bob))
	assert.Equal(t, 4*oneSOL, balance(t, ledger, p.Account()))
}

// ============================================================================
// Stealth withdrawals
// ============================================================================

func TestWithdrawToStealth(t *testing.T) {
	ctx := context.Background()
	p, ledger, _ := newTestPool(t)
	depositN(t, p, 1)

	keys, err := stealth.Generate()
	require.NoError(t, err)
	meta := keys.MetaAddress()
	sa, err := meta.NewPayment()
	require.NoError(t, err)

	req := StealthWithdrawRequest{
		WithdrawRequest: WithdrawRequest{
			Root:          p.Root(),
			NullifierHash: nullifierHash(9),
		},
		StealthAddress: sa.Address,
		EphemeralPub:   sa.EphemeralPub,
		ScanPub:        meta.Scan,
		SpendPub:       meta.Spend,
		Commitment:     sa.Commitment,
	}

	t.Run("tampered commitment", func(t *testing.T) {
		bad := req
		bad.Commitment[0] ^= 1
		_, err := p.WithdrawToStealth(ctx, bad)
		require.ErrorIs(t, err, ErrCommitmentMismatch)
		assert.False(t, p.IsSpent(req.NullifierHash))
	})

	t.Run("invalid point", func(t *testing.T) {
		bad := req
		bad.EphemeralPub = [32]byte{}
		_, err := p.WithdrawToStealth(ctx, bad)
		require.ErrorIs(t, err, ErrInvalidPoint)
	})

	rcpt, err := p.WithdrawToStealth(ctx, req)
	require.NoError(t, err)
	require.NotNil(t, rcpt.Announcement)
	assert.Equal(t, AccountID(sa.Address), rcpt.Recipient)
	assert.Equal(t, oneSOL, balance(t, ledger, AccountID(sa.Address)))

	anns := p.Announcements(0)
	require.Len(t, anns, 1)
	assert.Equal(t, fixedNow.Unix(), anns[0].Timestamp)

	matches, err := stealth.ScanAnnouncements(ctx, keys, anns, 2)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, sa.Address, matches[0].Result.Address)
	assert.Nil(t, p.Announcements(1))
}

// ============================================================================
// Recipient encoding
// ============================================================================

func TestVerifyRecipientReduction(t *testing.T) {
	var max [32]byte
	for i := range max {
		max[i] = 0xFF
	}
	reduced := RecipientElement(max).BytesBE()
	assert.True(t, VerifyRecipientReduction(max, reduced))
	assert.False(t, VerifyRecipientReduction(max, max), "unreduced value")

	off := reduced
	off[31] ^= 1
	assert.False(t, VerifyRecipientReduction(max, off))

	small := [32]byte{31: 5}
	assert.True(t, VerifyRecipientReduction(small, small))
	assert.False(t, VerifyRecipientReduction(small, [32]byte{31: 6}))
}

func TestWithdrawChecksRecipientField(t *testing.T) {
	ctx := context.Background()
	p, ledger, v := newTestPool(t)
	depositN(t, p, 2)

	var wide AccountID
	for i := range wide {
		wide[i] = 0xFF
	}
	req := WithdrawRequest{
		Root:          p.Root(),
		NullifierHash: nullifierHash(1),
		Recipient:     wide,
		Proof:         make([]byte, 256),
	}

	t.Run("unreduced", func(t *testing.T) {
		r := req
		raw := [32]byte(wide)
		r.RecipientField = &raw
		_, err := p.Withdraw(ctx, r)
		require.ErrorIs(t, err, ErrRecipientReduction)
		assert.Equal(t, KindMalformed, Classify(err))
	})

	t.Run("off by one", func(t *testing.T) {
		r := req
		off := RecipientElement(wide).BytesBE()
		off[31] ^= 1
		r.RecipientField = &off
		_, err := p.Withdraw(ctx, r)
		require.ErrorIs(t, err, ErrRecipientReduction)
	})

	assert.Equal(t, int64(0), v.calls.Load(), "rejected before proof verification")
	assert.False(t, p.IsSpent(req.NullifierHash))

	t.Run("canonical", func(t *testing.T) {
		r := req
		reduced := RecipientElement(wide).BytesBE()
		r.RecipientField = &reduced
		_, err := p.Withdraw(ctx, r)
		require.NoError(t, err)
		assert.Equal(t, reduced, v.last[2])
		assert.Equal(t, oneSOL, balance(t, ledger, wide))
	})
}

func TestPublicInputsOrder(t *testing.T) {
	root := field.FromUint64(11).BytesLE()
	nh := field.FromUint64(22).BytesLE()
	in := PublicInputs(root, nh, AccountID{31: 33}, 44)
	require.Len(t, in, 4)
	for i, want := range []uint64{11, 22, 33, 44} {
		assert.Equal(t, field.FromUint64(want).BytesBE(), in[i], "input %d", i)
	}
}

// ============================================================================
// Errors
// ============================================================================

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorKind
	}{
		{ErrNullifierAlreadyUsed, KindReplay},
		{fmt.Errorf("wrapped: %w", ErrNullifierAlreadyUsed), KindReplay},
		{ErrTreeFull, KindResource},
		{ErrInvalidProof, KindCrypto},
		{ErrCommitmentMismatch, KindCrypto},
		{ErrInvalidPoint, KindMalformed},
		{ErrMalformedProof, KindMalformed},
		{ErrRelayerFeeTooHigh, KindPolicy},
		{fmt.Errorf("%w: x", ErrInsufficientPoolBalance), KindResource},
		{errors.New("other"), KindUnknown},
		{nil, KindUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.err), "%v", tt.err)
	}
	assert.Equal(t, "replay", KindReplay.String())
}

// ============================================================================
// Denominations
// ============================================================================

func TestDenominationRegistry(t *testing.T) {
	r := NewDenominationRegistry()
	assert.Equal(t, DefaultDenominations, r.Enabled())
	assert.True(t, r.IsEnabled(oneSOL))

	require.ErrorIs(t, r.Add(2*oneSOL), ErrCustomDenominationsDisabled)
	require.ErrorIs(t, r.Add(oneSOL), ErrDenominationExists)

	allow := true
	require.NoError(t, r.Update(RegistryUpdate{AllowCustom: &allow}))
	require.ErrorIs(t, r.Add(oneSOL/100), ErrDenominationOutOfRange)
	require.ErrorIs(t, r.Add(1001*oneSOL), ErrDenominationOutOfRange)

	for i := uint64(2); len(r.Enabled()) < MaxDenominations; i++ {
		require.NoError(t, r.Add(i*oneSOL+1))
	}
	require.ErrorIs(t, r.Add(3*oneSOL), ErrRegistryFull)

	require.NoError(t, r.Remove(oneSOL))
	assert.False(t, r.IsEnabled(oneSOL))
	require.ErrorIs(t, r.Remove(oneSOL), ErrDenominationNotEnabled)

	lo, hi := uint64(10), uint64(5)
	require.ErrorIs(t, r.Update(RegistryUpdate{Min: &lo, Max: &hi}), ErrDenominationOutOfRange)
}

// ============================================================================
// Persistence
// ============================================================================

func TestSnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	p, ledger, v := newTestPool(t)
	depositN(t, p, 3)
	_, err := p.Withdraw(ctx, WithdrawRequest{Root: p.Root(), NullifierHash: nullifierHash(1), Recipient: bob})
	require.NoError(t, err)

	data, err := p.Snapshot()
	require.NoError(t, err)

	q, err := Restore(data, ledger, v)
	require.NoError(t, err)
	assert.Equal(t, p.Stats(), q.Stats())
	assert.Equal(t, p.Config(), q.Config())
	assert.True(t, q.IsSpent(nullifierHash(1)))

	// Both continue identically.
	_, err = p.Deposit(ctx, alice, leafValue(50), oneSOL)
	require.NoError(t, err)
	_, err = q.Deposit(ctx, alice, leafValue(50), oneSOL)
	require.NoError(t, err)
	assert.Equal(t, p.Root(), q.Root())

	_, err = Restore([]byte{0xff}, ledger, v)
	require.Error(t, err)
}

func TestManager(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()
	require.NoError(t, ledger.Credit(alice, 100*oneSOL))
	v := &fakeVerifier{ok: true}

	m, err := NewManager(NewDenominationRegistry(), ledger, v)
	require.NoError(t, err)
	require.Len(t, m.Pools(), len(DefaultDenominations))

	_, err = m.Deposit(ctx, alice, leafValue(0), 2*oneSOL)
	require.ErrorIs(t, err, ErrDenominationNotEnabled)

	_, err = m.Deposit(ctx, alice, leafValue(0), oneSOL)
	require.NoError(t, err)
	pl, err := m.Pool(oneSOL)
	require.NoError(t, err)

	_, err = m.Withdraw(ctx, oneSOL, WithdrawRequest{Root: pl.Root(), NullifierHash: nullifierHash(1), Recipient: bob})
	require.NoError(t, err)

	snaps, err := m.SnapshotAll()
	require.NoError(t, err)

	reg := NewDenominationRegistry()
	require.NoError(t, reg.Remove(DefaultDenominations[0]))
	m2, err := NewManager(reg, ledger, v)
	require.NoError(t, err)
	n, err := m2.RestoreAll(snaps)
	require.NoError(t, err)
	assert.Equal(t, len(DefaultDenominations)-1, n, "disabled denomination skipped")

	pl2, err := m2.Pool(oneSOL)
	require.NoError(t, err)
	assert.Equal(t, pl.Root(), pl2.Root())
	assert.True(t, pl2.IsSpent(nullifierHash(1)))
}

func TestLedgerPersistence(t *testing.T) {
	l := NewMemoryLedger()
	require.NoError(t, l.Credit(alice, 7))
	require.NoError(t, l.Transfer(context.Background(), Leg{From: alice, To: bob, Amount: 3}))

	err := l.Transfer(context.Background(),
		Leg{From: alice, To: bob, Amount: 4},
		Leg{From: alice, To: bob, Amount: 1},
	)
	require.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Equal(t, uint64(4), balance(t, l, alice), "failed transfer is atomic")

	l2 := NewMemoryLedger()
	l2.Replace(l.Balances())
	assert.Equal(t, uint64(4), balance(t, l2, alice))
	assert.Equal(t, uint64(3), balance(t, l2, bob))

	id, err := ParseAccountID(alice.String())
	require.NoError(t, err)
	assert.Equal(t, alice, id)
}
