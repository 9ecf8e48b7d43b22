package commitreveal

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stealthpool/internal/field"
	"stealthpool/internal/poseidon"
	"stealthpool/internal/pool"
)

type acceptAll struct{}

func (acceptAll) VerifyProof([]byte, [][32]byte) (bool, error) { return true, nil }

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var (
	owner     = pool.AccountID{1}
	recipient = pool.AccountID{2}
	oneSOL    = pool.LamportsPerSOL
)

type env struct {
	reg     *Registry
	clock   *fakeClock
	manager *pool.Manager
	ledger  *pool.MemoryLedger
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ledger := pool.NewMemoryLedger()
	require.NoError(t, ledger.Credit(owner, 10*oneSOL))
	m, err := pool.NewManager(pool.NewDenominationRegistry(), ledger, acceptAll{})
	require.NoError(t, err)
	_, err = m.Deposit(context.Background(), owner, field.FromUint64(77).BytesLE(), oneSOL)
	require.NoError(t, err)

	clock := &fakeClock{now: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)}
	return &env{
		reg:     NewRegistry(m, WithClock(clock.Now)),
		clock:   clock,
		manager: m,
		ledger:  ledger,
	}
}

func (e *env) params(t *testing.T, nullifier uint64) RevealParams {
	t.Helper()
	p, err := e.manager.Pool(oneSOL)
	require.NoError(t, err)
	return RevealParams{
		Denomination: oneSOL,
		Withdraw: pool.WithdrawRequest{
			Root:          p.Root(),
			NullifierHash: poseidon.NullifierHash(field.FromUint64(nullifier).BytesLE()),
			Recipient:     recipient,
			Proof:         []byte("proof"),
		},
		UserRandom: [32]byte{9, 9, 9},
		Nonce:      42,
	}
}

func hashOf(p RevealParams) [32]byte {
	return ComputeHash(p.Withdraw.Proof, p.Withdraw.Recipient, p.UserRandom, p.Nonce)
}

func TestCommitValidation(t *testing.T) {
	e := newEnv(t)
	h := [32]byte{1}

	tests := []struct {
		name     string
		min, max uint8
		d        uint64
		want     error
	}{
		{"zero minimum", 0, 24, oneSOL, ErrDelayTooShort},
		{"maximum above a week", 1, 169, oneSOL, ErrDelayTooLong},
		{"empty window", 5, 5, oneSOL, ErrInvalidDelayWindow},
		{"inverted window", 6, 5, oneSOL, ErrInvalidDelayWindow},
		{"unknown denomination", 1, 24, 3 * oneSOL, pool.ErrDenominationNotEnabled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.reg.Commit(owner, h, tt.d, tt.min, tt.max)
			require.ErrorIs(t, err, tt.want)
			assert.Equal(t, pool.KindPolicy, pool.Classify(err))
		})
	}

	c, err := e.reg.Commit(owner, h, oneSOL, 1, 168)
	require.NoError(t, err)
	assert.Equal(t, time.Hour, c.MinDelay)
	assert.Equal(t, AbsoluteMaxDelay, c.MaxDelay)

	_, err = e.reg.Commit(owner, h, oneSOL, 1, 24)
	require.ErrorIs(t, err, ErrCommitmentExists)
	_, err = e.reg.Commit(pool.AccountID{5}, h, oneSOL, 1, 24)
	require.NoError(t, err, "same hash under another owner is a different commitment")
}

func TestRevealTiming(t *testing.T) {
	const minH, maxH = 2, 5

	tests := []struct {
		name    string
		advance time.Duration
		want    error
	}{
		{"min-1", minH*time.Hour - time.Second, ErrNotInExecutionWindow},
		{"min", minH * time.Hour, nil},
		{"max", maxH * time.Hour, nil},
		{"max+1", maxH*time.Hour + time.Second, ErrNotInExecutionWindow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			p := e.params(t, 1)
			h := hashOf(p)
			_, err := e.reg.Commit(owner, h, oneSOL, minH, maxH)
			require.NoError(t, err)

			e.clock.Advance(tt.advance)
			rcpt, err := e.reg.Reveal(context.Background(), owner, h, p)
			if tt.want != nil {
				require.ErrorIs(t, err, tt.want)
				c, _ := e.reg.Get(owner, h)
				assert.False(t, c.Executed)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, oneSOL, rcpt.Amount)
			b, _ := e.ledger.Balance(context.Background(), recipient)
			assert.Equal(t, oneSOL, b)
		})
	}
}

func TestRevealMismatch(t *testing.T) {
	e := newEnv(t)
	p := e.params(t, 1)
	h := hashOf(p)
	_, err := e.reg.Commit(owner, h, oneSOL, 1, 2)
	require.NoError(t, err)
	e.clock.Advance(90 * time.Minute)

	t.Run("recipient changed", func(t *testing.T) {
		q := p
		q.Withdraw.Recipient = pool.AccountID{3}
		_, err := e.reg.Reveal(context.Background(), owner, h, q)
		require.ErrorIs(t, err, ErrHashMismatch)
	})

	t.Run("nonce changed", func(t *testing.T) {
		q := p
		q.Nonce++
		_, err := e.reg.Reveal(context.Background(), owner, h, q)
		require.ErrorIs(t, err, ErrHashMismatch)
	})

	t.Run("denomination changed", func(t *testing.T) {
		q := p
		q.Denomination = 10 * oneSOL
		_, err := e.reg.Reveal(context.Background(), owner, h, q)
		require.ErrorIs(t, err, pool.ErrDenominationMismatch)
	})

	t.Run("unknown commitment", func(t *testing.T) {
		_, err := e.reg.Reveal(context.Background(), pool.AccountID{8}, h, p)
		require.ErrorIs(t, err, ErrCommitmentNotFound)
	})

	_, err = e.reg.Reveal(context.Background(), owner, h, p)
	require.NoError(t, err)
	_, err = e.reg.Reveal(context.Background(), owner, h, p)
	require.ErrorIs(t, err, ErrAlreadyExecuted)
}

func TestFailedWithdrawKeepsCommitmentOpen(t *testing.T) {
	e := newEnv(t)
	p := e.params(t, 1)
	p.Withdraw.RelayerFee = oneSOL // above the cap
	h := hashOf(p)
	_, err := e.reg.Commit(owner, h, oneSOL, 1, 2)
	require.NoError(t, err)
	e.clock.Advance(time.Hour)

	_, err = e.reg.Reveal(context.Background(), owner, h, p)
	require.ErrorIs(t, err, pool.ErrRelayerFeeTooHigh)

	c, err := e.reg.Get(owner, h)
	require.NoError(t, err)
	assert.False(t, c.Executed)
	assert.True(t, e.reg.CanExecute(owner, h))
}

// gatedVerifier blocks inside VerifyProof until released.
type gatedVerifier struct {
	entered chan struct{}
	release chan bool
}

func (g gatedVerifier) VerifyProof([]byte, [][32]byte) (bool, error) {
	g.entered <- struct{}{}
	return <-g.release, nil
}

func TestCloseDuringRevealKeepsRecord(t *testing.T) {
	ledger := pool.NewMemoryLedger()
	require.NoError(t, ledger.Credit(owner, 10*oneSOL))
	gate := gatedVerifier{entered: make(chan struct{}), release: make(chan bool)}
	m, err := pool.NewManager(pool.NewDenominationRegistry(), ledger, gate)
	require.NoError(t, err)
	_, err = m.Deposit(context.Background(), owner, field.FromUint64(77).BytesLE(), oneSOL)
	require.NoError(t, err)
	clock := &fakeClock{now: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)}
	e := &env{reg: NewRegistry(m, WithClock(clock.Now)), clock: clock, manager: m, ledger: ledger}

	p := e.params(t, 1)
	h := hashOf(p)
	_, err = e.reg.Commit(owner, h, oneSOL, 1, 2)
	require.NoError(t, err)
	clock.Advance(time.Hour)

	done := make(chan error, 1)
	go func() {
		_, err := e.reg.Reveal(context.Background(), owner, h, p)
		done <- err
	}()
	<-gate.entered

	require.ErrorIs(t, e.reg.Close(owner, h), ErrRevealInProgress)
	require.ErrorIs(t, e.reg.Cancel(owner, h), ErrRevealInProgress)

	gate.release <- false
	require.ErrorIs(t, <-done, pool.ErrInvalidProof)

	c, err := e.reg.Get(owner, h)
	require.NoError(t, err)
	assert.False(t, c.Executed)
	assert.True(t, e.reg.CanExecute(owner, h))
	require.ErrorIs(t, e.reg.Close(owner, h), ErrStillActive)
}

func TestCancelAndClose(t *testing.T) {
	e := newEnv(t)
	p := e.params(t, 1)
	h := hashOf(p)
	_, err := e.reg.Commit(owner, h, oneSOL, 1, 2)
	require.NoError(t, err)

	require.ErrorIs(t, e.reg.Close(owner, h), ErrStillActive)
	require.NoError(t, e.reg.Cancel(owner, h))

	e.clock.Advance(time.Hour)
	assert.False(t, e.reg.CanExecute(owner, h))
	_, err = e.reg.Reveal(context.Background(), owner, h, p)
	require.ErrorIs(t, err, ErrCancelled)

	require.NoError(t, e.reg.Close(owner, h))
	_, err = e.reg.Get(owner, h)
	require.ErrorIs(t, err, ErrCommitmentNotFound)

	t.Run("cannot cancel after execution", func(t *testing.T) {
		p2 := e.params(t, 2)
		h2 := hashOf(p2)
		_, err := e.reg.Commit(owner, h2, oneSOL, 1, 2)
		require.NoError(t, err)
		e.clock.Advance(time.Hour)
		_, err = e.reg.Reveal(context.Background(), owner, h2, p2)
		require.NoError(t, err)
		require.ErrorIs(t, e.reg.Cancel(owner, h2), ErrAlreadyExecuted)
		require.NoError(t, e.reg.Close(owner, h2))
	})

	t.Run("expired can be closed", func(t *testing.T) {
		h3 := [32]byte{3}
		_, err := e.reg.Commit(owner, h3, oneSOL, 1, 2)
		require.NoError(t, err)
		e.clock.Advance(2*time.Hour + time.Second)
		assert.True(t, e.reg.IsExpired(owner, h3))
		require.NoError(t, e.reg.Close(owner, h3))
	})
}

func TestTimeUntilExecutable(t *testing.T) {
	e := newEnv(t)
	h := [32]byte{7}
	_, err := e.reg.Commit(owner, h, oneSOL, 3, 4)
	require.NoError(t, err)

	d, err := e.reg.TimeUntilExecutable(owner, h)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Hour, d)

	e.clock.Advance(2 * time.Hour)
	d, _ = e.reg.TimeUntilExecutable(owner, h)
	assert.Equal(t, time.Hour, d)

	e.clock.Advance(2 * time.Hour)
	d, _ = e.reg.TimeUntilExecutable(owner, h)
	assert.Zero(t, d)

	_, err = e.reg.TimeUntilExecutable(owner, [32]byte{8})
	require.ErrorIs(t, err, ErrCommitmentNotFound)
}

func TestComputeHashBindsEveryField(t *testing.T) {
	base := ComputeHash([]byte("p"), recipient, [32]byte{1}, 1)
	assert.NotEqual(t, base, ComputeHash([]byte("q"), recipient, [32]byte{1}, 1))
	assert.NotEqual(t, base, ComputeHash([]byte("p"), owner, [32]byte{1}, 1))
	assert.NotEqual(t, base, ComputeHash([]byte("p"), recipient, [32]byte{2}, 1))
	assert.NotEqual(t, base, ComputeHash([]byte("p"), recipient, [32]byte{1}, 2))
	assert.Equal(t, base, ComputeHash([]byte("p"), recipient, [32]byte{1}, 1))
}

func TestSnapshotRestore(t *testing.T) {
	e := newEnv(t)
	for i := byte(0); i < 3; i++ {
		_, err := e.reg.Commit(owner, [32]byte{i}, oneSOL, 1, 2)
		require.NoError(t, err)
		e.clock.Advance(time.Minute)
	}
	require.NoError(t, e.reg.Cancel(owner, [32]byte{1}))

	data, err := e.reg.Snapshot()
	require.NoError(t, err)

	other := NewRegistry(e.manager, WithClock(e.clock.Now))
	require.NoError(t, other.Restore(data))
	got := other.List(owner)
	want := e.reg.List(owner)
	require.Len(t, got, 3)
	for i := range want {
		assert.Equal(t, want[i].Hash, got[i].Hash)
		assert.True(t, want[i].CommitTime.Equal(got[i].CommitTime))
		assert.Equal(t, want[i].Cancelled, got[i].Cancelled)
		assert.Equal(t, want[i].MaxDelay, got[i].MaxDelay)
	}
}
