// commitreveal.go - Delayed withdrawals.
//
// A withdrawer first commits to a hash of the withdrawal it will make, then
// reveals the parameters inside a time window it chose at commit time. The
// pool only sees the withdrawal at reveal, so the deposit/withdraw timing
// link is replaced by a delay the observer cannot predict.

package commitreveal

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/rs/zerolog"

	"stealthpool/internal/pool"
)

const hashDomain = "stealthsol_withdrawal_commit_v1"

const (
	// AbsoluteMinDelay is the shortest allowed minimum delay.
	AbsoluteMinDelay = 30 * time.Minute
	// AbsoluteMaxDelay is the longest allowed maximum delay.
	AbsoluteMaxDelay = 7 * 24 * time.Hour

	DefaultMinDelay = time.Hour
	DefaultMaxDelay = 24 * time.Hour
)

var (
	ErrDelayTooShort        = pool.NewError(pool.KindPolicy, "minimum delay below 30 minutes")
	ErrDelayTooLong         = pool.NewError(pool.KindPolicy, "maximum delay above 7 days")
	ErrInvalidDelayWindow   = pool.NewError(pool.KindPolicy, "maximum delay must exceed minimum delay")
	ErrNotInExecutionWindow = pool.NewError(pool.KindPolicy, "commitment is not in its execution window")
	ErrCommitmentExists     = pool.NewError(pool.KindPolicy, "commitment already exists")
	ErrCommitmentNotFound   = pool.NewError(pool.KindPolicy, "commitment not found")
	ErrAlreadyExecuted      = pool.NewError(pool.KindReplay, "commitment already executed")
	ErrCancelled            = pool.NewError(pool.KindPolicy, "commitment was cancelled")
	ErrStillActive          = pool.NewError(pool.KindPolicy, "commitment is still active")
	ErrHashMismatch         = pool.NewError(pool.KindCrypto, "revealed parameters do not match commitment")
	ErrRevealInProgress     = pool.NewError(pool.KindPolicy, "commitment is being revealed")
)

// Pools looks up the pool for a denomination. pool.Manager implements it.
type Pools interface {
	Pool(denomination uint64) (*pool.Pool, error)
}

// Commitment is one pending or finished delayed withdrawal.
type Commitment struct {
	Owner        pool.AccountID `cbor:"1,keyasint" json:"owner"`
	Hash         [32]byte       `cbor:"2,keyasint" json:"hash"`
	CommitTime   time.Time      `cbor:"3,keyasint" json:"commit_time"`
	MinDelay     time.Duration  `cbor:"4,keyasint" json:"min_delay"`
	MaxDelay     time.Duration  `cbor:"5,keyasint" json:"max_delay"`
	Denomination uint64         `cbor:"6,keyasint" json:"denomination"`
	Executed     bool           `cbor:"7,keyasint" json:"executed"`
	Cancelled    bool           `cbor:"8,keyasint" json:"cancelled"`

	revealing bool
}

func (c *Commitment) elapsed(now time.Time) time.Duration {
	return now.Sub(c.CommitTime)
}

func (c *Commitment) canExecute(now time.Time) bool {
	if c.Executed || c.Cancelled {
		return false
	}
	e := c.elapsed(now)
	return e >= c.MinDelay && e <= c.MaxDelay
}

func (c *Commitment) isExpired(now time.Time) bool {
	return c.elapsed(now) > c.MaxDelay
}

// RevealParams are the values hashed at commit time plus the withdrawal
// they authorize.
type RevealParams struct {
	Denomination uint64
	Withdraw     pool.WithdrawRequest
	UserRandom   [32]byte
	Nonce        uint64
}

// ComputeHash returns SHA256(domain || SHA256(proof) || recipient ||
// userRandom || nonce_le).
func ComputeHash(proof []byte, recipient pool.AccountID, userRandom [32]byte, nonce uint64) [32]byte {
	proofHash := sha256.Sum256(proof)
	h := sha256.New()
	h.Write([]byte(hashDomain))
	h.Write(proofHash[:])
	h.Write(recipient[:])
	h.Write(userRandom[:])
	var n [8]byte
	binary.LittleEndian.PutUint64(n[:], nonce)
	h.Write(n[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

type key struct {
	owner pool.AccountID
	hash  [32]byte
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Registry) { r.log = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.clock = now }
}

// Registry holds commitments and executes reveals against the pools.
type Registry struct {
	pools Pools
	log   zerolog.Logger
	clock func() time.Time

	mu          sync.Mutex
	commitments map[key]*Commitment
}

// NewRegistry creates an empty registry.
func NewRegistry(pools Pools, opts ...Option) *Registry {
	r := &Registry{
		pools:       pools,
		log:         zerolog.Nop(),
		clock:       time.Now,
		commitments: make(map[key]*Commitment),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Commit records a commitment executable between minHours and maxHours
// after now.
func (r *Registry) Commit(owner pool.AccountID, hash [32]byte, denomination uint64, minHours, maxHours uint8) (*Commitment, error) {
	// 1. Window
	minDelay := time.Duration(minHours) * time.Hour
	maxDelay := time.Duration(maxHours) * time.Hour
	if minDelay < AbsoluteMinDelay {
		return nil, ErrDelayTooShort
	}
	if maxDelay > AbsoluteMaxDelay {
		return nil, ErrDelayTooLong
	}
	if maxDelay <= minDelay {
		return nil, ErrInvalidDelayWindow
	}

	// 2. Pool must exist
	if _, err := r.pools.Pool(denomination); err != nil {
		return nil, err
	}

	// 3. Store
	k := key{owner, hash}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.commitments[k]; ok {
		return nil, ErrCommitmentExists
	}
	c := &Commitment{
		Owner:        owner,
		Hash:         hash,
		CommitTime:   r.clock(),
		MinDelay:     minDelay,
		MaxDelay:     maxDelay,
		Denomination: denomination,
	}
	r.commitments[k] = c

	r.log.Info().
		Str("owner", owner.String()).
		Uint8("min_hours", minHours).
		Uint8("max_hours", maxHours).
		Uint64("denomination", denomination).
		Msg("withdrawal committed")
	out := *c
	return &out, nil
}

// Reveal checks the revealed parameters against the commitment and runs the
// withdrawal. A failed withdrawal leaves the commitment revealable.
func (r *Registry) Reveal(ctx context.Context, owner pool.AccountID, hash [32]byte, p RevealParams) (*pool.Receipt, error) {
	// 1. Validate and mark executed under the lock
	r.mu.Lock()
	c, ok := r.commitments[key{owner, hash}]
	if !ok {
		r.mu.Unlock()
		return nil, ErrCommitmentNotFound
	}
	if err := checkRevealable(c, r.clock()); err != nil {
		r.mu.Unlock()
		return nil, err
	}
	if ComputeHash(p.Withdraw.Proof, p.Withdraw.Recipient, p.UserRandom, p.Nonce) != c.Hash {
		r.mu.Unlock()
		return nil, ErrHashMismatch
	}
	if p.Denomination != c.Denomination {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: committed %d, revealed %d", pool.ErrDenominationMismatch, c.Denomination, p.Denomination)
	}
	c.Executed = true
	c.revealing = true
	r.mu.Unlock()

	// 2. Withdraw. Cancel and Close refuse the record until revealing clears.
	rcpt, err := r.withdraw(ctx, c.Denomination, p.Withdraw)
	r.mu.Lock()
	c.revealing = false
	if err != nil {
		c.Executed = false
	}
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}
	r.log.Info().Str("owner", owner.String()).Uint64("denomination", c.Denomination).Msg("commitment executed")
	return rcpt, nil
}

func (r *Registry) withdraw(ctx context.Context, denomination uint64, req pool.WithdrawRequest) (*pool.Receipt, error) {
	p, err := r.pools.Pool(denomination)
	if err != nil {
		return nil, err
	}
	return p.Withdraw(ctx, req)
}

func checkRevealable(c *Commitment, now time.Time) error {
	switch {
	case c.Executed:
		return ErrAlreadyExecuted
	case c.Cancelled:
		return ErrCancelled
	case !c.canExecute(now):
		return ErrNotInExecutionWindow
	}
	return nil
}

// Cancel abandons a commitment before execution.
func (r *Registry) Cancel(owner pool.AccountID, hash [32]byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.commitments[key{owner, hash}]
	if !ok {
		return ErrCommitmentNotFound
	}
	if c.revealing {
		return ErrRevealInProgress
	}
	if c.Executed {
		return ErrAlreadyExecuted
	}
	c.Cancelled = true
	r.log.Info().Str("owner", owner.String()).Msg("commitment cancelled")
	return nil
}

// Close removes a commitment that was executed, cancelled or has expired.
func (r *Registry) Close(owner pool.AccountID, hash [32]byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key{owner, hash}
	c, ok := r.commitments[k]
	if !ok {
		return ErrCommitmentNotFound
	}
	if c.revealing {
		return ErrRevealInProgress
	}
	if !c.Executed && !c.Cancelled && !c.isExpired(r.clock()) {
		return ErrStillActive
	}
	delete(r.commitments, k)
	return nil
}

// Get returns a copy of a commitment.
func (r *Registry) Get(owner pool.AccountID, hash [32]byte) (Commitment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.commitments[key{owner, hash}]
	if !ok {
		return Commitment{}, ErrCommitmentNotFound
	}
	return *c, nil
}

// CanExecute reports whether a reveal would pass the timing checks now.
func (r *Registry) CanExecute(owner pool.AccountID, hash [32]byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.commitments[key{owner, hash}]
	return ok && c.canExecute(r.clock())
}

// IsExpired reports whether the execution window has passed.
func (r *Registry) IsExpired(owner pool.AccountID, hash [32]byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.commitments[key{owner, hash}]
	return ok && c.isExpired(r.clock())
}

// TimeUntilExecutable returns how long until the window opens, zero if it
// already has.
func (r *Registry) TimeUntilExecutable(owner pool.AccountID, hash [32]byte) (time.Duration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.commitments[key{owner, hash}]
	if !ok {
		return 0, ErrCommitmentNotFound
	}
	if e := c.elapsed(r.clock()); e < c.MinDelay {
		return c.MinDelay - e, nil
	}
	return 0, nil
}

// List returns the owner's commitments ordered by commit time.
func (r *Registry) List(owner pool.AccountID) []Commitment {
	r.mu.Lock()
	var out []Commitment
	for k, c := range r.commitments {
		if k.owner == owner {
			out = append(out, *c)
		}
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CommitTime.Before(out[j].CommitTime) })
	return out
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

// Snapshot encodes all commitments as CBOR.
func (r *Registry) Snapshot() ([]byte, error) {
	r.mu.Lock()
	all := make([]Commitment, 0, len(r.commitments))
	for _, c := range r.commitments {
		all = append(all, *c)
	}
	r.mu.Unlock()
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CommitTime.Equal(all[j].CommitTime) {
			return all[i].CommitTime.Before(all[j].CommitTime)
		}
		return string(all[i].Hash[:]) < string(all[j].Hash[:])
	})
	return encMode.Marshal(all)
}

// Restore replaces the registry contents with a snapshot.
func (r *Registry) Restore(data []byte) error {
	var all []Commitment
	if err := cbor.Unmarshal(data, &all); err != nil {
		return fmt.Errorf("decode commitments: %w", err)
	}
	m := make(map[key]*Commitment, len(all))
	for i := range all {
		c := all[i]
		m[key{c.Owner, c.Hash}] = &c
	}
	r.mu.Lock()
	r.commitments = m
	r.mu.Unlock()
	return nil
}
