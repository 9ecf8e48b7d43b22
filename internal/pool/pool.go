// pool.go - Fixed-denomination shielded pool.
//
// A pool accepts deposits of exactly its denomination as Poseidon commitments
// in a Merkle tree, and pays out the same amount against a Groth16 proof of
// membership whose nullifier has not been seen. Every rejected operation
// leaves the pool, the ledger and the nullifier set as they were.

package pool

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"stealthpool/internal/merkle"
	"stealthpool/internal/stealth"
)

// ProofVerifier checks a withdrawal proof against big-endian public inputs.
// It returns (false, nil) for a well-formed proof that does not verify and an
// error for malformed input.
type ProofVerifier interface {
	VerifyProof(proof []byte, publicInputs [][32]byte) (bool, error)
}

// WithdrawRequest is a plain withdrawal.
type WithdrawRequest struct {
	Root          [32]byte  `json:"root"`
	NullifierHash [32]byte  `json:"nullifier_hash"`
	Recipient     AccountID `json:"recipient"`
	Proof         []byte    `json:"proof"`
	RelayerFee    uint64    `json:"relayer_fee"`
	Relayer       AccountID `json:"relayer"`

	// RecipientField is the big-endian field element the proof was built
	// over. When set it must be the reduction of Recipient mod r.
	RecipientField *[32]byte `json:"recipient_field,omitempty"`
}

// StealthWithdrawRequest pays to a stealth address and publishes an
// announcement so the recipient can find it. Recipient in the embedded
// request is ignored and replaced with StealthAddress.
type StealthWithdrawRequest struct {
	WithdrawRequest
	StealthAddress [32]byte `json:"stealth_address"`
	EphemeralPub   [32]byte `json:"ephemeral_pubkey"`
	ScanPub        [32]byte `json:"scan_pubkey"`
	SpendPub       [32]byte `json:"spend_pubkey"`
	Commitment     [32]byte `json:"commitment"`
}

// Receipt describes a completed withdrawal.
type Receipt struct {
	Denomination  uint64                `json:"denomination"`
	NullifierHash [32]byte              `json:"nullifier_hash"`
	Recipient     AccountID             `json:"recipient"`
	Amount        uint64                `json:"amount"`
	RelayerFee    uint64                `json:"relayer_fee"`
	SpentAt       time.Time             `json:"spent_at"`
	Announcement  *stealth.Announcement `json:"announcement,omitempty"`
}

// Stats is a point-in-time view of a pool.
type Stats struct {
	Denomination   uint64   `json:"denomination"`
	Active         bool     `json:"active"`
	Root           [32]byte `json:"root"`
	Leaves         uint64   `json:"leaves"`
	Capacity       uint64   `json:"capacity"`
	Nullifiers     int      `json:"nullifiers"`
	Deposits       uint64   `json:"deposits"`
	Withdrawals    uint64   `json:"withdrawals"`
	TotalDeposited uint64   `json:"total_deposited"`
	TotalWithdrawn uint64   `json:"total_withdrawn"`
}

// Pool is one denomination's shielded pool. It is safe for concurrent use.
type Pool struct {
	denomination uint64
	account      AccountID

	tree       *merkle.Tree
	nullifiers *NullifierRegistry
	ledger     Ledger
	verifier   ProofVerifier

	log   zerolog.Logger
	clock func() time.Time

	mu             sync.Mutex
	active         bool
	config         Config
	deposits       uint64
	withdrawals    uint64
	totalDeposited uint64
	totalWithdrawn uint64
	announcements  []stealth.Announcement
}

// New creates an active, empty pool.
func New(denomination uint64, ledger Ledger, verifier ProofVerifier, opts ...Option) (*Pool, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if denomination == 0 {
		return nil, fmt.Errorf("%w: zero", ErrDenominationOutOfRange)
	}
	if err := o.config.Validate(); err != nil {
		return nil, err
	}
	depth := o.depth
	if depth == 0 {
		depth = merkle.DefaultDepth
	}
	tree, err := merkle.New(depth)
	if err != nil {
		return nil, err
	}

	return &Pool{
		denomination: denomination,
		account:      PoolAccount(denomination),
		tree:         tree,
		nullifiers:   NewNullifierRegistry(),
		ledger:       ledger,
		verifier:     verifier,
		log:          o.logger.With().Uint64("denomination", denomination).Logger(),
		clock:        o.clock,
		active:       true,
		config:       o.config,
	}, nil
}

// Denomination returns the fixed amount.
func (p *Pool) Denomination() uint64 { return p.denomination }

// Account returns the pool's custody account.
func (p *Pool) Account() AccountID { return p.account }

// Root returns the current Merkle root.
func (p *Pool) Root() [32]byte { return p.tree.Root() }

// IsValidRoot reports whether root may anchor a withdrawal proof.
func (p *Pool) IsValidRoot(root [32]byte) bool { return p.tree.IsValidRoot(root) }

// IsSpent reports whether a nullifier hash has been used.
func (p *Pool) IsSpent(nullifierHash [32]byte) bool { return p.nullifiers.Contains(nullifierHash) }

// Config returns the current settings.
func (p *Pool) Config() Config {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.config
}

// SetConfig replaces the settings.
func (p *Pool) SetConfig(c Config) error {
	if err := c.Validate(); err != nil {
		return err
	}
	p.mu.Lock()
	p.config = c
	p.mu.Unlock()
	p.log.Info().
		Uint16("fee_bps", c.FeeBps).
		Bool("deposits_paused", c.DepositsPaused).
		Bool("withdrawals_paused", c.WithdrawalsPaused).
		Msg("pool config updated")
	return nil
}

// SetActive opens or closes the pool.
func (p *Pool) SetActive(active bool) {
	p.mu.Lock()
	p.active = active
	p.mu.Unlock()
	p.log.Info().Bool("active", active).Msg("pool activation changed")
}

// Stats returns counters and tree state.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	s := Stats{
		Denomination:   p.denomination,
		Active:         p.active,
		Deposits:       p.deposits,
		Withdrawals:    p.withdrawals,
		TotalDeposited: p.totalDeposited,
		TotalWithdrawn: p.totalWithdrawn,
	}
	p.mu.Unlock()
	s.Root = p.tree.Root()
	s.Leaves = p.tree.NextIndex()
	s.Capacity = p.tree.Capacity()
	s.Nullifiers = p.nullifiers.Len()
	return s
}

// Announcements returns stealth withdrawal announcements from index since.
func (p *Pool) Announcements(since int) []stealth.Announcement {
	p.mu.Lock()
	defer p.mu.Unlock()
	if since < 0 || since >= len(p.announcements) {
		return nil
	}
	return append([]stealth.Announcement(nil), p.announcements[since:]...)
}

// Deposit moves the denomination from depositor into the pool, charges the
// deposit fee on top, and appends commitment to the tree.
func (p *Pool) Deposit(ctx context.Context, depositor AccountID, commitment [32]byte, amount uint64) (uint64, error) {
	// 1. Policy checks
	p.mu.Lock()
	active, cfg := p.active, p.config
	p.mu.Unlock()
	if !active {
		return 0, ErrPoolNotActive
	}
	if cfg.DepositsPaused {
		return 0, ErrDepositsPaused
	}
	if amount != p.denomination {
		return 0, fmt.Errorf("%w: got %d, pool is %d", ErrDenominationMismatch, amount, p.denomination)
	}
	if commitment == ([32]byte{}) {
		return 0, ErrZeroCommitment
	}
	if !canonicalLE(commitment) {
		return 0, fmt.Errorf("%w: commitment", ErrInputOutOfField)
	}
	if p.tree.NextIndex() >= p.tree.Capacity() {
		return 0, ErrTreeFull
	}

	// 2. Move funds
	legs := []Leg{{From: depositor, To: p.account, Amount: amount}}
	fee := cfg.DepositFee(amount)
	if fee > 0 {
		legs = append(legs, Leg{From: depositor, To: cfg.FeeRecipient, Amount: fee})
	}
	if err := p.ledger.Transfer(ctx, legs...); err != nil {
		return 0, fmt.Errorf("deposit transfer: %w", err)
	}

	// 3. Insert the leaf, refunding if the tree filled up meanwhile
	index, err := p.tree.Insert(commitment)
	if err != nil {
		if rerr := p.ledger.Transfer(context.WithoutCancel(ctx), reverse(legs)...); rerr != nil {
			p.log.Error().Err(rerr).Str("depositor", depositor.String()).Msg("deposit refund failed")
		}
		return 0, err
	}

	// 4. Counters
	p.mu.Lock()
	p.deposits++
	p.totalDeposited += amount
	p.mu.Unlock()

	p.log.Info().
		Uint64("leaf_index", index).
		Str("commitment", short(commitment)).
		Uint64("fee", fee).
		Msg("deposit accepted")
	return index, nil
}

// Withdraw pays out one note to req.Recipient.
func (p *Pool) Withdraw(ctx context.Context, req WithdrawRequest) (*Receipt, error) {
	return p.withdraw(ctx, req)
}

// WithdrawToStealth pays out one note to a stealth address and records an
// announcement for the recipient's scanner.
func (p *Pool) WithdrawToStealth(ctx context.Context, req StealthWithdrawRequest) (*Receipt, error) {
	// 1. The announcement must be scannable and bound to the meta-address
	for _, k := range [][32]byte{req.EphemeralPub, req.ScanPub, req.SpendPub, req.StealthAddress} {
		if !stealth.ValidatePoint(k) {
			return nil, ErrInvalidPoint
		}
	}
	if !stealth.VerifyCommitment(req.Commitment, req.EphemeralPub, req.ScanPub, req.SpendPub, req.StealthAddress) {
		return nil, ErrCommitmentMismatch
	}

	// 2. Withdraw to the stealth address
	w := req.WithdrawRequest
	w.Recipient = AccountID(req.StealthAddress)
	rcpt, err := p.withdraw(ctx, w)
	if err != nil {
		return nil, err
	}

	// 3. Announce
	p.mu.Lock()
	ann := stealth.Announcement{
		EphemeralPub:   req.EphemeralPub,
		StealthAddress: req.StealthAddress,
		Commitment:     req.Commitment,
		Amount:         rcpt.Amount,
		Slot:           uint64(len(p.announcements)),
		Timestamp:      rcpt.SpentAt.Unix(),
	}
	p.announcements = append(p.announcements, ann)
	p.mu.Unlock()

	rcpt.Announcement = &ann
	p.log.Info().Uint64("slot", ann.Slot).Msg("stealth withdrawal announced")
	return rcpt, nil
}

func (p *Pool) withdraw(ctx context.Context, req WithdrawRequest) (*Receipt, error) {
	// 1. Policy checks
	p.mu.Lock()
	active, cfg := p.active, p.config
	p.mu.Unlock()
	if !active {
		return nil, ErrPoolNotActive
	}
	if cfg.WithdrawalsPaused {
		return nil, ErrWithdrawalsPaused
	}
	if req.RelayerFee > p.denomination/RelayerFeeDivisor {
		return nil, fmt.Errorf("%w: %d > %d", ErrRelayerFeeTooHigh, req.RelayerFee, p.denomination/RelayerFeeDivisor)
	}
	if !canonicalLE(req.Root) || !canonicalLE(req.NullifierHash) {
		return nil, fmt.Errorf("%w: root or nullifier hash", ErrInputOutOfField)
	}
	if !p.tree.IsValidRoot(req.Root) {
		return nil, ErrInvalidMerkleRoot
	}
	if p.nullifiers.Contains(req.NullifierHash) {
		return nil, ErrNullifierAlreadyUsed
	}

	// 2. Proof
	inputs := PublicInputs(req.Root, req.NullifierHash, req.Recipient, p.denomination)
	if req.RecipientField != nil {
		if !VerifyRecipientReduction(req.Recipient, *req.RecipientField) {
			return nil, ErrRecipientReduction
		}
		inputs[2] = *req.RecipientField
	}
	ok, err := p.verifier.VerifyProof(req.Proof, inputs)
	if err != nil {
		if Classify(err) == KindUnknown {
			return nil, fmt.Errorf("%w: %v", ErrMalformedProof, err)
		}
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidProof
	}

	// 3. Reserve the nullifier
	now := p.clock()
	if !p.nullifiers.InsertIfAbsent(req.NullifierHash, now) {
		p.log.Warn().Str("nullifier_hash", short(req.NullifierHash)).Msg("replay rejected")
		return nil, ErrNullifierAlreadyUsed
	}

	// 4. Pay out
	net := p.denomination - req.RelayerFee
	legs := []Leg{{From: p.account, To: req.Recipient, Amount: net}}
	if req.RelayerFee > 0 {
		legs = append(legs, Leg{From: p.account, To: req.Relayer, Amount: req.RelayerFee})
	}
	if err := p.ledger.Transfer(ctx, legs...); err != nil {
		p.nullifiers.Release(req.NullifierHash)
		if errors.Is(err, ErrInsufficientFunds) {
			return nil, fmt.Errorf("%w: %v", ErrInsufficientPoolBalance, err)
		}
		return nil, fmt.Errorf("withdraw transfer: %w", err)
	}

	// 5. Counters
	p.mu.Lock()
	p.withdrawals++
	p.totalWithdrawn += p.denomination
	p.mu.Unlock()

	p.log.Info().
		Str("nullifier_hash", short(req.NullifierHash)).
		Uint64("relayer_fee", req.RelayerFee).
		Msg("withdrawal paid")

	return &Receipt{
		Denomination:  p.denomination,
		NullifierHash: req.NullifierHash,
		Recipient:     req.Recipient,
		Amount:        net,
		RelayerFee:    req.RelayerFee,
		SpentAt:       now,
	}, nil
}

func reverse(legs []Leg) []Leg {
	out := make([]Leg, len(legs))
	for i, l := range legs {
		out[len(legs)-1-i] = Leg{From: l.To, To: l.From, Amount: l.Amount}
	}
	return out
}

// short renders the first 8 bytes of a public value for logs.
func short(b [32]byte) string {
	return hex.EncodeToString(b[:8])
}
