// config.go - Per-pool administrative settings.

package pool

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

const (
	// DefaultFeeBps is the deposit fee, 0.1%.
	DefaultFeeBps uint16 = 10
	// MaxFeeBps caps the deposit fee at 5%.
	MaxFeeBps uint16 = 500
	// RelayerFeeDivisor caps a relayer fee at denomination / 10.
	RelayerFeeDivisor = 10
)

// Config holds the per-pool administrative settings.
type Config struct {
	FeeBps            uint16    `cbor:"1,keyasint" json:"fee_bps"`
	FeeRecipient      AccountID `cbor:"2,keyasint" json:"fee_recipient"`
	DepositsPaused    bool      `cbor:"3,keyasint" json:"deposits_paused"`
	WithdrawalsPaused bool      `cbor:"4,keyasint" json:"withdrawals_paused"`
}

// DefaultConfig returns the default settings.
func DefaultConfig() Config {
	return Config{FeeBps: DefaultFeeBps}
}

// Validate checks the settings.
func (c Config) Validate() error {
	if c.FeeBps > MaxFeeBps {
		return fmt.Errorf("%w: %d > %d", ErrInvalidFeeBps, c.FeeBps, MaxFeeBps)
	}
	return nil
}

// DepositFee returns the fee charged on top of a deposit of amount.
func (c Config) DepositFee(amount uint64) uint64 {
	return amount/10_000*uint64(c.FeeBps) + amount%10_000*uint64(c.FeeBps)/10_000
}

// Option configures a Pool or Manager.
type Option func(*options)

type options struct {
	logger zerolog.Logger
	clock  func() time.Time
	depth  int
	config Config
}

func defaultOptions() options {
	return options{
		logger: zerolog.Nop(),
		clock:  time.Now,
		config: DefaultConfig(),
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.clock = now }
}

// WithDepth overrides the Merkle tree depth.
func WithDepth(depth int) Option {
	return func(o *options) { o.depth = depth }
}

// WithConfig sets the initial pool settings.
func WithConfig(c Config) Option {
	return func(o *options) { o.config = c }
}
