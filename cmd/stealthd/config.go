// config.go - Configuration management for the pool daemon
package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"stealthpool/internal/commitreveal"
	"stealthpool/internal/pool"
)

// Verifier modes.
const (
	VerifierGroth16  = "groth16"
	VerifierAttested = "attested"
)

// Config represents the daemon configuration
type Config struct {
	// Network
	NodeID     string            `json:"node_id"`
	ListenAddr string            `json:"listen_addr"`
	RelayAddr  string            `json:"relay_addr"`
	Peers      map[string]string `json:"peers"`

	// Pools
	Denominations  []uint64 `json:"denominations"`
	FeeBps         uint16   `json:"fee_bps"`
	FeeRecipient   string   `json:"fee_recipient"`
	TreeDepth      int      `json:"tree_depth"`
	CommitMinHours uint8    `json:"commit_min_hours"`
	CommitMaxHours uint8    `json:"commit_max_hours"`

	// Proof verification
	VerifierMode     string   `json:"verifier_mode"`
	VerifyingKeyPath string   `json:"verifying_key_path"`
	TrustedAttesters []string `json:"trusted_attesters"`

	// State. GenesisBalances seed the ledger when no state file exists.
	StatePath       string            `json:"state_path"`
	GenesisBalances map[string]uint64 `json:"genesis_balances"`

	// Logging
	LogLevel string `json:"log_level"`
	LogFile  string `json:"log_file"`

	// Performance
	SnapshotIntervalSeconds int `json:"snapshot_interval_seconds"`
	HealthIntervalSeconds   int `json:"health_interval_seconds"`
	TimeoutSeconds          int `json:"timeout_seconds"`
	RateLimitBurst          int `json:"rate_limit_burst"`
	RateLimitPerSecond      int `json:"rate_limit_per_second"`

	// Security
	EnableAudit  bool   `json:"enable_audit"`
	AuditLogPath string `json:"audit_log_path"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		NodeID:                  "node1",
		ListenAddr:              "127.0.0.1:8080",
		RelayAddr:               "127.0.0.1:9080",
		Peers:                   map[string]string{},
		Denominations:           append([]uint64(nil), pool.DefaultDenominations...),
		FeeBps:                  pool.DefaultFeeBps,
		TreeDepth:               20,
		CommitMinHours:          uint8(commitreveal.DefaultMinDelay.Hours()),
		CommitMaxHours:          uint8(commitreveal.DefaultMaxDelay.Hours()),
		VerifierMode:            VerifierGroth16,
		VerifyingKeyPath:        "keys/withdraw_vk.bin",
		StatePath:               "data/state.cbor",
		LogLevel:                "info",
		LogFile:                 "stealthd.log",
		SnapshotIntervalSeconds: 60,
		HealthIntervalSeconds:   30,
		TimeoutSeconds:          30,
		RateLimitBurst:          20,
		RateLimitPerSecond:      5,
		EnableAudit:             true,
		AuditLogPath:            "audit.log",
	}
}

// LoadConfig loads configuration from file or creates default
func LoadConfig(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); err == nil {
		file, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer file.Close()

		config := DefaultConfig()
		if err := json.NewDecoder(file).Decode(config); err != nil {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
		return config, nil
	}

	// Create default config and save it
	config := DefaultConfig()
	if err := SaveConfig(config, configPath); err != nil {
		return nil, fmt.Errorf("failed to save default config: %w", err)
	}
	return config, nil
}

// SaveConfig saves configuration to file
func SaveConfig(config *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := os.Create(configPath)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(config); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.NodeID == "" {
		return fmt.Errorf("node_id must be set")
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr must be set")
	}
	if len(c.Denominations) == 0 {
		return fmt.Errorf("at least one denomination must be enabled")
	}
	if len(c.Denominations) > pool.MaxDenominations {
		return fmt.Errorf("at most %d denominations may be enabled", pool.MaxDenominations)
	}
	if c.FeeBps > pool.MaxFeeBps {
		return fmt.Errorf("fee_bps must be at most %d", pool.MaxFeeBps)
	}
	if c.FeeRecipient != "" {
		if _, err := pool.ParseAccountID(c.FeeRecipient); err != nil {
			return fmt.Errorf("fee_recipient: %w", err)
		}
	}
	for acct := range c.GenesisBalances {
		if _, err := pool.ParseAccountID(acct); err != nil {
			return fmt.Errorf("genesis_balances: %w", err)
		}
	}
	if c.StatePath == "" {
		return fmt.Errorf("state_path must be set")
	}
	if c.TreeDepth < 1 || c.TreeDepth > 32 {
		return fmt.Errorf("tree_depth must be in [1, 32]")
	}
	if c.CommitMinHours == 0 || c.CommitMaxHours <= c.CommitMinHours {
		return fmt.Errorf("commit delays must satisfy 0 < min < max")
	}
	switch c.VerifierMode {
	case VerifierGroth16:
		if c.VerifyingKeyPath == "" {
			return fmt.Errorf("verifying_key_path must be set in groth16 mode")
		}
	case VerifierAttested:
		if len(c.TrustedAttesters) == 0 {
			return fmt.Errorf("trusted_attesters must list at least one key in attested mode")
		}
		for _, k := range c.TrustedAttesters {
			if b, err := hex.DecodeString(k); err != nil || len(b) != 32 {
				return fmt.Errorf("trusted attester %q is not a 32-byte hex key", k)
			}
		}
	default:
		return fmt.Errorf("verifier_mode must be %q or %q", VerifierGroth16, VerifierAttested)
	}
	if c.SnapshotIntervalSeconds <= 0 {
		return fmt.Errorf("snapshot_interval_seconds must be positive")
	}
	if c.HealthIntervalSeconds <= 0 {
		return fmt.Errorf("health_interval_seconds must be positive")
	}
	if c.TimeoutSeconds <= 0 {
		return fmt.Errorf("timeout_seconds must be positive")
	}
	if c.RateLimitBurst <= 0 || c.RateLimitPerSecond <= 0 {
		return fmt.Errorf("rate limits must be positive")
	}
	return nil
}
