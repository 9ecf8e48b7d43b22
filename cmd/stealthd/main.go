// main.go - Pool daemon.
//
// stealthd hosts one shielded pool per enabled denomination behind an HTTP
// API, runs delayed withdrawals through the commit-reveal registry and
// relays stealth payment announcements to its peers.
//
// Usage:
//
//	stealthd --config stealthd.json
package main

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"stealthpool/internal/attest"
	"stealthpool/internal/commitreveal"
	"stealthpool/internal/groth16"
	"stealthpool/internal/pool"
	"stealthpool/p2p"
)

const version = "0.3.0"


func main() {
	var configPath string
	cmd := &cobra.Command{
		Use:           "stealthd",
		Short:         "Shielded pool daemon",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "stealthd.json", "config file (created with defaults if missing)")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "stealthd:", err)
		os.Exit(1)
	}
}

// timedVerifier records verification latency.
type timedVerifier struct {
	inner   pool.ProofVerifier
	metrics *MetricsCollector
}

func (v timedVerifier) VerifyProof(proof []byte, inputs [][32]byte) (bool, error) {
	start := time.Now()
	ok, err := v.inner.VerifyProof(proof, inputs)
	v.metrics.RecordProofVerification(time.Since(start), ok && err == nil)
	return ok, err
}

func buildVerifier(cfg *Config) (pool.ProofVerifier, error) {
	switch cfg.VerifierMode {
	case VerifierAttested:
		if len(cfg.TrustedAttesters) == 0 {
			return nil, errors.New("attested mode needs at least one trusted attester")
		}
		keys := make([]ed25519.PublicKey, 0, len(cfg.TrustedAttesters))
		for _, k := range cfg.TrustedAttesters {
			b, err := hex.DecodeString(k)
			if err != nil {
				return nil, err
			}
			if len(b) != ed25519.PublicKeySize {
				return nil, fmt.Errorf("trusted attester %q: %d bytes", k, len(b))
			}
			keys = append(keys, ed25519.PublicKey(b))
		}
		return attest.NewAttestedVerifier(attest.WithTrusted(keys...)), nil
	default:
		vk, err := os.ReadFile(cfg.VerifyingKeyPath)
		if err != nil {
			return nil, fmt.Errorf("read verifying key: %w", err)
		}
		return groth16.NewVerifier(vk)
	}
}

// buildRegistry enables exactly the configured denominations.
func buildRegistry(cfg *Config) (*pool.DenominationRegistry, error) {
	reg := pool.NewDenominationRegistry()
	allowCustom := true
	if err := reg.Update(pool.RegistryUpdate{AllowCustom: &allowCustom}); err != nil {
		return nil, err
	}
	want := make(map[uint64]bool, len(cfg.Denominations))
	for _, d := range cfg.Denominations {
		want[d] = true
	}
	for _, d := range reg.Enabled() {
		if !want[d] {
			if err := reg.Remove(d); err != nil {
				return nil, err
			}
		}
	}
	for d := range want {
		if !reg.IsEnabled(d) {
			if err := reg.Add(d); err != nil {
				return nil, err
			}
		}
	}
	return reg, nil
}

// genesisLedger starts a ledger funded with the genesis balances.
func genesisLedger(cfg *Config) (*pool.MemoryLedger, error) {
	l := pool.NewMemoryLedger()
	for acct, amount := range cfg.GenesisBalances {
		id, err := pool.ParseAccountID(acct)
		if err != nil {
			return nil, err
		}
		if err := l.Credit(id, amount); err != nil {
			return nil, err
		}
	}
	return l, nil
}

func run(ctx context.Context, configPath string) error {
	// 1. Configuration and logging
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	auditPath := ""
	if cfg.EnableAudit {
		auditPath = cfg.AuditLogPath
	}
	log, err := NewLogger(cfg.LogLevel, cfg.LogFile, auditPath)
	if err != nil {
		return err
	}
	defer log.Close()
	log.Info().Str("version", version).Str("node", cfg.NodeID).Msg("stealthd starting")

	// 2. Ledger, verifier, pools
	ledger, err := genesisLedger(cfg)
	if err != nil {
		return fmt.Errorf("genesis balances: %w", err)
	}
	metrics := NewMetricsCollector()
	prom := NewPromMetrics()
	inner, err := buildVerifier(cfg)
	if err != nil {
		return err
	}
	verifier := timedVerifier{inner: inner, metrics: metrics}

	registry, err := buildRegistry(cfg)
	if err != nil {
		return fmt.Errorf("denominations: %w", err)
	}
	poolCfg := pool.DefaultConfig()
	poolCfg.FeeBps = cfg.FeeBps
	if cfg.FeeRecipient != "" {
		poolCfg.FeeRecipient, _ = pool.ParseAccountID(cfg.FeeRecipient)
	}
	manager, err := pool.NewManager(registry, ledger, verifier,
		pool.WithLogger(log.With().Str("component", "pool").Logger()),
		pool.WithDepth(cfg.TreeDepth),
		pool.WithConfig(poolCfg),
	)
	if err != nil {
		return err
	}
	commits := commitreveal.NewRegistry(manager, commitreveal.WithLogger(log.With().Str("component", "commitreveal").Logger()))
	state := NewStateStore(cfg.StatePath, manager, commits, ledger)
	restored, err := state.Load()
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	log.Info().Int("pools", len(manager.Pools())).Bool("restored", restored).Msg("pools ready")

	// 3. Relay
	var (
		relay   *p2p.Node
		relayWG sync.WaitGroup
	)
	if cfg.RelayAddr != "" {
		relay = p2p.NewNode(cfg.NodeID, cfg.RelayAddr, cfg.Peers, &relayWG,
			p2p.WithLogger(log.With().Str("component", "relay").Logger()),
			p2p.WithTimeout(time.Duration(cfg.TimeoutSeconds)*time.Second))
		ready := make(chan struct{}, 1)
		if err := relay.StartServer(ready); err != nil {
			return err
		}
		<-ready
	}

	// 4. Health
	health := NewHealthChecker(version)
	health.RegisterComponent("ledger", func() error {
		for _, p := range manager.Pools() {
			if _, err := ledger.Balance(ctx, p.Account()); err != nil {
				return err
			}
		}
		return nil
	})
	health.RegisterComponent("pools", func() error {
		for _, p := range manager.Pools() {
			st := p.Stats()
			if !st.Active {
				return Degrade(fmt.Errorf("pool %d inactive", st.Denomination))
			}
			if st.Leaves == st.Capacity {
				return Degrade(fmt.Errorf("pool %d tree full", st.Denomination))
			}
		}
		return nil
	})
	if relay != nil {
		health.RegisterComponent("relay", func() error {
			down := 0
			for _, ok := range relay.Health() {
				if !ok {
					down++
				}
			}
			if down > 0 {
				return Degrade(fmt.Errorf("%d of %d peers unreachable", down, len(relay.PeerIDs())))
			}
			return nil
		})
	}

	// 5. Serve
	srv := NewServer(cfg, log, manager, commits, state, relay, metrics, prom, health)
	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.ListenAddr).Msg("API listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		t := time.NewTicker(time.Duration(cfg.SnapshotIntervalSeconds) * time.Second)
		defer t.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-t.C:
				if err := state.Save(); err != nil {
					log.Error().Err(err).Msg("snapshot failed")
				}
			}
		}
	})
	g.Go(func() error {
		t := time.NewTicker(time.Duration(cfg.HealthIntervalSeconds) * time.Second)
		defer t.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-t.C:
				if relay != nil {
					relay.HealthCheck(gctx)
				}
				for _, p := range manager.Pools() {
					st := p.Stats()
					metrics.RecordPoolStats(st)
					prom.ObservePool(st)
				}
				srv.limiter.Prune(10 * time.Minute)
				health.CheckHealth()
			}
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := httpServer.Shutdown(shutdownCtx)
		if relay != nil {
			err = errors.Join(err, relay.Shutdown(shutdownCtx))
			relayWG.Wait()
		}
		return err
	})

	err = g.Wait()
	if perr := state.Save(); perr != nil {
		log.Error().Err(perr).Msg("final snapshot failed")
		err = errors.Join(err, perr)
	}
	log.Info().Msg("stealthd stopped")
	return err
}
