// main.go - End-to-end stealth pool scenario.
//
// This walks one private payment through every layer of the system:
//   - the recipient publishes a stealth meta-address
//   - N depositors fund a fixed-denomination pool; one of them pays the
//     recipient through a one-time stealth address
//   - a relayer submits the Groth16 withdrawal proof and takes a fee
//   - the recipient scans the public announcements, recovers the spending
//     key and signs with it
//   - a second withdrawal goes through the commit-reveal delay
//
// Usage:
//
//	go run . [-n 10] [-depth 10]
package main

import (
	"context"
	"crypto/ed25519"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"stealthpool/internal/circuit"
	"stealthpool/internal/commitreveal"
	"stealthpool/internal/groth16"
	"stealthpool/internal/merkle"
	"stealthpool/internal/pool"
	"stealthpool/internal/stealth"
)

// =============================================================================
// SCENARIO STATE
// =============================================================================

// party is a funded ledger account.
type party struct {
	Name    string
	Account pool.AccountID
}

// scenario holds everything shared between the phases.
type scenario struct {
	depth        int
	denomination uint64
	out          io.Writer

	ledger  *pool.MemoryLedger
	manager *pool.Manager
	prover  *circuit.Prover
	commits *commitreveal.Registry
	now     time.Time

	depositors []party
	relayer    party
	recipient  *stealth.Keys

	leaves [][32]byte
	notes  []*circuit.Note
}

// result summarizes a completed run.
type result struct {
	Deposits          int
	StealthAddress    pool.AccountID
	RecipientBalance  uint64
	RelayerBalance    uint64
	ReplayRejected    bool
	Matches           int
	SignatureVerified bool
	DelayedWithdrawal bool
}

func (s *scenario) logf(format string, args ...interface{}) {
	fmt.Fprintf(s.out, format+"\n", args...)
}

func (s *scenario) clock() time.Time { return s.now }

// =============================================================================
// PHASE 1: SETUP
// =============================================================================

// newScenario compiles the circuit, runs the trusted setup into keyDir and builds
// the pool manager around a Groth16 verifier.
func newScenario(depth, participants int, keyDir string, out io.Writer) (*scenario, error) {
	s := &scenario{
		depth:        depth,
		denomination: pool.LamportsPerSOL,
		out:          out,
		ledger:       pool.NewMemoryLedger(),
		now:          time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
	}

	// 1. Circuit and keys
	ccs, err := circuit.Compile(depth)
	if err != nil {
		return nil, err
	}
	pk, vk, err := circuit.SetupOrLoadKeys(ccs, filepath.Join(keyDir, "withdraw.pk"), filepath.Join(keyDir, "withdraw.vk"))
	if err != nil {
		return nil, err
	}
	vkBin, err := circuit.ExportVerifyingKey(vk)
	if err != nil {
		return nil, err
	}
	verifier, err := groth16.NewVerifier(vkBin)
	if err != nil {
		return nil, err
	}
	s.prover = circuit.NewProver(ccs, pk, depth)
	s.logf("circuit: depth %d, %d constraints", depth, ccs.GetNbConstraints())

	// 2. Pools with a zero deposit fee so balances stay round
	s.manager, err = pool.NewManager(pool.NewDenominationRegistry(), s.ledger, verifier,
		pool.WithDepth(depth),
		pool.WithConfig(pool.Config{}),
		pool.WithLogger(zerolog.Nop()),
		pool.WithClock(s.clock))
	if err != nil {
		return nil, err
	}
	s.commits = commitreveal.NewRegistry(s.manager, commitreveal.WithClock(s.clock))

	// 3. Parties
	for i := 0; i < participants; i++ {
		p := party{Name: fmt.Sprintf("depositor%d", i+1), Account: pool.AccountID{0xd0, byte(i)}}
		if err := s.ledger.Credit(p.Account, 10*s.denomination); err != nil {
			return nil, err
		}
		s.depositors = append(s.depositors, p)
	}
	s.relayer = party{Name: "relayer", Account: pool.AccountID{0xee}}
	if s.recipient, err = stealth.Generate(); err != nil {
		return nil, err
	}
	s.logf("recipient meta-address: %s", s.recipient.MetaAddress())
	return s, nil
}

// =============================================================================
// PHASE 2: DEPOSITS
// =============================================================================

// deposit has every depositor insert one note. The first pays the stealth
// recipient; the others pay themselves and act as the anonymity set.
func (s *scenario) deposit(ctx context.Context) (*stealth.StealthAddress, error) {
	pay, err := s.recipient.MetaAddress().NewPayment()
	if err != nil {
		return nil, err
	}

	for i, d := range s.depositors {
		to := d.Account
		if i == 0 {
			to = pool.AccountID(pay.Address)
		}
		note, err := circuit.NewNote(s.denomination, to)
		if err != nil {
			return nil, err
		}
		idx, err := s.manager.Deposit(ctx, d.Account, note.Commitment(), s.denomination)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", d.Name, err)
		}
		note.LeafIndex = idx
		s.notes = append(s.notes, note)
		s.leaves = append(s.leaves, note.Commitment())
		s.now = s.now.Add(time.Minute)
	}
	s.logf("deposits: %d notes in pool %d", len(s.notes), s.denomination)
	return pay, nil
}

func (s *scenario) prove(note *circuit.Note) (*circuit.Withdrawal, error) {
	path, err := merkle.BuildPath(s.depth, s.leaves, note.LeafIndex)
	if err != nil {
		return nil, err
	}
	return s.prover.ProveWithdraw(note, path, path.Root(note.Commitment()))
}

// =============================================================================
// PHASE 3: RELAYED STEALTH WITHDRAWAL
// =============================================================================

func (s *scenario) withdrawToStealth(ctx context.Context, pay *stealth.StealthAddress) (replayRejected bool, err error) {
	w, err := s.prove(s.notes[0])
	if err != nil {
		return false, err
	}
	fee := s.denomination / 100
	req := pool.StealthWithdrawRequest{
		WithdrawRequest: w.Request(fee, s.relayer.Account),
		StealthAddress:  pay.Address,
		EphemeralPub:    pay.EphemeralPub,
		ScanPub:         s.recipient.ScanPub,
		SpendPub:        s.recipient.SpendPub,
		Commitment:      pay.Commitment,
	}
	rcpt, err := s.manager.WithdrawToStealth(ctx, s.denomination, req)
	if err != nil {
		return false, err
	}
	s.logf("withdrawal: %d to %s, relayer fee %d", rcpt.Amount-rcpt.RelayerFee, rcpt.Recipient, rcpt.RelayerFee)

	// Submitting the same proof again must fail on the nullifier.
	_, err = s.manager.WithdrawToStealth(ctx, s.denomination, req)
	replayRejected = pool.IsReplay(err)
	s.logf("replay rejected: %v (%v)", replayRejected, err)
	return replayRejected, nil
}

// =============================================================================
// PHASE 4: RECIPIENT SCAN AND SPEND
// =============================================================================

func (s *scenario) scan(ctx context.Context) (matches int, verified bool, err error) {
	found, err := stealth.ScanAnnouncements(ctx, s.recipient, s.manager.Announcements(), 0)
	if err != nil {
		return 0, false, err
	}
	s.logf("scan: %d announcements, %d match", len(s.manager.Announcements()), len(found))
	if len(found) == 0 {
		return 0, false, nil
	}
	defer func() {
		for _, m := range found {
			m.Result.Wipe()
		}
	}()

	signer, err := found[0].Result.Signer()
	if err != nil {
		return len(found), false, err
	}
	defer signer.Wipe()
	msg := []byte("transfer from stealth address")
	sig := signer.Sign(msg)
	verified = ed25519.Verify(ed25519.PublicKey(found[0].Result.Address[:]), msg, sig)
	s.logf("spend signature verifies under the stealth address: %v", verified)
	return len(found), verified, nil
}

// =============================================================================
// PHASE 5: COMMIT-REVEAL WITHDRAWAL
// =============================================================================

func (s *scenario) delayedWithdrawal(ctx context.Context) (bool, error) {
	if len(s.notes) < 2 {
		return false, nil
	}
	note := s.notes[1]
	owner := s.depositors[1].Account
	w, err := s.prove(note)
	if err != nil {
		return false, err
	}

	var userRandom [32]byte
	userRandom[0] = 0x42
	const nonce = 7
	hash := commitreveal.ComputeHash(w.Proof, w.Recipient, userRandom, nonce)
	if _, err := s.commits.Commit(owner, hash, s.denomination, 1, 6); err != nil {
		return false, err
	}

	params := commitreveal.RevealParams{
		Denomination: s.denomination,
		Withdraw:     w.Request(0, pool.AccountID{}),
		UserRandom:   userRandom,
		Nonce:        nonce,
	}
	if _, err := s.commits.Reveal(ctx, owner, hash, params); err == nil {
		return false, errors.New("reveal succeeded before the minimum delay")
	}
	s.now = s.now.Add(2 * time.Hour)
	rcpt, err := s.commits.Reveal(ctx, owner, hash, params)
	if err != nil {
		return false, err
	}
	s.logf("delayed withdrawal: %d to %s after commit-reveal", rcpt.Amount, rcpt.Recipient)
	return true, nil
}

// =============================================================================
// DRIVER
// =============================================================================

func run(ctx context.Context, depth, participants int, keyDir string, out io.Writer) (*result, error) {
	if participants < 2 {
		return nil, errors.New("need at least two depositors")
	}
	s, err := newScenario(depth, participants, keyDir, out)
	if err != nil {
		return nil, fmt.Errorf("setup: %w", err)
	}

	pay, err := s.deposit(ctx)
	if err != nil {
		return nil, fmt.Errorf("deposit: %w", err)
	}
	res := &result{Deposits: len(s.notes), StealthAddress: pool.AccountID(pay.Address)}

	if res.ReplayRejected, err = s.withdrawToStealth(ctx, pay); err != nil {
		return nil, fmt.Errorf("stealth withdrawal: %w", err)
	}
	if res.Matches, res.SignatureVerified, err = s.scan(ctx); err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	if res.DelayedWithdrawal, err = s.delayedWithdrawal(ctx); err != nil {
		return nil, fmt.Errorf("commit-reveal: %w", err)
	}

	res.RecipientBalance, _ = s.ledger.Balance(ctx, res.StealthAddress)
	res.RelayerBalance, _ = s.ledger.Balance(ctx, s.relayer.Account)
	s.recipient.Wipe()
	return res, nil
}

func main() {
	os.Exit(realMain())
}

func realMain() int {
	n := flag.Int("n", 10, "number of depositors")
	depth := flag.Int("depth", 10, "merkle tree depth")
	flag.Parse()

	keyDir, err := os.MkdirTemp("", "stealthpool-demo")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer os.RemoveAll(keyDir)

	res, err := run(context.Background(), *depth, *n, keyDir, os.Stdout)
	if err != nil {
		fmt.Fprintln(os.Stderr, "scenario failed:", err)
		return 1
	}
	fmt.Printf("\n=== Summary ===\nrecipient %s holds %d, relayer holds %d\n",
		res.StealthAddress, res.RecipientBalance, res.RelayerBalance)
	return 0
}
