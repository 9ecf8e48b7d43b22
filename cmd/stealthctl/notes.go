// notes.go - Note, proof and leaf files written and read by the CLI.

package main

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"stealthpool/internal/circuit"
	"stealthpool/internal/merkle"
	"stealthpool/internal/pool"
)

const (
	provingKeyFile      = "withdraw_pk.bin"
	gnarkVerifyingKey   = "withdraw_vk.gnark"
	compactVerifyingKey = "withdraw_vk.bin"
	defaultNoteFile     = "note.json"
	defaultProofFile    = "withdrawal.json"
	defaultLeavesFile   = "leaves.json"
	noteFileMode        = 0o600
)

// noteFile is a note as kept by its owner. Stealth is set when the note pays
// a one-time address.
type noteFile struct {
	Note    circuit.Note    `json:"note"`
	Stealth *StealthPayment `json:"stealth,omitempty"`
}

// proofFile is a ready-to-submit withdrawal.
type proofFile struct {
	Denomination  uint64          `json:"denomination"`
	Root          string          `json:"root"`
	NullifierHash string          `json:"nullifier_hash"`
	Recipient     pool.AccountID  `json:"recipient"`
	Proof         string          `json:"proof"`
	Stealth       *StealthPayment `json:"stealth,omitempty"`
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}
	return os.WriteFile(path, append(data, '\n'), noteFileMode)
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// readLeaves loads a JSON array of hex commitments; a missing file is empty.
func readLeaves(path string) ([][32]byte, error) {
	var hexes []string
	if err := readJSON(path, &hexes); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	leaves := make([][32]byte, len(hexes))
	for i, h := range hexes {
		l, err := parseHex32(h)
		if err != nil {
			return nil, fmt.Errorf("leaf %d: %w", i, err)
		}
		leaves[i] = l
	}
	return leaves, nil
}

func writeLeaves(path string, leaves [][32]byte) error {
	hexes := make([]string, len(leaves))
	for i, l := range leaves {
		hexes[i] = hex.EncodeToString(l[:])
	}
	return writeJSON(path, hexes)
}

func noteCmd(c *cli) *cobra.Command {
	var (
		amount    uint64
		recipient string
		to        string
		out       string
	)
	cmd := &cobra.Command{
		Use:   "note",
		Short: "Create a note for a future deposit",
		Long: `Create a note binding a denomination to a withdrawal recipient.

The recipient is either a plain account (--recipient) or a fresh
one-time address derived from a meta-address (--to).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if amount == 0 {
				return errors.New("--amount is required")
			}
			nf := noteFile{}
			var acct pool.AccountID
			switch {
			case to != "" && recipient != "":
				return errors.New("use either --recipient or --to")
			case to != "":
				pay, err := newStealthPayment(to)
				if err != nil {
					return err
				}
				nf.Stealth = pay
				acct = pay.Address
			case recipient != "":
				var err error
				if acct, err = pool.ParseAccountID(recipient); err != nil {
					return err
				}
			default:
				return errors.New("one of --recipient or --to is required")
			}

			note, err := circuit.NewNote(amount, acct)
			if err != nil {
				return err
			}
			nf.Note = *note
			if err := writeJSON(out, nf); err != nil {
				return err
			}
			cm := note.Commitment()
			c.printf("note: %s\ncommitment: %s\nrecipient: %s\n", out, hex.EncodeToString(cm[:]), acct)
			return nil
		},
	}
	cmd.Flags().Uint64Var(&amount, "amount", 0, "denomination in lamports")
	cmd.Flags().StringVar(&recipient, "recipient", "", "withdrawal account (base58)")
	cmd.Flags().StringVar(&to, "to", "", "recipient meta-address")
	cmd.Flags().StringVarP(&out, "out", "o", defaultNoteFile, "note file")
	return cmd
}

func depositCmd(c *cli) *cobra.Command {
	var (
		notePath   string
		from       string
		leavesPath string
	)
	cmd := &cobra.Command{
		Use:   "deposit",
		Short: "Deposit a note's commitment into its pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			depositor, err := pool.ParseAccountID(from)
			if err != nil {
				return fmt.Errorf("--from: %w", err)
			}
			var nf noteFile
			if err := readJSON(notePath, &nf); err != nil {
				return err
			}
			cm := nf.Note.Commitment()
			res, err := c.client().Deposit(cmd.Context(), depositor, cm, nf.Note.Amount)
			if err != nil {
				return err
			}

			// 1. Record the leaf index in the note
			nf.Note.LeafIndex = res.LeafIndex
			if err := writeJSON(notePath, nf); err != nil {
				return err
			}

			// 2. Track the leaf locally when the file is in step with the pool
			leaves, err := readLeaves(leavesPath)
			if err != nil {
				return err
			}
			if uint64(len(leaves)) == res.LeafIndex {
				if err := writeLeaves(leavesPath, append(leaves, cm)); err != nil {
					return err
				}
			} else {
				c.printf("warning: %s has %d leaves, pool is at %d; refresh it before proving\n",
					leavesPath, len(leaves), res.LeafIndex)
			}

			c.printf("deposited into pool %d at leaf %d\nroot: %s\n", res.Denomination, res.LeafIndex, res.Root)
			return nil
		},
	}
	cmd.Flags().StringVar(&notePath, "note", defaultNoteFile, "note file")
	cmd.Flags().StringVar(&from, "from", "", "depositor account (base58)")
	cmd.Flags().StringVar(&leavesPath, "leaves", defaultLeavesFile, "local copy of the pool's leaves")
	return cmd
}

func setupCmd(c *cli) *cobra.Command {
	var depth int
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Compile the withdraw circuit and generate its keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := os.MkdirAll(c.keysDir, 0o755); err != nil {
				return err
			}
			ccs, err := circuit.Compile(depth)
			if err != nil {
				return err
			}
			c.printf("circuit: depth %d, %d constraints\n", depth, ccs.GetNbConstraints())

			_, vk, err := circuit.SetupOrLoadKeys(ccs,
				filepath.Join(c.keysDir, provingKeyFile),
				filepath.Join(c.keysDir, gnarkVerifyingKey))
			if err != nil {
				return err
			}
			compact, err := circuit.ExportVerifyingKey(vk)
			if err != nil {
				return err
			}
			vkPath := filepath.Join(c.keysDir, compactVerifyingKey)
			if err := os.WriteFile(vkPath, compact, 0o644); err != nil {
				return err
			}
			c.printf("verifying key for stealthd: %s\n", vkPath)
			return nil
		},
	}
	cmd.Flags().IntVar(&depth, "depth", merkle.DefaultDepth, "merkle tree depth")
	return cmd
}

func proveCmd(c *cli) *cobra.Command {
	var (
		depth      int
		notePath   string
		leavesPath string
		out        string
	)
	cmd := &cobra.Command{
		Use:   "prove",
		Short: "Prove a withdrawal of a deposited note",
		RunE: func(cmd *cobra.Command, args []string) error {
			var nf noteFile
			if err := readJSON(notePath, &nf); err != nil {
				return err
			}
			leaves, err := readLeaves(leavesPath)
			if err != nil {
				return err
			}
			path, err := merkle.BuildPath(depth, leaves, nf.Note.LeafIndex)
			if err != nil {
				return err
			}
			if leaves[nf.Note.LeafIndex] != nf.Note.Commitment() {
				return fmt.Errorf("leaf %d is not this note's commitment", nf.Note.LeafIndex)
			}

			ccs, err := circuit.Compile(depth)
			if err != nil {
				return err
			}
			pk, err := circuit.LoadProvingKey(filepath.Join(c.keysDir, provingKeyFile))
			if err != nil {
				return fmt.Errorf("load proving key (run setup first): %w", err)
			}
			root := path.Root(nf.Note.Commitment())
			w, err := circuit.NewProver(ccs, pk, depth).ProveWithdraw(&nf.Note, path, root)
			if err != nil {
				return err
			}

			pf := proofFile{
				Denomination:  w.Amount,
				Root:          hex.EncodeToString(w.Root[:]),
				NullifierHash: hex.EncodeToString(w.NullifierHash[:]),
				Recipient:     w.Recipient,
				Proof:         hex.EncodeToString(w.Proof),
				Stealth:       nf.Stealth,
			}
			if err := writeJSON(out, pf); err != nil {
				return err
			}
			c.printf("proof: %s\nroot: %s\nnullifier hash: %s\n", out, pf.Root, pf.NullifierHash)
			return nil
		},
	}
	cmd.Flags().IntVar(&depth, "depth", merkle.DefaultDepth, "merkle tree depth")
	cmd.Flags().StringVar(&notePath, "note", defaultNoteFile, "note file")
	cmd.Flags().StringVar(&leavesPath, "leaves", defaultLeavesFile, "pool leaves in insertion order")
	cmd.Flags().StringVarP(&out, "out", "o", defaultProofFile, "withdrawal file")
	return cmd
}

func (p *proofFile) params(fee uint64, relayer pool.AccountID) (WithdrawParams, error) {
	root, err := parseHex32(p.Root)
	if err != nil {
		return WithdrawParams{}, fmt.Errorf("root: %w", err)
	}
	nh, err := parseHex32(p.NullifierHash)
	if err != nil {
		return WithdrawParams{}, fmt.Errorf("nullifier_hash: %w", err)
	}
	proof, err := hex.DecodeString(p.Proof)
	if err != nil {
		return WithdrawParams{}, fmt.Errorf("proof: %w", err)
	}
	return WithdrawParams{
		Denomination:  p.Denomination,
		Root:          root,
		NullifierHash: nh,
		Recipient:     p.Recipient,
		Proof:         proof,
		RelayerFee:    fee,
		Relayer:       relayer,
	}, nil
}

func withdrawCmd(c *cli) *cobra.Command {
	var (
		proofPath string
		fee       uint64
		relayer   string
	)
	cmd := &cobra.Command{
		Use:   "withdraw",
		Short: "Submit a proven withdrawal to the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			var pf proofFile
			if err := readJSON(proofPath, &pf); err != nil {
				return err
			}
			var rel pool.AccountID
			if relayer != "" {
				var err error
				if rel, err = pool.ParseAccountID(relayer); err != nil {
					return fmt.Errorf("--relayer: %w", err)
				}
			}
			params, err := pf.params(fee, rel)
			if err != nil {
				return err
			}

			var rcpt *Receipt
			if pf.Stealth != nil {
				rcpt, err = c.client().WithdrawToStealth(cmd.Context(), params, pf.Stealth)
			} else {
				rcpt, err = c.client().Withdraw(cmd.Context(), params)
			}
			if err != nil {
				return err
			}
			c.printf("withdrew %d to %s (relayer fee %d)\n", rcpt.Amount-rcpt.RelayerFee, rcpt.Recipient, rcpt.RelayerFee)
			return nil
		},
	}
	cmd.Flags().StringVar(&proofPath, "proof", defaultProofFile, "withdrawal file from prove")
	cmd.Flags().Uint64Var(&fee, "fee", 0, "relayer fee in lamports")
	cmd.Flags().StringVar(&relayer, "relayer", "", "relayer account (base58)")
	return cmd
}

func poolsCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "pools",
		Short: "List the daemon's pools",
		RunE: func(cmd *cobra.Command, args []string) error {
			pools, err := c.client().Pools(cmd.Context())
			if err != nil {
				return err
			}
			table := tablewriter.NewWriter(c.stdout)
			table.Header([]string{"Denomination", "Active", "Leaves", "Capacity", "Nullifiers", "Held"})
			for _, p := range pools {
				if err := table.Append([]string{
					strconv.FormatUint(p.Denomination, 10),
					strconv.FormatBool(p.Active),
					strconv.FormatUint(p.Leaves, 10),
					strconv.FormatUint(p.Capacity, 10),
					strconv.Itoa(p.Nullifiers),
					strconv.FormatUint(p.TotalDeposited-p.TotalWithdrawn, 10),
				}); err != nil {
					return err
				}
			}
			return table.Render()
		},
	}
}
