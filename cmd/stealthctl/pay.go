// pay.go - Stealth payment derivation for senders.

package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"stealthpool/internal/pool"
	"stealthpool/internal/stealth"
)

// StealthPayment is everything a sender needs to pay a stealth address
// through the pool and announce it.
type StealthPayment struct {
	Address      pool.AccountID `json:"address"`
	EphemeralPub [32]byte       `json:"-"`
	ScanPub      [32]byte       `json:"-"`
	SpendPub     [32]byte       `json:"-"`
	Commitment   [32]byte       `json:"-"`
}

type stealthPaymentJSON struct {
	Address      pool.AccountID `json:"address"`
	EphemeralPub string         `json:"ephemeral_pubkey"`
	ScanPub      string         `json:"scan_pubkey"`
	SpendPub     string         `json:"spend_pubkey"`
	Commitment   string         `json:"commitment"`
}

// MarshalJSON encodes the keys as hex.
func (p StealthPayment) MarshalJSON() ([]byte, error) {
	return json.Marshal(stealthPaymentJSON{
		Address:      p.Address,
		EphemeralPub: hex.EncodeToString(p.EphemeralPub[:]),
		ScanPub:      hex.EncodeToString(p.ScanPub[:]),
		SpendPub:     hex.EncodeToString(p.SpendPub[:]),
		Commitment:   hex.EncodeToString(p.Commitment[:]),
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *StealthPayment) UnmarshalJSON(b []byte) error {
	var j stealthPaymentJSON
	if err := json.Unmarshal(b, &j); err != nil {
		return err
	}
	var err error
	p.Address = j.Address
	if p.EphemeralPub, err = parseHex32(j.EphemeralPub); err != nil {
		return fmt.Errorf("ephemeral_pubkey: %w", err)
	}
	if p.ScanPub, err = parseHex32(j.ScanPub); err != nil {
		return fmt.Errorf("scan_pubkey: %w", err)
	}
	if p.SpendPub, err = parseHex32(j.SpendPub); err != nil {
		return fmt.Errorf("spend_pubkey: %w", err)
	}
	if p.Commitment, err = parseHex32(j.Commitment); err != nil {
		return fmt.Errorf("commitment: %w", err)
	}
	return nil
}

// newStealthPayment derives a one-time address for a meta-address.
func newStealthPayment(metaAddr string) (*StealthPayment, error) {
	meta, err := stealth.ParseMetaAddress(metaAddr)
	if err != nil {
		return nil, err
	}
	sa, err := meta.NewPayment()
	if err != nil {
		return nil, err
	}
	return &StealthPayment{
		Address:      pool.AccountID(sa.Address),
		EphemeralPub: sa.EphemeralPub,
		ScanPub:      meta.Scan,
		SpendPub:     meta.Spend,
		Commitment:   sa.Commitment,
	}, nil
}

func sendCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "send <meta-address>",
		Short: "Derive a one-time stealth address for a recipient",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pay, err := newStealthPayment(args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(c.stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(pay)
		},
	}
}

func readAnnouncements(path string) ([]stealth.Announcement, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var anns []stealth.Announcement
	if err := json.Unmarshal(data, &anns); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return anns, nil
}

func scanCmd(c *cli) *cobra.Command {
	var (
		since    int64
		file     string
		workers  int
		showKeys bool
	)
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Find announcements addressed to this wallet",
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, err := c.loadKeys()
			if err != nil {
				return err
			}
			defer keys.Wipe()

			var anns []stealth.Announcement
			if file != "" {
				anns, err = readAnnouncements(file)
			} else {
				anns, err = c.client().Announcements(cmd.Context(), since)
			}
			if err != nil {
				return err
			}

			matches, err := stealth.ScanAnnouncements(cmd.Context(), keys, anns, workers)
			if err != nil {
				return err
			}
			defer func() {
				for _, m := range matches {
					m.Result.Wipe()
				}
			}()

			c.printf("scanned %d announcements, %d addressed to you\n", len(anns), len(matches))
			if len(matches) == 0 {
				return nil
			}
			header := []string{"Address", "Amount", "Time"}
			if showKeys {
				header = append(header, "Spend Scalar")
			}
			table := tablewriter.NewWriter(c.stdout)
			table.Header(header)
			for _, m := range matches {
				row := []string{
					pool.AccountID(m.Result.Address).String(),
					strconv.FormatUint(m.Announcement.Amount, 10),
					time.Unix(m.Announcement.Timestamp, 0).UTC().Format(time.RFC3339),
				}
				if showKeys {
					s := m.Result.Scalar()
					row = append(row, hex.EncodeToString(s[:]))
				}
				if err := table.Append(row); err != nil {
					return err
				}
			}
			return table.Render()
		},
	}
	cmd.Flags().Int64Var(&since, "since", 0, "only announcements at or after this unix time")
	cmd.Flags().StringVar(&file, "file", "", "read announcements from a JSON file instead of the node")
	cmd.Flags().IntVar(&workers, "workers", 0, "parallel scan workers (default GOMAXPROCS)")
	cmd.Flags().BoolVar(&showKeys, "show-keys", false, "print the spending scalar of each match")
	return cmd
}
