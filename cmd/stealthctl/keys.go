// keys.go - Key management commands: keygen, meta, view-key and passwd.

package main

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"stealthpool/internal/keystore"
	"stealthpool/internal/stealth"
)

func keygenCmd(c *cli) *cobra.Command {
	var (
		mnemonic bool
		restore  string
		force    bool
	)
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate stealth keys and store them encrypted",
		Long: `Generate a scan/spend key pair and save it to the keystore.

With --mnemonic the keys are derived from a new BIP39 phrase, which is
printed once. --restore re-derives keys from an existing phrase.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := c.store()
			if err != nil {
				return err
			}
			if store.Exists() && !force {
				return fmt.Errorf("keystore %s already exists (use --force to overwrite)", store.Path())
			}

			var (
				keys   *stealth.Keys
				phrase string
			)
			switch {
			case restore != "":
				phrase = restore
				keys, err = stealth.FromMnemonic(phrase, "")
			case mnemonic:
				if phrase, err = stealth.NewMnemonic(); err == nil {
					keys, err = stealth.FromMnemonic(phrase, "")
				}
			default:
				keys, err = stealth.Generate()
			}
			if err != nil {
				return err
			}
			defer keys.Wipe()

			pw, err := c.password("New keystore password")
			if err != nil {
				return err
			}
			if err := store.Save(keys, pw); err != nil {
				return err
			}

			c.printf("keystore: %s\n", store.Path())
			c.printf("meta-address: %s\n", keys.MetaAddress())
			if mnemonic && restore == "" {
				c.printf("mnemonic (write it down, it is not stored): %s\n", phrase)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&mnemonic, "mnemonic", false, "derive keys from a new BIP39 mnemonic")
	cmd.Flags().StringVar(&restore, "restore", "", "derive keys from an existing mnemonic")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing keystore")
	return cmd
}

// loadKeys opens the keystore with a prompted password.
func (c *cli) loadKeys() (*stealth.Keys, error) {
	store, err := c.store()
	if err != nil {
		return nil, err
	}
	if !store.Exists() {
		return nil, fmt.Errorf("no keystore at %s (run keygen first)", store.Path())
	}
	pw, err := c.password("Keystore password")
	if err != nil {
		return nil, err
	}
	keys, err := store.Load(pw)
	if errors.Is(err, keystore.ErrWrongPassword) {
		return nil, errors.New("wrong password")
	}
	return keys, err
}

func metaCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "meta",
		Short: "Print the meta-address senders pay to",
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, err := c.loadKeys()
			if err != nil {
				return err
			}
			defer keys.Wipe()
			c.printf("%s\n", keys.MetaAddress())
			return nil
		},
	}
}

func viewKeyCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "viewkey",
		Short: "Export the watch-only view key (scan secret and spend public key)",
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, err := c.loadKeys()
			if err != nil {
				return err
			}
			defer keys.Wipe()
			scan, _ := keys.Export()
			c.printf("scan_secret: %s\n", hex.EncodeToString(scan[:]))
			c.printf("spend_pubkey: %s\n", hex.EncodeToString(keys.SpendPub[:]))
			return nil
		},
	}
}

func passwdCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "passwd",
		Short: "Change the keystore password",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := c.store()
			if err != nil {
				return err
			}
			oldPW, err := c.password("Current password")
			if err != nil {
				return err
			}
			newPW, err := c.password("New password")
			if err != nil {
				return err
			}
			if err := store.ChangePassword(oldPW, newPW); err != nil {
				return err
			}
			c.printf("password changed\n")
			return nil
		},
	}
}
