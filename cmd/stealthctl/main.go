// main.go - Wallet and prover CLI for the shielded pool.
//
// stealthctl manages the encrypted stealth keystore, derives one-time
// payment addresses, scans announcements, creates notes and produces
// withdrawal proofs. Commands that talk to a pool daemon use --node.
//
// Usage:
//
//	stealthctl keygen --mnemonic
//	stealthctl send stealth:3Jx...
//	stealthctl scan --node http://127.0.0.1:8080
package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"stealthpool/internal/keystore"
)

const version = "0.3.0"

// passwordEnv lets scripts supply the keystore password non-interactively.
const passwordEnv = "STEALTH_PASSWORD"

// cli carries the global flags shared by every subcommand.
type cli struct {
	keystorePath string
	nodeURL      string
	keysDir      string
	kdf          *keystore.Params

	stdin  io.Reader
	stdout io.Writer
}

func (c *cli) store() (*keystore.Store, error) {
	path := c.keystorePath
	if path == "" {
		var err error
		if path, err = keystore.DefaultPath(); err != nil {
			return nil, err
		}
	}
	if c.kdf != nil {
		return keystore.New(path, keystore.WithParams(*c.kdf)), nil
	}
	return keystore.New(path), nil
}

func (c *cli) client() *Client {
	return NewClient(c.nodeURL)
}

// password reads the keystore password from the environment or the terminal.
func (c *cli) password(prompt string) (string, error) {
	if pw, ok := os.LookupEnv(passwordEnv); ok {
		return pw, nil
	}
	f, ok := c.stdin.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return "", fmt.Errorf("no terminal for password prompt; set %s", passwordEnv)
	}
	fmt.Fprint(c.stdout, prompt+": ")
	b, err := term.ReadPassword(int(f.Fd()))
	fmt.Fprintln(c.stdout)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(string(b), "\r\n"), nil
}

func (c *cli) printf(format string, args ...interface{}) {
	fmt.Fprintf(c.stdout, format, args...)
}

func newRootCmd(stdin io.Reader, stdout io.Writer) *cobra.Command {
	return (&cli{stdin: stdin, stdout: stdout}).rootCmd()
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "stealthctl",
		Short:         "Stealth address wallet and pool prover",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(c.stdout)
	root.PersistentFlags().StringVar(&c.keystorePath, "keystore", "", "encrypted key file (default ~/.stealth/keys.enc)")
	root.PersistentFlags().StringVar(&c.nodeURL, "node", "http://127.0.0.1:8080", "pool daemon API")
	root.PersistentFlags().StringVar(&c.keysDir, "keys-dir", "keys", "directory holding circuit keys")

	root.AddCommand(
		keygenCmd(c),
		metaCmd(c),
		viewKeyCmd(c),
		passwdCmd(c),
		sendCmd(c),
		scanCmd(c),
		noteCmd(c),
		depositCmd(c),
		setupCmd(c),
		proveCmd(c),
		withdrawCmd(c),
		poolsCmd(c),
	)
	return root
}

func main() {
	if err := newRootCmd(os.Stdin, os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "stealthctl:", err)
		os.Exit(1)
	}
}
