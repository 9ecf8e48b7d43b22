package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stealthpool/internal/pool"
)

// =============================================================================
// FULL PROTOCOL FLOW
// =============================================================================

func TestFullProtocolFlow(t *testing.T) {
	if testing.Short() {
		t.Skip("groth16 setup in short mode")
	}
	var out bytes.Buffer
	res, err := run(context.Background(), 6, 4, t.TempDir(), &out)
	require.NoError(t, err, out.String())

	t.Run("Deposits", func(t *testing.T) {
		assert.Equal(t, 4, res.Deposits)
	})

	t.Run("Relayed Stealth Withdrawal", func(t *testing.T) {
		fee := pool.LamportsPerSOL / 100
		assert.Equal(t, pool.LamportsPerSOL-fee, res.RecipientBalance)
		assert.Equal(t, fee, res.RelayerBalance)
	})

	t.Run("Nullifier Replay", func(t *testing.T) {
		assert.True(t, res.ReplayRejected)
	})

	t.Run("Recipient Scan", func(t *testing.T) {
		assert.Equal(t, 1, res.Matches)
		assert.True(t, res.SignatureVerified)
	})

	t.Run("Commit Reveal", func(t *testing.T) {
		assert.True(t, res.DelayedWithdrawal)
		assert.Contains(t, out.String(), "delayed withdrawal")
	})

	t.Run("Transcript", func(t *testing.T) {
		log := out.String()
		assert.True(t, strings.HasPrefix(log, "circuit: depth 6"))
		assert.Contains(t, log, "stealth:")
		assert.NotContains(t, log, "reveal succeeded")
	})
}

func TestRunRejectsSingleDepositor(t *testing.T) {
	_, err := run(context.Background(), 6, 1, t.TempDir(), &bytes.Buffer{})
	assert.ErrorContains(t, err, "at least two")
}
