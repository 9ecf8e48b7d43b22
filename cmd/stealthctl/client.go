// client.go - HTTP client for the pool daemon API
package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"stealthpool/internal/pool"
	"stealthpool/internal/stealth"
)

// APIError is an error reply from the daemon.
type APIError struct {
	Status  int
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

// Client calls one daemon.
type Client struct {
	base string
	http *http.Client
}

// NewClient creates a client for the daemon at base.
func NewClient(base string) *Client {
	return &Client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 2 * time.Minute},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error APIError `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || e.Error.Code == "" {
			return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
		}
		e.Error.Status = resp.StatusCode
		return &e.Error
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func hexString(b []byte) string { return hex.EncodeToString(b) }

func parseHex32(s string) ([32]byte, error) {
	var out [32]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, err
	}
	if len(b) != 32 {
		return out, fmt.Errorf("expected 32 bytes, got %d", len(b))
	}
	copy(out[:], b)
	return out, nil
}

// PoolInfo is one row of GET /pools.
type PoolInfo struct {
	Denomination   uint64 `json:"denomination"`
	Active         bool   `json:"active"`
	Root           string `json:"root"`
	Leaves         uint64 `json:"leaves"`
	Capacity       uint64 `json:"capacity"`
	Nullifiers     int    `json:"nullifiers"`
	TotalDeposited uint64 `json:"total_deposited"`
	TotalWithdrawn uint64 `json:"total_withdrawn"`
}

// Pools lists the daemon's pools.
func (c *Client) Pools(ctx context.Context) ([]PoolInfo, error) {
	var out []PoolInfo
	err := c.do(ctx, http.MethodGet, "/pools", nil, &out)
	return out, err
}

// DepositResult is the reply to a deposit.
type DepositResult struct {
	LeafIndex    uint64 `json:"leaf_index"`
	Denomination uint64 `json:"denomination"`
	Root         string `json:"root"`
}

// Deposit inserts commitment into the pool for amount.
func (c *Client) Deposit(ctx context.Context, depositor pool.AccountID, commitment [32]byte, amount uint64) (*DepositResult, error) {
	var out DepositResult
	err := c.do(ctx, http.MethodPost, "/deposit", map[string]interface{}{
		"depositor":  depositor,
		"commitment": hexString(commitment[:]),
		"amount":     amount,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Receipt is the reply to a withdrawal.
type Receipt struct {
	Denomination  uint64         `json:"denomination"`
	NullifierHash string         `json:"nullifier_hash"`
	Recipient     pool.AccountID `json:"recipient"`
	Amount        uint64         `json:"amount"`
	RelayerFee    uint64         `json:"relayer_fee"`
	SpentAt       time.Time      `json:"spent_at"`
}

// WithdrawParams are the public values of a withdrawal.
type WithdrawParams struct {
	Denomination  uint64
	Root          [32]byte
	NullifierHash [32]byte
	Recipient     pool.AccountID
	Proof         []byte
	RelayerFee    uint64
	Relayer       pool.AccountID
}

func (p WithdrawParams) body() map[string]interface{} {
	return map[string]interface{}{
		"denomination":   p.Denomination,
		"root":           hexString(p.Root[:]),
		"nullifier_hash": hexString(p.NullifierHash[:]),
		"recipient":      p.Recipient,
		"proof":          hexString(p.Proof),
		"relayer_fee":    p.RelayerFee,
		"relayer":        p.Relayer,
	}
}

// Withdraw submits a plain withdrawal.
func (c *Client) Withdraw(ctx context.Context, p WithdrawParams) (*Receipt, error) {
	var out Receipt
	if err := c.do(ctx, http.MethodPost, "/withdraw", p.body(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// WithdrawToStealth submits a withdrawal whose recipient is a stealth
// address, publishing its announcement.
func (c *Client) WithdrawToStealth(ctx context.Context, p WithdrawParams, pay *StealthPayment) (*Receipt, error) {
	body := p.body()
	body["stealth_address"] = hexString(pay.Address[:])
	body["ephemeral_pubkey"] = hexString(pay.EphemeralPub[:])
	body["scan_pubkey"] = hexString(pay.ScanPub[:])
	body["spend_pubkey"] = hexString(pay.SpendPub[:])
	body["commitment"] = hexString(pay.Commitment[:])

	var out Receipt
	if err := c.do(ctx, http.MethodPost, "/withdraw/stealth", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type announcementReply struct {
	EphemeralPub   string         `json:"ephemeral_pubkey"`
	StealthAddress pool.AccountID `json:"stealth_address"`
	Commitment     string         `json:"commitment"`
	Amount         uint64         `json:"amount"`
	Slot           uint64         `json:"slot"`
	Timestamp      int64          `json:"timestamp"`
}

// Announcements fetches announcements with timestamp >= since.
func (c *Client) Announcements(ctx context.Context, since int64) ([]stealth.Announcement, error) {
	q := url.Values{}
	q.Set("since", strconv.FormatInt(since, 10))
	var replies []announcementReply
	if err := c.do(ctx, http.MethodGet, "/announcements?"+q.Encode(), nil, &replies); err != nil {
		return nil, err
	}

	out := make([]stealth.Announcement, 0, len(replies))
	for _, r := range replies {
		eph, err := parseHex32(r.EphemeralPub)
		if err != nil {
			return nil, fmt.Errorf("ephemeral_pubkey: %w", err)
		}
		cm, err := parseHex32(r.Commitment)
		if err != nil {
			return nil, fmt.Errorf("commitment: %w", err)
		}
		out = append(out, stealth.Announcement{
			EphemeralPub:   eph,
			StealthAddress: r.StealthAddress,
			Commitment:     cm,
			Amount:         r.Amount,
			Slot:           r.Slot,
			Timestamp:      r.Timestamp,
		})
	}
	return out, nil
}
