// message.go - Relay message envelope and payloads.

package p2p

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"stealthpool/internal/stealth"
)

// Message types understood by every node.
const (
	TypeAnnouncement = "announcement"
	TypePing         = "ping"
	TypePong         = "pong"
)

// Message is the generic envelope for any message sent over the network.
type Message struct {
	Type     string          `json:"type"`
	Payload  json.RawMessage `json:"payload"`
	SenderID string          `json:"senderId"`
}

// AnnouncementJSON carries a stealth.Announcement as base64 of its fixed
// binary layout.
type AnnouncementJSON struct {
	stealth.Announcement
}

// MarshalJSON implements the json.Marshaler interface.
func (a AnnouncementJSON) MarshalJSON() ([]byte, error) {
	b, err := a.Announcement.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return json.Marshal(base64.StdEncoding.EncodeToString(b))
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (a *AnnouncementJSON) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("announcement: %w", err)
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return fmt.Errorf("announcement: %w", err)
	}
	return a.Announcement.UnmarshalBinary(b)
}

// AnnouncementPayload is a stealth payment announced by a pool.
type AnnouncementPayload struct {
	Denomination uint64           `json:"denomination"`
	Announcement AnnouncementJSON `json:"announcement"`
}

// PingPayload asks a peer to answer with a pong echoing Nonce.
type PingPayload struct {
	Nonce uint64 `json:"nonce"`
}
