// Package p2p relays stealth payment announcements between daemons over a
// small HTTP JSON message network.
package p2p

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	messagePath    = "/message"
	maxMessageSize = 64 << 10
	seenLimit      = 100_000
)

// Handler processes a message of a registered type.
type Handler func(n *Node, msg Message)

// AnnouncementHandler receives announcements that reached this node for the
// first time.
type AnnouncementHandler func(p AnnouncementPayload)

// Option configures a Node.
type Option func(*Node)

// WithLogger sets the node logger.
func WithLogger(l zerolog.Logger) Option {
	return func(n *Node) { n.log = l }
}

// WithTimeout sets the per-request timeout for outgoing messages.
func WithTimeout(d time.Duration) Option {
	return func(n *Node) { n.client.Timeout = d }
}

// Node represents a daemon in the relay network.
type Node struct {
	ID      string
	Address string

	peersMu sync.RWMutex
	peers   map[string]string // Node ID to address

	server    *http.Server
	listener  net.Listener
	waitGroup *sync.WaitGroup
	client    *http.Client
	log       zerolog.Logger

	handlersMu sync.RWMutex
	handlers   map[string]Handler
	onAnnounce AnnouncementHandler

	healthMutex sync.Mutex
	health      map[string]bool
	pingNonce   uint64

	seenMu sync.Mutex
	seen   map[[32]byte]struct{}
}

// NewNode creates and initializes a new Node.
func NewNode(id, address string, peers map[string]string, wg *sync.WaitGroup, opts ...Option) *Node {
	n := &Node{
		ID:        id,
		Address:   address,
		peers:     make(map[string]string, len(peers)),
		waitGroup: wg,
		client:    &http.Client{Timeout: 5 * time.Second},
		log:       zerolog.Nop(),
		handlers:  make(map[string]Handler),
		health:    make(map[string]bool),
		seen:      make(map[[32]byte]struct{}),
	}
	for pid, addr := range peers {
		if pid != id {
			n.peers[pid] = addr
		}
	}
	for _, opt := range opts {
		opt(n)
	}
	n.log = n.log.With().Str("node", id).Logger()
	return n
}

// AddPeer adds or updates a peer address.
func (n *Node) AddPeer(id, address string) {
	if id == n.ID {
		return
	}
	n.peersMu.Lock()
	n.peers[id] = address
	n.peersMu.Unlock()
}

// PeerIDs returns the known peers in sorted order.
func (n *Node) PeerIDs() []string {
	n.peersMu.RLock()
	ids := make([]string, 0, len(n.peers))
	for id := range n.peers {
		ids = append(ids, id)
	}
	n.peersMu.RUnlock()
	sort.Strings(ids)
	return ids
}

func (n *Node) peerAddress(id string) (string, bool) {
	n.peersMu.RLock()
	defer n.peersMu.RUnlock()
	addr, ok := n.peers[id]
	return addr, ok
}

// RegisterHandler installs h for messages of type msgType. Ping and pong are
// handled internally; announcements should use OnAnnouncement.
func (n *Node) RegisterHandler(msgType string, h Handler) {
	n.handlersMu.Lock()
	n.handlers[msgType] = h
	n.handlersMu.Unlock()
}

// OnAnnouncement installs the callback for newly seen announcements.
func (n *Node) OnAnnouncement(h AnnouncementHandler) {
	n.handlersMu.Lock()
	n.onAnnounce = h
	n.handlersMu.Unlock()
}

// messageHandler is the HTTP handler for receiving messages.
func (n *Node) messageHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var msg Message
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxMessageSize)).Decode(&msg); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		n.log.Warn().Err(err).Msg("bad message")
		return
	}
	n.log.Debug().Str("type", msg.Type).Str("from", msg.SenderID).Msg("message received")

	switch msg.Type {
	case TypePing:
		var ping PingPayload
		if err := json.Unmarshal(msg.Payload, &ping); err != nil {
			http.Error(w, "invalid ping", http.StatusBadRequest)
			return
		}
		// Answer on a separate request so the handler does not block.
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), n.client.Timeout)
			defer cancel()
			if err := n.SendMessage(ctx, msg.SenderID, TypePong, ping); err != nil {
				n.log.Warn().Err(err).Str("peer", msg.SenderID).Msg("pong failed")
			}
		}()

	case TypePong:
		n.healthMutex.Lock()
		if _, ok := n.health[msg.SenderID]; ok {
			n.health[msg.SenderID] = true
		}
		n.healthMutex.Unlock()

	case TypeAnnouncement:
		var p AnnouncementPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			http.Error(w, "invalid announcement", http.StatusBadRequest)
			n.log.Warn().Err(err).Str("from", msg.SenderID).Msg("bad announcement")
			return
		}
		n.receiveAnnouncement(p, msg.SenderID)

	default:
		n.handlersMu.RLock()
		h, ok := n.handlers[msg.Type]
		n.handlersMu.RUnlock()
		if !ok {
			n.log.Warn().Str("type", msg.Type).Msg("unknown message type")
			http.Error(w, "unknown message type", http.StatusBadRequest)
			return
		}
		h(n, msg)
	}

	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "Message received")
}

func announcementID(p AnnouncementPayload) ([32]byte, error) {
	b, err := p.Announcement.MarshalBinary()
	if err != nil {
		return [32]byte{}, err
	}
	var d [8]byte
	for i := 0; i < 8; i++ {
		d[i] = byte(p.Denomination >> (8 * i))
	}
	return sha256.Sum256(append(b, d[:]...)), nil
}

// markSeen returns false if the announcement was already relayed.
func (n *Node) markSeen(p AnnouncementPayload) bool {
	id, err := announcementID(p)
	if err != nil {
		return false
	}
	n.seenMu.Lock()
	defer n.seenMu.Unlock()
	if _, dup := n.seen[id]; dup {
		return false
	}
	if len(n.seen) >= seenLimit {
		n.seen = make(map[[32]byte]struct{})
	}
	n.seen[id] = struct{}{}
	return true
}

func (n *Node) receiveAnnouncement(p AnnouncementPayload, from string) {
	if !n.markSeen(p) {
		return
	}
	n.handlersMu.RLock()
	h := n.onAnnounce
	n.handlersMu.RUnlock()
	if h != nil {
		h(p)
	}

	// Flood to everyone except the sender.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), n.client.Timeout)
		defer cancel()
		if err := n.broadcast(ctx, TypeAnnouncement, p, from); err != nil {
			n.log.Debug().Err(err).Msg("announcement forward incomplete")
		}
	}()
}

// PublishAnnouncement relays a locally created announcement to all peers.
func (n *Node) PublishAnnouncement(ctx context.Context, denomination uint64, a AnnouncementJSON) error {
	p := AnnouncementPayload{Denomination: denomination, Announcement: a}
	if !n.markSeen(p) {
		return nil
	}
	return n.broadcast(ctx, TypeAnnouncement, p, "")
}

// StartServer starts the node's HTTP server in a new goroutine.
// It signals on the 'ready' channel once the server is actively listening.
// Address is updated to the bound address, so ":0" picks a free port.
func (n *Node) StartServer(ready chan<- struct{}) error {
	mux := http.NewServeMux()
	mux.HandleFunc(messagePath, n.messageHandler)

	n.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	listener, err := net.Listen("tcp", n.Address)
	if err != nil {
		return fmt.Errorf("p2p listen %s: %w", n.Address, err)
	}
	n.listener = listener
	n.Address = listener.Addr().String()

	n.waitGroup.Add(1)
	go func() {
		defer n.waitGroup.Done()
		n.log.Info().Str("addr", n.Address).Msg("relay server starting")

		ready <- struct{}{}

		if err := n.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			n.log.Error().Err(err).Msg("relay server failed")
		}
		n.log.Info().Msg("relay server stopped")
	}()
	return nil
}

// Shutdown stops the HTTP server.
func (n *Node) Shutdown(ctx context.Context) error {
	if n.server == nil {
		return nil
	}
	return n.server.Shutdown(ctx)
}

// SendMessage sends a message to another node in the network.
// The payload can be any struct that is marshallable to JSON.
func (n *Node) SendMessage(ctx context.Context, targetID, messageType string, payload interface{}) error {
	targetAddress, ok := n.peerAddress(targetID)
	if !ok {
		return fmt.Errorf("peer '%s' not found in directory", targetID)
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	msg := Message{
		Type:     messageType,
		Payload:  payloadBytes,
		SenderID: n.ID,
	}

	messageBytes, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message envelope: %w", err)
	}

	n.log.Debug().Str("type", messageType).Str("peer", targetID).Msg("sending message")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://"+targetAddress+messagePath, bytes.NewReader(messageBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("peer returned non-OK status: %s", resp.Status)
	}
	return nil
}

// Broadcast sends a message to every known peer concurrently. The returned
// error joins the per-peer failures.
func (n *Node) Broadcast(ctx context.Context, messageType string, payload interface{}) error {
	return n.broadcast(ctx, messageType, payload, "")
}

func (n *Node) broadcast(ctx context.Context, messageType string, payload interface{}, skip string) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, id := range n.PeerIDs() {
		if id == skip {
			continue
		}
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if err := n.SendMessage(ctx, id, messageType, payload); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", id, err))
				mu.Unlock()
			}
		}(id)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// HealthCheck pings every peer. Peers are marked healthy when their pong
// arrives; a peer whose ping fails is marked unhealthy immediately.
func (n *Node) HealthCheck(ctx context.Context) {
	n.healthMutex.Lock()
	n.pingNonce++
	nonce := n.pingNonce
	n.healthMutex.Unlock()

	for _, id := range n.PeerIDs() {
		n.healthMutex.Lock()
		if _, ok := n.health[id]; !ok {
			n.health[id] = false
		}
		n.healthMutex.Unlock()

		if err := n.SendMessage(ctx, id, TypePing, PingPayload{Nonce: nonce}); err != nil {
			n.log.Warn().Err(err).Str("peer", id).Msg("ping failed")
			n.healthMutex.Lock()
			n.health[id] = false
			n.healthMutex.Unlock()
		}
	}
}

// Health returns the last known peer health.
func (n *Node) Health() map[string]bool {
	n.healthMutex.Lock()
	defer n.healthMutex.Unlock()
	out := make(map[string]bool, len(n.health))
	for k, v := range n.health {
		out[k] = v
	}
	return out
}
