// api.go - HTTP API of the pool daemon
package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"stealthpool/internal/commitreveal"
	"stealthpool/internal/pool"
	"stealthpool/internal/stealth"
	"stealthpool/p2p"
)

const (
	codeMalformed      = "MALFORMED"
	codeInvalidProof   = "INVALID_PROOF"
	codePolicy         = "POLICY_REJECTED"
	codeNotFound       = "NOT_FOUND"
	codeReplay         = "REPLAY"
	codeResource       = "INSUFFICIENT_RESOURCES"
	codeRateLimited    = "RATE_LIMIT_EXCEEDED"
	codeUnauthorized   = "UNAUTHORIZED"
	codeInternal       = "INTERNAL"
	maxRemoteAnnounces = 10_000
)

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorDetail `json:"error"`
}

// hex32 is a 32-byte value in hex.
type hex32 [32]byte

func (h hex32) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(h[:])), nil
}

func (h *hex32) UnmarshalText(b []byte) error {
	raw, err := hex.DecodeString(string(b))
	if err != nil {
		return err
	}
	if len(raw) != len(h) {
		return fmt.Errorf("expected 32 bytes, got %d", len(raw))
	}
	copy(h[:], raw)
	return nil
}

// hexBytes is a variable-length value in hex.
type hexBytes []byte

func (h hexBytes) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(h)), nil
}

func (h *hexBytes) UnmarshalText(b []byte) error {
	raw, err := hex.DecodeString(string(b))
	if err != nil {
		return err
	}
	*h = raw
	return nil
}

type depositRequest struct {
	Depositor  pool.AccountID `json:"depositor" binding:"required"`
	Commitment hex32          `json:"commitment" binding:"required"`
	Amount     uint64         `json:"amount" binding:"required"`
}

type depositResponse struct {
	LeafIndex    uint64 `json:"leaf_index"`
	Denomination uint64 `json:"denomination"`
	Root         hex32  `json:"root"`
}

type withdrawBody struct {
	Denomination  uint64         `json:"denomination" binding:"required"`
	Root          hex32          `json:"root"`
	NullifierHash hex32          `json:"nullifier_hash"`
	Recipient     pool.AccountID `json:"recipient"`
	Proof         hexBytes       `json:"proof" binding:"required"`
	RelayerFee    uint64         `json:"relayer_fee"`
	Relayer       pool.AccountID `json:"relayer"`
	// RecipientField is optional and checked against Recipient.
	RecipientField *hex32 `json:"recipient_field"`
}

func (w withdrawBody) request() pool.WithdrawRequest {
	req := pool.WithdrawRequest{
		Root:          w.Root,
		NullifierHash: w.NullifierHash,
		Recipient:     w.Recipient,
		Proof:         w.Proof,
		RelayerFee:    w.RelayerFee,
		Relayer:       w.Relayer,
	}
	if w.RecipientField != nil {
		rf := [32]byte(*w.RecipientField)
		req.RecipientField = &rf
	}
	return req
}

type stealthWithdrawBody struct {
	withdrawBody
	StealthAddress hex32 `json:"stealth_address"`
	EphemeralPub   hex32 `json:"ephemeral_pubkey"`
	ScanPub        hex32 `json:"scan_pubkey"`
	SpendPub       hex32 `json:"spend_pubkey"`
	Commitment     hex32 `json:"commitment"`
}

type commitBody struct {
	Owner        pool.AccountID `json:"owner"`
	Hash         hex32          `json:"hash"`
	Denomination uint64         `json:"denomination" binding:"required"`
	MinHours     *uint8         `json:"min_hours"`
	MaxHours     *uint8         `json:"max_hours"`
}

type revealBody struct {
	withdrawBody
	Owner      pool.AccountID `json:"owner"`
	Hash       hex32          `json:"hash"`
	UserRandom hex32          `json:"user_random"`
	Nonce      uint64         `json:"nonce"`
}

// ownerBody names a commitment and carries the owner's signature over
// the commitment hash.
type ownerBody struct {
	Owner     pool.AccountID `json:"owner"`
	Hash      hex32          `json:"hash"`
	Signature hexBytes       `json:"signature" binding:"required"`
}

type announcementView struct {
	EphemeralPub   hex32  `json:"ephemeral_pubkey"`
	StealthAddress string `json:"stealth_address"`
	Commitment     hex32  `json:"commitment"`
	Amount         uint64 `json:"amount"`
	Slot           uint64 `json:"slot"`
	Timestamp      int64  `json:"timestamp"`
	Source         string `json:"source"`
}

func viewAnnouncement(a stealth.Announcement, source string) announcementView {
	return announcementView{
		EphemeralPub:   a.EphemeralPub,
		StealthAddress: pool.AccountID(a.StealthAddress).String(),
		Commitment:     a.Commitment,
		Amount:         a.Amount,
		Slot:           a.Slot,
		Timestamp:      a.Timestamp,
		Source:         source,
	}
}

type receiptView struct {
	Denomination  uint64            `json:"denomination"`
	NullifierHash hex32             `json:"nullifier_hash"`
	Recipient     pool.AccountID    `json:"recipient"`
	Amount        uint64            `json:"amount"`
	RelayerFee    uint64            `json:"relayer_fee"`
	SpentAt       time.Time         `json:"spent_at"`
	Announcement  *announcementView `json:"announcement,omitempty"`
}

func viewReceipt(r *pool.Receipt) receiptView {
	v := receiptView{
		Denomination:  r.Denomination,
		NullifierHash: r.NullifierHash,
		Recipient:     r.Recipient,
		Amount:        r.Amount,
		RelayerFee:    r.RelayerFee,
		SpentAt:       r.SpentAt,
	}
	if r.Announcement != nil {
		a := viewAnnouncement(*r.Announcement, "local")
		v.Announcement = &a
	}
	return v
}

type commitmentView struct {
	Owner        pool.AccountID `json:"owner"`
	Hash         hex32          `json:"hash"`
	Denomination uint64         `json:"denomination"`
	CommitTime   time.Time      `json:"commit_time"`
	MinDelay     string         `json:"min_delay"`
	MaxDelay     string         `json:"max_delay"`
	Executed     bool           `json:"executed"`
	Cancelled    bool           `json:"cancelled"`
}

func viewCommitment(c *commitreveal.Commitment) commitmentView {
	return commitmentView{
		Owner:        c.Owner,
		Hash:         c.Hash,
		Denomination: c.Denomination,
		CommitTime:   c.CommitTime,
		MinDelay:     c.MinDelay.String(),
		MaxDelay:     c.MaxDelay.String(),
		Executed:     c.Executed,
		Cancelled:    c.Cancelled,
	}
}

// remoteFeed buffers announcements received from relay peers.
type remoteFeed struct {
	mu    sync.RWMutex
	items []announcementView
	seen  map[[32]byte]struct{}
}

func (f *remoteFeed) add(a stealth.Announcement) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seen == nil {
		f.seen = make(map[[32]byte]struct{})
	}
	if _, dup := f.seen[a.Commitment]; dup {
		return false
	}
	if len(f.items) >= maxRemoteAnnounces {
		drop := f.items[0]
		delete(f.seen, drop.Commitment)
		f.items = f.items[1:]
	}
	f.seen[a.Commitment] = struct{}{}
	f.items = append(f.items, viewAnnouncement(a, "relay"))
	return true
}

func (f *remoteFeed) list() []announcementView {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]announcementView(nil), f.items...)
}

// Server wires the pools, commit-reveal registry and relay to HTTP.
type Server struct {
	cfg     *Config
	log     *Logger
	manager *pool.Manager
	commits *commitreveal.Registry
	state   *StateStore
	relay   *p2p.Node
	metrics *MetricsCollector
	prom    *PromMetrics
	health  *HealthChecker
	limiter *ClientRateLimiter
	remote  remoteFeed
	engine  *gin.Engine
}

// NewServer builds the router. state and relay may be nil.
func NewServer(cfg *Config, log *Logger, manager *pool.Manager, commits *commitreveal.Registry, state *StateStore,
	relay *p2p.Node, metrics *MetricsCollector, prom *PromMetrics, health *HealthChecker) *Server {
	s := &Server{
		cfg:     cfg,
		log:     log,
		manager: manager,
		commits: commits,
		state:   state,
		relay:   relay,
		metrics: metrics,
		prom:    prom,
		health:  health,
		limiter: NewClientRateLimiter(cfg.RateLimitBurst, cfg.RateLimitPerSecond, time.Second),
	}
	if relay != nil {
		relay.OnAnnouncement(s.onRelayedAnnouncement)
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger(), prom.Middleware())

	r.GET("/health", s.getHealth)
	r.GET("/metrics", s.getMetrics)
	r.GET("/metrics/prometheus", prom.Handler())

	api := r.Group("/", s.limiter.Middleware(metrics))
	api.GET("/root", s.getRoot)
	api.GET("/pools", s.getPools)
	api.GET("/announcements", s.getAnnouncements)
	api.GET("/commitments/:owner", s.getCommitments)
	api.POST("/deposit", s.postDeposit)
	api.POST("/withdraw", s.postWithdraw)
	api.POST("/withdraw/stealth", s.postWithdrawStealth)
	api.POST("/commit", s.postCommit)
	api.POST("/reveal", s.postReveal)
	api.POST("/cancel", s.postCancel)
	api.POST("/close", s.postClose)

	s.engine = r
	return s
}

// Handler exposes the router.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		s.metrics.RecordRequest(c.FullPath(), status)
		ev := s.log.Info()
		switch {
		case status >= 500:
			ev = s.log.Error()
		case status >= 400:
			ev = s.log.Warn()
		}
		ev.Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("HTTP request")
	}
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, pool.ErrDenominationNotEnabled), errors.Is(err, commitreveal.ErrCommitmentNotFound):
		return http.StatusNotFound, codeNotFound
	case errors.Is(err, commitreveal.ErrNotOwner):
		return http.StatusForbidden, codeUnauthorized
	}
	switch pool.Classify(err) {
	case pool.KindMalformed:
		return http.StatusBadRequest, codeMalformed
	case pool.KindCrypto:
		return http.StatusUnprocessableEntity, codeInvalidProof
	case pool.KindPolicy:
		return http.StatusConflict, codePolicy
	case pool.KindReplay:
		return http.StatusConflict, codeReplay
	case pool.KindResource:
		return http.StatusUnprocessableEntity, codeResource
	default:
		return http.StatusInternalServerError, codeInternal
	}
}

func (s *Server) fail(c *gin.Context, op string, err error) {
	status, code := statusFor(err)
	s.metrics.RecordRejection(op, err)
	s.prom.Operation(op, err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.log.Error().Err(err).Str("op", op).Msg("internal error")
		msg = "internal error"
	}
	c.AbortWithStatusJSON(status, errorResponse{Error: errorDetail{Code: code, Message: msg}})
}

func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{Error: errorDetail{Code: codeMalformed, Message: err.Error()}})
}

func (s *Server) timeout(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), time.Duration(s.cfg.TimeoutSeconds)*time.Second)
}

// apply runs a state change inside the persistence barrier.
func (s *Server) apply(fn func() error) error {
	if s.state == nil {
		return fn()
	}
	return s.state.Apply(fn)
}

func short(b []byte) string {
	return hex.EncodeToString(b[:4])
}

func (s *Server) getHealth(c *gin.Context) {
	h := s.health.CheckHealth()
	status := http.StatusOK
	if h.OverallStatus == Unhealthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, CreateHealthResponse(h))
}

func (s *Server) getMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.metrics.GetMetricsSummary())
}

func (s *Server) getRoot(c *gin.Context) {
	d, err := strconv.ParseUint(c.Query("denomination"), 10, 64)
	if err != nil {
		badRequest(c, fmt.Errorf("denomination: %w", err))
		return
	}
	p, err := s.manager.Pool(d)
	if err != nil {
		s.fail(c, "root", err)
		return
	}
	st := p.Stats()
	c.JSON(http.StatusOK, gin.H{"denomination": d, "root": hex32(st.Root), "leaves": st.Leaves})
}

func (s *Server) getPools(c *gin.Context) {
	pools := s.manager.Pools()
	out := make([]gin.H, 0, len(pools))
	for _, p := range pools {
		st := p.Stats()
		out = append(out, gin.H{
			"denomination":    st.Denomination,
			"active":          st.Active,
			"root":            hex32(st.Root),
			"leaves":          st.Leaves,
			"capacity":        st.Capacity,
			"nullifiers":      st.Nullifiers,
			"total_deposited": st.TotalDeposited,
			"total_withdrawn": st.TotalWithdrawn,
		})
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) getAnnouncements(c *gin.Context) {
	var since int64
	if q := c.Query("since"); q != "" {
		v, err := strconv.ParseInt(q, 10, 64)
		if err != nil {
			badRequest(c, fmt.Errorf("since: %w", err))
			return
		}
		since = v
	}

	local := s.manager.Announcements()
	out := make([]announcementView, 0, len(local))
	for _, a := range local {
		if a.Timestamp >= since {
			out = append(out, viewAnnouncement(a, "local"))
		}
	}
	for _, a := range s.remote.list() {
		if a.Timestamp >= since {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	c.JSON(http.StatusOK, out)
}

func (s *Server) getCommitments(c *gin.Context) {
	owner, err := pool.ParseAccountID(c.Param("owner"))
	if err != nil {
		badRequest(c, err)
		return
	}
	ts, err := strconv.ParseInt(c.Query("ts"), 10, 64)
	if err != nil {
		badRequest(c, fmt.Errorf("ts: %w", err))
		return
	}
	sig, err := hex.DecodeString(c.Query("sig"))
	if err != nil {
		badRequest(c, fmt.Errorf("sig: %w", err))
		return
	}
	if err := commitreveal.VerifyListRequest(owner, ts, sig, time.Now()); err != nil {
		s.fail(c, "list_commitments", err)
		return
	}
	list := s.commits.List(owner)
	out := make([]commitmentView, 0, len(list))
	for i := range list {
		out = append(out, viewCommitment(&list[i]))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) postDeposit(c *gin.Context) {
	var req depositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ctx, cancel := s.timeout(c)
	defer cancel()

	var idx uint64
	err := s.apply(func() (err error) {
		idx, err = s.manager.Deposit(ctx, req.Depositor, req.Commitment, req.Amount)
		return err
	})
	if err != nil {
		s.fail(c, "deposit", err)
		return
	}
	p, _ := s.manager.Pool(req.Amount)
	s.metrics.RecordDeposit(req.Amount)
	s.prom.Operation("deposit", nil)
	s.log.Audit("deposit", map[string]interface{}{
		"denomination": req.Amount,
		"leaf_index":   idx,
		"commitment":   short(req.Commitment[:]),
	})
	c.JSON(http.StatusOK, depositResponse{LeafIndex: idx, Denomination: req.Amount, Root: p.Root()})
}

func (s *Server) postWithdraw(c *gin.Context) {
	var req withdrawBody
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ctx, cancel := s.timeout(c)
	defer cancel()

	var rcpt *pool.Receipt
	err := s.apply(func() (err error) {
		rcpt, err = s.manager.Withdraw(ctx, req.Denomination, req.request())
		return err
	})
	if err != nil {
		s.fail(c, "withdraw", err)
		return
	}
	s.recordWithdrawal("withdraw", rcpt, false)
	c.JSON(http.StatusOK, viewReceipt(rcpt))
}

func (s *Server) postWithdrawStealth(c *gin.Context) {
	var req stealthWithdrawBody
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ctx, cancel := s.timeout(c)
	defer cancel()

	var rcpt *pool.Receipt
	err := s.apply(func() (err error) {
		rcpt, err = s.manager.WithdrawToStealth(ctx, req.Denomination, pool.StealthWithdrawRequest{
			WithdrawRequest: req.request(),
			StealthAddress:  req.StealthAddress,
			EphemeralPub:    req.EphemeralPub,
			ScanPub:         req.ScanPub,
			SpendPub:        req.SpendPub,
			Commitment:      req.Commitment,
		})
		return err
	})
	if err != nil {
		s.fail(c, "withdraw_stealth", err)
		return
	}
	s.recordWithdrawal("withdraw_stealth", rcpt, true)
	if rcpt.Announcement != nil {
		s.publish(rcpt.Denomination, *rcpt.Announcement)
	}
	c.JSON(http.StatusOK, viewReceipt(rcpt))
}

func (s *Server) recordWithdrawal(op string, rcpt *pool.Receipt, toStealth bool) {
	s.metrics.RecordWithdrawal(rcpt.Denomination, toStealth)
	s.prom.Operation(op, nil)
	s.log.Audit(op, map[string]interface{}{
		"denomination":   rcpt.Denomination,
		"nullifier_hash": short(rcpt.NullifierHash[:]),
		"relayer_fee":    rcpt.RelayerFee,
	})
}

func (s *Server) publish(denomination uint64, a stealth.Announcement) {
	if s.relay == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(s.cfg.TimeoutSeconds)*time.Second)
		defer cancel()
		if err := s.relay.PublishAnnouncement(ctx, denomination, p2p.AnnouncementJSON{Announcement: a}); err != nil {
			s.log.Warn().Err(err).Msg("announcement relay incomplete")
			return
		}
		s.metrics.IncrementCounter(MetricAnnouncementsRelay, map[string]string{"direction": "out"})
	}()
}

func (s *Server) onRelayedAnnouncement(p p2p.AnnouncementPayload) {
	if !stealth.ValidatePoint(p.Announcement.EphemeralPub) {
		s.log.Warn().Msg("dropping relayed announcement with invalid ephemeral key")
		return
	}
	if s.remote.add(p.Announcement.Announcement) {
		s.metrics.IncrementCounter(MetricAnnouncementsRelay, map[string]string{"direction": "in"})
	}
}

func (s *Server) postCommit(c *gin.Context) {
	var req commitBody
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	minH, maxH := s.cfg.CommitMinHours, s.cfg.CommitMaxHours
	if req.MinHours != nil {
		minH = *req.MinHours
	}
	if req.MaxHours != nil {
		maxH = *req.MaxHours
	}

	var cm *commitreveal.Commitment
	err := s.apply(func() (err error) {
		cm, err = s.commits.Commit(req.Owner, req.Hash, req.Denomination, minH, maxH)
		return err
	})
	if err != nil {
		s.fail(c, "commit", err)
		return
	}
	s.metrics.IncrementCounter(MetricCommitmentCount, map[string]string{"action": "commit"})
	s.prom.Operation("commit", nil)
	s.log.Audit("commit", map[string]interface{}{
		"owner":        req.Owner.String(),
		"hash":         short(req.Hash[:]),
		"denomination": req.Denomination,
	})
	c.JSON(http.StatusOK, viewCommitment(cm))
}

func (s *Server) postReveal(c *gin.Context) {
	var req revealBody
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ctx, cancel := s.timeout(c)
	defer cancel()

	var rcpt *pool.Receipt
	err := s.apply(func() (err error) {
		rcpt, err = s.commits.Reveal(ctx, req.Owner, req.Hash, commitreveal.RevealParams{
			Denomination: req.Denomination,
			Withdraw:     req.request(),
			UserRandom:   req.UserRandom,
			Nonce:        req.Nonce,
		})
		return err
	})
	if err != nil {
		s.fail(c, "reveal", err)
		return
	}
	s.metrics.IncrementCounter(MetricCommitmentCount, map[string]string{"action": "reveal"})
	s.recordWithdrawal("reveal", rcpt, false)
	c.JSON(http.StatusOK, viewReceipt(rcpt))
}

func (s *Server) postCancel(c *gin.Context) {
	s.ownerAction(c, commitreveal.ActionCancel, "cancelled", s.commits.Cancel)
}

func (s *Server) postClose(c *gin.Context) {
	s.ownerAction(c, commitreveal.ActionClose, "closed", s.commits.Close)
}

// ownerAction runs a cancel or close after checking the owner's signature.
func (s *Server) ownerAction(c *gin.Context, action, done string, fn func(pool.AccountID, [32]byte) error) {
	var req ownerBody
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := commitreveal.VerifyOwner(req.Owner, action, req.Hash[:], req.Signature); err != nil {
		s.fail(c, action, err)
		return
	}
	if err := s.apply(func() error { return fn(req.Owner, req.Hash) }); err != nil {
		s.fail(c, action, err)
		return
	}
	s.metrics.IncrementCounter(MetricCommitmentCount, map[string]string{"action": action})
	s.prom.Operation(action, nil)
	s.log.Audit(action, map[string]interface{}{"owner": req.Owner.String(), "hash": short(req.Hash[:])})
	c.JSON(http.StatusOK, gin.H{done: true})
}
