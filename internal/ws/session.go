package ws

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/dgnsrekt/schedule-live/internal/data"
	"github.com/dgnsrekt/schedule-live/internal/live"
	"github.com/dgnsrekt/schedule-live/internal/metrics"
)

// Options tunes the session handler.
type Options struct {
	AllowedOrigins  []string // "*" or empty allows every origin
	MaxConnsPerUser int      // 0 disables the cap
	HandshakeRate   float64  // accepted handshakes per second, 0 disables
	HandshakeBurst  int
	SendBuffer      int
	ReadLimit       int64
	WriteWait       time.Duration
	Location        *time.Location // calendar for "today"
}

// Handler upgrades /ws requests and runs one session per connection.
type Handler struct {
	registry *live.Registry
	source   data.SnapshotSource
	clock    clockwork.Clock
	opts     Options
	upgrader websocket.Upgrader
	limiter  *rate.Limiter
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

func NewHandler(registry *live.Registry, source data.SnapshotSource, clock clockwork.Clock, opts Options, m *metrics.Metrics, logger *zap.Logger) *Handler {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 256
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = 10 * time.Second
	}

	limit := rate.Inf
	if opts.HandshakeRate > 0 {
		limit = rate.Limit(opts.HandshakeRate)
	}

	h := &Handler{
		registry: registry,
		source:   source,
		clock:    clock,
		opts:     opts,
		limiter:  rate.NewLimiter(limit, max(opts.HandshakeBurst, 1)),
		metrics:  m,
		logger:   logger,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.opts.AllowedOrigins) == 0 || slices.Contains(h.opts.AllowedOrigins, "*") {
		return true
	}
	return slices.Contains(h.opts.AllowedOrigins, origin)
}

// ServeHTTP handles /ws?tenantId=...&userId=...
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	query := r.URL.Query()
	tenantID := query.Get("tenantId")
	userID := query.Get("userId")
	if tenantID == "" || userID == "" {
		h.reject(conn, live.CloseBadHandshake, "missing tenantId or userId", "missing_params")
		return
	}
	if !h.limiter.Allow() {
		h.reject(conn, live.CloseCapacity, "capacity exceeded", "rate_limited")
		return
	}

	if h.opts.ReadLimit > 0 {
		conn.SetReadLimit(h.opts.ReadLimit)
	}
	ch := newWSChannel(conn, h.opts.SendBuffer, h.opts.WriteWait)
	c, err := h.registry.Admit(tenantID, userID, ch, h.opts.MaxConnsPerUser)
	if err != nil {
		h.reject(conn, live.CloseCapacity, "capacity exceeded", "user_capacity")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer func() {
		cancel()
		h.registry.Unregister(c)
		_ = ch.Close(websocket.CloseNormalClosure, "")
	}()

	s := &session{
		handler: h,
		conn:    c,
		channel: ch,
		date:    data.Today(h.clock.Now(), h.opts.Location),
		logger: h.logger.With(
			zap.String("tenantId", tenantID),
			zap.String("userId", userID),
			zap.String("connId", c.ID()),
		),
	}

	// The pump writes the snapshot ahead of its queue, so any batch a
	// concurrent flush queued for this connection is delivered after it.
	go ch.writePump(s.logger)
	_, _ = s.pushSnapshot(ctx, live.MsgInitialData, s.date, ch.sendFirst)
	ch.markReady()
	s.readLoop(ctx)
}

// reject closes a connection that was never registered.
func (h *Handler) reject(conn *websocket.Conn, code int, reason, label string) {
	h.metrics.HandshakeRejections.WithLabelValues(label).Inc()
	h.logger.Debug("handshake rejected",
		zap.Int("code", code),
		zap.String("reason", label),
	)
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(h.opts.WriteWait))
	conn.Close()
}

// CloseAll closes every registered connection with code, for shutdown.
func (h *Handler) CloseAll(code int, reason string) int {
	closed := 0
	for _, c := range h.registry.All() {
		if err := c.Close(code, reason); err == nil {
			closed++
		}
		h.registry.Unregister(c)
	}
	return closed
}

// session is the per-connection protocol state.
type session struct {
	handler *Handler
	conn    *live.Conn
	channel *wsChannel
	date    string // current scope
	logger  *zap.Logger
}

// readLoop processes inbound messages in receipt order until the
// connection fails or is closed.
func (s *session) readLoop(ctx context.Context) {
	for {
		_, message, err := s.channel.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
				live.CloseIdleTimeout,
			) {
				s.logger.Debug("websocket read error", zap.Error(err))
			}
			return
		}
		s.handleMessage(ctx, message)
	}
}

func (s *session) handleMessage(ctx context.Context, message []byte) {
	msg, err := parseInbound(message)
	if err != nil {
		s.handler.metrics.InboundIgnored.Inc()
		s.logger.Debug("ignoring inbound message", zap.Error(err))
		return
	}

	now := s.handler.clock.Now()
	s.conn.Touch(now)

	switch m := msg.(type) {
	case *heartbeatRequest:
		s.queue(live.BuildAckMessage(now))

	case *dateChangeRequest:
		if _, err := data.ParseDate(m.date, s.handler.opts.Location); err != nil {
			s.logger.Debug("invalid date_change", zap.String("date", m.date), zap.Error(err))
			s.sendError(err.Error())
			return
		}
		if ok, _ := s.pushSnapshot(ctx, live.MsgDateData, m.date, s.queue); ok {
			s.date = m.date
		}

	case *refreshRequest:
		_, _ = s.pushSnapshot(ctx, live.MsgInitialData, s.date, s.queue)
	}
}

// pushSnapshot fetches the tenant's appointments for date and hands the
// encoded message to write. It reports whether a snapshot was sent. A fetch
// failure is reported to the client as an error message and the connection
// stays open; only write errors are returned.
func (s *session) pushSnapshot(ctx context.Context, msgType, date string, write func([]byte) error) (bool, error) {
	h := s.handler
	snap, err := h.source.Snapshot(ctx, s.conn.TenantID(), date)
	if err != nil {
		h.metrics.SnapshotFetches.WithLabelValues("error").Inc()
		s.logger.Warn("snapshot fetch failed", zap.String("date", date), zap.Error(err))
		msg := "snapshot unavailable"
		if errors.Is(err, data.ErrInvalidDate) {
			msg = err.Error()
		}
		return false, write(live.BuildErrorMessage(msg, h.clock.Now()))
	}
	h.metrics.SnapshotFetches.WithLabelValues("ok").Inc()

	payload, err := live.BuildSnapshotMessage(msgType, date, snap.Appointments, h.clock.Now())
	if err != nil {
		s.logger.Error("failed to encode snapshot", zap.Error(err))
		return false, nil
	}
	return true, write(payload)
}

func (s *session) queue(payload []byte) error {
	err := s.channel.Send(context.Background(), payload)
	if err != nil {
		s.logger.Debug("reply dropped", zap.Error(err))
	}
	return err
}

func (s *session) sendError(message string) {
	_ = s.queue(live.BuildErrorMessage(message, s.handler.clock.Now()))
}
