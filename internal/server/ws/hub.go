// Package ws streams engine events and cycle reports to dashboard clients
// over WebSocket.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/meanrevbot/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 4096

	// sessionBuffer is how many frames a dashboard may fall behind before
	// frames for it are dropped.
	sessionBuffer = 64
	queueSize     = 256
)

// defaultChannels are forwarded from the bus and subscribed for every new
// session.
var defaultChannels = []string{
	domain.ChannelEvents,
	domain.ChannelCycles,
}

// Config captures runtime metadata sent to clients on connect.
type Config struct {
	Mode         string
	StrategyName string
	StartedAt    time.Time
	// AllowedOrigins restricts the Origin header. Empty allows any origin.
	AllowedOrigins []string
}

// Hub fans engine events and cycle reports out to dashboard sessions.
// Frames arrive from Broadcast or, when a SignalBus is set, from the bus.
// The latest cycle report is replayed to each new session so a dashboard
// has something to show before the next cycle finishes.
type Hub struct {
	bus      domain.SignalBus
	queue    chan frame
	upgrader websocket.Upgrader
	mode     string
	strategy string
	started  time.Time
	logger   *slog.Logger

	mu        sync.Mutex
	sessions  map[*session]struct{}
	lastCycle []byte
	closed    bool
}

type frame struct {
	channel string
	data    []byte
}

// NewHub creates a hub. bus may be nil, in which case only Broadcast feeds
// the hub.
func NewHub(bus domain.SignalBus, logger *slog.Logger, cfg Config) *Hub {
	h := &Hub{
		bus:   bus,
		queue: make(chan frame, queueSize),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(cfg.AllowedOrigins),
		},
		mode:     orUnknown(strings.ToLower(cfg.Mode)),
		strategy: orUnknown(cfg.StrategyName),
		started:  cfg.StartedAt,
		logger:   logger.With(slog.String("component", "ws_hub")),
		sessions: make(map[*session]struct{}),
	}
	if h.started.IsZero() {
		h.started = time.Now().UTC()
	}
	return h
}

func orUnknown(s string) string {
	if s = strings.TrimSpace(s); s == "" {
		return "unknown"
	}
	return s
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set[origin]
	}
}

// Broadcast queues data for the sessions subscribed to channel. It never
// blocks; when the queue is full the frame is dropped.
func (h *Hub) Broadcast(channel string, data []byte) {
	select {
	case h.queue <- frame{channel: channel, data: data}:
	default:
		h.logger.Warn("ws: broadcast queue full, dropping frame", slog.String("channel", channel))
	}
}

// Run delivers queued frames until ctx is cancelled, then disconnects every
// session.
func (h *Hub) Run(ctx context.Context) error {
	if h.bus != nil {
		for _, ch := range defaultChannels {
			go h.forward(ctx, ch)
		}
	}
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return nil
		case f := <-h.queue:
			h.deliver(f)
		}
	}
}

// forward relays one bus channel into the hub.
func (h *Hub) forward(ctx context.Context, channel string) {
	msgs, err := h.bus.Subscribe(ctx, channel)
	if err != nil {
		h.logger.Error("ws: bus subscribe failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgs:
			if !ok {
				h.logger.Warn("ws: bus channel closed", slog.String("channel", channel))
				return
			}
			h.Broadcast(channel, data)
		}
	}
}

func (h *Hub) deliver(f frame) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if f.channel == domain.ChannelCycles {
		h.lastCycle = f.data
	}
	for s := range h.sessions {
		if s.wants(f.channel) && !s.offer(f.data) {
			h.logger.Warn("ws: dashboard lagging, frame dropped",
				slog.String("channel", f.channel),
				slog.String("remote", s.remote),
			)
		}
	}
}

// HandleWS upgrades the request and serves the session until the client
// goes away or the hub shuts down.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}
	s := newSession(conn, r.RemoteAddr)
	s.offer(h.statusFrame())
	if !h.attach(s) {
		conn.Close()
		return
	}
	go s.writeLoop()
	h.readLoop(s)
	h.detach(s)
}

func (h *Hub) attach(s *session) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	if h.lastCycle != nil && s.wants(domain.ChannelCycles) {
		s.offer(h.lastCycle)
	}
	h.sessions[s] = struct{}{}
	h.logger.Info("ws: dashboard connected",
		slog.String("remote", s.remote),
		slog.Int("sessions", len(h.sessions)),
	)
	return true
}

func (h *Hub) detach(s *session) {
	h.mu.Lock()
	delete(h.sessions, s)
	n := len(h.sessions)
	h.mu.Unlock()
	s.stop()
	h.logger.Info("ws: dashboard disconnected",
		slog.String("remote", s.remote),
		slog.Int("sessions", n),
	)
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for s := range h.sessions {
		s.stop()
		delete(h.sessions, s)
	}
}

// ClientCount returns the number of connected dashboard sessions.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// subscribeMsg is the JSON message a client sends to change subscriptions
// or to ask for a fresh status frame.
type subscribeMsg struct {
	Action   string   `json:"action"` // subscribe, unsubscribe or status
	Channels []string `json:"channels"`
}

// readLoop applies client requests until the connection fails.
func (h *Hub) readLoop(s *session) {
	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("ws: unexpected close",
					slog.String("remote", s.remote),
					slog.String("error", err.Error()),
				)
			}
			return
		}
		var req subscribeMsg
		if json.Unmarshal(raw, &req) != nil {
			continue
		}
		switch req.Action {
		case "subscribe", "unsubscribe":
			s.offer(envelope("subscriptions", map[string]any{"channels": s.apply(req)}))
		case "status":
			s.offer(h.statusFrame())
		}
	}
}

// statusFrame describes the running bot so clients can mark the connection
// healthy before the next cycle runs.
func (h *Hub) statusFrame() []byte {
	uptime := int64(time.Since(h.started).Seconds())
	if uptime < 0 {
		uptime = 0
	}
	return envelope("bot_status", map[string]any{
		"mode":           h.mode,
		"strategy_name":  h.strategy,
		"uptime_seconds": uptime,
	})
}

func envelope(typ string, payload any) []byte {
	data, _ := json.Marshal(map[string]any{"type": typ, "payload": payload})
	return data
}
