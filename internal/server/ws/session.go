package ws

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// channelFilter is the set of channels a session listens to. An entry
// ending in "*" matches every channel with that prefix.
type channelFilter map[string]struct{}

func (f channelFilter) matches(channel string) bool {
	if _, ok := f[channel]; ok {
		return true
	}
	for pattern := range f {
		if prefix, ok := strings.CutSuffix(pattern, "*"); ok && strings.HasPrefix(channel, prefix) {
			return true
		}
	}
	return false
}

func (f channelFilter) sorted() []string {
	out := make([]string, 0, len(f))
	for ch := range f {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out
}

// session is one dashboard connection. Only writeLoop writes data frames to
// conn; readLoop on the hub only reads.
type session struct {
	conn   *websocket.Conn
	remote string
	out    chan []byte
	done   chan struct{}
	once   sync.Once

	mu     sync.RWMutex
	filter channelFilter
}

func newSession(conn *websocket.Conn, remote string) *session {
	s := &session{
		conn:   conn,
		remote: remote,
		out:    make(chan []byte, sessionBuffer),
		done:   make(chan struct{}),
		filter: make(channelFilter, len(defaultChannels)),
	}
	for _, ch := range defaultChannels {
		s.filter[ch] = struct{}{}
	}
	return s
}

// offer queues data without blocking and reports whether it was queued.
func (s *session) offer(data []byte) bool {
	select {
	case s.out <- data:
		return true
	default:
		return false
	}
}

func (s *session) stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *session) wants(channel string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filter.matches(channel)
}

// apply changes the filter and returns the resulting subscriptions.
func (s *session) apply(req subscribeMsg) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range req.Channels {
		ch = strings.TrimSpace(ch)
		if ch == "" {
			continue
		}
		if req.Action == "unsubscribe" {
			delete(s.filter, ch)
		} else {
			s.filter[ch] = struct{}{}
		}
	}
	return s.filter.sorted()
}

// writeLoop drains queued frames and keeps the connection alive with pings.
// It closes conn when the session stops or a write fails, which in turn
// ends the read side.
func (s *session) writeLoop() {
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ping.Stop()
		s.conn.Close()
	}()

	for {
		var err error
		select {
		case <-s.done:
			s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "bye"),
				time.Now().Add(writeWait))
			return
		case data := <-s.out:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err = s.conn.WriteMessage(websocket.TextMessage, data)
		case <-ping.C:
			err = s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
		}
		if err != nil {
			return
		}
	}
}
