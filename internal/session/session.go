// Package session adapts one websocket connection to a hub member.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cowatch/cowatch/internal/metrics"
	"github.com/cowatch/cowatch/internal/protocol"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	DefaultDisplayName = protocol.DefaultSender

	CloseRoomFull     = protocol.CloseRoomFull
	CloseQueueOverrun = protocol.CloseQueueOverrun
)

type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusErrored      Status = "errored"
)

type Config struct {
	SendBuffer   int
	ReadLimit    int64
	PingPeriod   time.Duration
	PongWait     time.Duration
	WriteWait    time.Duration
	MessageRate  float64
	MessageBurst int
	// OnDrop is called with a metrics drop reason for every discarded message.
	OnDrop func(reason string)
}

func DefaultConfig() *Config {
	return &Config{
		SendBuffer: 64,
		ReadLimit:  4096,
		PingPeriod: 54 * time.Second,
		PongWait:   60 * time.Second,
		WriteWait:  10 * time.Second,
	}
}

type HandlerFunc func(ctx context.Context, s *Session, frame []byte)

type Session struct {
	id          string
	roomId      string
	displayName string
	connectedAt time.Time

	conn    *websocket.Conn
	send    chan []byte
	cfg     Config
	limiter *rate.Limiter
	logger  *slog.Logger

	mu      sync.RWMutex
	closed  bool
	status  Status
	overrun atomic.Bool
}

func New(conn *websocket.Conn, roomId, displayName string, cfg *Config, logger *slog.Logger) *Session {
	if displayName == "" {
		displayName = DefaultDisplayName
	}

	id := uuid.NewString()
	s := &Session{
		id:          id,
		roomId:      roomId,
		displayName: displayName,
		connectedAt: time.Now(),
		conn:        conn,
		send:        make(chan []byte, max(cfg.SendBuffer, 1)),
		cfg:         *cfg,
		logger:      logger.With("session_id", id, "room_id", roomId),
		status:      StatusConnecting,
	}

	if cfg.MessageRate > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.MessageRate), max(cfg.MessageBurst, 1))
	}

	return s
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) RoomId() string {
	return s.roomId
}

func (s *Session) DisplayName() string {
	return s.displayName
}

func (s *Session) ConnectedAt() time.Time {
	return s.connectedAt
}

func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *Session) setStatus(status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed && status == StatusConnected {
		return
	}
	s.status = status
}

// Deliver enqueues a frame without blocking. A session whose queue is full is
// closed, so its stream never has gaps.
func (s *Session) Deliver(frame []byte) bool {
	s.mu.RLock()
	if s.closed || s.overrun.Load() {
		s.mu.RUnlock()
		return false
	}

	select {
	case s.send <- frame:
		s.mu.RUnlock()
		return true
	default:
	}
	s.mu.RUnlock()

	// callers may hold room locks, so the close handshake runs elsewhere
	s.dropped(metrics.DropQueueFull)
	if s.overrun.CompareAndSwap(false, true) {
		s.logger.Warn("outbound queue overrun, closing session", "buffer", cap(s.send))
		go s.CloseWithCode(CloseQueueOverrun, "too slow")
	}

	return false
}

// Serve pumps the connection until it closes. Frames are passed to handle
// one at a time, in arrival order.
func (s *Session) Serve(ctx context.Context, handle HandlerFunc) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.setStatus(StatusConnected)

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.writePump(ctx)
	}()

	err := s.readPump(ctx, handle)

	failed := !s.isClosed() && !isExpectedClose(err)
	if failed {
		s.logger.InfoContext(ctx, "connection failed", "error", err)
		s.setStatus(StatusErrored)
	}

	s.Close()
	<-done

	if failed {
		return err
	}

	return nil
}

func isExpectedClose(err error) bool {
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) {
		return false
	}

	switch closeErr.Code {
	case websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived:
		return true
	}

	return false
}

func (s *Session) readPump(ctx context.Context, handle HandlerFunc) error {
	if s.cfg.ReadLimit > 0 {
		s.conn.SetReadLimit(s.cfg.ReadLimit)
	}

	if s.cfg.PongWait > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
		s.conn.SetPongHandler(func(string) error {
			return s.conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
		})
	}

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return err
		}

		if s.limiter != nil && !s.limiter.Allow() {
			s.logger.WarnContext(ctx, "rate limit exceeded, frame dropped")
			s.dropped(metrics.DropRateLimited)
			continue
		}

		handle(ctx, s, data)
	}
}

func (s *Session) writePump(ctx context.Context) {
	var tick <-chan time.Time
	if s.cfg.PingPeriod > 0 {
		ticker := time.NewTicker(s.cfg.PingPeriod)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			s.Close()
			return
		case frame, ok := <-s.send:
			if !ok {
				return
			}

			s.setWriteDeadline()
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				s.logger.DebugContext(ctx, "failed to write frame", "error", err)
				s.Close()
				return
			}
		case <-tick:
			s.setWriteDeadline()
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.logger.DebugContext(ctx, "failed to write ping", "error", err)
				s.Close()
				return
			}
		}
	}
}

func (s *Session) dropped(reason string) {
	if s.cfg.OnDrop != nil {
		s.cfg.OnDrop(reason)
	}
}

func (s *Session) setWriteDeadline() {
	if s.cfg.WriteWait > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteWait))
	}
}

func (s *Session) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// Close is idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.status != StatusErrored {
		s.status = StatusDisconnected
	}
	close(s.send)
	s.mu.Unlock()

	_ = s.conn.Close()
}

// CloseWithCode sends a close frame before closing the connection.
func (s *Session) CloseWithCode(code int, text string) {
	if s.isClosed() {
		return
	}

	wait := s.cfg.WriteWait
	if wait <= 0 {
		wait = time.Second
	}

	_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(wait))
	s.Close()
}
