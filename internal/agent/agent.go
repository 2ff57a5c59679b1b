// Package agent keeps one client's player and chat in step with its room.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/cowatch/cowatch/internal/player"
	"github.com/cowatch/cowatch/internal/protocol"
	"github.com/cowatch/cowatch/pkg/validator"
	"github.com/gorilla/websocket"
)

var (
	ErrEmptyChat     = errors.New("chat text is empty")
	ErrNotConnected  = errors.New("not connected")
	ErrQueueFull     = errors.New("outbound queue is full")
	ErrInvalidRoomId = errors.New("invalid room id")
)

type Binding interface {
	Ready() bool
	Apply(pb protocol.Playback) error
}

type Config struct {
	// ServerURL is the websocket base, e.g. ws://localhost:8000.
	ServerURL string
	Name      string
	// ReconnectAttempts is the number of consecutive re-dials after an
	// unexpected close, 0 disables reconnection.
	ReconnectAttempts int
	ReconnectInitial  time.Duration
	ReconnectMax      time.Duration
	// StableAfter is how long a connection must stay up before it resets the
	// reconnection budget. A connection closed sooner counts as a failure.
	StableAfter      time.Duration
	SendBuffer       int
	WriteWait        time.Duration
	HandshakeTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		ServerURL:        "ws://localhost:8000",
		ReconnectInitial: 500 * time.Millisecond,
		ReconnectMax:     10 * time.Second,
		StableAfter:      5 * time.Second,
		SendBuffer:       32,
		WriteWait:        10 * time.Second,
		HandshakeTimeout: 10 * time.Second,
	}
}

// Agent owns at most one connection, for the room view opened last. None of
// its methods block on the network.
type Agent struct {
	cfg      Config
	binding  Binding
	dialer   *websocket.Dialer
	validate *validator.Validator
	logger   *slog.Logger

	mu         sync.Mutex
	status     Status
	roomId     string
	gen        uint64
	cancel     context.CancelFunc
	link       *link
	transcript []protocol.Chat
	onStatus   func(Status)
	onChat     func(protocol.Chat)
}

func New(cfg Config, binding Binding, logger *slog.Logger) *Agent {
	return &Agent{
		cfg:     cfg,
		binding: binding,
		dialer: &websocket.Dialer{
			Proxy:            websocket.DefaultDialer.Proxy,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		validate: validator.NewValidator(),
		logger:   logger,
		status:   StatusDisconnected,
	}
}

func (a *Agent) OnStatusChange(fn func(Status)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onStatus = fn
}

func (a *Agent) OnChat(fn func(protocol.Chat)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onChat = fn
}

func (a *Agent) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

func (a *Agent) RoomId() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.roomId
}

// Transcript returns the chat received since the last Open, in arrival order.
func (a *Agent) Transcript() []protocol.Chat {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]protocol.Chat(nil), a.transcript...)
}

// Open switches the agent to roomId. Any previous connection is closed first
// and the transcript starts over. Dialing happens in the background.
func (a *Agent) Open(roomId string) error {
	if _, ok := a.validate.Var("room_id", roomId, "roomid"); !ok {
		return fmt.Errorf("%w: %q", ErrInvalidRoomId, roomId)
	}

	ctx, cancel := context.WithCancel(context.Background())

	a.mu.Lock()
	a.closeLocked()
	a.gen++
	gen := a.gen
	a.cancel = cancel
	a.roomId = roomId
	a.transcript = nil
	a.mu.Unlock()

	a.setStatus(gen, StatusConnecting)
	go a.run(ctx, gen, roomId)

	return nil
}

// Close is idempotent.
func (a *Agent) Close() {
	a.mu.Lock()
	a.closeLocked()
	a.gen++
	gen := a.gen
	a.roomId = ""
	a.mu.Unlock()

	a.setStatus(gen, StatusDisconnected)
}

func (a *Agent) closeLocked() {
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}

	if a.link != nil {
		a.link.close()
		a.link = nil
	}
}

func (a *Agent) setStatus(gen uint64, status Status) {
	a.mu.Lock()
	if gen != a.gen || a.status == status {
		a.mu.Unlock()
		return
	}
	a.status = status
	fn := a.onStatus
	a.mu.Unlock()

	a.logger.Debug("status changed", "status", status)
	if fn != nil {
		fn(status)
	}
}

func (a *Agent) roomURL(roomId string) string {
	q := url.Values{}
	if a.cfg.Name != "" {
		q.Set("name", a.cfg.Name)
	}

	u := strings.TrimRight(a.cfg.ServerURL, "/") + "/rooms/" + url.PathEscape(roomId) + "/"
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	return u
}

func (a *Agent) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if a.cfg.ReconnectInitial > 0 {
		b.InitialInterval = a.cfg.ReconnectInitial
	}
	if a.cfg.ReconnectMax > 0 {
		b.MaxInterval = a.cfg.ReconnectMax
	}
	b.Reset()

	return b
}

// run owns the connection of one room view until the view is closed or the
// reconnection budget is spent.
func (a *Agent) run(ctx context.Context, gen uint64, roomId string) {
	logger := a.logger.With("room_id", roomId)
	b := a.newBackOff()
	failures := 0

	for {
		uptime, err := a.connect(ctx, gen, roomId)
		if ctx.Err() != nil {
			return
		}

		if uptime > 0 && uptime >= a.cfg.StableAfter {
			failures = 0
			b.Reset()
		}

		switch {
		case websocket.IsCloseError(err, protocol.CloseRoomFull):
			logger.Warn("room is full", "error", err)
			a.setStatus(gen, StatusErrored)
			return
		case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
			a.setStatus(gen, StatusDisconnected)
		default:
			logger.Info("connection failed", "error", err)
			a.setStatus(gen, StatusErrored)
		}

		failures++
		if failures > a.cfg.ReconnectAttempts {
			return
		}

		wait := b.NextBackOff()
		logger.Info("reconnecting", "attempt", failures, "wait", wait)

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		a.setStatus(gen, StatusConnecting)
	}
}

// connect dials and then reads until the connection ends. uptime is zero when
// the dial failed.
func (a *Agent) connect(ctx context.Context, gen uint64, roomId string) (uptime time.Duration, err error) {
	conn, _, err := a.dialer.DialContext(ctx, a.roomURL(roomId), nil)
	if err != nil {
		return 0, fmt.Errorf("failed to dial: %w", err)
	}

	l := newLink(conn, a.cfg.SendBuffer)

	a.mu.Lock()
	if gen != a.gen {
		a.mu.Unlock()
		l.close()
		return 0, ctx.Err()
	}
	a.link = l
	a.mu.Unlock()

	connectedAt := time.Now()
	a.setStatus(gen, StatusConnected)
	go l.writePump(a.cfg.WriteWait, a.logger)

	err = a.readLoop(gen, l)

	a.mu.Lock()
	if a.link == l {
		a.link = nil
	}
	a.mu.Unlock()
	l.close()

	return max(time.Since(connectedAt), time.Nanosecond), err
}

func (a *Agent) readLoop(gen uint64, l *link) error {
	for {
		_, data, err := l.conn.ReadMessage()
		if err != nil {
			return err
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			a.logger.Warn("discarding frame", "error", err)
			continue
		}

		a.handleRemote(gen, msg)
	}
}

// OnRemoteMessage applies a message received for the open room view.
func (a *Agent) OnRemoteMessage(msg protocol.Message) {
	a.mu.Lock()
	gen := a.gen
	a.mu.Unlock()

	a.handleRemote(gen, msg)
}

func (a *Agent) handleRemote(gen uint64, msg protocol.Message) {
	switch msg.Type {
	case protocol.TypePlayback:
		if msg.Playback == nil || !a.isCurrent(gen) {
			return
		}

		if !a.binding.Ready() {
			a.logger.Debug("player not ready, playback dropped", "action", msg.Playback.Action)
			return
		}

		if err := a.binding.Apply(*msg.Playback); err != nil {
			a.logger.Warn("failed to apply playback", "error", err)
		}
	case protocol.TypeChat:
		if msg.Chat != nil {
			a.appendChat(gen, *msg.Chat)
		}
	}
}

// isCurrent reports whether gen is still the open room view.
func (a *Agent) isCurrent(gen uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return gen == a.gen
}

func (a *Agent) appendChat(gen uint64, chat protocol.Chat) {
	a.mu.Lock()
	if gen != a.gen {
		a.mu.Unlock()
		return
	}
	a.transcript = append(a.transcript, chat)
	fn := a.onChat
	a.mu.Unlock()

	if fn != nil {
		fn(chat)
	}
}

func (a *Agent) send(msg protocol.Message) (uint64, error) {
	frame, err := protocol.Encode(msg)
	if err != nil {
		return 0, fmt.Errorf("failed to encode message: %w", err)
	}

	a.mu.Lock()
	l, status, gen := a.link, a.status, a.gen
	a.mu.Unlock()

	if l == nil || status != StatusConnected {
		return gen, ErrNotConnected
	}

	if !l.trySend(frame) {
		a.logger.Warn("outbound queue full, message dropped", "type", msg.Type)
		return gen, ErrQueueFull
	}

	return gen, nil
}

// OnLocalPlayerStateChange emits PLAY or PAUSE for the local player's state.
// Other states are ignored, and nothing is queued while disconnected.
func (a *Agent) OnLocalPlayerStateChange(state player.State, at float64) {
	var action protocol.Action
	switch state {
	case player.StatePlaying:
		action = protocol.ActionPlay
	case player.StatePaused:
		action = protocol.ActionPause
	default:
		return
	}

	if _, err := a.send(protocol.NewPlayback(action, max(at, 0))); err != nil {
		a.logger.Debug("playback not sent", "action", action, "error", err)
	}
}

func (a *Agent) Seek(at float64) error {
	msg := protocol.NewPlayback(protocol.ActionSeek, at)
	if err := msg.Validate(); err != nil {
		return err
	}

	_, err := a.send(msg)
	return err
}

// SendChat emits a chat message. The sender's own transcript gets it locally
// since the room never echoes a message back.
func (a *Agent) SendChat(text, sender string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyChat
	}

	if sender == "" {
		sender = a.cfg.Name
	}
	if sender == "" {
		sender = protocol.DefaultSender
	}

	msg := protocol.NewChat(text, sender)
	gen, err := a.send(msg)
	if err != nil {
		return err
	}

	a.appendChat(gen, *msg.Chat)
	return nil
}
