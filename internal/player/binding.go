package player

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cowatch/cowatch/internal/protocol"
)

const DefaultEchoWindow = time.Second

// Binding applies remote playback commands to a Player once it is ready and
// forwards the player's own state changes to a Listener. A state change
// caused by a remote command is not forwarded.
type Binding struct {
	player     Player
	echoWindow time.Duration
	logger     *slog.Logger
	now        func() time.Time

	ready atomic.Bool

	mu       sync.Mutex
	listener Listener
	expected map[State]time.Time
}

func NewBinding(p Player, echoWindow time.Duration, logger *slog.Logger) *Binding {
	if echoWindow <= 0 {
		echoWindow = DefaultEchoWindow
	}

	return &Binding{
		player:     p,
		echoWindow: echoWindow,
		logger:     logger,
		now:        time.Now,
		expected:   make(map[State]time.Time),
	}
}

func (b *Binding) SetListener(l Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listener = l
}

func (b *Binding) Ready() bool {
	return b.ready.Load()
}

// MarkReady reports whether this call flipped the binding to ready.
func (b *Binding) MarkReady() bool {
	if !b.ready.CompareAndSwap(false, true) {
		return false
	}

	b.logger.Debug("player ready")
	return true
}

func (b *Binding) Load(videoRef string) error {
	if err := b.player.Load(videoRef); err != nil {
		return fmt.Errorf("failed to load video: %w", err)
	}

	return nil
}

func (b *Binding) CurrentTime() float64 {
	return b.player.CurrentTime()
}

// Apply runs a remote playback command. Commands that arrive before the
// player is ready are dropped without error.
func (b *Binding) Apply(pb protocol.Playback) error {
	if !b.Ready() {
		b.logger.Debug("player not ready, playback dropped", "action", pb.Action, "time", pb.Time)
		return nil
	}

	var err error
	switch pb.Action {
	case protocol.ActionPlay:
		err = b.transition(StatePlaying, b.player.Play)
	case protocol.ActionPause:
		err = b.transition(StatePaused, b.player.Pause)
	case protocol.ActionSeek:
		err = b.player.SeekTo(pb.Time)
	default:
		return fmt.Errorf("%w: %q", protocol.ErrInvalidPlayback, pb.Action)
	}

	if err != nil {
		return fmt.Errorf("failed to apply %s: %w", pb.Action, err)
	}

	return nil
}

// transition expects the echo of state only when the player is not already
// there, since a player reports no change for a no-op command.
func (b *Binding) transition(state State, apply func() error) error {
	if b.player.State() == state {
		return nil
	}

	b.expect(state)
	if err := apply(); err != nil {
		b.forget(state)
		return err
	}

	return nil
}

func (b *Binding) expect(state State) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.expected[state] = b.now().Add(b.echoWindow)
}

func (b *Binding) forget(state State) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.expected, state)
}

func (b *Binding) OnReady() {
	b.MarkReady()
}

func (b *Binding) OnStateChange(state State, position float64) {
	b.mu.Lock()
	deadline, echo := b.expected[state]
	if echo {
		delete(b.expected, state)
		echo = !b.now().After(deadline)
	}
	listener := b.listener
	b.mu.Unlock()

	if echo {
		b.logger.Debug("echo suppressed", "state", state)
		return
	}

	if listener != nil {
		listener.OnLocalPlayerStateChange(state, position)
	}
}
