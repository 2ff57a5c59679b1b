package player

import (
	"errors"
	"sync"
	"time"
)

var ErrNoVideo = errors.New("no video loaded")

// Simulated is an in-process player. Its clock advances while playing and it
// reports state changes through Events like an embedded player would.
type Simulated struct {
	mu       sync.Mutex
	events   Events
	video    string
	state    State
	position float64
	since    time.Time
	now      func() time.Time
}

func NewSimulated() *Simulated {
	return &Simulated{
		state: StateUnstarted,
		now:   time.Now,
	}
}

func (s *Simulated) SetEvents(e Events) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = e
}

func (s *Simulated) Load(videoRef string) error {
	s.mu.Lock()
	s.video = videoRef
	s.position = 0
	s.state = StatePaused
	events := s.events
	s.mu.Unlock()

	if events != nil {
		events.OnReady()
	}

	return nil
}

func (s *Simulated) Video() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.video
}

func (s *Simulated) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Simulated) Play() error {
	return s.transition(StatePlaying)
}

func (s *Simulated) Pause() error {
	return s.transition(StatePaused)
}

func (s *Simulated) transition(state State) error {
	s.mu.Lock()
	if s.video == "" {
		s.mu.Unlock()
		return ErrNoVideo
	}

	if s.state == state {
		s.mu.Unlock()
		return nil
	}

	s.position = s.currentTimeLocked()
	s.state = state
	s.since = s.now()
	position := s.position
	events := s.events
	s.mu.Unlock()

	if events != nil {
		events.OnStateChange(state, position)
	}

	return nil
}

func (s *Simulated) SeekTo(seconds float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.video == "" {
		return ErrNoVideo
	}

	s.position = max(seconds, 0)
	s.since = s.now()
	return nil
}

func (s *Simulated) CurrentTime() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentTimeLocked()
}

func (s *Simulated) currentTimeLocked() float64 {
	if s.state != StatePlaying {
		return s.position
	}

	return s.position + s.now().Sub(s.since).Seconds()
}
