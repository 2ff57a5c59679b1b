// Package player binds an external video player to room playback commands.
package player

type State string

const (
	StateUnstarted State = "unstarted"
	StatePlaying   State = "playing"
	StatePaused    State = "paused"
	StateBuffering State = "buffering"
	StateEnded     State = "ended"
)

// Player is the capability exposed by an embedded video player.
type Player interface {
	Load(videoRef string) error
	Play() error
	Pause() error
	SeekTo(seconds float64) error
	CurrentTime() float64
	State() State
}

// Events is what a player reports back. Binding implements it.
type Events interface {
	OnReady()
	OnStateChange(state State, time float64)
}

type Listener interface {
	OnLocalPlayerStateChange(state State, time float64)
}
