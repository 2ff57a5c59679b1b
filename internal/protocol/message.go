// Package protocol defines the room-scoped messages exchanged between the
// hub and sync agents.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

var (
	ErrUnknownType     = errors.New("unknown message type")
	ErrInvalidMessage  = errors.New("invalid message")
	ErrMalformedFrame  = errors.New("malformed frame")
	ErrEmptyChatText   = errors.New("chat text is empty")
	ErrInvalidPlayback = errors.New("invalid playback command")
)

type Type string

const (
	TypePlayback Type = "playback"
	TypeChat     Type = "chat"
)

type Action string

const (
	ActionPlay  Action = "PLAY"
	ActionPause Action = "PAUSE"
	ActionSeek  Action = "SEEK"
)

func (a Action) Valid() bool {
	switch a {
	case ActionPlay, ActionPause, ActionSeek:
		return true
	}

	return false
}

type Playback struct {
	Action Action  `json:"action" validate:"required,oneof=PLAY PAUSE SEEK"`
	Time   float64 `json:"time" validate:"gte=0"`
}

type Chat struct {
	Text   string `json:"text" validate:"required"`
	Sender string `json:"sender"`
}

// Message is a tagged union: exactly one of Playback and Chat is set, matching Type.
type Message struct {
	Type     Type
	Playback *Playback
	Chat     *Chat
}

func NewPlayback(action Action, time float64) Message {
	return Message{Type: TypePlayback, Playback: &Playback{Action: action, Time: time}}
}

func NewChat(text, sender string) Message {
	return Message{Type: TypeChat, Chat: &Chat{Text: text, Sender: sender}}
}

func (m Message) Validate() error {
	switch m.Type {
	case TypePlayback:
		if m.Playback == nil {
			return fmt.Errorf("%w: missing playback", ErrInvalidMessage)
		}
		if !m.Playback.Action.Valid() {
			return fmt.Errorf("%w: action %q", ErrInvalidPlayback, m.Playback.Action)
		}
		if m.Playback.Time < 0 || math.IsNaN(m.Playback.Time) || math.IsInf(m.Playback.Time, 0) {
			return fmt.Errorf("%w: time %v", ErrInvalidPlayback, m.Playback.Time)
		}
	case TypeChat:
		if m.Chat == nil {
			return fmt.Errorf("%w: missing chat", ErrInvalidMessage)
		}
		if strings.TrimSpace(m.Chat.Text) == "" {
			return ErrEmptyChatText
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownType, m.Type)
	}

	return nil
}

type playbackFrame struct {
	Type   Type    `json:"type"`
	Action Action  `json:"action"`
	Time   float64 `json:"time"`
}

type chatFrame struct {
	Type   Type   `json:"type"`
	Text   string `json:"text"`
	Sender string `json:"sender"`
}

func (m Message) MarshalJSON() ([]byte, error) {
	switch m.Type {
	case TypePlayback:
		if m.Playback == nil {
			return nil, fmt.Errorf("%w: missing playback", ErrInvalidMessage)
		}
		return json.Marshal(playbackFrame{Type: m.Type, Action: m.Playback.Action, Time: m.Playback.Time})
	case TypeChat:
		if m.Chat == nil {
			return nil, fmt.Errorf("%w: missing chat", ErrInvalidMessage)
		}
		return json.Marshal(chatFrame{Type: m.Type, Text: m.Chat.Text, Sender: m.Chat.Sender})
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownType, m.Type)
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var head struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedFrame, err)
	}

	switch head.Type {
	case TypePlayback:
		var f playbackFrame
		if err := json.Unmarshal(data, &f); err != nil {
			return fmt.Errorf("%w: %w", ErrMalformedFrame, err)
		}
		*m = NewPlayback(f.Action, f.Time)
	case TypeChat:
		var f chatFrame
		if err := json.Unmarshal(data, &f); err != nil {
			return fmt.Errorf("%w: %w", ErrMalformedFrame, err)
		}
		*m = NewChat(f.Text, f.Sender)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownType, head.Type)
	}

	return nil
}

// Decode parses and validates a single frame.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := m.UnmarshalJSON(data); err != nil {
		return Message{}, err
	}

	if err := m.Validate(); err != nil {
		return Message{}, err
	}

	return m, nil
}

func Encode(m Message) ([]byte, error) {
	return json.Marshal(m)
}
