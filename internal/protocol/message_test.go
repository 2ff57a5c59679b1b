package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	m, err := Decode([]byte(`{"type":"playback","action":"PAUSE","time":12.5}`))
	require.NoError(t, err)
	assert.Equal(t, TypePlayback, m.Type)
	assert.Equal(t, ActionPause, m.Playback.Action)
	assert.Equal(t, 12.5, m.Playback.Time)
	assert.Nil(t, m.Chat)

	m, err = Decode([]byte(`{"type":"chat","text":"hi","sender":"bob"}`))
	require.NoError(t, err)
	assert.Equal(t, TypeChat, m.Type)
	assert.Equal(t, &Chat{Text: "hi", Sender: "bob"}, m.Chat)
}

func TestDecodeRejects(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		err   error
	}{
		{"not json", `hello`, ErrMalformedFrame},
		{"unknown type", `{"type":"dance"}`, ErrUnknownType},
		{"missing type", `{"text":"hi"}`, ErrUnknownType},
		{"bad action", `{"type":"playback","action":"STOP","time":1}`, ErrInvalidPlayback},
		{"negative time", `{"type":"playback","action":"SEEK","time":-1}`, ErrInvalidPlayback},
		{"time as string", `{"type":"playback","action":"SEEK","time":"1"}`, ErrMalformedFrame},
		{"empty chat", `{"type":"chat","text":"   ","sender":"bob"}`, ErrEmptyChatText},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.frame))
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestEncodeWireShape(t *testing.T) {
	data, err := Encode(NewPlayback(ActionPause, 12.5))
	require.NoError(t, err)
	assert.Equal(t, `{"type":"playback","action":"PAUSE","time":12.5}`, string(data))

	data, err = Encode(NewPlayback(ActionPlay, 0))
	require.NoError(t, err)
	assert.Equal(t, `{"type":"playback","action":"PLAY","time":0}`, string(data))

	data, err = Encode(NewChat("hi", "bob"))
	require.NoError(t, err)
	assert.Equal(t, `{"type":"chat","text":"hi","sender":"bob"}`, string(data))

	_, err = Encode(Message{Type: "dance"})
	assert.ErrorIs(t, err, ErrUnknownType)
}
