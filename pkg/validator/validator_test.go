package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type input struct {
	RoomId string `json:"room_id" validate:"roomid"`
	Name   string `json:"name" validate:"max=4"`
}

func TestValidate(t *testing.T) {
	v := NewValidator()

	_, ok := v.Validate(input{RoomId: "room-1_A", Name: "bob"})
	assert.True(t, ok)

	errs, ok := v.Validate(input{RoomId: "room/1", Name: "alice"})
	require.False(t, ok)
	require.Len(t, errs, 2)
	assert.Equal(t, "room_id", errs[0].Field)
	assert.Equal(t, "ROOMID", errs[0].Code)
	assert.Equal(t, "name", errs[1].Field)
	assert.Equal(t, "MAX", errs[1].Code)
}

func TestVar(t *testing.T) {
	v := NewValidator()

	for _, roomId := range []string{"1", "abc", "A-b_9"} {
		_, ok := v.Var("room_id", roomId, "roomid")
		assert.True(t, ok, roomId)
	}

	for _, roomId := range []string{"", "a b", "ro%6fm", string(make([]byte, 65))} {
		errs, ok := v.Var("room_id", roomId, "roomid")
		assert.False(t, ok, roomId)
		require.Len(t, errs, 1)
		assert.Equal(t, "room_id", errs[0].Field)
	}
}
