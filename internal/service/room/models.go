package room

import "github.com/cowatch/cowatch/internal/hub"

type RoomSummary struct {
	RoomId  string `json:"room_id"`
	Members int    `json:"members"`
}

type Room struct {
	RoomId  string           `json:"room_id"`
	Members []hub.MemberInfo `json:"members"`
}
