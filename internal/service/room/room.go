package room

import (
	"context"
	"fmt"
	"strings"

	"github.com/cowatch/cowatch/internal/hub"
	"github.com/cowatch/cowatch/internal/metrics"
	"github.com/cowatch/cowatch/internal/protocol"
	"github.com/cowatch/cowatch/internal/repository/channel"
)

// Relay fans msg out to the other members of the handle's room, locally and
// through the channel layer when one is configured. Chat without a sender is
// stamped with the member's display name.
func (s service) Relay(ctx context.Context, handle *hub.Handle, msg protocol.Message) (int, error) {
	if msg.Type == protocol.TypeChat && msg.Chat != nil && strings.TrimSpace(msg.Chat.Sender) == "" {
		chat := *msg.Chat
		chat.Sender = handle.Member().DisplayName()
		msg.Chat = &chat
	}

	delivered, err := s.hub.Broadcast(handle, msg)
	if err != nil {
		return 0, fmt.Errorf("failed to broadcast: %w", err)
	}
	s.metrics.Relayed(string(msg.Type), delivered)

	if s.layer == nil {
		return delivered, nil
	}

	frame, err := protocol.Encode(msg)
	if err != nil {
		return delivered, fmt.Errorf("failed to encode message: %w", err)
	}

	if err := s.layer.Publish(ctx, &channel.Envelope{
		Node:    s.nodeId,
		Room:    handle.RoomId(),
		Origin:  handle.Member().ID(),
		Message: frame,
	}); err != nil {
		s.metrics.Dropped(metrics.DropPublish)
		return delivered, fmt.Errorf("failed to publish message: %w", err)
	}

	return delivered, nil
}

// ListRooms returns the rooms with members on this node, sorted by id.
func (s service) ListRooms(_ context.Context) []RoomSummary {
	roomIds := s.hub.RoomIds()

	rooms := make([]RoomSummary, 0, len(roomIds))
	for _, roomId := range roomIds {
		members := len(s.hub.Members(roomId))
		if members == 0 {
			continue
		}
		rooms = append(rooms, RoomSummary{RoomId: roomId, Members: members})
	}

	return rooms
}

func (s service) RoomState(_ context.Context, roomId string) Room {
	return Room{
		RoomId:  roomId,
		Members: s.hub.Members(roomId),
	}
}
