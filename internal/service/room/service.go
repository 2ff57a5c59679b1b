package room

import (
	"log/slog"

	"github.com/cowatch/cowatch/internal/hub"
	"github.com/cowatch/cowatch/internal/metrics"
	"github.com/cowatch/cowatch/internal/protocol"
	"github.com/cowatch/cowatch/internal/repository/channel"
	"github.com/cowatch/cowatch/internal/repository/connection"
	"github.com/google/uuid"
)

type iHub interface {
	Join(roomId string, member hub.Member) (*hub.Handle, error)
	Leave(handle *hub.Handle)
	Broadcast(handle *hub.Handle, msg protocol.Message) (int, error)
	Deliver(roomId, originId string, msg protocol.Message) (int, error)
	Members(roomId string) []hub.MemberInfo
	RoomIds() []string
}

type iConnRepo interface {
	Add(conn connection.Conn) error
	Remove(id string) error
	CloseAll(code int, text string) int
}

// Member is a hub member that can also be closed by the server.
type Member interface {
	hub.Member
	CloseWithCode(code int, text string)
}

type service struct {
	hub      iHub
	connRepo iConnRepo
	layer    channel.Layer
	nodeId   string
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewService builds the room service. layer may be nil for a single node.
func NewService(hub iHub, connRepo iConnRepo, layer channel.Layer, m *metrics.Metrics, logger *slog.Logger) *service {
	return &service{
		hub:      hub,
		connRepo: connRepo,
		layer:    layer,
		nodeId:   uuid.NewString(),
		metrics:  m,
		logger:   logger,
	}
}

func (s service) NodeId() string {
	return s.nodeId
}
