package controller

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/cowatch/cowatch/internal/hub"
	"github.com/cowatch/cowatch/internal/metrics"
	"github.com/cowatch/cowatch/internal/protocol"
	"github.com/cowatch/cowatch/internal/service/room"
	"github.com/cowatch/cowatch/internal/session"
	"github.com/cowatch/cowatch/pkg/validator"
	"github.com/cowatch/cowatch/pkg/wsrouter"
	"github.com/gorilla/websocket"
)

type iRoomService interface {
	Join(context.Context, *room.JoinParams) (*hub.Handle, error)
	Leave(context.Context, *hub.Handle)
	Relay(context.Context, *hub.Handle, protocol.Message) (int, error)
	RoomState(context.Context, string) room.Room
	ListRooms(context.Context) []room.RoomSummary
}

type controller struct {
	roomService iRoomService
	upgrader    websocket.Upgrader
	validate    *validator.Validator
	wsRouter    *wsrouter.WSRouter[*session.Session]
	sessionCfg  session.Config
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

func NewController(roomService iRoomService, sessionCfg *session.Config, m *metrics.Metrics, logger *slog.Logger) *controller {
	c := &controller{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		roomService: roomService,
		validate:    validator.NewValidator(),
		sessionCfg:  *sessionCfg,
		metrics:     m,
		logger:      logger,
	}

	c.sessionCfg.OnDrop = m.Dropped
	c.wsRouter = c.getWSRouter()

	return c
}
