package controller

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/cowatch/cowatch/internal/hub"
	"github.com/cowatch/cowatch/internal/service/room"
	"github.com/cowatch/cowatch/internal/session"
	"github.com/cowatch/cowatch/pkg/ctxlogger"
	"github.com/cowatch/cowatch/pkg/rest"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

const displayNameTag = "omitempty,max=32"

// joinRoom upgrades the request and serves the session until it closes.
// Ids are validated before the upgrade so a bad request never joins.
func (c controller) joinRoom(w http.ResponseWriter, r *http.Request) {
	roomId := chi.URLParam(r, "room-id")
	if validationErrors, ok := c.validate.Var("room_id", roomId, "roomid"); !ok {
		c.logger.InfoContext(r.Context(), "invalid room id", "room_id", roomId)
		rest.WriteJSON(w, http.StatusBadRequest, rest.Envelope{"errors": validationErrors})
		return
	}

	displayName := r.URL.Query().Get("name")
	if validationErrors, ok := c.validate.Var("name", displayName, displayNameTag); !ok {
		c.logger.InfoContext(r.Context(), "invalid display name")
		rest.WriteJSON(w, http.StatusBadRequest, rest.Envelope{"errors": validationErrors})
		return
	}

	conn, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.logger.InfoContext(r.Context(), "failed to upgrade connection", "error", err)
		return
	}

	s := session.New(conn, roomId, displayName, &c.sessionCfg, c.logger)

	ctx := ctxlogger.AppendCtx(r.Context(), slog.String("room_id", roomId))
	ctx = ctxlogger.AppendCtx(ctx, slog.String("session_id", s.ID()))

	handle, err := c.roomService.Join(ctx, &room.JoinParams{
		RoomId: roomId,
		Member: s,
	})
	if err != nil {
		if errors.Is(err, hub.ErrCapacityExceeded) {
			s.CloseWithCode(session.CloseRoomFull, "room is full")
			return
		}

		s.CloseWithCode(websocket.CloseInternalServerErr, "failed to join room")
		return
	}
	defer c.roomService.Leave(ctx, handle)

	ctx = context.WithValue(ctx, handleCtxKey, handle)
	c.logger.InfoContext(ctx, "session joined", "display_name", s.DisplayName())

	if err := s.Serve(ctx, c.handleFrame); err != nil {
		c.logger.InfoContext(ctx, "session failed", "error", err)
	}

	c.logger.InfoContext(ctx, "session left", "status", s.Status())
}
