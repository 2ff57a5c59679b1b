package controller

import (
	"net/http"

	"github.com/cowatch/cowatch/pkg/rest"
	"github.com/go-chi/chi/v5"
)

func (c controller) getRooms(w http.ResponseWriter, r *http.Request) {
	rest.WriteJSON(w, http.StatusOK, rest.Envelope{"data": c.roomService.ListRooms(r.Context())})
}

func (c controller) getRoom(w http.ResponseWriter, r *http.Request) {
	roomId := chi.URLParam(r, "room-id")
	if validationErrors, ok := c.validate.Var("room_id", roomId, "roomid"); !ok {
		c.logger.InfoContext(r.Context(), "invalid room id", "room_id", roomId)
		rest.WriteJSON(w, http.StatusBadRequest, rest.Envelope{"errors": validationErrors})
		return
	}

	rest.WriteJSON(w, http.StatusOK, rest.Envelope{"data": c.roomService.RoomState(r.Context(), roomId)})
}
