package controller

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

func (c controller) GetMux() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(c.requestIdMw)
	r.Use(c.requestLoggingMw)
	r.Use(cors.AllowAll().Handler)

	r.Get("/rooms/{room-id}", c.joinRoom)
	r.Get("/rooms/{room-id}/", c.joinRoom)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("OK"))
		})
		r.Get("/rooms", c.getRooms)
		r.Get("/rooms/{room-id}", c.getRoom)
		r.Route("/ws", func(r chi.Router) {
			r.Get("/rooms/{room-id}", c.joinRoom)
		})
	})

	if c.metrics != nil {
		r.Method(http.MethodGet, "/metrics", c.metrics.Handler())
	}

	return r
}
