package room

import (
	"context"
	"errors"
	"fmt"

	"github.com/cowatch/cowatch/internal/hub"
	"github.com/cowatch/cowatch/internal/repository/connection"
	"github.com/gorilla/websocket"
)

type JoinParams struct {
	RoomId string
	Member Member
}

// Join registers the member in its room and in the session registry.
func (s service) Join(ctx context.Context, params *JoinParams) (*hub.Handle, error) {
	handle, err := s.hub.Join(params.RoomId, params.Member)
	if err != nil {
		if errors.Is(err, hub.ErrCapacityExceeded) {
			s.metrics.Rejected()
		}
		s.logger.InfoContext(ctx, "failed to join room", "error", err)
		return nil, fmt.Errorf("failed to join room: %w", err)
	}

	if err := s.connRepo.Add(params.Member); err != nil {
		s.hub.Leave(handle)
		s.logger.InfoContext(ctx, "failed to register session", "error", err)
		return nil, fmt.Errorf("failed to register session: %w", err)
	}

	return handle, nil
}

// Leave is safe to call more than once for the same handle.
func (s service) Leave(ctx context.Context, handle *hub.Handle) {
	if handle == nil {
		return
	}

	s.hub.Leave(handle)
	if err := s.connRepo.Remove(handle.Member().ID()); err != nil && !errors.Is(err, connection.ErrNotFound) {
		s.logger.WarnContext(ctx, "failed to unregister session", "error", err)
	}
}

// Shutdown closes every registered session and returns how many were closed.
func (s service) Shutdown(ctx context.Context) int {
	closed := s.connRepo.CloseAll(websocket.CloseGoingAway, "server shutting down")
	s.logger.InfoContext(ctx, "sessions closed", "count", closed)

	if s.layer != nil {
		if err := s.layer.Close(); err != nil {
			s.logger.WarnContext(ctx, "failed to close channel layer", "error", err)
		}
	}

	return closed
}
