package room

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cowatch/cowatch/internal/protocol"
	"github.com/cowatch/cowatch/internal/repository/channel"
	"github.com/cowatch/cowatch/pkg/ctxlogger"
)

// Run consumes the channel layer until ctx is done. Without a layer it only
// waits.
func (s service) Run(ctx context.Context) error {
	if s.layer == nil {
		<-ctx.Done()
		return nil
	}

	if err := s.layer.Subscribe(ctx, s.handleEnvelope); err != nil && !errors.Is(err, channel.ErrClosed) {
		return fmt.Errorf("failed to consume channel layer: %w", err)
	}

	return nil
}

func (s service) handleEnvelope(ctx context.Context, e *channel.Envelope) {
	if e.Node == s.nodeId {
		return
	}

	ctx = ctxlogger.AppendCtx(ctx, slog.String("room_id", e.Room))

	msg, err := protocol.Decode(e.Message)
	if err != nil {
		s.metrics.Malformed()
		s.logger.WarnContext(ctx, "discarding remote message", "node", e.Node, "error", err)
		return
	}

	s.metrics.Remote()
	if _, err := s.hub.Deliver(e.Room, e.Origin, msg); err != nil {
		s.logger.WarnContext(ctx, "failed to deliver remote message", "error", err)
	}
}
