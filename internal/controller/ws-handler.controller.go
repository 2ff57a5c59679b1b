package controller

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cowatch/cowatch/internal/protocol"
	"github.com/cowatch/cowatch/internal/session"
	"github.com/cowatch/cowatch/pkg/wsrouter"
)

var errNotJoined = errors.New("session is not joined")

func (c controller) handlePlayback(ctx context.Context, _ *session.Session, input protocol.Playback) error {
	if validationErrors, ok := c.validate.Validate(input); !ok {
		return fmt.Errorf("%w: %v", protocol.ErrInvalidPlayback, validationErrors)
	}

	return c.relay(ctx, protocol.NewPlayback(input.Action, input.Time))
}

func (c controller) handleChat(ctx context.Context, _ *session.Session, input protocol.Chat) error {
	if strings.TrimSpace(input.Text) == "" {
		return protocol.ErrEmptyChatText
	}

	return c.relay(ctx, protocol.NewChat(input.Text, input.Sender))
}

func (c controller) relay(ctx context.Context, msg protocol.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	handle := c.getHandleFromCtx(ctx)
	if handle == nil {
		return errNotJoined
	}

	delivered, err := c.roomService.Relay(ctx, handle, msg)
	if err != nil {
		return fmt.Errorf("failed to relay message: %w", err)
	}

	c.logger.DebugContext(ctx, "message relayed", "delivered", delivered)
	return nil
}

// handleFrame routes one inbound frame. Errors never close the session.
func (c controller) handleFrame(ctx context.Context, s *session.Session, frame []byte) {
	err := c.wsRouter.Dispatch(ctx, s, frame)
	if err == nil {
		return
	}

	if isInvalidFrame(err) {
		c.metrics.Malformed()
		c.logger.WarnContext(ctx, "discarding frame", "error", err)
		return
	}

	c.logger.ErrorContext(ctx, "failed to handle frame", "error", err)
}

func isInvalidFrame(err error) bool {
	return errors.Is(err, wsrouter.ErrMalformedMessage) ||
		errors.Is(err, wsrouter.ErrUnknownMessageType) ||
		errors.Is(err, protocol.ErrInvalidPlayback) ||
		errors.Is(err, protocol.ErrEmptyChatText) ||
		errors.Is(err, protocol.ErrInvalidMessage) ||
		errors.Is(err, protocol.ErrUnknownType)
}
