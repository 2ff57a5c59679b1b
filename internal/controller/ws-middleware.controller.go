package controller

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/cowatch/cowatch/internal/session"
	"github.com/cowatch/cowatch/pkg/ctxlogger"
	"github.com/cowatch/cowatch/pkg/wsrouter"
)

func (c controller) wsRequestIdWSMw() wsrouter.Middleware[*session.Session] {
	return func(next wsrouter.HandlerFunc[*session.Session]) wsrouter.HandlerFunc[*session.Session] {
		return func(ctx context.Context, s *session.Session, payload json.RawMessage) error {
			ctx = ctxlogger.AppendCtx(ctx, slog.String("ws_request_id", c.generateTimeBasedId()))
			return next(ctx, s, payload)
		}
	}
}

func (c controller) loggerWSMw() wsrouter.Middleware[*session.Session] {
	return func(next wsrouter.HandlerFunc[*session.Session]) wsrouter.HandlerFunc[*session.Session] {
		return func(ctx context.Context, s *session.Session, payload json.RawMessage) error {
			ctx = ctxlogger.AppendCtx(ctx, slog.String("message_type", wsrouter.GetMessageTypeFromCtx(ctx)))
			c.logger.DebugContext(ctx, "websocket message received", "payload", string(payload))

			start := time.Now()

			err := next(ctx, s, payload)

			c.logger.DebugContext(ctx, "websocket message handled",
				"processing_time_us", time.Since(start).Microseconds(),
			)

			return err
		}
	}
}
