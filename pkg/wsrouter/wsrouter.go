package wsrouter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrMalformedMessage   = errors.New("malformed message")
	ErrUnknownMessageType = errors.New("unknown message type")
)

type HandlerFunc[C any] func(ctx context.Context, conn C, payload json.RawMessage) error

type Middleware[C any] func(next HandlerFunc[C]) HandlerFunc[C]

type envelope struct {
	Type string `json:"type"`
}

// WSRouter dispatches text frames to handlers by their "type" field.
// The handler receives the whole frame, not a nested payload.
type WSRouter[C any] struct {
	routes      map[string]HandlerFunc[C]
	middlewares []Middleware[C]
}

func New[C any]() *WSRouter[C] {
	return &WSRouter[C]{routes: make(map[string]HandlerFunc[C])}
}

func (r *WSRouter[C]) Use(mw ...Middleware[C]) {
	r.middlewares = append(r.middlewares, mw...)
}

func (r *WSRouter[C]) Handle(messageType string, handler HandlerFunc[C]) {
	r.routes[messageType] = handler
}

// Dispatch routes a single frame. Routing failures are returned wrapped in
// ErrMalformedMessage or ErrUnknownMessageType; the caller decides what to do with them.
func (r *WSRouter[C]) Dispatch(ctx context.Context, conn C, data []byte) error {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}

	handler, ok := r.routes[env.Type]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownMessageType, env.Type)
	}

	ctx = context.WithValue(ctx, messageTypeKey, env.Type)

	for i := len(r.middlewares) - 1; i >= 0; i-- {
		handler = r.middlewares[i](handler)
	}

	return handler(ctx, conn, data)
}

// Typed adapts a handler taking a decoded input of type T.
func Typed[C, T any](handler func(ctx context.Context, conn C, input T) error) HandlerFunc[C] {
	return func(ctx context.Context, conn C, payload json.RawMessage) error {
		var input T
		if err := json.Unmarshal(payload, &input); err != nil {
			return fmt.Errorf("%w: %w", ErrMalformedMessage, err)
		}

		return handler(ctx, conn, input)
	}
}
