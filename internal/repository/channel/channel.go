// Package channel carries relayed room messages between server nodes.
package channel

import (
	"context"
	"encoding/json"
	"errors"
)

var ErrClosed = errors.New("channel layer closed")

// Envelope is one relayed message. Origin is the sending session, Node the
// server that accepted it.
type Envelope struct {
	Node    string          `json:"node"`
	Room    string          `json:"room"`
	Origin  string          `json:"origin"`
	Message json.RawMessage `json:"message"`
}

type HandlerFunc func(ctx context.Context, e *Envelope)

// Layer publishes envelopes to every subscribed node. Envelopes published by
// one caller are handed to each subscriber in publish order.
type Layer interface {
	Publish(ctx context.Context, e *Envelope) error
	// Subscribe blocks until ctx is done, calling handler sequentially.
	Subscribe(ctx context.Context, handler HandlerFunc) error
	Close() error
}
