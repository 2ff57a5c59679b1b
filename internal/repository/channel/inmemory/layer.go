package inmemory

import (
	"context"
	"sync"

	"github.com/cowatch/cowatch/internal/repository/channel"
)

const subscriberBuffer = 256

type subscriber struct {
	envelopes chan *channel.Envelope
	stop      chan struct{}
}

// Layer is a process-local channel layer. Several services sharing one Layer
// behave like nodes sharing a Redis server.
type Layer struct {
	mu     sync.RWMutex
	subs   map[*subscriber]struct{}
	closed bool
	done   chan struct{}
}

func New() *Layer {
	return &Layer{
		subs: make(map[*subscriber]struct{}),
		done: make(chan struct{}),
	}
}

func (l *Layer) Publish(ctx context.Context, e *channel.Envelope) error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		return channel.ErrClosed
	}

	for sub := range l.subs {
		select {
		case sub.envelopes <- e:
		case <-sub.stop:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return nil
}

func (l *Layer) Subscribe(ctx context.Context, handler channel.HandlerFunc) error {
	sub := &subscriber{
		envelopes: make(chan *channel.Envelope, subscriberBuffer),
		stop:      make(chan struct{}),
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return channel.ErrClosed
	}
	l.subs[sub] = struct{}{}
	l.mu.Unlock()

	defer func() {
		close(sub.stop)
		l.mu.Lock()
		delete(l.subs, sub)
		l.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-l.done:
			return nil
		case e := <-sub.envelopes:
			handler(ctx, e)
		}
	}
}

// Subscribers reports how many subscriptions are active.
func (l *Layer) Subscribers() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return len(l.subs)
}

func (l *Layer) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.closed {
		l.closed = true
		close(l.done)
	}

	return nil
}
