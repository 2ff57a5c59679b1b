package redis

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/cowatch/cowatch/internal/repository/channel"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLayer(t *testing.T, mr *miniredis.Miniredis) *Layer {
	t.Helper()

	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	l := New(rc, slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(func() { l.Close() })

	return l
}

func TestLayer_PublishSubscribe(t *testing.T) {
	mr := miniredis.RunT(t)
	publisher := newTestLayer(t, mr)
	subscriber := newTestLayer(t, mr)

	var (
		mu  sync.Mutex
		got []*channel.Envelope
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		_ = subscriber.Subscribe(ctx, func(_ context.Context, e *channel.Envelope) {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, e)
		})
	}()

	require.Eventually(t, func() bool {
		return mr.PubSubNumPat() > 0
	}, time.Second, 5*time.Millisecond)

	for i, m := range []string{`{"type":"chat","text":"hi","sender":"a"}`, `{"type":"playback","action":"PLAY","time":1}`} {
		require.NoError(t, publisher.Publish(ctx, &channel.Envelope{
			Node:    "node-1",
			Room:    "abc",
			Origin:  "s1",
			Message: json.RawMessage(m),
		}), i)
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "node-1", got[0].Node)
	assert.Equal(t, "abc", got[0].Room)
	assert.Equal(t, "s1", got[0].Origin)
	assert.JSONEq(t, `{"type":"chat","text":"hi","sender":"a"}`, string(got[0].Message))
	assert.JSONEq(t, `{"type":"playback","action":"PLAY","time":1}`, string(got[1].Message))
}

func TestLayer_SkipsGarbage(t *testing.T) {
	mr := miniredis.RunT(t)
	l := newTestLayer(t, mr)

	received := make(chan *channel.Envelope, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		_ = l.Subscribe(ctx, func(_ context.Context, e *channel.Envelope) {
			received <- e
		})
	}()

	require.Eventually(t, func() bool {
		return mr.PubSubNumPat() > 0
	}, time.Second, 5*time.Millisecond)

	mr.Publish(roomPrefix+"abc", "not json")
	mr.Publish(roomPrefix+"abc", `{"node":"n","origin":"o","message":{"type":"chat","text":"x","sender":""}}`)

	select {
	case e := <-received:
		assert.Equal(t, "abc", e.Room)
		assert.Equal(t, "n", e.Node)
	case <-time.After(time.Second):
		t.Fatal("envelope not received")
	}
}
