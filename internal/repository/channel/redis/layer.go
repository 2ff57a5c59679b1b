package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cowatch/cowatch/internal/repository/channel"
	"github.com/redis/go-redis/v9"
)

const roomPrefix = "cowatch:room:"

type Layer struct {
	rc     *redis.Client
	logger *slog.Logger
}

func New(rc *redis.Client, logger *slog.Logger) *Layer {
	return &Layer{
		rc:     rc,
		logger: logger,
	}
}

func (l *Layer) getRoomChannel(roomId string) string {
	return roomPrefix + roomId
}

func (l *Layer) Publish(ctx context.Context, e *channel.Envelope) error {
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	if err := l.rc.Publish(ctx, l.getRoomChannel(e.Room), b).Err(); err != nil {
		return fmt.Errorf("failed to publish: %w", err)
	}

	return nil
}

func (l *Layer) Subscribe(ctx context.Context, handler channel.HandlerFunc) error {
	ps := l.rc.PSubscribe(ctx, roomPrefix+"*")
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	msgs := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return channel.ErrClosed
			}

			var e channel.Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
				l.logger.WarnContext(ctx, "failed to unmarshal envelope", "channel", msg.Channel, "error", err)
				continue
			}

			if e.Room == "" {
				e.Room = strings.TrimPrefix(msg.Channel, roomPrefix)
			}

			handler(ctx, &e)
		}
	}
}

func (l *Layer) Close() error {
	return l.rc.Close()
}
