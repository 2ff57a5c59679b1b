package agent

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// link is one websocket connection of an agent.
type link struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func newLink(conn *websocket.Conn, buffer int) *link {
	return &link{
		conn: conn,
		send: make(chan []byte, max(buffer, 1)),
		done: make(chan struct{}),
	}
}

// trySend never blocks.
func (l *link) trySend(frame []byte) bool {
	select {
	case <-l.done:
		return false
	default:
	}

	select {
	case l.send <- frame:
		return true
	default:
		return false
	}
}

func (l *link) writePump(writeWait time.Duration, logger *slog.Logger) {
	for {
		select {
		case <-l.done:
			return
		case frame := <-l.send:
			if writeWait > 0 {
				_ = l.conn.SetWriteDeadline(time.Now().Add(writeWait))
			}

			if err := l.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				logger.Debug("failed to write frame", "error", err)
				l.close()
				return
			}
		}
	}
}

func (l *link) close() {
	l.once.Do(func() {
		close(l.done)
		// the close handshake may stall on a dead network
		go func() {
			_ = l.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			_ = l.conn.Close()
		}()
	})
}
