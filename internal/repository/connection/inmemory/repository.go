package inmemory

import (
	"log/slog"
	"sync"

	"github.com/cowatch/cowatch/internal/repository/connection"
)

type repo struct {
	conns map[string]connection.Conn
	mu    sync.RWMutex
}

func NewRepo() *repo {
	return &repo{
		conns: make(map[string]connection.Conn),
	}
}

func (r *repo) Add(conn connection.Conn) error {
	funcName := "connection.inmemory.Add"
	r.mu.Lock()
	defer r.mu.Unlock()

	slog.Debug(funcName, "session_id", conn.ID())
	if _, ok := r.conns[conn.ID()]; ok {
		slog.Info(funcName, "error", connection.ErrAlreadyExists)
		return connection.ErrAlreadyExists
	}

	r.conns[conn.ID()] = conn
	return nil
}

func (r *repo) Remove(id string) error {
	funcName := "connection.inmemory.Remove"
	r.mu.Lock()
	defer r.mu.Unlock()

	slog.Debug(funcName, "session_id", id)
	if _, ok := r.conns[id]; !ok {
		slog.Debug(funcName, "error", connection.ErrNotFound)
		return connection.ErrNotFound
	}

	delete(r.conns, id)
	return nil
}

func (r *repo) Get(id string) (connection.Conn, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.conns[id]
	if !ok {
		return nil, connection.ErrNotFound
	}

	return conn, nil
}

func (r *repo) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.conns)
}

// CloseAll closes every registered connection and empties the registry.
func (r *repo) CloseAll(code int, text string) int {
	r.mu.Lock()
	conns := r.conns
	r.conns = make(map[string]connection.Conn)
	r.mu.Unlock()

	slog.Debug("connection.inmemory.CloseAll", "count", len(conns))
	for _, conn := range conns {
		conn.CloseWithCode(code, text)
	}

	return len(conns)
}
