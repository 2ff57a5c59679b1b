package room

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/cowatch/cowatch/internal/hub"
	"github.com/cowatch/cowatch/internal/metrics"
	"github.com/cowatch/cowatch/internal/protocol"
	channelInmemory "github.com/cowatch/cowatch/internal/repository/channel/inmemory"
	"github.com/cowatch/cowatch/internal/repository/connection/inmemory"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMember struct {
	id   string
	name string

	mu     sync.Mutex
	frames []string
	closed []int
}

func newFakeMember(id, name string) *fakeMember {
	return &fakeMember{id: id, name: name}
}

func (m *fakeMember) ID() string             { return m.id }
func (m *fakeMember) DisplayName() string    { return m.name }
func (m *fakeMember) ConnectedAt() time.Time { return time.Time{} }

func (m *fakeMember) Deliver(frame []byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frames = append(m.frames, string(frame))
	return true
}

func (m *fakeMember) CloseWithCode(code int, _ string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = append(m.closed, code)
}

func (m *fakeMember) received() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.frames...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(layer *channelInmemory.Layer, membersLimit int) *service {
	logger := discardLogger()
	h := hub.New(&hub.Config{MembersLimit: membersLimit}, logger)

	var s *service
	if layer == nil {
		s = NewService(h, inmemory.NewRepo(), nil, metrics.New(nil), logger)
	} else {
		s = NewService(h, inmemory.NewRepo(), layer, metrics.New(nil), logger)
	}

	return s
}

func join(t *testing.T, s *service, roomId string, m *fakeMember) *hub.Handle {
	t.Helper()

	handle, err := s.Join(context.Background(), &JoinParams{RoomId: roomId, Member: m})
	require.NoError(t, err)

	return handle
}

func TestService_RelayExcludesSender(t *testing.T) {
	s := newTestService(nil, 0)
	ctx := context.Background()

	a, b, c := newFakeMember("a", "alice"), newFakeMember("b", "bob"), newFakeMember("c", "carol")
	ha := join(t, s, "r1", a)
	hb := join(t, s, "r1", b)
	join(t, s, "r1", c)

	n, err := s.Relay(ctx, ha, protocol.NewPlayback(protocol.ActionPause, 12.5))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.Relay(ctx, hb, protocol.NewChat("hi", "bob"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	pause := `{"type":"playback","action":"PAUSE","time":12.5}`
	chat := `{"type":"chat","text":"hi","sender":"bob"}`
	assert.Equal(t, []string{chat}, a.received())
	assert.Equal(t, []string{pause}, b.received())
	assert.Equal(t, []string{pause, chat}, c.received())
}

func TestService_RelayStampsSender(t *testing.T) {
	s := newTestService(nil, 0)

	a, b := newFakeMember("a", "alice"), newFakeMember("b", "bob")
	ha := join(t, s, "r1", a)
	join(t, s, "r1", b)

	original := protocol.NewChat("hello", "  ")
	_, err := s.Relay(context.Background(), ha, original)
	require.NoError(t, err)

	assert.Equal(t, []string{`{"type":"chat","text":"hello","sender":"alice"}`}, b.received())
	assert.Equal(t, "  ", original.Chat.Sender)
}

func TestService_RelayAfterLeave(t *testing.T) {
	s := newTestService(nil, 0)

	a := newFakeMember("a", "alice")
	ha := join(t, s, "r1", a)

	s.Leave(context.Background(), ha)
	s.Leave(context.Background(), ha)

	_, err := s.Relay(context.Background(), ha, protocol.NewChat("x", "a"))
	assert.ErrorIs(t, err, hub.ErrNotJoined)
	assert.Empty(t, s.RoomState(context.Background(), "r1").Members)
}

func TestService_JoinCapacity(t *testing.T) {
	s := newTestService(nil, 1)

	join(t, s, "r1", newFakeMember("a", "alice"))

	_, err := s.Join(context.Background(), &JoinParams{RoomId: "r1", Member: newFakeMember("b", "bob")})
	assert.ErrorIs(t, err, hub.ErrCapacityExceeded)

	join(t, s, "r2", newFakeMember("b", "bob"))
}

func TestService_RoomState(t *testing.T) {
	s := newTestService(nil, 0)

	join(t, s, "r1", newFakeMember("a", "alice"))
	join(t, s, "r1", newFakeMember("b", "bob"))

	room := s.RoomState(context.Background(), "r1")
	assert.Equal(t, "r1", room.RoomId)
	require.Len(t, room.Members, 2)
	assert.ElementsMatch(t, []string{"alice", "bob"}, []string{room.Members[0].DisplayName, room.Members[1].DisplayName})

	assert.Empty(t, s.RoomState(context.Background(), "missing").Members)
}

func TestService_ListRooms(t *testing.T) {
	s := newTestService(nil, 0)

	assert.Empty(t, s.ListRooms(context.Background()))

	join(t, s, "r2", newFakeMember("a", "alice"))
	join(t, s, "r1", newFakeMember("b", "bob"))
	join(t, s, "r2", newFakeMember("c", "carol"))

	assert.Equal(t, []RoomSummary{
		{RoomId: "r1", Members: 1},
		{RoomId: "r2", Members: 2},
	}, s.ListRooms(context.Background()))
}

func TestService_Shutdown(t *testing.T) {
	s := newTestService(nil, 0)

	a, b := newFakeMember("a", "alice"), newFakeMember("b", "bob")
	join(t, s, "r1", a)
	join(t, s, "r2", b)

	assert.Equal(t, 2, s.Shutdown(context.Background()))
	assert.Equal(t, []int{websocket.CloseGoingAway}, a.closed)
	assert.Equal(t, []int{websocket.CloseGoingAway}, b.closed)
}

func TestService_RunWithoutLayer(t *testing.T) {
	s := newTestService(nil, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}

func TestService_CrossNodeDelivery(t *testing.T) {
	layer := channelInmemory.New()
	defer layer.Close()

	node1 := newTestService(layer, 0)
	node2 := newTestService(layer, 0)
	require.NotEqual(t, node1.NodeId(), node2.NodeId())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go node1.Run(ctx)
	go node2.Run(ctx)

	require.Eventually(t, func() bool {
		return layer.Subscribers() == 2
	}, time.Second, 5*time.Millisecond)

	a, b := newFakeMember("a", "alice"), newFakeMember("b", "bob")
	local := newFakeMember("l", "lee")
	other := newFakeMember("o", "olga")
	ha := join(t, node1, "r1", a)
	join(t, node1, "r1", local)
	join(t, node2, "r1", b)
	join(t, node2, "r2", other)

	for _, at := range []float64{1, 2, 3} {
		_, err := node1.Relay(ctx, ha, protocol.NewPlayback(protocol.ActionSeek, at))
		require.NoError(t, err)
	}

	want := []string{
		`{"type":"playback","action":"SEEK","time":1}`,
		`{"type":"playback","action":"SEEK","time":2}`,
		`{"type":"playback","action":"SEEK","time":3}`,
	}

	assert.Eventually(t, func() bool {
		return len(b.received()) == len(want)
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, want, b.received())
	assert.Equal(t, want, local.received())
	assert.Empty(t, a.received())
	assert.Empty(t, other.received())
}
