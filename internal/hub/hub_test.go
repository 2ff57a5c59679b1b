package hub

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cowatch/cowatch/internal/protocol"
)

type fakeMember struct {
	id          string
	connectedAt time.Time

	mu     sync.Mutex
	frames []string
}

func newFakeMember(id string) *fakeMember {
	return &fakeMember{id: id, connectedAt: time.Now()}
}

func (m *fakeMember) ID() string             { return m.id }
func (m *fakeMember) DisplayName() string    { return "name-" + m.id }
func (m *fakeMember) ConnectedAt() time.Time { return m.connectedAt }

func (m *fakeMember) Deliver(frame []byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frames = append(m.frames, string(frame))
	return true
}

func (m *fakeMember) Frames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.frames...)
}

func newTestHub(cfg *Config) *Hub {
	return New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func join(t *testing.T, h *Hub, roomId string, m Member) *Handle {
	t.Helper()
	handle, err := h.Join(roomId, m)
	require.NoError(t, err)
	return handle
}

func TestBroadcastFanOutExcludesSender(t *testing.T) {
	h := newTestHub(&Config{})
	a, b, c := newFakeMember("a"), newFakeMember("b"), newFakeMember("c")
	ha := join(t, h, "R1", a)
	hb := join(t, h, "R1", b)
	join(t, h, "R1", c)

	n, err := h.Broadcast(ha, protocol.NewPlayback(protocol.ActionPause, 12.5))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	pause := `{"type":"playback","action":"PAUSE","time":12.5}`
	assert.Empty(t, a.Frames())
	assert.Equal(t, []string{pause}, b.Frames())
	assert.Equal(t, []string{pause}, c.Frames())

	_, err = h.Broadcast(hb, protocol.NewChat("hi", "bob"))
	require.NoError(t, err)

	chat := `{"type":"chat","text":"hi","sender":"bob"}`
	assert.Equal(t, []string{chat}, a.Frames())
	assert.Equal(t, []string{pause}, b.Frames())
	assert.Equal(t, []string{pause, chat}, c.Frames())
}

func TestBroadcastIsolation(t *testing.T) {
	h := newTestHub(&Config{})
	a, b := newFakeMember("a"), newFakeMember("b")
	ha := join(t, h, "A", a)
	join(t, h, "B", b)

	n, err := h.Broadcast(ha, protocol.NewChat("hi", "a"))
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, b.Frames())
}

func TestBroadcastAloneIsNoop(t *testing.T) {
	h := newTestHub(&Config{})
	a := newFakeMember("a")
	ha := join(t, h, "R", a)

	n, err := h.Broadcast(ha, protocol.NewPlayback(protocol.ActionPlay, 0))
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, a.Frames())
}

func TestBroadcastPreservesSenderOrder(t *testing.T) {
	h := newTestHub(&Config{})
	a, b := newFakeMember("a"), newFakeMember("b")
	ha := join(t, h, "R", a)
	join(t, h, "R", b)

	want := make([]string, 0, 50)
	for i := 0; i < 50; i++ {
		msg := protocol.NewChat(fmt.Sprintf("m%d", i), "a")
		_, err := h.Broadcast(ha, msg)
		require.NoError(t, err)
		frame, _ := protocol.Encode(msg)
		want = append(want, string(frame))
	}

	assert.Equal(t, want, b.Frames())
}

func TestLeaveIsIdempotent(t *testing.T) {
	h := newTestHub(&Config{})
	a, b := newFakeMember("a"), newFakeMember("b")
	ha := join(t, h, "R", a)
	hb := join(t, h, "R", b)

	h.Leave(hb)
	h.Leave(hb)
	h.Leave(nil)

	n, err := h.Broadcast(ha, protocol.NewChat("hi", "a"))
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, b.Frames())

	_, err = h.Broadcast(hb, protocol.NewChat("ghost", "b"))
	assert.ErrorIs(t, err, ErrNotJoined)
	assert.Empty(t, a.Frames())

	h.Leave(ha)
	assert.Equal(t, Stats{}, h.Stats())
	assert.Empty(t, h.RoomIds())
}

func TestJoinCapacity(t *testing.T) {
	h := newTestHub(&Config{MembersLimit: 2})
	join(t, h, "R", newFakeMember("a"))
	hb := join(t, h, "R", newFakeMember("b"))

	_, err := h.Join("R", newFakeMember("c"))
	assert.ErrorIs(t, err, ErrCapacityExceeded)

	join(t, h, "other", newFakeMember("c"))

	h.Leave(hb)
	join(t, h, "R", newFakeMember("d"))
}

func TestJoinTwiceFails(t *testing.T) {
	h := newTestHub(&Config{})
	a := newFakeMember("a")
	join(t, h, "R", a)

	_, err := h.Join("R", a)
	assert.ErrorIs(t, err, ErrAlreadyJoined)
}

func TestReplayLastPlayback(t *testing.T) {
	h := newTestHub(&Config{ReplayLastPlayback: true})
	a, b := newFakeMember("a"), newFakeMember("b")
	ha := join(t, h, "R", a)
	join(t, h, "R", b)

	_, err := h.Broadcast(ha, protocol.NewPlayback(protocol.ActionPlay, 3))
	require.NoError(t, err)
	_, err = h.Broadcast(ha, protocol.NewChat("hi", "a"))
	require.NoError(t, err)

	late := newFakeMember("late")
	join(t, h, "R", late)
	assert.Equal(t, []string{`{"type":"playback","action":"PLAY","time":3}`}, late.Frames())
}

func TestReplayDisabledByDefault(t *testing.T) {
	h := newTestHub(&Config{})
	a, b := newFakeMember("a"), newFakeMember("b")
	ha := join(t, h, "R", a)
	join(t, h, "R", b)

	_, err := h.Broadcast(ha, protocol.NewPlayback(protocol.ActionPlay, 3))
	require.NoError(t, err)

	late := newFakeMember("late")
	join(t, h, "R", late)
	assert.Empty(t, late.Frames())
}

func TestDeliverFromOtherNode(t *testing.T) {
	h := newTestHub(&Config{})
	a, b := newFakeMember("a"), newFakeMember("b")
	join(t, h, "R", a)
	join(t, h, "R", b)

	n, err := h.Deliver("R", "remote-session", protocol.NewChat("hi", "remote"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = h.Deliver("missing", "remote-session", protocol.NewChat("hi", "remote"))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMembersAndStats(t *testing.T) {
	h := newTestHub(&Config{})
	a := &fakeMember{id: "a", connectedAt: time.Unix(10, 0)}
	b := &fakeMember{id: "b", connectedAt: time.Unix(5, 0)}
	join(t, h, "R", a)
	join(t, h, "R", b)
	join(t, h, "Q", newFakeMember("c"))

	members := h.Members("R")
	require.Len(t, members, 2)
	assert.Equal(t, "b", members[0].Id)
	assert.Equal(t, "name-a", members[1].DisplayName)
	assert.Empty(t, h.Members("nope"))

	assert.Equal(t, Stats{Rooms: 2, Members: 3}, h.Stats())
	assert.Equal(t, []string{"Q", "R"}, h.RoomIds())
}

func TestConcurrentJoinLeaveBroadcast(t *testing.T) {
	h := newTestHub(&Config{})
	stable := newFakeMember("stable")
	sender := newFakeMember("sender")
	join(t, h, "R", stable)
	hs := join(t, h, "R", sender)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			handle, err := h.Join("R", newFakeMember(fmt.Sprintf("churn-%d", i)))
			if err != nil {
				return
			}
			h.Leave(handle)
		}(i)
	}

	for i := 0; i < 100; i++ {
		_, err := h.Broadcast(hs, protocol.NewChat(fmt.Sprintf("m%d", i), "sender"))
		require.NoError(t, err)
	}
	wg.Wait()

	assert.Len(t, stable.Frames(), 100)
	assert.Equal(t, Stats{Rooms: 1, Members: 2}, h.Stats())
}

type blockingMember struct {
	*fakeMember
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (m *blockingMember) Deliver(frame []byte) bool {
	m.once.Do(func() { close(m.entered) })
	<-m.release
	return m.fakeMember.Deliver(frame)
}

func TestBusyRoomDoesNotBlockOthers(t *testing.T) {
	h := newTestHub(&Config{})

	slow := &blockingMember{
		fakeMember: newFakeMember("slow"),
		entered:    make(chan struct{}),
		release:    make(chan struct{}),
	}
	hs := join(t, h, "busy", newFakeMember("sender"))
	join(t, h, "busy", slow)

	go h.Broadcast(hs, protocol.NewChat("hi", "sender"))
	<-slow.entered
	defer close(slow.release)

	done := make(chan struct{})
	go func() {
		defer close(done)
		ha, err := h.Join("calm", newFakeMember("a"))
		if err != nil {
			return
		}
		hb, err := h.Join("calm", newFakeMember("b"))
		if err != nil {
			return
		}
		h.Broadcast(ha, protocol.NewChat("hello", "a"))
		h.Leave(hb)
		h.Leave(ha)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("room calm waited on room busy")
	}
	assert.NotContains(t, h.RoomIds(), "calm")
}

func TestRejoinEmptiedRoom(t *testing.T) {
	h := newTestHub(&Config{})

	ha := join(t, h, "R", newFakeMember("a"))
	h.Leave(ha)
	assert.Empty(t, h.RoomIds())

	b, c := newFakeMember("b"), newFakeMember("c")
	hb := join(t, h, "R", b)
	join(t, h, "R", c)

	n, err := h.Broadcast(hb, protocol.NewPlayback(protocol.ActionPlay, 1))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, c.Frames(), 1)
	assert.Equal(t, Stats{Rooms: 1, Members: 2}, h.Stats())
}
