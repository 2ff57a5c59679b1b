// Package hub keeps the room groups of connected sessions and fans out
// messages to every other member of the sender's room.
//
// All membership changes and fan-outs of one room are serialized by the
// room's lock; different rooms broadcast in parallel. The hub does no I/O:
// delivery is a non-blocking hand-off to Member.Deliver.
package hub

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/cowatch/cowatch/internal/protocol"
)

var (
	ErrCapacityExceeded = errors.New("room capacity exceeded")
	ErrAlreadyJoined    = errors.New("member already joined")
	ErrNotJoined        = errors.New("member is not joined")
)

type Member interface {
	ID() string
	DisplayName() string
	ConnectedAt() time.Time
	// Deliver hands a frame to the member's outbound queue. It must not block
	// and must not call back into the hub.
	Deliver(frame []byte) bool
}

type MemberInfo struct {
	Id          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	ConnectedAt time.Time `json:"connected_at"`
}

type Stats struct {
	Rooms   int `json:"rooms"`
	Members int `json:"members"`
}

type Config struct {
	// MembersLimit caps members per room, 0 means unlimited.
	MembersLimit int
	// ReplayLastPlayback makes a new member receive the room's last playback command.
	ReplayLastPlayback bool
}

type Handle struct {
	roomId string
	member Member
	left   atomic.Bool
}

func (h *Handle) RoomId() string {
	return h.roomId
}

func (h *Handle) Member() Member {
	return h.member
}

type group struct {
	mu           sync.Mutex
	members      map[string]Member
	lastPlayback []byte
	// dead is set when the last member leaves, before the group is dropped
	// from the hub. A dead group takes no joins and delivers nothing.
	dead bool
}

// Hub holds the room groups. mu only guards the groups map and is never held
// while a group is locked, so rooms never wait on each other.
type Hub struct {
	mu           sync.RWMutex
	groups       map[string]*group
	membersLimit int
	replay       bool
	logger       *slog.Logger
}

func New(cfg *Config, logger *slog.Logger) *Hub {
	return &Hub{
		groups:       make(map[string]*group),
		membersLimit: cfg.MembersLimit,
		replay:       cfg.ReplayLastPlayback,
		logger:       logger,
	}
}

func (h *Hub) group(roomId string) (*group, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	g, ok := h.groups[roomId]
	return g, ok
}

// joinNewGroup creates the room with member as its first member. It returns
// the existing group instead when the room is already there.
func (h *Hub) joinNewGroup(roomId string, member Member) (*group, bool) {
	if g, ok := h.group(roomId); ok {
		return g, false
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if g, ok := h.groups[roomId]; ok {
		return g, false
	}

	g := &group{members: map[string]Member{member.ID(): member}}
	h.groups[roomId] = g
	return g, true
}

func (h *Hub) removeGroup(roomId string, g *group) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.groups[roomId] == g {
		delete(h.groups, roomId)
	}
}

func (h *Hub) Join(roomId string, member Member) (*Handle, error) {
	for {
		g, created := h.joinNewGroup(roomId, member)
		if created {
			h.logger.Debug("member joined", "room_id", roomId, "session_id", member.ID(), "members", 1)
			return &Handle{roomId: roomId, member: member}, nil
		}

		g.mu.Lock()
		if g.dead {
			g.mu.Unlock()
			h.removeGroup(roomId, g)
			continue
		}

		handle, err := h.joinGroup(g, roomId, member)
		g.mu.Unlock()
		return handle, err
	}
}

// joinGroup must be called with g.mu held.
func (h *Hub) joinGroup(g *group, roomId string, member Member) (*Handle, error) {
	if _, exists := g.members[member.ID()]; exists {
		return nil, ErrAlreadyJoined
	}

	if h.membersLimit > 0 && len(g.members) >= h.membersLimit {
		return nil, fmt.Errorf("%w: limit %d", ErrCapacityExceeded, h.membersLimit)
	}

	g.members[member.ID()] = member
	h.logger.Debug("member joined", "room_id", roomId, "session_id", member.ID(), "members", len(g.members))

	if h.replay && g.lastPlayback != nil {
		member.Deliver(g.lastPlayback)
	}

	return &Handle{roomId: roomId, member: member}, nil
}

// Leave is idempotent.
func (h *Hub) Leave(handle *Handle) {
	if handle == nil || !handle.left.CompareAndSwap(false, true) {
		return
	}

	g, ok := h.group(handle.roomId)
	if !ok {
		return
	}

	g.mu.Lock()
	delete(g.members, handle.member.ID())
	remaining := len(g.members)
	if remaining == 0 {
		g.dead = true
	}
	g.mu.Unlock()

	if remaining == 0 {
		h.removeGroup(handle.roomId, g)
	}

	h.logger.Debug("member left", "room_id", handle.roomId, "session_id", handle.member.ID(), "members", remaining)
}

// Broadcast delivers msg to every other member of the handle's room and
// returns the number of members the frame was handed to.
func (h *Hub) Broadcast(handle *Handle, msg protocol.Message) (int, error) {
	if handle == nil || handle.left.Load() {
		return 0, ErrNotJoined
	}

	frame, err := protocol.Encode(msg)
	if err != nil {
		return 0, fmt.Errorf("failed to encode message: %w", err)
	}

	return h.fanout(handle.roomId, handle.member.ID(), msg.Type, frame), nil
}

// Deliver fans out a message that entered the system elsewhere (another node).
// originId is excluded in case the origin is also a local member.
func (h *Hub) Deliver(roomId, originId string, msg protocol.Message) (int, error) {
	frame, err := protocol.Encode(msg)
	if err != nil {
		return 0, fmt.Errorf("failed to encode message: %w", err)
	}

	return h.fanout(roomId, originId, msg.Type, frame), nil
}

func (h *Hub) fanout(roomId, originId string, msgType protocol.Type, frame []byte) int {
	g, ok := h.group(roomId)
	if !ok {
		return 0
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.dead {
		return 0
	}

	if h.replay && msgType == protocol.TypePlayback {
		g.lastPlayback = frame
	}

	delivered := 0
	for id, member := range g.members {
		if id == originId {
			continue
		}

		if member.Deliver(frame) {
			delivered++
		}
	}

	return delivered
}

func (h *Hub) Members(roomId string) []MemberInfo {
	g, ok := h.group(roomId)
	if !ok {
		return []MemberInfo{}
	}

	g.mu.Lock()
	members := make([]MemberInfo, 0, len(g.members))
	for _, m := range g.members {
		members = append(members, MemberInfo{
			Id:          m.ID(),
			DisplayName: m.DisplayName(),
			ConnectedAt: m.ConnectedAt(),
		})
	}
	g.mu.Unlock()

	slices.SortFunc(members, func(a, b MemberInfo) int {
		if c := a.ConnectedAt.Compare(b.ConnectedAt); c != 0 {
			return c
		}
		if a.Id < b.Id {
			return -1
		}
		if a.Id > b.Id {
			return 1
		}
		return 0
	})

	return members
}

func (h *Hub) RoomIds() []string {
	h.mu.RLock()
	roomIds := maps.Keys(h.groups)
	h.mu.RUnlock()

	slices.Sort(roomIds)
	return roomIds
}

func (h *Hub) Stats() Stats {
	h.mu.RLock()
	groups := maps.Values(h.groups)
	h.mu.RUnlock()

	var stats Stats
	for _, g := range groups {
		g.mu.Lock()
		if !g.dead {
			stats.Rooms++
			stats.Members += len(g.members)
		}
		g.mu.Unlock()
	}

	return stats
}
