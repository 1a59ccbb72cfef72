package rooms

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/RanFeng/ilog"
	"github.com/google/uuid"

	"slidesync/internal/metrics"
)

var (
	ErrRoomNotFound = errors.New("room not found")
)

// DefaultIdleTimeout is the age past which CleanupEmptyRooms removes a room
// with an empty roster.
const DefaultIdleTimeout = 30 * time.Minute

type Manager struct {
	mu    sync.RWMutex
	rooms map[string]*Room

	now         func() time.Time
	idleTimeout time.Duration
	metrics     *metrics.Collector
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

func WithIdleTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.idleTimeout = d
		}
	}
}

func WithMetrics(c *metrics.Collector) Option {
	return func(m *Manager) {
		m.metrics = c
	}
}

func NewManager(opts ...Option) *Manager {
	m := &Manager{
		rooms:       make(map[string]*Room),
		now:         time.Now,
		idleTimeout: DefaultIdleTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) newRoom(roomID string) *Room {
	return NewRoom(roomID, WithRoomClock(m.now), WithRoomMetrics(m.metrics))
}

func (m *Manager) CreateRoom() string {
	roomID := generateID()
	room := m.newRoom(roomID)

	m.mu.Lock()
	m.rooms[roomID] = room
	m.mu.Unlock()

	m.metrics.RoomOpened()
	ilog.EventInfo(context.Background(), "room_created", "roomID", roomID)
	return roomID
}

// EnsureRoom registers a room under roomID unless one exists. When two
// callers race on an unknown id the first insert wins and the second call
// returns without replacing it.
func (m *Manager) EnsureRoom(roomID string) string {
	m.mu.RLock()
	_, ok := m.rooms[roomID]
	m.mu.RUnlock()
	if ok {
		return roomID
	}

	m.mu.Lock()
	if _, ok := m.rooms[roomID]; ok {
		m.mu.Unlock()
		return roomID
	}
	m.rooms[roomID] = m.newRoom(roomID)
	m.mu.Unlock()

	m.metrics.RoomOpened()
	ilog.EventInfo(context.Background(), "room_ensured", "roomID", roomID)
	return roomID
}

func (m *Manager) GetRoom(roomID string) (*Room, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	room, ok := m.rooms[roomID]
	return room, ok
}

// LookupRoom is GetRoom with ErrRoomNotFound for the HTTP handlers.
func (m *Manager) LookupRoom(roomID string) (*Room, error) {
	room, ok := m.GetRoom(roomID)
	if !ok {
		return nil, ErrRoomNotFound
	}
	return room, nil
}

// RemoveRoom deletes the room regardless of its roster and stops its replays.
func (m *Manager) RemoveRoom(roomID string) {
	m.mu.Lock()
	room, ok := m.rooms[roomID]
	delete(m.rooms, roomID)
	m.mu.Unlock()

	if ok {
		room.Close()
		m.metrics.RoomClosed()
		ilog.EventInfo(context.Background(), "room_removed", "roomID", roomID)
	}
}

// CleanupEmptyRooms removes every room with an empty roster that was created
// more than the idle timeout ago and returns the removed ids. Rooms with
// clients are never removed.
func (m *Manager) CleanupEmptyRooms() []string {
	now := m.now()

	m.mu.Lock()
	var removed []*Room
	for roomID, room := range m.rooms {
		age, empty := room.emptyAge(now)
		if empty && age > m.idleTimeout {
			removed = append(removed, room)
			delete(m.rooms, roomID)
		}
	}
	m.mu.Unlock()

	ids := make([]string, 0, len(removed))
	for _, room := range removed {
		room.Close()
		m.metrics.RoomClosed()
		ids = append(ids, room.ID())
	}
	sort.Strings(ids)
	if len(ids) > 0 {
		m.metrics.RoomsReaped(len(ids))
		ilog.EventInfo(context.Background(), "rooms_reaped", "roomIDs", ids)
	}
	return ids
}

// RunJanitor calls CleanupEmptyRooms every interval until ctx is done.
func (m *Manager) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CleanupEmptyRooms()
		}
	}
}

func (m *Manager) RoomCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms)
}

func (m *Manager) RoomIDs() []string {
	m.mu.RLock()
	ids := make([]string, 0, len(m.rooms))
	for roomID := range m.rooms {
		ids = append(ids, roomID)
	}
	m.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

func generateID() string {
	return uuid.NewString()
}
