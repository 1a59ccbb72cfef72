package rooms

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/RanFeng/ilog"

	"slidesync/internal/metrics"
	"slidesync/internal/protocol"
)

// Room is one live presentation session. Roster, history, recording, state and
// subscriptions are guarded by separate locks; broadcastMu orders history,
// recording and fan-out so every subscriber sees the same sequence.
type Room struct {
	id        string
	createdAt time.Time
	now       func() time.Time
	metrics   *metrics.Collector

	rosterMu sync.RWMutex
	clients  map[string]RoomClient

	broadcastMu sync.Mutex
	history     *messageRing

	recMu     sync.RWMutex
	recording bool
	recorded  []protocol.RecordedMessage

	stateMu sync.RWMutex
	state   json.RawMessage

	subsMu sync.Mutex
	subs   map[*Subscription]struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

type RoomClient struct {
	ID          string              `json:"id"`
	Role        protocol.ClientRole `json:"role"`
	ConnectedAt time.Time           `json:"connectedAt"`
}

type RoomOption func(*Room)

func WithRoomClock(now func() time.Time) RoomOption {
	return func(r *Room) {
		if now != nil {
			r.now = now
		}
	}
}

func WithRoomMetrics(c *metrics.Collector) RoomOption {
	return func(r *Room) {
		r.metrics = c
	}
}

func NewRoom(roomID string, opts ...RoomOption) *Room {
	room := &Room{
		id:      roomID,
		now:     time.Now,
		clients: make(map[string]RoomClient),
		history: newMessageRing(HistoryCapacity),
		subs:    make(map[*Subscription]struct{}),
	}
	for _, opt := range opts {
		opt(room)
	}
	room.createdAt = room.now()
	room.ctx, room.cancel = context.WithCancel(context.Background())
	return room
}

// AddClient registers the client, subscribes it and announces it with a join
// message that the new subscriber also receives. A repeated id replaces the
// roster entry; every subscription under that id stays live until RemoveClient.
func (r *Room) AddClient(clientID string, role protocol.ClientRole) *Subscription {
	r.rosterMu.Lock()
	_, existed := r.clients[clientID]
	r.clients[clientID] = RoomClient{
		ID:          clientID,
		Role:        role,
		ConnectedAt: r.now().UTC(),
	}
	r.rosterMu.Unlock()
	if !existed {
		r.metrics.ClientJoined()
	}

	sub := newSubscription(r, clientID)
	r.subsMu.Lock()
	r.subs[sub] = struct{}{}
	r.subsMu.Unlock()

	ilog.EventInfo(context.Background(), "room_client_joined", "roomID", r.id, "clientID", clientID, "role", role)
	r.BroadcastMessage(protocol.NewJoin(role, clientID))
	return sub
}

// RemoveClient is a no-op for unknown ids. No leave message is broadcast.
func (r *Room) RemoveClient(clientID string) {
	r.rosterMu.Lock()
	_, existed := r.clients[clientID]
	if existed {
		delete(r.clients, clientID)
	}
	r.rosterMu.Unlock()

	r.subsMu.Lock()
	for sub := range r.subs {
		if sub.clientID == clientID {
			r.closeSubscriptionLocked(sub)
		}
	}
	r.subsMu.Unlock()

	if existed {
		r.metrics.ClientLeft()
		ilog.EventInfo(context.Background(), "room_client_left", "roomID", r.id, "clientID", clientID)
	}
}

func (r *Room) unsubscribe(sub *Subscription) {
	r.subsMu.Lock()
	r.closeSubscriptionLocked(sub)
	r.subsMu.Unlock()
}

func (r *Room) closeSubscriptionLocked(sub *Subscription) {
	if sub.closed {
		return
	}
	sub.closed = true
	delete(r.subs, sub)
	close(sub.ch)
}

// BroadcastMessage appends to history, records when recording is on, then
// publishes to every subscription. Lagging subscribers lose their oldest
// unread message instead of blocking the sender.
func (r *Room) BroadcastMessage(msg protocol.RoomMessage) {
	r.broadcastMu.Lock()
	defer r.broadcastMu.Unlock()

	r.history.push(msg)

	r.recMu.Lock()
	if r.recording {
		now := r.now()
		r.recorded = append(r.recorded, protocol.RecordedMessage{
			Message:     msg,
			RecordedAt:  now.UnixMilli(),
			SessionTime: r.sessionTime(now),
		})
	}
	r.recMu.Unlock()

	r.subsMu.Lock()
	for sub := range r.subs {
		if !sub.deliver(msg) {
			r.metrics.Dropped()
		}
	}
	r.subsMu.Unlock()

	r.metrics.Broadcast(string(msg.Type))
}

func (r *Room) sessionTime(now time.Time) uint64 {
	elapsed := now.Sub(r.createdAt).Milliseconds()
	if elapsed < 0 {
		return 0
	}
	return uint64(elapsed)
}

// HandleEvent applies the event's state side effect, if any, and then
// broadcasts it. An unparseable presenter:sync payload leaves the state alone
// but is still broadcast.
func (r *Room) HandleEvent(event protocol.EventData) {
	message := protocol.NewEvent(event, r.now())

	switch event.Name {
	case protocol.EventSlideChange:
		r.UpdateState("currentSlide", event.Data)
	case protocol.EventFragmentChange:
		r.UpdateState("currentFragment", event.Data)
	case protocol.EventPresenterSync:
		if state, err := protocol.DecodePresenterState(event.Data); err == nil {
			r.syncPresenterState(state)
		}
	}

	r.BroadcastMessage(message)
}

// UpdateState merges key into the state when it is a JSON object and
// otherwise replaces the state with {key: value}.
func (r *Room) UpdateState(key string, value json.RawMessage) {
	if len(value) == 0 {
		value = json.RawMessage("null")
	}

	r.stateMu.Lock()
	defer r.stateMu.Unlock()

	var obj map[string]json.RawMessage
	if len(r.state) == 0 || json.Unmarshal(r.state, &obj) != nil || obj == nil {
		obj = make(map[string]json.RawMessage, 1)
	}
	obj[key] = value

	data, err := json.Marshal(obj)
	if err != nil {
		return
	}
	r.state = data
}

func (r *Room) syncPresenterState(state protocol.PresenterState) {
	data, err := json.Marshal(state)
	if err != nil {
		data = nil
	}
	r.stateMu.Lock()
	r.state = data
	r.stateMu.Unlock()
}

// State returns the current snapshot, or nil while it is still null.
func (r *Room) State() json.RawMessage {
	r.stateMu.RLock()
	defer r.stateMu.RUnlock()
	if len(r.state) == 0 || string(r.state) == "null" {
		return nil
	}
	out := make(json.RawMessage, len(r.state))
	copy(out, r.state)
	return out
}

// History returns the retained broadcasts, oldest first.
func (r *Room) History() []protocol.RoomMessage {
	r.broadcastMu.Lock()
	defer r.broadcastMu.Unlock()
	return r.history.items()
}

func (r *Room) Clients() []RoomClient {
	r.rosterMu.RLock()
	defer r.rosterMu.RUnlock()
	out := make([]RoomClient, 0, len(r.clients))
	for _, client := range r.clients {
		out = append(out, client)
	}
	return out
}

func (r *Room) ClientCount() int {
	r.rosterMu.RLock()
	defer r.rosterMu.RUnlock()
	return len(r.clients)
}

// emptyAge reports the room's age at now; ok is false while clients are
// attached.
func (r *Room) emptyAge(now time.Time) (time.Duration, bool) {
	r.rosterMu.RLock()
	defer r.rosterMu.RUnlock()
	if len(r.clients) > 0 {
		return 0, false
	}
	return now.Sub(r.createdAt), true
}

func (r *Room) ID() string {
	return r.id
}

func (r *Room) CreatedAt() time.Time {
	return r.createdAt
}

// Close stops background replays. Connected clients keep their subscriptions.
func (r *Room) Close() {
	r.cancel()
}

type Snapshot struct {
	RoomID        string          `json:"roomId"`
	CreatedAt     time.Time       `json:"createdAt"`
	Clients       []RoomClient    `json:"clients"`
	State         json.RawMessage `json:"state"`
	Recording     bool            `json:"recording"`
	RecordedCount int             `json:"recordedCount"`
	HistorySize   int             `json:"historySize"`
}

func (r *Room) Snapshot() Snapshot {
	r.recMu.RLock()
	recording, recorded := r.recording, len(r.recorded)
	r.recMu.RUnlock()

	r.broadcastMu.Lock()
	historySize := r.history.len()
	r.broadcastMu.Unlock()

	return Snapshot{
		RoomID:        r.id,
		CreatedAt:     r.createdAt.UTC(),
		Clients:       r.Clients(),
		State:         r.State(),
		Recording:     recording,
		RecordedCount: recorded,
		HistorySize:   historySize,
	}
}
