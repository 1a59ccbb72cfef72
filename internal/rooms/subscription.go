package rooms

import (
	"sync/atomic"

	"slidesync/internal/protocol"
)

// SubscriberBuffer is the number of unread messages a subscriber may hold
// before the oldest ones are dropped.
const SubscriberBuffer = 1000

// Subscription receives every message broadcast to a room after it was
// created. A subscriber that falls SubscriberBuffer messages behind loses the
// oldest unread ones and keeps receiving.
type Subscription struct {
	room     *Room
	clientID string
	ch       chan protocol.RoomMessage
	closed   bool // guarded by room.subsMu
	dropped  atomic.Uint64
}

func newSubscription(room *Room, clientID string) *Subscription {
	return &Subscription{
		room:     room,
		clientID: clientID,
		ch:       make(chan protocol.RoomMessage, SubscriberBuffer),
	}
}

// C is closed once the client is removed from the room or Close is called.
func (s *Subscription) C() <-chan protocol.RoomMessage {
	return s.ch
}

func (s *Subscription) ClientID() string {
	return s.clientID
}

// Dropped reports how many messages this subscriber lost to overflow.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

func (s *Subscription) Close() {
	s.room.unsubscribe(s)
}

// deliver never blocks. Callers hold room.subsMu, so there is a single
// producer and the retry after evicting always has room.
func (s *Subscription) deliver(msg protocol.RoomMessage) bool {
	select {
	case s.ch <- msg:
		return true
	default:
	}
	select {
	case <-s.ch:
	default:
	}
	s.dropped.Add(1)
	select {
	case s.ch <- msg:
	default:
	}
	return false
}
