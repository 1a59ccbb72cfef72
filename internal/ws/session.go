package ws

import (
	"context"
	"sync"
	"time"

	"github.com/RanFeng/ilog"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"slidesync/internal/protocol"
	"slidesync/internal/rooms"
)

// Conn is the part of a websocket connection a Session needs. Both
// gorilla/websocket and hertz-contrib/websocket connections satisfy it, and
// both answer pings from inside ReadMessage.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

const directBuffer = 16

// Session bridges one connection to one room until either side goes away.
type Session struct {
	manager  *rooms.Manager
	roomID   string
	role     protocol.ClientRole
	clientID string
	conn     Conn
	now      func() time.Time

	direct    chan []byte
	writeDone chan struct{}
	closeOnce sync.Once
}

func NewSession(manager *rooms.Manager, conn Conn, roomID string, role protocol.ClientRole) *Session {
	return &Session{
		manager:   manager,
		roomID:    roomID,
		role:      role,
		clientID:  uuid.NewString(),
		conn:      conn,
		now:       time.Now,
		direct:    make(chan []byte, directBuffer),
		writeDone: make(chan struct{}),
	}
}

func (s *Session) ClientID() string {
	return s.clientID
}

// Serve blocks until the connection closes. A room that no longer exists gets
// a single error event and the connection is dropped without joining.
func (s *Session) Serve(ctx context.Context) {
	room, ok := s.manager.GetRoom(s.roomID)
	if !ok {
		ilog.EventInfo(ctx, "ws_room_not_found", "roomID", s.roomID)
		if data, err := protocol.NewErrorEvent("Room not found", s.now()).Encode(); err == nil {
			_ = s.conn.WriteMessage(websocket.TextMessage, data)
		}
		s.close()
		return
	}

	sub := room.AddClient(s.clientID, s.role)
	ilog.EventInfo(ctx, "ws_connected", "roomID", s.roomID, "clientID", s.clientID, "role", s.role)

	if state := room.State(); state != nil {
		if data, err := protocol.NewState(state, s.now()).Encode(); err == nil {
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				room.RemoveClient(s.clientID)
				s.close()
				return
			}
		}
	}

	go s.writeLoop(sub)
	s.readLoop(room)

	room.RemoveClient(s.clientID)
	s.close()
	<-s.writeDone
	ilog.EventInfo(ctx, "ws_disconnected", "roomID", s.roomID, "clientID", s.clientID, "dropped", sub.Dropped())
}

func (s *Session) readLoop(room *rooms.Room) {
	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		msg, err := protocol.DecodeMessage(data)
		if err != nil {
			continue
		}

		switch msg.Type {
		case protocol.TypeEvent:
			event := *msg.Event
			if event.ClientID == "" {
				event.ClientID = s.clientID
			}
			room.HandleEvent(event)
		case protocol.TypeHeartbeat:
			reply, _ := protocol.NewHeartbeat().Encode()
			select {
			case s.direct <- reply:
			case <-s.writeDone:
				return
			}
		}
	}
}

// writeLoop is the only writer once Serve has sent the initial state. It
// serves room broadcasts and direct replies in whatever order they arrive.
func (s *Session) writeLoop(sub *rooms.Subscription) {
	defer close(s.writeDone)
	defer s.close()
	for {
		var data []byte
		select {
		case msg, ok := <-sub.C():
			if !ok {
				return
			}
			encoded, err := msg.Encode()
			if err != nil {
				continue
			}
			data = encoded
		case reply := <-s.direct:
			data = reply
		}
		if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		_ = s.conn.Close()
	})
}
