package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type MessageType string

const (
	TypeJoin      MessageType = "join"
	TypeEvent     MessageType = "event"
	TypeState     MessageType = "state"
	TypeAck       MessageType = "ack"
	TypeHeartbeat MessageType = "heartbeat"
)

type ClientRole string

const (
	RolePresenter ClientRole = "presenter"
	RoleAudience  ClientRole = "audience"
)

// ParseRole maps a requested role onto a ClientRole, defaulting to audience.
func ParseRole(raw string) ClientRole {
	if ClientRole(raw) == RolePresenter {
		return RolePresenter
	}
	return RoleAudience
}

// Well-known event names that touch the room state.
const (
	EventSlideChange    = "slide:change"
	EventFragmentChange = "fragment:change"
	EventPresenterSync  = "presenter:sync"
	EventError          = "error"
)

const SystemClientID = "system"

var (
	ErrUnknownType   = errors.New("unknown message type")
	ErrMissingFields = errors.New("message is missing required fields")
)

type EventData struct {
	Name     string          `json:"name"`
	Data     json.RawMessage `json:"data"`
	ClientID string          `json:"clientId"`
}

// RoomMessage is the frame exchanged over a room channel. Type selects which
// of the remaining fields carry meaning.
type RoomMessage struct {
	Type      MessageType     `json:"type"`
	Role      ClientRole      `json:"role,omitempty"`
	ClientID  string          `json:"clientId,omitempty"`
	Event     *EventData      `json:"event,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
	ID        string          `json:"id,omitempty"`
}

func NewJoin(role ClientRole, clientID string) RoomMessage {
	return RoomMessage{Type: TypeJoin, Role: role, ClientID: clientID}
}

func NewEvent(event EventData, now time.Time) RoomMessage {
	if len(event.Data) == 0 {
		event.Data = json.RawMessage("null")
	}
	return RoomMessage{Type: TypeEvent, Event: &event, Timestamp: now.UnixMilli()}
}

func NewState(data json.RawMessage, now time.Time) RoomMessage {
	return RoomMessage{Type: TypeState, Data: data, Timestamp: now.UnixMilli()}
}

func NewAck(id string) RoomMessage {
	return RoomMessage{Type: TypeAck, ID: id}
}

func NewHeartbeat() RoomMessage {
	return RoomMessage{Type: TypeHeartbeat}
}

// NewErrorEvent builds the synthetic event sent to a client before the server
// drops its connection.
func NewErrorEvent(message string, now time.Time) RoomMessage {
	data, _ := json.Marshal(map[string]string{"message": message})
	return NewEvent(EventData{Name: EventError, Data: data, ClientID: SystemClientID}, now)
}

func (m RoomMessage) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// DecodeMessage parses one text frame and checks that the variant named by
// "type" carries its body.
func DecodeMessage(data []byte) (RoomMessage, error) {
	var msg RoomMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return RoomMessage{}, fmt.Errorf("decode room message: %w", err)
	}
	if err := msg.Validate(); err != nil {
		return RoomMessage{}, err
	}
	return msg, nil
}

func (m RoomMessage) Validate() error {
	switch m.Type {
	case TypeJoin:
		if m.Role == "" || m.ClientID == "" {
			return fmt.Errorf("%w: join needs role and clientId", ErrMissingFields)
		}
	case TypeEvent:
		if m.Event == nil {
			return fmt.Errorf("%w: event body", ErrMissingFields)
		}
	case TypeState:
		if len(m.Data) == 0 {
			return fmt.Errorf("%w: state data", ErrMissingFields)
		}
	case TypeAck:
		if m.ID == "" {
			return fmt.Errorf("%w: ack id", ErrMissingFields)
		}
	case TypeHeartbeat:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownType, m.Type)
	}
	return nil
}

// PresenterState is the snapshot a presenter pushes through presenter:sync.
type PresenterState struct {
	CurrentSlide    string `json:"currentSlide"`
	CurrentFragment uint32 `json:"currentFragment"`
	DeckTitle       string `json:"deckTitle"`
	TotalSlides     uint32 `json:"totalSlides"`
}

type presenterStateWire struct {
	CurrentSlide    *string `json:"currentSlide"`
	CurrentFragment *uint32 `json:"currentFragment"`
	DeckTitle       *string `json:"deckTitle"`
	TotalSlides     *uint32 `json:"totalSlides"`
}

// DecodePresenterState requires every field to be present.
func DecodePresenterState(data json.RawMessage) (PresenterState, error) {
	var wire presenterStateWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return PresenterState{}, fmt.Errorf("decode presenter state: %w", err)
	}
	if wire.CurrentSlide == nil || wire.CurrentFragment == nil || wire.DeckTitle == nil || wire.TotalSlides == nil {
		return PresenterState{}, fmt.Errorf("%w: presenter state", ErrMissingFields)
	}
	return PresenterState{
		CurrentSlide:    *wire.CurrentSlide,
		CurrentFragment: *wire.CurrentFragment,
		DeckTitle:       *wire.DeckTitle,
		TotalSlides:     *wire.TotalSlides,
	}, nil
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type Envelope struct {
	Kind string      `json:"kind"`
	Data interface{} `json:"data"`
}
