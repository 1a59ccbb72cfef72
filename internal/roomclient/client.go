// Package roomclient is a small Go client for the room WebSocket endpoint.
package roomclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"slidesync/internal/protocol"
)

const readLimit = 4 << 20

// Client wraps one room connection with per-call timeouts. Receive must not
// be called concurrently; sends may be.
type Client struct {
	ws           *websocket.Conn
	readTimeout  time.Duration
	writeTimeout time.Duration
}

type Option func(*Client)

func WithTimeouts(read, write time.Duration) Option {
	return func(c *Client) {
		c.readTimeout = read
		c.writeTimeout = write
	}
}

// Dial connects to a room URL such as ws://host:8080/rooms/demo and joins
// with the given role.
func Dial(ctx context.Context, rawURL string, role protocol.ClientRole, opts ...Option) (*Client, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse room url: %w", err)
	}
	q := u.Query()
	q.Set("role", string(role))
	u.RawQuery = q.Encode()

	ws, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u.Redacted(), err)
	}
	ws.SetReadLimit(readLimit)

	c := &Client{ws: ws, writeTimeout: 5 * time.Second}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) Send(ctx context.Context, msg protocol.RoomMessage) error {
	if c.writeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.writeTimeout)
		defer cancel()
	}
	return wsjson.Write(ctx, c.ws, msg)
}

// SendEvent publishes a named event. data is marshalled to JSON.
func (c *Client) SendEvent(ctx context.Context, name string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode event data: %w", err)
	}
	return c.Send(ctx, protocol.NewEvent(protocol.EventData{Name: name, Data: raw}, time.Now()))
}

func (c *Client) Heartbeat(ctx context.Context) error {
	return c.Send(ctx, protocol.NewHeartbeat())
}

// Receive blocks for the next room message.
func (c *Client) Receive(ctx context.Context) (protocol.RoomMessage, error) {
	if c.readTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.readTimeout)
		defer cancel()
	}
	_, data, err := c.ws.Read(ctx)
	if err != nil {
		return protocol.RoomMessage{}, err
	}
	return protocol.DecodeMessage(data)
}

func (c *Client) Close() error {
	return c.ws.Close(websocket.StatusNormalClosure, "client close")
}

// IsExpectedDisconnect reports whether err is a normal end of the connection.
func IsExpectedDisconnect(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	if ctx != nil && ctx.Err() != nil {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
		return true
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	default:
		return false
	}
}
