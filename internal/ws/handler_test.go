package ws

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	"slidesync/internal/rooms"
)

func dial(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", path, err)
	}
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn) gjson.Result {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return gjson.ParseBytes(data)
}

// TestHandlerPresenterAndAudience events fan out between two connections
func TestHandlerPresenterAndAudience(t *testing.T) {
	manager := rooms.NewManager()
	srv := httptest.NewServer(NewHandler(manager))
	defer srv.Close()

	presenter := dial(t, srv, "/rooms/demo?role=presenter")
	defer presenter.Close()
	if msg := readJSON(t, presenter); msg.Get("role").String() != "presenter" {
		t.Fatalf("expected presenter join, got %s", msg.Raw)
	}
	if _, ok := manager.GetRoom("demo"); !ok {
		t.Fatal("room should be created on connect")
	}

	audience := dial(t, srv, "/rooms/demo")
	defer audience.Close()
	if msg := readJSON(t, audience); msg.Get("role").String() != "audience" {
		t.Fatalf("expected audience join, got %s", msg.Raw)
	}
	readJSON(t, presenter) // audience join

	err := presenter.WriteMessage(websocket.TextMessage, []byte(`{"type":"event","event":{"name":"fragment:change","data":2,"clientId":"p"},"timestamp":0}`))
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	msg := readJSON(t, audience)
	if msg.Get("event.name").String() != "fragment:change" || msg.Get("event.data").Int() != 2 {
		t.Errorf("audience should see the fragment change, got %s", msg.Raw)
	}

	late := dial(t, srv, "/rooms/demo")
	defer late.Close()
	if msg := readJSON(t, late); msg.Get("type").String() != "state" || msg.Get("data.currentFragment").Int() != 2 {
		t.Errorf("late joiner should get the state, got %s", msg.Raw)
	}
}

// TestHandlerPing pings are answered by the connection
func TestHandlerPing(t *testing.T) {
	manager := rooms.NewManager()
	srv := httptest.NewServer(NewHandler(manager))
	defer srv.Close()

	conn := dial(t, srv, "/ws/rooms/ping")
	defer conn.Close()

	pong := make(chan string, 1)
	conn.SetPongHandler(func(data string) error {
		pong <- data
		return nil
	})
	if err := conn.WriteControl(websocket.PingMessage, []byte("hi"), time.Now().Add(time.Second)); err != nil {
		t.Fatalf("ping: %v", err)
	}
	readJSON(t, conn) // join; pong handler runs inside ReadMessage
	conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"heartbeat"}`))
	readJSON(t, conn)

	select {
	case data := <-pong:
		if data != "hi" {
			t.Errorf("unexpected pong payload %q", data)
		}
	case <-time.After(time.Second):
		t.Error("no pong received")
	}
}

// TestExtractRoomID accepts both room paths
func TestExtractRoomID(t *testing.T) {
	for path, want := range map[string]string{
		"/rooms/abc":    "abc",
		"/ws/rooms/xyz": "xyz",
	} {
		got, err := extractRoomID(path)
		if err != nil || got != want {
			t.Errorf("%s: expected %s, got %s (%v)", path, want, got, err)
		}
	}
	for _, path := range []string{"/", "/rooms", "/rooms/a/b", "/api/rooms/a"} {
		if _, err := extractRoomID(path); err == nil {
			t.Errorf("%s should be rejected", path)
		}
	}
}
