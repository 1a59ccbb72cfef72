package httpapi

import (
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	"slidesync/internal/archive"
	"slidesync/internal/metrics"
	"slidesync/internal/rooms"
)

func do(t *testing.T, handler http.Handler, method, target, body string) (*httptest.ResponseRecorder, gjson.Result) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec, gjson.Parse(rec.Body.String())
}

// TestHealthz reports ok
func TestHealthz(t *testing.T) {
	server := NewServer(rooms.NewManager())
	rec, body := do(t, server.Router(), http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK || !body.Get("ok").Bool() {
		t.Errorf("unexpected healthz response %d %s", rec.Code, rec.Body.String())
	}
}

// TestCreateGetDelete walks the room lifecycle
func TestCreateGetDelete(t *testing.T) {
	manager := rooms.NewManager()
	router := NewServer(manager).Router()

	rec, body := do(t, router, http.MethodPost, "/api/rooms", "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	roomID := body.Get("roomId").String()
	if roomID == "" {
		t.Fatal("missing roomId")
	}

	rec, body = do(t, router, http.MethodGet, "/api/rooms/"+roomID, "")
	if rec.Code != http.StatusOK || body.Get("roomId").String() != roomID || body.Get("recording").Bool() {
		t.Errorf("unexpected snapshot %d %s", rec.Code, rec.Body.String())
	}

	rec, _ = do(t, router, http.MethodDelete, "/api/rooms/"+roomID, "")
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
	if manager.RoomCount() != 0 {
		t.Error("room should be removed")
	}

	rec, body = do(t, router, http.MethodGet, "/api/rooms/"+roomID, "")
	if rec.Code != http.StatusNotFound || body.Get("kind").String() != "ERROR" || body.Get("data.code").String() != "room_not_found" {
		t.Errorf("expected error envelope, got %d %s", rec.Code, rec.Body.String())
	}
}

// TestRecordDumpReplay records, exports and replays a take
func TestRecordDumpReplay(t *testing.T) {
	manager := rooms.NewManager()
	router := NewServer(manager).Router()
	manager.EnsureRoom("talk")
	room, _ := manager.GetRoom("talk")

	if rec, _ := do(t, router, http.MethodPost, "/api/rooms/talk/record/start", ""); rec.Code != http.StatusOK {
		t.Fatalf("record start: %d", rec.Code)
	}
	room.AddClient("p1", "presenter")
	rec, body := do(t, router, http.MethodPost, "/api/rooms/talk/record/stop", "")
	if rec.Code != http.StatusOK || body.Get("recording").Bool() {
		t.Fatalf("record stop: %d %s", rec.Code, rec.Body.String())
	}

	rec, _ = do(t, router, http.MethodGet, "/api/rooms/talk/dump", "")
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != ndjsonContentType {
		t.Fatalf("unexpected dump %d %q", rec.Code, rec.Header().Get("Content-Type"))
	}
	dump := rec.Body.String()
	if gjson.Get(dump, "message.clientId").String() != "p1" {
		t.Fatalf("unexpected dump body %s", dump)
	}

	watcher := room.AddClient("w1", "audience")
	<-watcher.C() // own join

	rec, body = do(t, router, http.MethodPost, "/api/rooms/talk/replay?compression=10", dump)
	if rec.Code != http.StatusAccepted || body.Get("messages").Int() != 1 {
		t.Fatalf("expected 202, got %d %s", rec.Code, rec.Body.String())
	}
	select {
	case msg := <-watcher.C():
		if msg.ClientID != "p1" {
			t.Errorf("expected replayed join of p1, got %+v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("replay never reached the room")
	}

	for _, target := range []string{
		"/api/rooms/talk/replay?compression=-1",
		"/api/rooms/talk/replay?compression=NaN",
	} {
		if rec, _ := do(t, router, http.MethodPost, target, dump); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", target, rec.Code)
		}
	}
	if rec, _ := do(t, router, http.MethodPost, "/api/rooms/talk/replay", `{"message":{"type":"bogus"}}`); rec.Code != http.StatusBadRequest {
		t.Errorf("bad body: expected 400, got %d", rec.Code)
	}
	if rec, _ := do(t, router, http.MethodPost, "/api/rooms/nope/replay", dump); rec.Code != http.StatusNotFound {
		t.Errorf("missing room: expected 404, got %d", rec.Code)
	}
}

// TestArchive disabled without a store, round trip with one
func TestArchive(t *testing.T) {
	manager := rooms.NewManager()
	manager.EnsureRoom("talk")

	rec, body := do(t, NewServer(manager).Router(), http.MethodPost, "/api/rooms/talk/record/archive", "")
	if rec.Code != http.StatusServiceUnavailable || body.Get("data.code").String() != "archive_disabled" {
		t.Errorf("expected 503, got %d %s", rec.Code, rec.Body.String())
	}

	store, err := archive.Open(filepath.Join(t.TempDir(), "archive.db"))
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	defer store.Close()
	router := NewServer(manager, WithArchive(store)).Router()

	room, _ := manager.GetRoom("talk")
	room.StartRecording()
	room.AddClient("p1", "presenter")

	rec, body = do(t, router, http.MethodPost, "/api/rooms/talk/record/archive", "")
	if rec.Code != http.StatusCreated || body.Get("messageCount").Int() != 1 {
		t.Fatalf("expected 201, got %d %s", rec.Code, rec.Body.String())
	}
	id := body.Get("id").String()

	rec, body = do(t, router, http.MethodGet, "/api/rooms/talk/archives", "")
	if rec.Code != http.StatusOK || body.Get("#").Int() != 1 {
		t.Errorf("unexpected list %d %s", rec.Code, rec.Body.String())
	}

	rec, _ = do(t, router, http.MethodGet, "/api/archives/"+id, "")
	if rec.Code != http.StatusOK || gjson.Get(rec.Body.String(), "message.type").String() != "join" {
		t.Errorf("unexpected archive %d %s", rec.Code, rec.Body.String())
	}

	if rec, _ := do(t, router, http.MethodPost, "/api/rooms/talk/replay?archive=missing", ""); rec.Code != http.StatusNotFound {
		t.Errorf("missing archive: expected 404, got %d", rec.Code)
	}
}

// TestCORS preflight is answered for allowed origins
func TestCORS(t *testing.T) {
	router := NewServer(rooms.NewManager(), WithCORS([]string{"https://deck.example"})).Router()

	req := httptest.NewRequest(http.MethodOptions, "/api/rooms", nil)
	req.Header.Set("Origin", "https://deck.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://deck.example" {
		t.Errorf("expected allowed origin, got %q", got)
	}
}

// TestMetricsRoute exposes the collector
func TestMetricsRoute(t *testing.T) {
	collector := metrics.New()
	manager := rooms.NewManager(rooms.WithMetrics(collector))
	manager.CreateRoom()
	router := NewServer(manager, WithMetrics(collector.Handler())).Router()

	rec, _ := do(t, router, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "slidesync_rooms 1") {
		t.Errorf("unexpected metrics output %d", rec.Code)
	}
}

// TestWebSocketRoute upgrades through echo
func TestWebSocketRoute(t *testing.T) {
	manager := rooms.NewManager()
	srv := httptest.NewServer(NewServer(manager).Router())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/rooms/live?role=presenter"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg := gjson.ParseBytes(data); msg.Get("type").String() != "join" || msg.Get("role").String() != "presenter" {
		t.Errorf("unexpected first frame %s", data)
	}
	if _, ok := manager.GetRoom("live"); !ok {
		t.Error("room should exist after connect")
	}
}
