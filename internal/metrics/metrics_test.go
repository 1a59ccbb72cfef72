package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
)

// TestNilCollector is safe to call.
func TestNilCollector(t *testing.T) {
	var c *Collector
	c.RoomOpened()
	c.ClientJoined()
	c.Broadcast("event")
	c.Dropped()
	c.Replay("completed")
	if c.Registry() != nil {
		t.Error("nil collector should have no registry")
	}
}

// TestHandlerExposesCounters renders the registered series.
func TestHandlerExposesCounters(t *testing.T) {
	c := New()
	c.RoomOpened()
	c.ClientJoined()
	c.Broadcast("join")
	c.Dropped()

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	for _, want := range []string{
		"slidesync_rooms 1",
		"slidesync_clients 1",
		`slidesync_broadcasts_total{type="join"} 1`,
		"slidesync_subscriber_drops_total 1",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
