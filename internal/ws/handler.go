package ws

import (
	"errors"
	"net/http"
	"strings"

	"github.com/RanFeng/ilog"
	"github.com/gorilla/websocket"

	"slidesync/internal/protocol"
	"slidesync/internal/rooms"
)

type Handler struct {
	manager  *rooms.Manager
	upgrader websocket.Upgrader
}

func NewHandler(manager *rooms.Manager) *Handler {
	return &Handler{
		manager: manager,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// ServeHTTP accepts /rooms/{roomId}. The room is created on first use and the
// client's role comes from the optional ?role= query parameter.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	roomID, err := extractRoomID(r.URL.Path)
	if err != nil {
		ilog.EventInfo(r.Context(), "ws_invalid_path", "path", r.URL.Path)
		http.Error(w, "invalid room path", http.StatusBadRequest)
		return
	}
	h.Serve(w, r, roomID)
}

// Serve upgrades the request and runs a Session for roomID.
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request, roomID string) {
	h.manager.EnsureRoom(roomID)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already answered the request.
		ilog.EventInfo(r.Context(), "ws_upgrade_failed", "roomID", roomID, "error", err.Error())
		return
	}

	role := protocol.ParseRole(r.URL.Query().Get("role"))
	NewSession(h.manager, conn, roomID, role).Serve(r.Context())
}

func extractRoomID(path string) (string, error) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	switch {
	case len(parts) == 2 && parts[0] == "rooms" && parts[1] != "":
		return parts[1], nil
	case len(parts) == 3 && parts[0] == "ws" && parts[1] == "rooms" && parts[2] != "":
		return parts[2], nil
	}
	return "", errors.New("invalid path")
}
