package hertzws

import (
	"context"

	"github.com/RanFeng/ilog"
	"github.com/cloudwego/hertz/pkg/app"
	"github.com/hertz-contrib/websocket"

	"slidesync/internal/protocol"
	"slidesync/internal/rooms"
	"slidesync/internal/ws"
)

// Handler WebSocket处理器，升级后交给 ws.Session
type Handler struct {
	manager  *rooms.Manager
	upgrader websocket.HertzUpgrader
}

// NewHandler 创建新的WebSocket处理器
func NewHandler(manager *rooms.Manager) *Handler {
	return &Handler{
		manager: manager,
		upgrader: websocket.HertzUpgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(ctx *app.RequestContext) bool {
				return true
			},
		},
	}
}

// HandleWebSocket 处理WebSocket连接 GET /rooms/:roomId
func (h *Handler) HandleWebSocket(c context.Context, ctx *app.RequestContext) {
	roomID := ctx.Param("roomId")
	role := protocol.ParseRole(ctx.Query("role"))

	h.manager.EnsureRoom(roomID)

	err := h.upgrader.Upgrade(ctx, func(conn *websocket.Conn) {
		ws.NewSession(h.manager, conn, roomID, role).Serve(c)
	})
	if err != nil {
		ilog.EventInfo(c, "ws_upgrade_failed", "roomID", roomID, "error", err.Error())
	}
}
