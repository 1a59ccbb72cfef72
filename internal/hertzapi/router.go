package hertzapi

import (
	"context"
	"errors"
	"time"

	"github.com/RanFeng/ilog"
	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"slidesync/internal/archive"
	"slidesync/internal/hertzws"
	"slidesync/internal/protocol"
	"slidesync/internal/rooms"
)

const ndjsonContentType = "application/x-ndjson"

// routerConfig 路由可选配置
type routerConfig struct {
	archive     *archive.Store
	corsOrigins []string
}

type Option func(*routerConfig)

// WithArchive enables the recording archive routes. Without it they answer 503.
func WithArchive(store *archive.Store) Option {
	return func(c *routerConfig) {
		c.archive = store
	}
}

// WithCORS allows cross-origin calls from the given origins ("*" for any).
func WithCORS(origins []string) Option {
	return func(c *routerConfig) {
		c.corsOrigins = origins
	}
}

// NewRouter 初始化Hertz路由，注册控制接口和WebSocket路由
func NewRouter(h *server.Hertz, roomManager *rooms.Manager, opts ...Option) *server.Hertz {
	cfg := &routerConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	wsHandler := hertzws.NewHandler(roomManager)

	h.Use(recoveryMiddleware())
	h.Use(loggerMiddleware())
	if len(cfg.corsOrigins) > 0 {
		h.Use(corsMiddleware(cfg.corsOrigins))
	}

	h.GET("/healthz", func(c context.Context, ctx *app.RequestContext) {
		ctx.JSON(consts.StatusOK, map[string]bool{"ok": true})
	})

	api := h.Group("/api")
	{
		roomsGroup := api.Group("/rooms")
		{
			roomsGroup.POST("", handleCreateRoom(roomManager))
			roomsGroup.GET("/:roomId", handleGetRoom(roomManager))
			roomsGroup.DELETE("/:roomId", handleDeleteRoom(roomManager))
			roomsGroup.POST("/:roomId/record/start", handleStartRecording(roomManager))
			roomsGroup.POST("/:roomId/record/stop", handleStopRecording(roomManager))
			roomsGroup.GET("/:roomId/dump", handleDump(roomManager))
			roomsGroup.POST("/:roomId/replay", handleReplay(roomManager, cfg.archive))
			roomsGroup.POST("/:roomId/record/archive", handleArchive(roomManager, cfg.archive))
			roomsGroup.GET("/:roomId/archives", handleListArchives(cfg.archive))
		}
		api.GET("/archives/:id", handleGetArchive(cfg.archive))
	}

	h.GET("/rooms/:roomId", wsHandler.HandleWebSocket)
	h.GET("/ws/rooms/:roomId", wsHandler.HandleWebSocket)

	return h
}

// recoveryMiddleware 恢复中间件
func recoveryMiddleware() app.HandlerFunc {
	return func(c context.Context, ctx *app.RequestContext) {
		defer func() {
			if err := recover(); err != nil {
				ilog.EventInfo(c, "http_panic", "path", string(ctx.Path()), "panic", err)
				respondError(ctx, consts.StatusInternalServerError, "internal_error", "Internal Server Error")
				ctx.Abort()
			}
		}()
		ctx.Next(c)
	}
}

// loggerMiddleware 日志中间件
func loggerMiddleware() app.HandlerFunc {
	return func(c context.Context, ctx *app.RequestContext) {
		start := time.Now()
		ctx.Next(c)
		ilog.EventInfo(c, "http_request",
			"method", string(ctx.Method()),
			"path", string(ctx.Path()),
			"status", ctx.Response.StatusCode(),
			"latency", time.Since(start).String(),
		)
	}
}

// corsMiddleware 跨域中间件
func corsMiddleware(origins []string) app.HandlerFunc {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return func(c context.Context, ctx *app.RequestContext) {
		origin := string(ctx.Request.Header.Peek("Origin"))
		if origin != "" && (allowed["*"] || allowed[origin]) {
			ctx.Response.Header.Set("Access-Control-Allow-Origin", origin)
			ctx.Response.Header.Set("Vary", "Origin")
			ctx.Response.Header.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			ctx.Response.Header.Set("Access-Control-Allow-Headers", "Content-Type")
		}
		if string(ctx.Method()) == consts.MethodOptions {
			ctx.AbortWithStatus(consts.StatusNoContent)
			return
		}
		ctx.Next(c)
	}
}

// handleCreateRoom 创建房间处理函数
func handleCreateRoom(roomManager *rooms.Manager) app.HandlerFunc {
	return func(c context.Context, ctx *app.RequestContext) {
		roomID := roomManager.CreateRoom()
		ilog.EventInfo(c, "CreateRoom", "roomID", roomID)
		ctx.JSON(consts.StatusCreated, map[string]string{"roomId": roomID})
	}
}

// lookupRoom 查找房间，不存在时返回404并返回nil
func lookupRoom(roomManager *rooms.Manager, ctx *app.RequestContext) *rooms.Room {
	room, err := roomManager.LookupRoom(ctx.Param("roomId"))
	if err != nil {
		respondError(ctx, consts.StatusNotFound, "room_not_found", err.Error())
		return nil
	}
	return room
}

// handleGetRoom 获取房间快照处理函数
func handleGetRoom(roomManager *rooms.Manager) app.HandlerFunc {
	return func(c context.Context, ctx *app.RequestContext) {
		room := lookupRoom(roomManager, ctx)
		if room == nil {
			return
		}
		ctx.JSON(consts.StatusOK, room.Snapshot())
	}
}

// handleDeleteRoom 删除房间处理函数
func handleDeleteRoom(roomManager *rooms.Manager) app.HandlerFunc {
	return func(c context.Context, ctx *app.RequestContext) {
		roomManager.RemoveRoom(ctx.Param("roomId"))
		ctx.SetStatusCode(consts.StatusNoContent)
	}
}

// handleStartRecording 开始录制处理函数
func handleStartRecording(roomManager *rooms.Manager) app.HandlerFunc {
	return func(c context.Context, ctx *app.RequestContext) {
		room := lookupRoom(roomManager, ctx)
		if room == nil {
			return
		}
		room.StartRecording()
		ilog.EventInfo(c, "StartRecording", "roomID", room.ID())
		ctx.JSON(consts.StatusOK, map[string]bool{"recording": true})
	}
}

// handleStopRecording 停止录制处理函数
func handleStopRecording(roomManager *rooms.Manager) app.HandlerFunc {
	return func(c context.Context, ctx *app.RequestContext) {
		room := lookupRoom(roomManager, ctx)
		if room == nil {
			return
		}
		room.StopRecording()
		ilog.EventInfo(c, "StopRecording", "roomID", room.ID())
		ctx.JSON(consts.StatusOK, map[string]bool{"recording": false})
	}
}

// handleDump 导出录制内容处理函数
func handleDump(roomManager *rooms.Manager) app.HandlerFunc {
	return func(c context.Context, ctx *app.RequestContext) {
		room := lookupRoom(roomManager, ctx)
		if room == nil {
			return
		}
		ctx.Data(consts.StatusOK, ndjsonContentType, []byte(room.ExportRecording()))
	}
}

// handleReplay 回放处理函数：回放请求体中的NDJSON，
// 带 ?archive=<id> 时回放已归档的录制
func handleReplay(roomManager *rooms.Manager, store *archive.Store) app.HandlerFunc {
	return func(c context.Context, ctx *app.RequestContext) {
		room := lookupRoom(roomManager, ctx)
		if room == nil {
			return
		}

		compression, err := rooms.ParseCompression(ctx.Query("compression"))
		if err != nil {
			respondError(ctx, consts.StatusBadRequest, "invalid_compression", err.Error())
			return
		}

		body := ctx.Request.Body()
		if archiveID := ctx.Query("archive"); archiveID != "" {
			rec, err := store.Get(c, archiveID)
			if err != nil {
				respondArchiveError(ctx, err)
				return
			}
			body = []byte(rec.Body)
		}

		recording, err := protocol.DecodeRecording(body)
		if err != nil {
			respondError(ctx, consts.StatusBadRequest, "invalid_recording", err.Error())
			return
		}

		if err := room.ReplayInBackground(recording, compression); err != nil {
			respondError(ctx, consts.StatusBadRequest, "invalid_compression", err.Error())
			return
		}
		ctx.JSON(consts.StatusAccepted, map[string]int{"messages": len(recording)})
	}
}

// handleArchive 归档录制处理函数
func handleArchive(roomManager *rooms.Manager, store *archive.Store) app.HandlerFunc {
	return func(c context.Context, ctx *app.RequestContext) {
		room := lookupRoom(roomManager, ctx)
		if room == nil {
			return
		}
		recorded := room.RecordedMessages()
		rec, err := store.Save(c, room.ID(), protocol.EncodeRecording(recorded), len(recorded))
		if err != nil {
			respondArchiveError(ctx, err)
			return
		}
		ilog.EventInfo(c, "ArchiveRecording", "roomID", room.ID(), "archiveID", rec.ID)
		ctx.JSON(consts.StatusCreated, rec)
	}
}

// handleListArchives 列出房间归档处理函数
func handleListArchives(store *archive.Store) app.HandlerFunc {
	return func(c context.Context, ctx *app.RequestContext) {
		list, err := store.List(c, ctx.Param("roomId"))
		if err != nil {
			respondArchiveError(ctx, err)
			return
		}
		ctx.JSON(consts.StatusOK, list)
	}
}

// handleGetArchive 获取归档内容处理函数
func handleGetArchive(store *archive.Store) app.HandlerFunc {
	return func(c context.Context, ctx *app.RequestContext) {
		rec, err := store.Get(c, ctx.Param("id"))
		if err != nil {
			respondArchiveError(ctx, err)
			return
		}
		ctx.Data(consts.StatusOK, ndjsonContentType, []byte(rec.Body))
	}
}

// respondArchiveError 将归档错误映射为HTTP响应
func respondArchiveError(ctx *app.RequestContext, err error) {
	switch {
	case errors.Is(err, archive.ErrArchiveDisabled):
		respondError(ctx, consts.StatusServiceUnavailable, "archive_disabled", err.Error())
	case errors.Is(err, archive.ErrRecordingNotFound):
		respondError(ctx, consts.StatusNotFound, "recording_not_found", err.Error())
	default:
		respondError(ctx, consts.StatusInternalServerError, "archive_failed", err.Error())
	}
}

// respondError 返回错误响应
func respondError(ctx *app.RequestContext, status int, code, message string) {
	ctx.JSON(status, protocol.Envelope{
		Kind: "ERROR",
		Data: protocol.ErrorPayload{
			Code:    code,
			Message: message,
		},
	})
}

