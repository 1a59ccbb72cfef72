package httpapi

import (
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/cors"

	"slidesync/internal/archive"
	"slidesync/internal/protocol"
	"slidesync/internal/rooms"
	"slidesync/internal/ws"
)

const ndjsonContentType = "application/x-ndjson"

// maxReplayBody caps uploaded recordings.
const maxReplayBody = 64 << 20

type Server struct {
	rooms   *rooms.Manager
	ws      *ws.Handler
	archive *archive.Store
	origins []string
	router  *echo.Echo
}

type Option func(*Server)

func WithArchive(store *archive.Store) Option {
	return func(s *Server) {
		s.archive = store
	}
}

// WithCORS wraps the router in rs/cors for the given origins.
func WithCORS(origins []string) Option {
	return func(s *Server) {
		s.origins = origins
	}
}

// WithMetrics mounts a Prometheus handler at GET /metrics.
func WithMetrics(handler http.Handler) Option {
	return func(s *Server) {
		if handler != nil {
			s.router.GET("/metrics", echo.WrapHandler(handler))
		}
	}
}

func NewServer(manager *rooms.Manager, opts ...Option) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	server := &Server{
		rooms:  manager,
		ws:     ws.NewHandler(manager),
		router: e,
	}
	for _, opt := range opts {
		opt(server)
	}

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]bool{"ok": true})
	})

	e.POST("/api/rooms", server.handleCreateRoom)
	e.GET("/api/rooms/:roomId", server.handleGetRoom)
	e.DELETE("/api/rooms/:roomId", server.handleDeleteRoom)
	e.POST("/api/rooms/:roomId/record/start", server.handleStartRecording)
	e.POST("/api/rooms/:roomId/record/stop", server.handleStopRecording)
	e.GET("/api/rooms/:roomId/dump", server.handleDump)
	e.POST("/api/rooms/:roomId/replay", server.handleReplay)
	e.POST("/api/rooms/:roomId/record/archive", server.handleArchive)
	e.GET("/api/rooms/:roomId/archives", server.handleListArchives)
	e.GET("/api/archives/:id", server.handleGetArchive)
	e.GET("/rooms/:roomId", server.handleWebSocket)
	e.GET("/ws/rooms/:roomId", server.handleWebSocket)

	return server
}

func (s *Server) Router() http.Handler {
	if len(s.origins) == 0 {
		return s.router
	}
	return cors.New(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(s.router)
}

func (s *Server) handleCreateRoom(c echo.Context) error {
	roomID := s.rooms.CreateRoom()
	return c.JSON(http.StatusCreated, map[string]string{"roomId": roomID})
}

func (s *Server) lookupRoom(c echo.Context) (*rooms.Room, error) {
	room, err := s.rooms.LookupRoom(c.Param("roomId"))
	if err != nil {
		return nil, respondError(c, http.StatusNotFound, "room_not_found", err.Error())
	}
	return room, nil
}

func (s *Server) handleGetRoom(c echo.Context) error {
	room, err := s.lookupRoom(c)
	if room == nil {
		return err
	}
	return c.JSON(http.StatusOK, room.Snapshot())
}

func (s *Server) handleDeleteRoom(c echo.Context) error {
	s.rooms.RemoveRoom(c.Param("roomId"))
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleStartRecording(c echo.Context) error {
	room, err := s.lookupRoom(c)
	if room == nil {
		return err
	}
	room.StartRecording()
	return c.JSON(http.StatusOK, map[string]bool{"recording": true})
}

func (s *Server) handleStopRecording(c echo.Context) error {
	room, err := s.lookupRoom(c)
	if room == nil {
		return err
	}
	room.StopRecording()
	return c.JSON(http.StatusOK, map[string]bool{"recording": false})
}

func (s *Server) handleDump(c echo.Context) error {
	room, err := s.lookupRoom(c)
	if room == nil {
		return err
	}
	return c.Blob(http.StatusOK, ndjsonContentType, []byte(room.ExportRecording()))
}

func (s *Server) handleReplay(c echo.Context) error {
	room, err := s.lookupRoom(c)
	if room == nil {
		return err
	}

	compression, err := rooms.ParseCompression(c.QueryParam("compression"))
	if err != nil {
		return respondError(c, http.StatusBadRequest, "invalid_compression", err.Error())
	}

	var body []byte
	if archiveID := c.QueryParam("archive"); archiveID != "" {
		rec, err := s.archive.Get(c.Request().Context(), archiveID)
		if err != nil {
			return respondArchiveError(c, err)
		}
		body = []byte(rec.Body)
	} else {
		body, err = io.ReadAll(io.LimitReader(c.Request().Body, maxReplayBody))
		if err != nil {
			return respondError(c, http.StatusBadRequest, "invalid_request", "invalid request body")
		}
	}

	recording, err := protocol.DecodeRecording(body)
	if err != nil {
		return respondError(c, http.StatusBadRequest, "invalid_recording", err.Error())
	}
	if err := room.ReplayInBackground(recording, compression); err != nil {
		return respondError(c, http.StatusBadRequest, "invalid_compression", err.Error())
	}
	return c.JSON(http.StatusAccepted, map[string]int{"messages": len(recording)})
}

func (s *Server) handleArchive(c echo.Context) error {
	room, err := s.lookupRoom(c)
	if room == nil {
		return err
	}
	recorded := room.RecordedMessages()
	rec, err := s.archive.Save(c.Request().Context(), room.ID(), protocol.EncodeRecording(recorded), len(recorded))
	if err != nil {
		return respondArchiveError(c, err)
	}
	return c.JSON(http.StatusCreated, rec)
}

func (s *Server) handleListArchives(c echo.Context) error {
	list, err := s.archive.List(c.Request().Context(), c.Param("roomId"))
	if err != nil {
		return respondArchiveError(c, err)
	}
	return c.JSON(http.StatusOK, list)
}

func (s *Server) handleGetArchive(c echo.Context) error {
	rec, err := s.archive.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondArchiveError(c, err)
	}
	return c.Blob(http.StatusOK, ndjsonContentType, []byte(rec.Body))
}

func (s *Server) handleWebSocket(c echo.Context) error {
	// The WebSocket handler takes over the connection; echo must not write a response.
	s.ws.Serve(c.Response(), c.Request(), c.Param("roomId"))
	return nil
}

func respondArchiveError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, archive.ErrArchiveDisabled):
		return respondError(c, http.StatusServiceUnavailable, "archive_disabled", err.Error())
	case errors.Is(err, archive.ErrRecordingNotFound):
		return respondError(c, http.StatusNotFound, "recording_not_found", err.Error())
	}
	return respondError(c, http.StatusInternalServerError, "archive_failed", err.Error())
}

func respondError(c echo.Context, status int, code, message string) error {
	return c.JSON(status, protocol.Envelope{
		Kind: "ERROR",
		Data: protocol.ErrorPayload{
			Code:    code,
			Message: message,
		},
	})
}
