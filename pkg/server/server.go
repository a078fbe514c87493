package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/docker/agentloop/pkg/api"
	"github.com/docker/agentloop/pkg/session"
	"github.com/docker/agentloop/pkg/stream"
)

type Server struct {
	e        *echo.Echo
	sm       *SessionManager
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func New(sm *SessionManager, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.CORS())
	e.Use(middleware.Recover())

	s := &Server{
		e:      e,
		sm:     sm,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}

	group := e.Group("/api")

	// List all sessions
	group.GET("/sessions", s.getSessions)
	// Get a session by id
	group.GET("/sessions/:id", s.getSession)
	// Delete a session
	group.DELETE("/sessions/:id", s.deleteSession)
	// Run the agent loop on a session, streaming events over SSE
	group.POST("/sessions/:id/run", s.runSession)
	// Run requests and events over a WebSocket
	group.GET("/ws", s.websocket)

	// Health check endpoint
	group.GET("/ping", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	return s
}

// Handler exposes the HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.e
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := http.Server{
		Handler:           s.e,
		ReadHeaderTimeout: 10 * time.Second,
	}

	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	})
	defer stop()

	s.logger.Info("Serving API", "addr", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) && ctx.Err() == nil {
		s.logger.Error("Failed to start server", "error", err)
		return err
	}

	return nil
}

func (s *Server) getSessions(c echo.Context) error {
	summaries, err := s.sm.GetSessions(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("failed to get sessions: %v", err))
	}
	if summaries == nil {
		summaries = []session.Summary{}
	}
	return c.JSON(http.StatusOK, api.SessionsResponse{Sessions: summaries})
}

func (s *Server) getSession(c echo.Context) error {
	sess, err := s.sm.GetSession(c.Request().Context(), c.Param("id"))
	if errors.Is(err, session.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("failed to get session: %v", err))
	}

	params := api.PaginationParams{Before: c.QueryParam("before")}
	if limit := c.QueryParam("limit"); limit != "" {
		if params.Limit, err = strconv.Atoi(limit); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid limit: %v", err))
		}
	}

	messages, meta, err := api.PaginateMessages(sess.Messages, params)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	usage := sess.Usage()
	resp := api.SessionResponse{
		ID:           sess.ID,
		Title:        sess.Title,
		CreatedAt:    sess.CreatedAt,
		Messages:     messages,
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
		Pagination:   *meta,
	}
	if state, ok := s.sm.Streaming(sess.ID); ok {
		resp.Streaming = &state
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) deleteSession(c echo.Context) error {
	err := s.sm.DeleteSession(c.Request().Context(), c.Param("id"))
	if errors.Is(err, session.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("failed to delete session: %v", err))
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "session deleted"})
}

func (s *Server) runSession(c echo.Context) error {
	sessionID := c.Param("id")

	var req api.RunRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
	}

	s.logger.Debug("Running session", "session_id", sessionID)

	events, err := s.sm.RunSession(c.Request().Context(), sessionID, req)
	if err != nil {
		return runError(err)
	}

	c.Response().Header().Set("Content-Type", "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().WriteHeader(http.StatusOK)
	for event := range events {
		data, err := json.Marshal(event)
		if err != nil {
			s.logger.Error("Failed to marshal event", "session_id", sessionID, "error", err)
			continue
		}
		fmt.Fprintf(c.Response(), "data: %s\n\n", data)
		c.Response().Flush()
	}

	return nil
}

// websocket serves run requests one at a time on a single connection.
func (s *Server) websocket(c echo.Context) error {
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx := c.Request().Context()
	for {
		var req api.WSRequest
		if err := conn.ReadJSON(&req); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("WebSocket read failed", "error", err)
			}
			return nil
		}

		if err := s.runOverWebSocket(ctx, conn, req); err != nil {
			s.logger.Debug("WebSocket write failed", "error", err)
			return nil
		}
	}
}

func (s *Server) runOverWebSocket(ctx context.Context, conn *websocket.Conn, req api.WSRequest) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	events, err := s.sm.RunSession(runCtx, req.SessionID, req.RunRequest)
	if err != nil {
		return conn.WriteJSON(api.WSEvent{SessionID: req.SessionID, Event: stream.Error(err.Error())})
	}

	for event := range events {
		if err := conn.WriteJSON(api.WSEvent{SessionID: req.SessionID, Event: event}); err != nil {
			cancel()
			for range events {
			}
			return err
		}
	}
	return nil
}

func runError(err error) error {
	switch {
	case errors.Is(err, ErrSessionBusy):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, session.ErrEmptyID):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		var httpErr *echo.HTTPError
		if errors.As(err, &httpErr) {
			return httpErr
		}
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("failed to run session: %v", err))
	}
}
