// Package control serves the thin local API used to start, stop and watch
// the print agent.
package control

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/Riboost-Studio/print-queue-agent/internal/model"
	"github.com/Riboost-Studio/print-queue-agent/internal/services"
)

const (
	pingInterval    = 20 * time.Second
	writeTimeout    = 10 * time.Second
	maxPreviewBytes = 64 << 10
)

// AgentController is the agent as seen by the control API.
type AgentController interface {
	Start(cfg model.AgentConfig) error
	Stop()
	Status() services.Status
}

// Previewer renders a payload to PNG.
type Previewer interface {
	Render(ctx context.Context, content string) ([]byte, error)
}

// Server is the control HTTP server.
type Server struct {
	echo     *echo.Echo
	agent    AgentController
	bus      *services.EventBus
	preview  Previewer
	log      *zap.Logger
	upgrader websocket.Upgrader
}

// NewServer wires the routes. preview may be nil, in which case
// POST /preview answers 501.
func NewServer(agent AgentController, bus *services.EventBus, preview Previewer, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:    e,
		agent:   agent,
		bus:     bus,
		preview: preview,
		log:     log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     sameHostOrigin,
		},
	}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			log.Debug("control",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("duration", v.Latency),
			)
			return nil
		},
	}))

	e.GET("/status", s.handleStatus)
	e.POST("/start", s.handleStart)
	e.POST("/stop", s.handleStop)
	e.GET("/events", s.handleEvents)
	e.POST("/preview", s.handlePreview)

	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) handleStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, s.agent.Status())
}

func (s *Server) handleStart(c echo.Context) error {
	var cfg model.AgentConfig
	if err := c.Bind(&cfg); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	err := s.agent.Start(cfg)
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, s.agent.Status())
	case errors.Is(err, model.ErrConfigInvalid):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, services.ErrAlreadyRunning):
		return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		s.log.Error("control: start agent", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

func (s *Server) handleStop(c echo.Context) error {
	s.agent.Stop()
	return c.JSON(http.StatusOK, s.agent.Status())
}

type previewRequest struct {
	Content string `json:"content"`
}

func (s *Server) handlePreview(c echo.Context) error {
	if s.preview == nil {
		return c.JSON(http.StatusNotImplemented, map[string]string{"error": "preview not available"})
	}
	var req previewRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if len(req.Content) > maxPreviewBytes {
		return c.JSON(http.StatusRequestEntityTooLarge, map[string]string{"error": "content too large"})
	}

	png, err := s.preview.Render(c.Request().Context(), req.Content)
	if err != nil {
		s.log.Warn("control: render preview", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.Blob(http.StatusOK, "image/png", png)
}

// handleEvents streams agent events to a WebSocket client until it goes away.
func (s *Server) handleEvents(c echo.Context) error {
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.log.Warn("control: ws upgrade", zap.Error(err))
		return nil
	}
	defer conn.Close()

	events, unsub := s.bus.Subscribe()
	defer unsub()

	// Reads only serve to notice the client closing.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(evt); err != nil {
				s.log.Debug("control: ws write", zap.Error(err))
				return nil
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return nil
			}
		case <-closed:
			return nil
		case <-c.Request().Context().Done():
			return nil
		}
	}
}

// sameHostOrigin accepts non-browser clients and pages served from the
// control address itself.
func sameHostOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	origin = strings.TrimPrefix(strings.TrimPrefix(origin, "http://"), "https://")
	return origin == r.Host
}
