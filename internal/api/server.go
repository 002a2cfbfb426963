// Package api exposes the control operations and live streams over HTTP and
// provides the client sentryctl uses to call them.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	ws "github.com/gorilla/websocket"
	"github.com/psg-sentry/sentry/internal/calibration"
	"github.com/psg-sentry/sentry/internal/handlers"
	"github.com/psg-sentry/sentry/internal/video"
	"github.com/psg-sentry/sentry/pkg/core"
	"github.com/psg-sentry/sentry/pkg/streaming"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 1000
	writeWait           = 10 * time.Second
)

// VideoStream yields annotated frames as JPEG.
type VideoStream interface {
	NextJPEG(ctx context.Context, after uint64) ([]byte, uint64, error)
}

// Dependencies holds all dependencies for the HTTP server. Video and
// Status are optional.
type Dependencies struct {
	Service *handlers.Service
	Hub     *Hub
	Video   VideoStream
	Status  func() any
	Address string
	Logger  *slog.Logger
}

// Server is the HTTP front end.
type Server struct {
	deps   Dependencies
	engine *gin.Engine
	http   *http.Server
	logger *slog.Logger

	upgrader  ws.Upgrader
	closing   chan struct{}
	closeOnce sync.Once
	serveErr  chan error
	started   bool
}

// NewServer builds the router. Call Start to listen.
func NewServer(deps Dependencies) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		deps:     deps,
		logger:   logger.With("component", "api"),
		closing:  make(chan struct{}),
		serveErr: make(chan error, 1),
		upgrader: ws.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}

	s.engine = gin.New()
	s.engine.Use(gin.Recovery(), s.requestLogger())
	s.routes()

	s.http = &http.Server{
		Addr:              deps.Address,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.http.RegisterOnShutdown(s.signalClosing)
	return s
}

func (s *Server) routes() {
	r := s.engine

	r.GET("/healthcheck", s.handleHealth)
	r.GET("/status", s.handleStatus)

	r.POST("/calibrate", s.handleCalibrate)
	r.GET("/calibration", s.handleGetCalibration)

	r.GET("/turret_position", s.handleTurretPosition)
	r.POST("/move", s.handleMove)
	r.POST("/fire", s.handleFire)
	r.POST("/aim", s.handleAim)

	r.GET("/trackablecolours", s.handleTrackableColours)
	r.GET("/controls", s.handleGetControls)
	r.POST("/controls", s.handleSetControls)

	r.GET("/camera_configuration", s.handleGetCameraConfiguration)
	r.POST("/camera_configuration", s.handleSetCameraConfiguration)

	r.GET("/engagements", s.handleEngagements)
	r.GET("/statuses", s.handleStatuses)

	r.GET("/events", s.handleEvents)
	r.GET("/ws", s.handleWebSocket)
	r.GET("/video", s.handleVideo)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start listens in the background. Errors other than a clean shutdown are
// reported by Shutdown.
func (s *Server) Start() {
	s.started = true
	go func() {
		s.logger.Info("Waiting for HTTP requests", "address", s.deps.Address)
		err := s.http.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server failed", "error", err)
			s.serveErr <- err
		}
		close(s.serveErr)
	}()
}

// Errors yields the error that stopped the listener, if any. It is closed
// once the listener exits.
func (s *Server) Errors() <-chan error {
	return s.serveErr
}

// Shutdown ends open streams and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.signalClosing()
	if err := s.http.Shutdown(ctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	if s.started {
		if err, ok := <-s.serveErr; ok {
			return err
		}
	}
	s.logger.Info("Web server exiting")
	return nil
}

func (s *Server) signalClosing() {
	s.closeOnce.Do(func() { close(s.closing) })
}

// streamContext is cancelled when the client goes away or the server shuts down.
func (s *Server) streamContext(c *gin.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(c.Request.Context())
	go func() {
		select {
		case <-s.closing:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

// statusFor maps operation errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, calibration.ErrUncalibrated):
		return http.StatusConflict
	case errors.Is(err, core.ErrInvalidGrid),
		errors.Is(err, core.ErrUnknownColour),
		errors.Is(err, video.ErrInvalidConfiguration):
		return http.StatusBadRequest
	case errors.Is(err, handlers.ErrNoHistory):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		s.logger.Error("Request failed", "path", c.Request.URL.Path, "error", err)
	}
	c.JSON(code, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleStatus(c *gin.Context) {
	if s.deps.Status == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "status not available"})
		return
	}
	c.JSON(http.StatusOK, s.deps.Status())
}

func (s *Server) handleCalibrate(c *gin.Context) {
	var grid core.CalibrationGrid
	if err := c.ShouldBindJSON(&grid); err != nil {
		badRequest(c, err)
		return
	}
	if err := s.deps.Service.Calibrate(grid); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleGetCalibration(c *gin.Context) {
	grid, ok := s.deps.Service.Calibration()
	if !ok {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, grid)
}

func (s *Server) handleTurretPosition(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Service.TurretPosition())
}

type moveRequest struct {
	Pan  *int `json:"pan" binding:"required"`
	Tilt *int `json:"tilt" binding:"required"`
}

func (s *Server) handleMove(c *gin.Context) {
	var req moveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	s.deps.Service.Move(*req.Pan, *req.Tilt)
	c.Status(http.StatusNoContent)
}

type fireRequest struct {
	Firing *bool `json:"firing" binding:"required"`
}

func (s *Server) handleFire(c *gin.Context) {
	var req fireRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	s.deps.Service.Fire(*req.Firing)
	c.Status(http.StatusNoContent)
}

type aimRequest struct {
	X           *int `json:"x" binding:"required"`
	Y           *int `json:"y" binding:"required"`
	MoveAndFire bool `json:"move_and_fire"`
}

func (s *Server) handleAim(c *gin.Context) {
	var req aimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	pos, err := s.deps.Service.Aim(*req.X, *req.Y, req.MoveAndFire)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, pos)
}

func (s *Server) handleTrackableColours(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Service.TrackableColours())
}

func (s *Server) handleGetControls(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Service.Controls())
}

func (s *Server) handleSetControls(c *gin.Context) {
	var cfg core.ControlsConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		badRequest(c, err)
		return
	}
	if _, err := s.deps.Service.SetControls(cfg); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleGetCameraConfiguration(c *gin.Context) {
	raw, err := s.deps.Service.CameraConfiguration(nil)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json", raw)
}

func (s *Server) handleSetCameraConfiguration(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		badRequest(c, err)
		return
	}
	if len(body) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "camera configuration required"})
		return
	}
	raw, err := s.deps.Service.CameraConfiguration(body)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json", raw)
}

func historyLimit(c *gin.Context) (int, error) {
	q := c.Query("limit")
	if q == "" {
		return defaultHistoryLimit, nil
	}
	n, err := strconv.Atoi(q)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("limit must be a positive integer")
	}
	return min(n, maxHistoryLimit), nil
}

func (s *Server) handleEngagements(c *gin.Context) {
	limit, err := historyLimit(c)
	if err != nil {
		badRequest(c, err)
		return
	}
	out, err := s.deps.Service.RecentEngagements(limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	if out == nil {
		out = []core.Engagement{}
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleStatuses(c *gin.Context) {
	limit, err := historyLimit(c)
	if err != nil {
		badRequest(c, err)
		return
	}
	out, err := s.deps.Service.RecentStatuses(limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	if out == nil {
		out = []core.TurretStatus{}
	}
	c.JSON(http.StatusOK, out)
}

// handleEvents streams one text/event-stream frame per delivered turret event.
func (s *Server) handleEvents(c *gin.Context) {
	ctx, cancel := s.streamContext(c)
	defer cancel()

	sub := s.deps.Hub.Subscribe()
	defer s.deps.Hub.Unsubscribe(sub)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case ev, ok := <-sub.C:
			if !ok {
				return false
			}
			_, err := io.WriteString(w, ev.SSE())
			return err == nil
		}
	})
}

// handleWebSocket sends a hello envelope carrying the client id, then one
// status envelope per delivered turret event.
func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := s.streamContext(c)
	defer cancel()

	sub := s.deps.Hub.Subscribe()
	defer s.deps.Hub.Unsubscribe(sub)

	// reader: notices the client closing
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if ws.IsUnexpectedCloseError(err, ws.CloseGoingAway, ws.CloseNormalClosure) {
					s.logger.Debug("WebSocket read error", "client", sub.ID, "error", err)
				}
				return
			}
		}
	}()

	send := func(typ string, v any) error {
		data, err := streaming.Encode(typ, v)
		if err != nil {
			return err
		}
		if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			return err
		}
		return conn.WriteMessage(ws.TextMessage, data)
	}

	if err := send(streaming.TypeHello, streaming.HelloMessage{ClientID: sub.ID.String()}); err != nil {
		s.logger.Warn("WebSocket write error", "client", sub.ID, "error", err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(ws.CloseMessage,
				ws.FormatCloseMessage(ws.CloseGoingAway, "server shutting down"),
				time.Now().Add(time.Second))
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			if err := send(streaming.TypeStatus, ev); err != nil {
				s.logger.Warn("WebSocket write error", "client", sub.ID, "error", err)
				return
			}
		}
	}
}

// handleVideo serves the annotated frames as multipart MJPEG.
func (s *Server) handleVideo(c *gin.Context) {
	if s.deps.Video == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "video not available"})
		return
	}

	ctx, cancel := s.streamContext(c)
	defer cancel()

	c.Header("Content-Type", video.MJPEGContentType)
	c.Header("Cache-Control", "no-cache")
	c.Status(http.StatusOK)

	var seq uint64
	c.Stream(func(w io.Writer) bool {
		data, next, err := s.deps.Video.NextJPEG(ctx, seq)
		if err != nil {
			if !errors.Is(err, context.Canceled) && !errors.Is(err, video.ErrClosed) {
				s.logger.Warn("Video stream ended", "error", err)
			}
			return false
		}
		seq = next
		return video.WriteMJPEGPart(w, data) == nil
	})
}
