// Package web serves the gaze daemon's local HTTP surface: status and
// calibration API, the status log stream, metrics and the overlay page.
package web

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/teslashibe/go-gaze/internal/log"
	"github.com/teslashibe/go-gaze/internal/metrics"
	"github.com/teslashibe/go-gaze/pkg/calibration"
	"github.com/teslashibe/go-gaze/pkg/gaze"
	"github.com/teslashibe/go-gaze/pkg/hub"
	"github.com/teslashibe/go-gaze/pkg/protocol"
	"github.com/teslashibe/go-gaze/pkg/session"
	"github.com/teslashibe/go-gaze/pkg/store"
)

const (
	maxLogs         = 500
	shutdownTimeout = 2 * time.Second
)

// Config configures the web server.
type Config struct {
	// Addr is the listen address, e.g. "127.0.0.1:8002".
	Addr string `yaml:"addr" json:"addr"`

	// StaticDir holds the overlay page. Empty disables static files.
	StaticDir string `yaml:"static_dir" json:"static_dir"`

	// AccessLog enables per-request logging.
	AccessLog bool `yaml:"access_log" json:"access_log"`
}

// DefaultConfig returns the default web settings.
func DefaultConfig() Config {
	return Config{
		Addr:      "127.0.0.1:8002",
		StaticDir: "./web",
	}
}

// Controller is the session surface the API drives.
type Controller interface {
	Status() session.Status
	Stop(ctx context.Context) error
	BeginCalibration(points []calibration.Point, vp gaze.Viewport) (calibration.Target, error)
	Acknowledge(p calibration.Point) (calibration.Entry, error)
	AcknowledgeCurrent() (calibration.Entry, error)
	CalibrationLog() (sessionID string, entries []calibration.Entry)
	SetViewport(vp gaze.Viewport)
}

// History is read access to persisted sessions.
type History interface {
	Sessions(ctx context.Context, limit int) ([]store.SessionRecord, error)
	Session(ctx context.Context, id string) (store.SessionRecord, error)
	Entries(ctx context.Context, sessionID string) ([]calibration.Entry, error)
}

// Server is the web server. It implements session.Service, so it binds and
// serves for exactly as long as a session runs, and session.StatusLog.
type Server struct {
	cfg      Config
	registry *prometheus.Registry
	log      *slog.Logger

	mu        sync.RWMutex
	app       *fiber.App
	statusHub *hub.Hub
	ln        net.Listener
	served    bool
	ctrl      Controller
	history   History

	// Log buffer (last 500 entries)
	logs   []protocol.LogData
	logsMu sync.RWMutex
}

// NewServer creates a web server. reg may be nil to disable /metrics.
func NewServer(cfg Config, reg *prometheus.Registry) *Server {
	s := &Server{
		cfg:      cfg,
		registry: reg,
		log:      log.Component("web"),
		logs:     make([]protocol.LogData, 0, maxLogs),
	}
	s.build()
	return s
}

// Attach connects the session controller.
func (s *Server) Attach(ctrl Controller) {
	s.mu.Lock()
	s.ctrl = ctrl
	s.mu.Unlock()
}

// SetHistory enables the persisted session endpoints.
func (s *Server) SetHistory(h History) {
	s.mu.Lock()
	s.history = h
	s.mu.Unlock()
}

// App returns the current Fiber app.
func (s *Server) App() *fiber.App {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.app
}

// build creates a fresh app and status hub. A Fiber app is not reused
// after shutdown.
func (s *Server) build() {
	statusHub := hub.New("status")

	app := fiber.New(fiber.Config{
		AppName:               "gaze",
		DisableStartupMessage: true,
	})
	app.Use(recover.New())
	if s.cfg.AccessLog {
		app.Use(logger.New())
	}

	// CORS for the overlay page served from another origin
	app.Use(cors.New())

	app.Get("/health", s.handleHealth)
	if s.registry != nil {
		app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler(s.registry)))
	}

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/logs", s.handleGetLogs)
	api.Post("/session/stop", s.handleStop)
	api.Post("/viewport", s.handleViewport)
	api.Post("/calibration/begin", s.handleBeginCalibration)
	api.Post("/calibration/ack", s.handleAcknowledge)
	api.Get("/calibration/log", s.handleCalibrationLog)
	api.Get("/calibration/report", s.handleCalibrationReport)
	api.Get("/calibration/summary", s.handleCalibrationSummary)
	api.Get("/sessions", s.handleSessions)
	api.Get("/sessions/:id/log", s.handleSessionLog)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/status", websocket.New(s.handleStatusWS(statusHub)))

	if s.cfg.StaticDir != "" {
		app.Static("/", s.cfg.StaticDir)
	}

	s.mu.Lock()
	s.app = app
	s.statusHub = statusHub
	s.served = false
	s.mu.Unlock()
}

// Listen binds the configured address.
func (s *Server) Listen() error {
	s.mu.RLock()
	served := s.served
	s.mu.RUnlock()
	if served {
		s.build()
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	s.log.Info("web server listening", "url", "http://"+ln.Addr().String())
	return nil
}

// Close releases a bound listener that was never served.
func (s *Server) Close() error {
	s.mu.Lock()
	ln := s.ln
	s.ln = nil
	s.mu.Unlock()
	if ln == nil {
		return nil
	}
	return ln.Close()
}

// Addr returns the bound address, or the configured one before Listen.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.cfg.Addr
}

// Run serves the bound listener until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.mu.Lock()
	ln, app, statusHub := s.ln, s.app, s.statusHub
	s.served = true
	s.mu.Unlock()
	if ln == nil {
		return net.ErrClosed
	}

	hubCtx, cancelHub := context.WithCancel(context.Background())
	go statusHub.Run(hubCtx)
	defer func() {
		cancelHub()
		<-statusHub.Done()
	}()

	errc := make(chan error, 1)
	go func() { errc <- app.Listener(ln) }()

	select {
	case <-ctx.Done():
		cancelHub()
		<-statusHub.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return app.ShutdownWithContext(sctx)
	case err := <-errc:
		return err
	}
}

// AddLog adds a status log entry and broadcasts it to status clients.
func (s *Server) AddLog(logType, message string) {
	entry := protocol.LogData{
		Time:    time.Now().Format("15:04:05"),
		Type:    logType,
		Message: message,
	}

	s.logsMu.Lock()
	s.logs = append(s.logs, entry)
	if len(s.logs) > maxLogs {
		s.logs = s.logs[1:]
	}
	s.logsMu.Unlock()

	s.mu.RLock()
	statusHub := s.statusHub
	s.mu.RUnlock()
	if statusHub.IsRunning() {
		if msg, err := protocol.NewLogMessage(entry); err == nil {
			statusHub.Publish(msg)
		}
	}
}

// Logs returns a copy of the status log.
func (s *Server) Logs() []protocol.LogData {
	s.logsMu.RLock()
	defer s.logsMu.RUnlock()
	return append([]protocol.LogData(nil), s.logs...)
}

func (s *Server) controller() Controller {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ctrl
}
