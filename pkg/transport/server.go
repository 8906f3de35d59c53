// Package transport carries gaze records from the browser tracker into the
// daemon and overlay frames back out to overlay clients.
package transport

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/teslashibe/go-gaze/internal/log"
	"github.com/teslashibe/go-gaze/internal/metrics"
	"github.com/teslashibe/go-gaze/pkg/gaze"
	"github.com/teslashibe/go-gaze/pkg/hub"
	"github.com/teslashibe/go-gaze/pkg/protocol"
)

const shutdownTimeout = 2 * time.Second

// Config configures the channel endpoints.
type Config struct {
	// Addr is the listen address, e.g. "127.0.0.1:8001".
	Addr string `yaml:"addr" json:"addr"`

	// GazePath is the producer endpoint.
	GazePath string `yaml:"gaze_path" json:"gaze_path"`

	// StreamPath is the overlay consumer endpoint.
	StreamPath string `yaml:"stream_path" json:"stream_path"`
}

// DefaultConfig returns the default channel endpoints.
func DefaultConfig() Config {
	return Config{
		Addr:       "127.0.0.1:8001",
		GazePath:   "/ws/gaze",
		StreamPath: "/ws/stream",
	}
}

// Server accepts one producer of gaze records and any number of overlay
// consumers. It is single use: a stopped Server cannot be restarted.
type Server struct {
	cfg Config
	app *fiber.App
	hub *hub.Hub
	log *slog.Logger

	mu       sync.RWMutex
	ln       net.Listener
	producer *websocket.Conn

	// Callbacks
	onRecord         func(r protocol.Record)
	onReject         func(err error)
	onProducerClosed func(err error)
	onViewport       func(vp gaze.Viewport)

	// Stats
	producerConnections atomic.Uint64
	producersRefused    atomic.Uint64
	samplesReceived     atomic.Uint64
	samplesRejected     atomic.Uint64
}

// NewServer creates a channel server for cfg.
func NewServer(cfg Config) *Server {
	def := DefaultConfig()
	if cfg.GazePath == "" {
		cfg.GazePath = def.GazePath
	}
	if cfg.StreamPath == "" {
		cfg.StreamPath = def.StreamPath
	}

	s := &Server{
		cfg: cfg,
		hub: hub.New("stream"),
		log: log.Component("transport"),
	}
	s.hub.OnMessage(s.handleConsumerMessage)
	s.hub.OnClientCount(metrics.SetConsumers)

	app := fiber.New(fiber.Config{
		AppName:               "gaze transport",
		DisableStartupMessage: true,
	})
	app.Use(recover.New())
	s.RegisterRoutes(app)
	s.app = app
	return s
}

// OnRecord sets the callback for each valid record, called in arrival order
// on the producer's read goroutine.
func (s *Server) OnRecord(callback func(r protocol.Record)) {
	s.mu.Lock()
	s.onRecord = callback
	s.mu.Unlock()
}

// OnReject sets the callback for records that failed validation.
func (s *Server) OnReject(callback func(err error)) {
	s.mu.Lock()
	s.onReject = callback
	s.mu.Unlock()
}

// OnProducerClosed sets the callback fired once the producer connection
// ends, whatever the reason.
func (s *Server) OnProducerClosed(callback func(err error)) {
	s.mu.Lock()
	s.onProducerClosed = callback
	s.mu.Unlock()
}

// OnViewport sets the callback for viewport reports from consumers.
func (s *Server) OnViewport(callback func(vp gaze.Viewport)) {
	s.mu.Lock()
	s.onViewport = callback
	s.mu.Unlock()
}

// RegisterRoutes registers the websocket endpoints on a Fiber app.
func (s *Server) RegisterRoutes(app *fiber.App) {
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get(s.cfg.GazePath, websocket.New(s.handleProducer))
	app.Get(s.cfg.StreamPath, websocket.New(s.hub.Handler()))
}

// Listen binds the configured address. Failure is a *ConnectionError and
// is not retried.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return &ConnectionError{Op: "listen", Addr: s.cfg.Addr, Err: err}
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	s.log.Info("listening", "addr", ln.Addr().String())
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

// Publisher returns the consumer fan-out.
func (s *Server) Publisher() *hub.Hub {
	return s.hub
}

// Run serves the bound listener until ctx is cancelled, then closes the
// producer and every consumer and shuts the app down.
func (s *Server) Run(ctx context.Context) error {
	s.mu.RLock()
	ln := s.ln
	s.mu.RUnlock()
	if ln == nil {
		return ErrNotListening
	}

	hubCtx, cancelHub := context.WithCancel(context.Background())
	go s.hub.Run(hubCtx)
	stopHub := func() {
		cancelHub()
		<-s.hub.Done()
	}
	defer stopHub()

	errc := make(chan error, 1)
	go func() { errc <- s.app.Listener(ln) }()

	select {
	case <-ctx.Done():
		stopHub()
		return s.shutdown()
	case err := <-errc:
		if err != nil {
			return &ConnectionError{Op: "serve", Addr: ln.Addr().String(), Err: err}
		}
		return nil
	}
}

func (s *Server) shutdown() error {
	s.mu.RLock()
	producer := s.producer
	s.mu.RUnlock()
	if producer != nil {
		producer.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "session stopped"))
		producer.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.app.ShutdownWithContext(ctx)
}

// handleProducer reads gaze records from the single producer connection.
func (s *Server) handleProducer(c *websocket.Conn) {
	if !s.claimProducer(c) {
		s.producersRefused.Add(1)
		metrics.RecordProducer(false)
		s.log.Warn("refusing second producer", "remote", c.RemoteAddr().String())
		c.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, ErrProducerBusy.Error()))
		c.Close()
		return
	}
	s.producerConnections.Add(1)
	metrics.RecordProducer(true)
	s.log.Info("producer connected", "remote", c.RemoteAddr().String())

	var readErr error
	defer func() {
		s.releaseProducer(c)
		s.log.Info("producer disconnected", "err", readErr)
		s.mu.RLock()
		cb := s.onProducerClosed
		s.mu.RUnlock()
		if cb != nil {
			cb(readErr)
		}
	}()

	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			readErr = err
			return
		}
		s.handleFrame(data)
	}
}

// handleFrame dispatches every record of one text frame in order.
func (s *Server) handleFrame(data []byte) {
	records, errs := protocol.ParseRecords(data)

	s.mu.RLock()
	recordCb := s.onRecord
	rejectCb := s.onReject
	s.mu.RUnlock()

	for _, err := range errs {
		s.samplesRejected.Add(1)
		metrics.RecordSample(false)
		s.log.Debug("rejected record", "err", err)
		if rejectCb != nil {
			rejectCb(err)
		}
	}
	for _, r := range records {
		s.samplesReceived.Add(1)
		metrics.RecordSample(true)
		if recordCb != nil {
			recordCb(r)
		}
	}
}

// handleConsumerMessage handles messages sent by overlay clients.
func (s *Server) handleConsumerMessage(_ *hub.Client, data []byte) {
	msg, err := protocol.ParseMessage(data)
	if err != nil {
		s.log.Debug("consumer parse error", "err", err)
		return
	}

	switch msg.Type {
	case protocol.TypeViewport:
		vp, err := msg.GetViewportData()
		if err != nil {
			return
		}
		s.mu.RLock()
		cb := s.onViewport
		s.mu.RUnlock()
		if cb != nil {
			cb(gaze.Viewport{Width: vp.Width, Height: vp.Height})
		}

	case protocol.TypePing:
		ping, err := msg.GetPingData()
		if err != nil {
			return
		}
		pong, err := protocol.NewPongMessage(ping.ID, msg.Timestamp, time.Now().UnixMilli())
		if err == nil {
			s.hub.Publish(pong)
		}
	}
}

func (s *Server) claimProducer(c *websocket.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.producer != nil {
		return false
	}
	s.producer = c
	return true
}

func (s *Server) releaseProducer(c *websocket.Conn) {
	s.mu.Lock()
	if s.producer == c {
		s.producer = nil
	}
	s.mu.Unlock()
}

// HasProducer reports whether a producer is connected.
func (s *Server) HasProducer() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.producer != nil
}

// Stats contains channel statistics
type Stats struct {
	ProducerConnected   bool   `json:"producer_connected"`
	ProducerConnections uint64 `json:"producer_connections"`
	ProducersRefused    uint64 `json:"producers_refused"`
	SamplesReceived     uint64 `json:"samples_received"`
	SamplesRejected     uint64 `json:"samples_rejected"`
	Consumers           int    `json:"consumers"`
	ConsumersDropped    uint64 `json:"consumers_dropped"`
}

// GetStats returns channel statistics
func (s *Server) GetStats() Stats {
	return Stats{
		ProducerConnected:   s.HasProducer(),
		ProducerConnections: s.producerConnections.Load(),
		ProducersRefused:    s.producersRefused.Load(),
		SamplesReceived:     s.samplesReceived.Load(),
		SamplesRejected:     s.samplesRejected.Load(),
		Consumers:           s.hub.ClientCount(),
		ConsumersDropped:    s.hub.Dropped(),
	}
}
