package web

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/go-gaze/pkg/calibration"
	"github.com/teslashibe/go-gaze/pkg/gaze"
	"github.com/teslashibe/go-gaze/pkg/hub"
	"github.com/teslashibe/go-gaze/pkg/protocol"
	"github.com/teslashibe/go-gaze/pkg/session"
	"github.com/teslashibe/go-gaze/pkg/store"
)

// errorResponse writes {"error": ...} with a status matching err.
func errorResponse(c *fiber.Ctx, err error) error {
	return c.Status(statusFor(err)).JSON(fiber.Map{
		"error": err.Error(),
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrNotActive),
		errors.Is(err, session.ErrNotCalibrating),
		errors.Is(err, calibration.ErrOutOfSequence):
		return fiber.StatusConflict
	case errors.Is(err, calibration.ErrInvalidPoint),
		errors.Is(err, calibration.ErrEmptySequence),
		errors.Is(err, calibration.ErrUnknownFormat):
		return fiber.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return fiber.StatusNotFound
	default:
		return fiber.StatusInternalServerError
	}
}

var errNoController = errors.New("web: no session controller attached")

// handleHealth reports liveness and the session state
func (s *Server) handleHealth(c *fiber.Ctx) error {
	state := string(session.StateIdle)
	if ctrl := s.controller(); ctrl != nil {
		state = string(ctrl.Status().State)
	}
	return c.JSON(fiber.Map{
		"status": "ok",
		"state":  state,
	})
}

// handleStatus returns the controller snapshot
func (s *Server) handleStatus(c *fiber.Ctx) error {
	ctrl := s.controller()
	if ctrl == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": errNoController.Error()})
	}
	return c.JSON(ctrl.Status())
}

// handleGetLogs returns recent status log entries
func (s *Server) handleGetLogs(c *fiber.Ctx) error {
	return c.JSON(s.Logs())
}

// handleStop ends the session. The stop runs after the response, since
// this server shuts down with the session.
func (s *Server) handleStop(c *fiber.Ctx) error {
	ctrl := s.controller()
	if ctrl == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": errNoController.Error()})
	}
	st := ctrl.Status()
	if st.State == session.StateIdle {
		return c.JSON(fiber.Map{"state": st.State})
	}

	s.AddLog("session", "stop requested")
	go ctrl.Stop(context.Background())
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"state":      session.StateStopping,
		"session_id": st.SessionID,
	})
}

// ViewportRequest is the body of POST /api/viewport.
type ViewportRequest struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// handleViewport records the overlay surface size
func (s *Server) handleViewport(c *fiber.Ctx) error {
	ctrl := s.controller()
	if ctrl == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": errNoController.Error()})
	}

	var req ViewportRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	vp := gaze.Viewport{Width: req.Width, Height: req.Height}
	if !vp.Known() {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "width and height must be positive"})
	}

	ctrl.SetViewport(vp)
	return c.JSON(vp)
}

// BeginRequest is the body of POST /api/calibration/begin. Points are
// [xRatio, yRatio] pairs; omitted points use the configured sequence.
type BeginRequest struct {
	Points   [][2]float64     `json:"points"`
	Viewport *ViewportRequest `json:"viewport"`
}

// handleBeginCalibration starts a calibration run
func (s *Server) handleBeginCalibration(c *fiber.Ctx) error {
	ctrl := s.controller()
	if ctrl == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": errNoController.Error()})
	}

	var req BeginRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
	}

	var points []calibration.Point
	if req.Points != nil {
		var err error
		if points, err = calibration.PointsFromPairs(req.Points); err != nil {
			return errorResponse(c, err)
		}
	}
	var vp gaze.Viewport
	if req.Viewport != nil {
		vp = gaze.Viewport{Width: req.Viewport.Width, Height: req.Viewport.Height}
	}

	target, err := ctrl.BeginCalibration(points, vp)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(fiber.Map{
		"target": target,
	})
}

// AckRequest is the body of POST /api/calibration/ack. An empty body
// acknowledges the current target.
type AckRequest struct {
	XRatio *float64 `json:"x_ratio"`
	YRatio *float64 `json:"y_ratio"`
}

// handleAcknowledge records the current target against the latest estimate
func (s *Server) handleAcknowledge(c *fiber.Ctx) error {
	ctrl := s.controller()
	if ctrl == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": errNoController.Error()})
	}

	var req AckRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
	}

	var (
		entry calibration.Entry
		err   error
	)
	if req.XRatio != nil && req.YRatio != nil {
		entry, err = ctrl.Acknowledge(calibration.Point{XRatio: *req.XRatio, YRatio: *req.YRatio})
	} else {
		entry, err = ctrl.AcknowledgeCurrent()
	}
	if err != nil && !errors.Is(err, calibration.ErrPredictionUnavailable) {
		return errorResponse(c, err)
	}

	resp := fiber.Map{"entry": entry}
	if err != nil {
		resp["warning"] = err.Error()
	}
	st := ctrl.Status()
	if st.Calibration != nil {
		resp["next"] = st.Calibration.Target
	} else {
		resp["finished"] = true
	}
	return c.JSON(resp)
}

// handleCalibrationLog exports the calibration log as ?format=json|csv|html|png
func (s *Server) handleCalibrationLog(c *fiber.Ctx) error {
	ctrl := s.controller()
	if ctrl == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": errNoController.Error()})
	}
	format, err := calibration.ParseFormat(c.Query("format"))
	if err != nil {
		return errorResponse(c, err)
	}
	id, entries := ctrl.CalibrationLog()
	return s.export(c, id, format, entries)
}

// handleCalibrationReport returns the HTML accuracy report
func (s *Server) handleCalibrationReport(c *fiber.Ctx) error {
	ctrl := s.controller()
	if ctrl == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": errNoController.Error()})
	}
	id, entries := ctrl.CalibrationLog()
	return s.export(c, id, calibration.FormatHTML, entries)
}

// handleCalibrationSummary returns accuracy statistics for the log
func (s *Server) handleCalibrationSummary(c *fiber.Ctx) error {
	ctrl := s.controller()
	if ctrl == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": errNoController.Error()})
	}
	id, entries := ctrl.CalibrationLog()
	return c.JSON(fiber.Map{
		"session_id": id,
		"summary":    calibration.Summarize(entries),
	})
}

// handleSessions lists persisted sessions, newest first
func (s *Server) handleSessions(c *fiber.Ctx) error {
	h := s.historyStore()
	if h == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "no session history"})
	}
	limit, err := strconv.Atoi(c.Query("limit", "20"))
	if err != nil || limit <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid limit"})
	}
	sessions, err := h.Sessions(c.UserContext(), limit)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(sessions)
}

// handleSessionLog exports a persisted session's calibration log
func (s *Server) handleSessionLog(c *fiber.Ctx) error {
	h := s.historyStore()
	if h == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "no session history"})
	}
	format, err := calibration.ParseFormat(c.Query("format"))
	if err != nil {
		return errorResponse(c, err)
	}
	id := c.Params("id")
	if _, err := h.Session(c.UserContext(), id); err != nil {
		return errorResponse(c, err)
	}
	entries, err := h.Entries(c.UserContext(), id)
	if err != nil {
		return errorResponse(c, err)
	}
	return s.export(c, id, format, entries)
}

func (s *Server) export(c *fiber.Ctx, sessionID string, format calibration.Format, entries []calibration.Entry) error {
	var buf bytes.Buffer
	if err := calibration.Export(&buf, format, entries); err != nil {
		s.AddLog("error", "export failed: "+err.Error())
		return errorResponse(c, err)
	}
	c.Set(fiber.HeaderContentType, format.ContentType())
	if format == calibration.FormatCSV || format == calibration.FormatPNG {
		c.Set(fiber.HeaderContentDisposition,
			fmt.Sprintf(`attachment; filename="calibration-%s.%s"`, sessionID, format))
	}
	return c.Send(buf.Bytes())
}

func (s *Server) historyStore() History {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.history
}

// handleStatusWS replays the status log to a new client, then serves it
// from the status hub.
func (s *Server) handleStatusWS(statusHub *hub.Hub) func(*websocket.Conn) {
	serve := statusHub.Handler()
	return func(c *websocket.Conn) {
		for _, entry := range s.Logs() {
			msg, err := protocol.NewLogMessage(entry)
			if err != nil {
				continue
			}
			data, err := msg.Bytes()
			if err != nil {
				continue
			}
			if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
				c.Close()
				return
			}
		}
		serve(c)
	}
}
