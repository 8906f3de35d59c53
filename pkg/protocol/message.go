// Package protocol defines the WebSocket message types exchanged with the
// browser tracker (inbound gaze records) and overlay clients (outbound frames).
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/teslashibe/go-gaze/pkg/trail"
)

// MessageType identifies the type of an overlay WebSocket message
type MessageType string

const (
	// Daemon → overlay messages
	TypeFrame       MessageType = "frame"       // Cursor + trail snapshot
	TypeStatus      MessageType = "status"      // Session state change
	TypeCalibration MessageType = "calibration" // Current calibration target
	TypeLog         MessageType = "log"         // Status log entry

	// Overlay → daemon messages
	TypeViewport MessageType = "viewport" // Overlay surface size

	// Bidirectional
	TypePing MessageType = "ping"
	TypePong MessageType = "pong"
)

// Message is the envelope for overlay messages
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp int64           `json:"ts,omitempty"` // Unix milliseconds
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewMessage creates a new message with the current timestamp
func NewMessage(msgType MessageType, data interface{}) (*Message, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal message data: %w", err)
		}
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
		Data:      rawData,
	}, nil
}

// ParseData unmarshals the message data into the provided struct
func (m *Message) ParseData(v interface{}) error {
	if m.Data == nil {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}

// Bytes returns the JSON-encoded message
func (m *Message) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage parses a JSON message from bytes
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("failed to parse message: missing type")
	}
	return &msg, nil
}

// =============================================================================
// Daemon → Overlay
// =============================================================================

// Point is a pixel position.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Frame is one overlay render tick.
type Frame struct {
	SessionID string      `json:"session_id"`
	State     string      `json:"state"`
	Cursor    *Point      `json:"cursor,omitempty"`
	Trail     []trail.Dot `json:"trail"`
	Target    *Target     `json:"target,omitempty"`
}

// Target is the calibration point currently awaiting acknowledgement.
type Target struct {
	Index  int     `json:"index"`
	Total  int     `json:"total"`
	XRatio float64 `json:"x_ratio"`
	YRatio float64 `json:"y_ratio"`
	X      float64 `json:"x"` // pixels, zero when the viewport is unknown
	Y      float64 `json:"y"`
}

// StatusData announces a session state transition.
type StatusData struct {
	SessionID string `json:"session_id,omitempty"`
	State     string `json:"state"`
	Reason    string `json:"reason,omitempty"`
}

// CalibrationData describes calibration progress.
type CalibrationData struct {
	Target   *Target `json:"target,omitempty"`
	Finished bool    `json:"finished"`
}

// LogData is a user-visible status log line.
type LogData struct {
	Time    string `json:"time"`
	Type    string `json:"type"` // info, warn, error, calibration, session
	Message string `json:"message"`
}

// =============================================================================
// Overlay → Daemon
// =============================================================================

// ViewportData reports the overlay surface size.
type ViewportData struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// PingData contains ping information
type PingData struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"ts"`
}

// PongData contains pong response
type PongData struct {
	ID        string `json:"id"`
	PingTS    int64  `json:"ping_ts"`
	PongTS    int64  `json:"pong_ts"`
	LatencyMs int64  `json:"latency_ms"`
}
