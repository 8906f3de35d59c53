package protocol

import "github.com/teslashibe/go-gaze/pkg/trail"

// =============================================================================
// Helper functions for creating messages
// =============================================================================

// NewFrameMessage creates an overlay frame message
func NewFrameMessage(frame Frame) (*Message, error) {
	if frame.Trail == nil {
		frame.Trail = []trail.Dot{}
	}
	return NewMessage(TypeFrame, frame)
}

// NewStatusMessage creates a session status message
func NewStatusMessage(sessionID, state, reason string) (*Message, error) {
	return NewMessage(TypeStatus, StatusData{
		SessionID: sessionID,
		State:     state,
		Reason:    reason,
	})
}

// NewCalibrationMessage creates a calibration progress message
func NewCalibrationMessage(target *Target, finished bool) (*Message, error) {
	return NewMessage(TypeCalibration, CalibrationData{
		Target:   target,
		Finished: finished,
	})
}

// NewLogMessage wraps a status log line
func NewLogMessage(entry LogData) (*Message, error) {
	return NewMessage(TypeLog, entry)
}

// NewViewportMessage creates a viewport report
func NewViewportMessage(width, height float64) (*Message, error) {
	return NewMessage(TypeViewport, ViewportData{Width: width, Height: height})
}

// NewPingMessage creates a ping message
func NewPingMessage(id string) (*Message, error) {
	return NewMessage(TypePing, PingData{ID: id})
}

// NewPongMessage creates a pong response message
func NewPongMessage(id string, pingTS, pongTS int64) (*Message, error) {
	return NewMessage(TypePong, PongData{
		ID:        id,
		PingTS:    pingTS,
		PongTS:    pongTS,
		LatencyMs: pongTS - pingTS,
	})
}

// =============================================================================
// Helper functions for parsing messages
// =============================================================================

// GetFrame extracts an overlay frame from a message
func (m *Message) GetFrame() (*Frame, error) {
	var data Frame
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetStatusData extracts status data from a message
func (m *Message) GetStatusData() (*StatusData, error) {
	var data StatusData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetCalibrationData extracts calibration progress from a message
func (m *Message) GetCalibrationData() (*CalibrationData, error) {
	var data CalibrationData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetViewportData extracts viewport data from a message
func (m *Message) GetViewportData() (*ViewportData, error) {
	var data ViewportData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetPingData extracts ping data from a message
func (m *Message) GetPingData() (*PingData, error) {
	var data PingData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetPongData extracts pong data from a message
func (m *Message) GetPongData() (*PongData, error) {
	var data PongData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}
