package protocol

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/teslashibe/go-gaze/pkg/trail"
)

func TestNewMessage(t *testing.T) {
	tests := []struct {
		name    string
		msgType MessageType
		data    interface{}
		wantErr bool
	}{
		{
			name:    "frame message",
			msgType: TypeFrame,
			data:    Frame{SessionID: "abc", State: "active"},
			wantErr: false,
		},
		{
			name:    "status message",
			msgType: TypeStatus,
			data:    StatusData{State: "idle", Reason: "channel closed"},
			wantErr: false,
		},
		{
			name:    "nil data",
			msgType: TypePing,
			data:    nil,
			wantErr: false,
		},
		{
			name:    "unmarshalable data",
			msgType: TypeLog,
			data:    make(chan int),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := NewMessage(tt.msgType, tt.data)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewMessage() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if tt.wantErr {
				return
			}
			if msg.Type != tt.msgType {
				t.Errorf("NewMessage() type = %v, want %v", msg.Type, tt.msgType)
			}
			if msg.Timestamp == 0 {
				t.Error("NewMessage() timestamp should be set")
			}
		})
	}
}

func TestFrameMessage(t *testing.T) {
	frame := Frame{
		SessionID: "s1",
		State:     "calibrating",
		Cursor:    &Point{X: 640, Y: 360},
		Trail:     []trail.Dot{{X: 1, Y: 2, Alpha: 0.5}},
		Target:    &Target{Index: 2, Total: 9, XRatio: 0.9, YRatio: 0.1, X: 1152, Y: 72},
	}

	msg, err := NewFrameMessage(frame)
	if err != nil {
		t.Fatalf("NewFrameMessage() error = %v", err)
	}

	data, err := msg.Bytes()
	if err != nil {
		t.Fatalf("Bytes() error = %v", err)
	}

	parsed, err := ParseMessage(data)
	if err != nil {
		t.Fatalf("ParseMessage() error = %v", err)
	}
	if parsed.Type != TypeFrame {
		t.Errorf("Type = %v, want %v", parsed.Type, TypeFrame)
	}

	got, err := parsed.GetFrame()
	if err != nil {
		t.Fatalf("GetFrame() error = %v", err)
	}
	if got.Cursor == nil || got.Cursor.X != 640 {
		t.Errorf("Cursor = %+v, want x=640", got.Cursor)
	}
	if len(got.Trail) != 1 || got.Trail[0].Alpha != 0.5 {
		t.Errorf("Trail = %+v", got.Trail)
	}
	if got.Target == nil || got.Target.Index != 2 {
		t.Errorf("Target = %+v, want index 2", got.Target)
	}
}

func TestFrameMessage_EmptyTrailIsArray(t *testing.T) {
	msg, err := NewFrameMessage(Frame{State: "active"})
	if err != nil {
		t.Fatalf("NewFrameMessage() error = %v", err)
	}
	if !strings.Contains(string(msg.Data), `"trail":[]`) {
		t.Errorf("empty trail should encode as [], got %s", msg.Data)
	}
}

func TestParseMessage_Invalid(t *testing.T) {
	if _, err := ParseMessage([]byte("not json")); err == nil {
		t.Error("expected error for invalid JSON")
	}
	if _, err := ParseMessage([]byte(`{"data":{}}`)); err == nil {
		t.Error("expected error for missing type")
	}
}

func TestViewportMessage(t *testing.T) {
	msg, err := NewViewportMessage(1920, 1080)
	if err != nil {
		t.Fatalf("NewViewportMessage() error = %v", err)
	}
	vp, err := msg.GetViewportData()
	if err != nil {
		t.Fatalf("GetViewportData() error = %v", err)
	}
	if vp.Width != 1920 || vp.Height != 1080 {
		t.Errorf("viewport = %+v", vp)
	}
}

func TestCalibrationMessage(t *testing.T) {
	msg, err := NewCalibrationMessage(nil, true)
	if err != nil {
		t.Fatalf("NewCalibrationMessage() error = %v", err)
	}
	data, err := msg.GetCalibrationData()
	if err != nil {
		t.Fatalf("GetCalibrationData() error = %v", err)
	}
	if !data.Finished || data.Target != nil {
		t.Errorf("calibration data = %+v", data)
	}
}

func TestPingPongMessage(t *testing.T) {
	pingMsg, err := NewPingMessage("test-123")
	if err != nil {
		t.Fatalf("NewPingMessage() error = %v", err)
	}

	pingData, err := pingMsg.GetPingData()
	if err != nil {
		t.Fatalf("GetPingData() error = %v", err)
	}
	if pingData.ID != "test-123" {
		t.Errorf("ID = %v, want test-123", pingData.ID)
	}

	now := time.Now().UnixMilli()
	pongMsg, err := NewPongMessage("test-123", pingMsg.Timestamp, now)
	if err != nil {
		t.Fatalf("NewPongMessage() error = %v", err)
	}
	pongData, err := pongMsg.GetPongData()
	if err != nil {
		t.Fatalf("GetPongData() error = %v", err)
	}
	if pongData.LatencyMs < 0 {
		t.Errorf("LatencyMs = %v, should be >= 0", pongData.LatencyMs)
	}
}

func TestParseRecords(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		wantRecords int
		wantErrs    int
	}{
		{"single", `{"x": 100, "y": 200}`, 1, 0},
		{"with blink", `{"x": 1, "y": 2, "blink": true}`, 1, 0},
		{"newline batch", "{\"x\":1,\"y\":2}\n{\"x\":3,\"y\":4}\n", 2, 0},
		{"blank lines", "\n\n{\"x\":1,\"y\":2}\n\n", 1, 0},
		{"missing y", `{"x": 1}`, 0, 1},
		{"bad json", `{"x": `, 0, 1},
		{"error record", `{"error": "webgazer failed to start"}`, 1, 0},
		{"mixed", "{\"x\":1,\"y\":2}\n{\"y\":4}\n{\"x\":5,\"y\":6}", 2, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records, errs := ParseRecords([]byte(tt.input))
			if len(records) != tt.wantRecords {
				t.Errorf("records = %d, want %d", len(records), tt.wantRecords)
			}
			if len(errs) != tt.wantErrs {
				t.Errorf("errors = %d (%v), want %d", len(errs), errs, tt.wantErrs)
			}
		})
	}
}

func TestParseRecords_PreservesOrder(t *testing.T) {
	records, _ := ParseRecords([]byte("{\"x\":1,\"y\":0}\n{\"x\":2,\"y\":0}\n{\"x\":3,\"y\":0}"))
	for i, r := range records {
		if *r.X != float64(i+1) {
			t.Errorf("record %d x = %v, want %d", i, *r.X, i+1)
		}
	}
}

func TestParseRecords_ErrorUnwraps(t *testing.T) {
	_, errs := ParseRecords([]byte(`{"x": 5}`))
	if len(errs) != 1 {
		t.Fatalf("errs = %v", errs)
	}
	if !errors.Is(errs[0], ErrMissingCoordinate) {
		t.Errorf("err = %v, want ErrMissingCoordinate", errs[0])
	}
	var recErr *RecordError
	if !errors.As(errs[0], &recErr) || recErr.Line != 0 {
		t.Errorf("expected RecordError for line 0, got %v", errs[0])
	}
}

func TestRecordSample(t *testing.T) {
	ms := int64(1700000000123)
	r := NewRecord(10, 20).WithBlink(true)
	r.T = &ms

	now := time.Now()
	s := r.Sample(now)
	if s.X != 10 || s.Y != 20 || !s.Blink {
		t.Errorf("sample = %+v", s)
	}
	if !s.Timestamp.Equal(now) {
		t.Error("sample timestamp should be the receive time")
	}
	if s.SourceTime.UnixMilli() != ms {
		t.Errorf("SourceTime = %v, want %d ms", s.SourceTime, ms)
	}
}

func TestRecordBytes(t *testing.T) {
	data, err := NewRecord(1.5, 2.5).Bytes()
	if err != nil {
		t.Fatalf("Bytes() error = %v", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatal(err)
	}
	if len(m) != 2 || m["x"] != 1.5 || m["y"] != 2.5 {
		t.Errorf("encoded record = %s, want flat {x,y}", data)
	}
}
