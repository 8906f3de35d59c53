package web

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-gaze/internal/metrics"
	"github.com/teslashibe/go-gaze/pkg/calibration"
	"github.com/teslashibe/go-gaze/pkg/gaze"
	"github.com/teslashibe/go-gaze/pkg/protocol"
	"github.com/teslashibe/go-gaze/pkg/session"
	"github.com/teslashibe/go-gaze/pkg/store"
)

type fakeController struct {
	mu       sync.Mutex
	status   session.Status
	stopped  chan struct{}
	begun    []calibration.Point
	beginErr error
	acked    []calibration.Point
	ackErr   error
	current  *calibration.Point
	entries  []calibration.Entry
	viewport gaze.Viewport
}

func newFakeController(state session.State) *fakeController {
	return &fakeController{
		status:  session.Status{State: state, SessionID: "s1", PID: 42},
		stopped: make(chan struct{}),
	}
}

func (f *fakeController) Status() session.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeController) Stop(ctx context.Context) error {
	close(f.stopped)
	return nil
}

func (f *fakeController) BeginCalibration(points []calibration.Point, vp gaze.Viewport) (calibration.Target, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.beginErr != nil {
		return calibration.Target{}, f.beginErr
	}
	f.begun = points
	return calibration.Target{Index: 0, Total: len(points)}, nil
}

func (f *fakeController) Acknowledge(p calibration.Point) (calibration.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, p)
	return calibration.Entry{Seq: len(f.acked), TargetX: 100, TargetY: 80}, f.ackErr
}

func (f *fakeController) AcknowledgeCurrent() (calibration.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.current == nil {
		return calibration.Entry{}, session.ErrNotCalibrating
	}
	f.acked = append(f.acked, *f.current)
	return calibration.Entry{Seq: len(f.acked), TargetX: 100, TargetY: 80}, f.ackErr
}

func (f *fakeController) CalibrationLog() (string, []calibration.Entry) {
	return "s1", f.entries
}

func (f *fakeController) SetViewport(vp gaze.Viewport) {
	f.mu.Lock()
	f.viewport = vp
	f.mu.Unlock()
}

func newTestServer(ctrl Controller) *Server {
	s := NewServer(Config{Addr: "127.0.0.1:0"}, metrics.NewRegistry())
	if ctrl != nil {
		s.Attach(ctrl)
	}
	return s
}

func doRequest(t *testing.T, s *Server, method, target, body string) (*http.Response, []byte) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.App().Test(req, -1)
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func TestHealth(t *testing.T) {
	resp, body := doRequest(t, newTestServer(nil), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok","state":"idle"}`, string(body))

	resp, body = doRequest(t, newTestServer(newFakeController(session.StateActive)), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok","state":"active"}`, string(body))
}

func TestStatus(t *testing.T) {
	resp, _ := doRequest(t, newTestServer(nil), http.MethodGet, "/api/status", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, body := doRequest(t, newTestServer(newFakeController(session.StateActive)), http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var st session.Status
	require.NoError(t, json.Unmarshal(body, &st))
	assert.Equal(t, session.StateActive, st.State)
	assert.Equal(t, "s1", st.SessionID)
}

func TestAddLog_Ring(t *testing.T) {
	s := newTestServer(nil)
	for i := 0; i < maxLogs+10; i++ {
		s.AddLog("info", fmt.Sprintf("line %d", i))
	}

	logs := s.Logs()
	require.Len(t, logs, maxLogs)
	assert.Equal(t, "line 10", logs[0].Message)
	assert.Equal(t, fmt.Sprintf("line %d", maxLogs+9), logs[len(logs)-1].Message)

	resp, body := doRequest(t, s, http.MethodGet, "/api/logs", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got []protocol.LogData
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Len(t, got, maxLogs)
}

func TestViewport(t *testing.T) {
	ctrl := newFakeController(session.StateActive)
	s := newTestServer(ctrl)

	resp, _ := doRequest(t, s, http.MethodPost, "/api/viewport", `{"width":1280,"height":720}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, gaze.Viewport{Width: 1280, Height: 720}, ctrl.viewport)

	resp, _ = doRequest(t, s, http.MethodPost, "/api/viewport", `{"width":0,"height":720}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestBeginCalibration(t *testing.T) {
	ctrl := newFakeController(session.StateActive)
	s := newTestServer(ctrl)

	resp, body := doRequest(t, s, http.MethodPost, "/api/calibration/begin", `{"points":[[0.1,0.1],[0.9,0.9]]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Equal(t, []calibration.Point{{XRatio: 0.1, YRatio: 0.1}, {XRatio: 0.9, YRatio: 0.9}}, ctrl.begun)

	// No body: configured points.
	resp, _ = doRequest(t, s, http.MethodPost, "/api/calibration/begin", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Nil(t, ctrl.begun)

	resp, _ = doRequest(t, s, http.MethodPost, "/api/calibration/begin", `{"points":[[1.5,0]]}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	ctrl.beginErr = session.ErrNotActive
	resp, body = doRequest(t, s, http.MethodPost, "/api/calibration/begin", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, string(body), "no active session")
}

func TestAcknowledge(t *testing.T) {
	ctrl := newFakeController(session.StateCalibrating)
	ctrl.status.Calibration = &session.CalibrationStatus{
		Index:  0,
		Total:  2,
		Target: &protocol.Target{Index: 0, Total: 2, XRatio: 0.1, YRatio: 0.1, X: 100, Y: 80},
	}
	ctrl.current = &calibration.Point{XRatio: 0.1, YRatio: 0.1}
	s := newTestServer(ctrl)

	// Empty body acknowledges the current target.
	resp, body := doRequest(t, s, http.MethodPost, "/api/calibration/ack", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Equal(t, []calibration.Point{{XRatio: 0.1, YRatio: 0.1}}, ctrl.acked)
	assert.Contains(t, string(body), `"next"`)

	// A missing prediction still records the entry.
	ctrl.ackErr = &calibration.PredictionUnavailableError{Index: 1, Reason: "no estimate"}
	resp, body = doRequest(t, s, http.MethodPost, "/api/calibration/ack", `{"x_ratio":0.9,"y_ratio":0.9}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"warning"`)
	assert.Equal(t, calibration.Point{XRatio: 0.9, YRatio: 0.9}, ctrl.acked[1])

	ctrl.ackErr = calibration.ErrOutOfSequence
	resp, _ = doRequest(t, s, http.MethodPost, "/api/calibration/ack", `{"x_ratio":0.5,"y_ratio":0.5}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	ctrl.status.Calibration = nil
	ctrl.current = nil
	resp, _ = doRequest(t, s, http.MethodPost, "/api/calibration/ack", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAcknowledge_EmptyBodyUsesControllerTarget(t *testing.T) {
	ctrl := newFakeController(session.StateCalibrating)
	// The snapshot still shows point 0 while a blink has already moved
	// the run on to point 1.
	ctrl.status.Calibration = &session.CalibrationStatus{
		Index:  0,
		Total:  3,
		Target: &protocol.Target{Index: 0, Total: 3, XRatio: 0.1, YRatio: 0.1},
	}
	ctrl.current = &calibration.Point{XRatio: 0.5, YRatio: 0.1}
	s := newTestServer(ctrl)

	resp, body := doRequest(t, s, http.MethodPost, "/api/calibration/ack", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Equal(t, []calibration.Point{{XRatio: 0.5, YRatio: 0.1}}, ctrl.acked)
}

func TestCalibrationExports(t *testing.T) {
	d := 5.0
	gx, gy := 103.0, 84.0
	ctrl := newFakeController(session.StateActive)
	ctrl.entries = []calibration.Entry{
		{Seq: 1, Timestamp: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC), TargetX: 100, TargetY: 80, GazeX: &gx, GazeY: &gy, Distance: &d},
		{Seq: 2, Timestamp: time.Date(2025, 1, 2, 3, 4, 6, 0, time.UTC), TargetX: 900, TargetY: 720},
	}
	s := newTestServer(ctrl)

	resp, body := doRequest(t, s, http.MethodGet, "/api/calibration/log", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	var entries []calibration.Entry
	require.NoError(t, json.Unmarshal(body, &entries))
	assert.Len(t, entries, 2)

	resp, body = doRequest(t, s, http.MethodGet, "/api/calibration/log?format=csv", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "calibration-s1.csv")
	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "timestamp,target_x,target_y,gaze_x,gaze_y,distance", lines[0])
	assert.True(t, strings.HasSuffix(lines[2], ",,,"), "missing values are empty cells: %q", lines[2])

	resp, _ = doRequest(t, s, http.MethodGet, "/api/calibration/log?format=xml", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = doRequest(t, s, http.MethodGet, "/api/calibration/report", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	assert.Contains(t, string(body), "<html")

	resp, body = doRequest(t, s, http.MethodGet, "/api/calibration/summary", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var sum struct {
		SessionID string              `json:"session_id"`
		Summary   calibration.Summary `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(body, &sum))
	assert.Equal(t, "s1", sum.SessionID)
	assert.Equal(t, 2, sum.Summary.Count)
	assert.Equal(t, 1, sum.Summary.Missing)
	assert.InDelta(t, 5.0, sum.Summary.Mean, 1e-9)
}

func TestStop(t *testing.T) {
	ctrl := newFakeController(session.StateActive)
	s := newTestServer(ctrl)

	resp, _ := doRequest(t, s, http.MethodPost, "/api/session/stop", "")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	select {
	case <-ctrl.stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop not called")
	}

	idle := newFakeController(session.StateIdle)
	resp, _ = doRequest(t, newTestServer(idle), http.MethodPost, "/api/session/stop", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	resp, body := doRequest(t, newTestServer(nil), http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "gaze_consumers_active")
}

func TestSessions(t *testing.T) {
	s := newTestServer(nil)
	resp, _ := doRequest(t, s, http.MethodGet, "/api/sessions", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	db, err := store.Open(filepath.Join(t.TempDir(), "gaze.db"))
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()
	require.NoError(t, db.CreateSession(ctx, store.SessionRecord{ID: "abc", PID: 7, StartedAt: time.Unix(1700000000, 0)}))
	d := 3.0
	require.NoError(t, db.AppendEntry(ctx, "abc", calibration.Entry{Seq: 1, Timestamp: time.Unix(1700000001, 0), TargetX: 1, TargetY: 2, Distance: &d}))
	s.SetHistory(db)

	resp, body := doRequest(t, s, http.MethodGet, "/api/sessions", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var recs []store.SessionRecord
	require.NoError(t, json.Unmarshal(body, &recs))
	require.Len(t, recs, 1)
	assert.Equal(t, "abc", recs[0].ID)

	resp, body = doRequest(t, s, http.MethodGet, "/api/sessions/abc/log?format=csv", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, strings.Split(strings.TrimSpace(string(body)), "\n"), 2)

	resp, _ = doRequest(t, s, http.MethodGet, "/api/sessions/nope/log", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = doRequest(t, s, http.MethodGet, "/api/sessions?limit=x", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStatusWebSocket(t *testing.T) {
	s := newTestServer(nil)
	s.AddLog("session", "before connect")

	require.NoError(t, s.Listen())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)

	ws, _, err := websocket.DefaultDialer.Dial("ws://"+s.Addr()+"/ws/status", nil)
	require.NoError(t, err)
	defer ws.Close()

	readLog := func() protocol.LogData {
		t.Helper()
		ws.SetReadDeadline(time.Now().Add(time.Second))
		_, data, err := ws.ReadMessage()
		require.NoError(t, err)
		msg, err := protocol.ParseMessage(data)
		require.NoError(t, err)
		require.Equal(t, protocol.TypeLog, msg.Type)
		var entry protocol.LogData
		require.NoError(t, msg.ParseData(&entry))
		return entry
	}

	assert.Equal(t, "before connect", readLog().Message)

	time.Sleep(50 * time.Millisecond)
	s.AddLog("calibration", "after connect")
	assert.Equal(t, "after connect", readLog().Message)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}

	// The server can serve again for the next session.
	require.NoError(t, s.Listen())
	ctx2, cancel2 := context.WithCancel(context.Background())
	go s.Run(ctx2)
	defer cancel2()
	time.Sleep(50 * time.Millisecond)

	resp, err := http.Get("http://" + s.Addr() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
