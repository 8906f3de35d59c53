package transport

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-gaze/pkg/protocol"
)

// Producer is a client that sends gaze records to a Server, standing in
// for the browser tracker.
type Producer struct {
	url  string
	conn *websocket.Conn

	mu     sync.Mutex
	closed bool
}

// Dial connects a producer to url, e.g. "ws://127.0.0.1:8001/ws/gaze".
// Failure is a *ConnectionError.
func Dial(ctx context.Context, url string) (*Producer, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, &ConnectionError{Op: "dial", Addr: url, Err: err}
	}
	return &Producer{url: url, conn: conn}, nil
}

// Send writes one record as its own frame.
func (p *Producer) Send(r protocol.Record) error {
	data, err := r.Bytes()
	if err != nil {
		return err
	}
	return p.write(data)
}

// SendBatch writes records as one newline-separated frame.
func (p *Producer) SendBatch(records []protocol.Record) error {
	var buf bytes.Buffer
	for i, r := range records {
		data, err := r.Bytes()
		if err != nil {
			return err
		}
		if i > 0 {
			buf.WriteByte('\n')
		}
		buf.Write(data)
	}
	return p.write(buf.Bytes())
}

// SendError reports a tracker initialisation failure.
func (p *Producer) SendError(message string) error {
	return p.Send(protocol.Record{Error: message})
}

func (p *Producer) write(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return &ConnectionError{Op: "write", Addr: p.url, Err: websocket.ErrCloseSent}
	}
	p.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return &ConnectionError{Op: "write", Addr: p.url, Err: err}
	}
	return nil
}

// Close sends a normal close frame and closes the connection.
func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return p.conn.Close()
}

// Done returns a channel closed once the server closes the connection.
// It consumes incoming frames, so call it at most once.
func (p *Producer) Done() <-chan error {
	done := make(chan error, 1)
	go func() {
		for {
			if _, _, err := p.conn.ReadMessage(); err != nil {
				done <- err
				close(done)
				return
			}
		}
	}()
	return done
}
