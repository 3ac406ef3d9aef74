package session

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wardenpanel/warden/internal/protocol"
)

const (
	dialTimeout  = 10 * time.Second
	readTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
)

// wsTransport adapts a gorilla websocket connection to the Transport
// interface. The control plane is the pinger; inbound pings extend the read
// deadline so a healthy but quiet channel is not torn down, and are answered
// with a pong.
type wsTransport struct {
	conn *websocket.Conn

	mu        sync.Mutex
	heartbeat func()
}

func newWSTransport(conn *websocket.Conn) *wsTransport {
	t := &wsTransport{conn: conn}
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPingHandler(func(message string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		t.notifyHeartbeat()
		return conn.WriteControl(websocket.PongMessage, []byte(message), time.Now().Add(writeTimeout))
	})
	conn.SetPongHandler(func(string) error {
		t.notifyHeartbeat()
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})
	return t
}

// setHeartbeat registers a callback invoked on every ping or pong, feeding the
// session's last-seen tracking.
func (t *wsTransport) setHeartbeat(fn func()) {
	t.mu.Lock()
	t.heartbeat = fn
	t.mu.Unlock()
}

func (t *wsTransport) notifyHeartbeat() {
	t.mu.Lock()
	fn := t.heartbeat
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (t *wsTransport) ReadFrame() (protocol.Frame, error) {
	_, data, err := t.conn.ReadMessage()
	if err != nil {
		return protocol.Frame{}, err
	}
	_ = t.conn.SetReadDeadline(time.Now().Add(readTimeout))
	return protocol.Decode(data)
}

func (t *wsTransport) WriteFrame(frame protocol.Frame) error {
	_ = t.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return t.conn.WriteJSON(frame)
}

func (t *wsTransport) Close() error {
	return t.conn.Close()
}

// NewDialer returns a Dialer for the control plane's realtime endpoint,
// attaching the bearer credential at upgrade time. HTTP 401/403 responses map
// to ErrUnauthorized; everything else is transient.
func NewDialer(endpoint, token string) Dialer {
	return func(ctx context.Context) (Transport, error) {
		dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
		header := http.Header{}
		if strings.TrimSpace(token) != "" {
			header.Set("Authorization", "Bearer "+strings.TrimSpace(token))
		}
		conn, resp, err := dialer.DialContext(ctx, endpoint, header)
		if err != nil {
			if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
				return nil, fmt.Errorf("%w: status %d", ErrUnauthorized, resp.StatusCode)
			}
			return nil, fmt.Errorf("dial %s: %w", endpoint, err)
		}
		return newWSTransport(conn), nil
	}
}
