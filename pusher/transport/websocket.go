package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/kleeedolinux/pusher.go/debug"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	protocolVersion = 7
	clientName      = "pusher.go"
	clientVersion   = "0.1.0"
)

// FrameTransport moves raw frames between the client and the server.
type FrameTransport interface {
	Connect(ctx context.Context) error
	Send(data []byte) error
	Receive() ([]byte, error)
	Close() error
}

// WebSocketTransport is a FrameTransport over one gorilla connection. A read
// or write failure drops the connection; the next Connect dials again.
type WebSocketTransport struct {
	mu      sync.Mutex
	writeMu sync.Mutex
	conn    *websocket.Conn

	url          string
	dialer       websocket.Dialer
	headers      http.Header
	readTimeout  time.Duration
	writeTimeout time.Duration
	compression  bool
}

type WebSocketOption func(*WebSocketTransport)

func WithHeaders(headers http.Header) WebSocketOption {
	return func(t *WebSocketTransport) {
		t.headers = headers
	}
}

func WithReadTimeout(timeout time.Duration) WebSocketOption {
	return func(t *WebSocketTransport) {
		t.readTimeout = timeout
	}
}

func WithWriteTimeout(timeout time.Duration) WebSocketOption {
	return func(t *WebSocketTransport) {
		t.writeTimeout = timeout
	}
}

func WithCompression(enabled bool) WebSocketOption {
	return func(t *WebSocketTransport) {
		t.compression = enabled
	}
}

// AppURL builds the websocket endpoint for appKey on host.
func AppURL(host, appKey string, secure bool) string {
	scheme := "ws"
	if secure {
		scheme = "wss"
	}

	query := url.Values{}
	query.Set("protocol", fmt.Sprint(protocolVersion))
	query.Set("client", clientName)
	query.Set("version", clientVersion)

	u := url.URL{
		Scheme:   scheme,
		Host:     host,
		Path:     "/app/" + url.PathEscape(appKey),
		RawQuery: query.Encode(),
	}
	return u.String()
}

func NewWebSocketTransport(url string, opts ...WebSocketOption) *WebSocketTransport {
	t := &WebSocketTransport{
		url:          url,
		dialer:       *websocket.DefaultDialer,
		headers:      make(http.Header),
		writeTimeout: 10 * time.Second,
	}

	for _, opt := range opts {
		opt(t)
	}

	t.dialer.HandshakeTimeout = 10 * time.Second
	t.dialer.EnableCompression = t.compression

	return t
}

func (t *WebSocketTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil {
		return nil
	}

	log := debug.Named("websocket")
	conn, resp, err := t.dialer.DialContext(ctx, t.url, t.headers)
	if err != nil {
		fields := []zap.Field{zap.String("url", t.url), zap.Error(err)}
		if resp != nil {
			fields = append(fields, zap.Int("status", resp.StatusCode))
		}
		log.Debug("dial failed", fields...)
		return err
	}

	log.Debug("dialed", zap.String("url", t.url))
	t.conn = conn
	return nil
}

// current returns the live connection, or ErrNotConnected.
func (t *WebSocketTransport) current() (*websocket.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return nil, ErrNotConnected
	}
	return t.conn, nil
}

// drop forgets conn after a failed read or write, unless it was already
// replaced or closed.
func (t *WebSocketTransport) drop(conn *websocket.Conn, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != conn {
		return
	}
	t.conn = nil
	conn.Close()

	debug.Named("websocket").Debug("connection dropped", zap.Error(err))
}

func (t *WebSocketTransport) Send(data []byte) error {
	conn, err := t.current()
	if err != nil {
		return err
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if t.writeTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(t.writeTimeout)); err != nil {
			t.drop(conn, err)
			return err
		}
	}

	debug.Printf("WebSocketTransport: > %s", data)
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.drop(conn, err)
		return err
	}
	return nil
}

func (t *WebSocketTransport) Receive() ([]byte, error) {
	conn, err := t.current()
	if err != nil {
		return nil, err
	}

	if t.readTimeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(t.readTimeout)); err != nil {
			t.drop(conn, err)
			return nil, err
		}
	}

	_, message, err := conn.ReadMessage()
	if err != nil {
		t.drop(conn, err)
		return nil, err
	}

	debug.Printf("WebSocketTransport: < %s", message)
	return message, nil
}

// Close sends a normal close frame and closes the connection.
func (t *WebSocketTransport) Close() error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()

	if conn == nil {
		return nil
	}

	deadline := time.Now().Add(time.Second)
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
		debug.Printf("WebSocketTransport: close frame not sent: %v", err)
	}

	return conn.Close()
}
