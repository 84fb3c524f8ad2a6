package transport

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	wsConnectTimeout = 30 * time.Second
	wsWriteTimeout   = 10 * time.Second
)

// WebSocketTransport connects to the BZ98R directory server. The server
// speaks JSON text frames, so the WebSocket message boundary is the frame
// boundary and no additional framing is needed.
type WebSocketTransport struct {
	addr        string
	proxyCfg    ProxyConfig
	readTimeout time.Duration
	logger      zerolog.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

// NewWebSocketTransport creates a transport for ws://addr. readTimeout
// bounds each ReceiveFrame call; the session treats the resulting
// TimeoutError as a missed-heartbeat signal.
func NewWebSocketTransport(addr string, proxyCfg ProxyConfig, readTimeout time.Duration) *WebSocketTransport {
	return &WebSocketTransport{
		addr:        addr,
		proxyCfg:    proxyCfg,
		readTimeout: readTimeout,
		logger:      log.With().Str("component", "ws_transport").Str("addr", addr).Logger(),
	}
}

// Connect dials the directory server, routing through the proxy when
// configured. The safety switch is verified before any dial so a broken
// proxy never falls back to a direct connection.
func (t *WebSocketTransport) Connect(ctx context.Context) error {
	if err := t.proxyCfg.Verify(ctx, t.addr); err != nil {
		return &ConnectError{Addr: t.addr, Err: err}
	}

	dial, err := t.proxyCfg.dialer(wsConnectTimeout)
	if err != nil {
		return &ConnectError{Addr: t.addr, Err: err}
	}

	u := url.URL{Scheme: "ws", Host: t.addr}
	dialer := websocket.Dialer{
		NetDialContext:   dial,
		HandshakeTimeout: wsConnectTimeout,
	}

	t.logger.Info().Bool("proxied", t.proxyCfg.Enabled).Msg("connecting to directory server")

	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return &ConnectError{Addr: t.addr, Err: err}
	}

	t.mu.Lock()
	t.conn = conn
	t.closed = false
	t.mu.Unlock()

	t.logger.Info().Msg("connected")
	return nil
}

// SendFrame writes one JSON text frame. Writes are serialized so intents
// queued from the session never interleave on the wire.
func (t *WebSocketTransport) SendFrame(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed || t.conn == nil {
		return &ClosedError{}
	}

	t.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return classifyNetErr(err, "write", wsWriteTimeout)
	}
	return nil
}

// ReceiveFrame blocks for the next server frame, up to the read timeout.
func (t *WebSocketTransport) ReceiveFrame() ([]byte, error) {
	t.mu.Lock()
	conn := t.conn
	closed := t.closed
	t.mu.Unlock()

	if closed || conn == nil {
		return nil, &ClosedError{}
	}

	conn.SetReadDeadline(time.Now().Add(t.readTimeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return nil, &ClosedError{Err: fmt.Errorf("server closed connection: %w", err)}
		}
		return nil, classifyNetErr(err, "read", t.readTimeout)
	}
	return data, nil
}

// Close shuts the connection down. Any blocked ReceiveFrame returns with
// a ClosedError.
func (t *WebSocketTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true

	if t.conn != nil {
		// Best-effort close frame; the server tolerates abrupt closes.
		t.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err := t.conn.Close()
		t.conn = nil
		t.logger.Info().Msg("closed")
		return err
	}
	return nil
}

// RemoteAddr returns the configured server address.
func (t *WebSocketTransport) RemoteAddr() string { return t.addr }
