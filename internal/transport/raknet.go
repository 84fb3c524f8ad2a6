package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	udpConnectTimeout = 10 * time.Second
	udpWriteTimeout   = 5 * time.Second
	udpBufSize        = 4096
)

// RakNetTransport is the UDP datagram transport for the BZCC directory
// server. Incoming datagrams pass through the Assembler, which rebuilds
// complete application messages from the length/sequence framing.
//
// SOCKS5 has no usable UDP relay in this stack, so a configured proxy is
// a hard refusal: monitoring BZCC through a proxy would otherwise leak
// the real IP on every datagram.
type RakNetTransport struct {
	addr        string
	proxyCfg    ProxyConfig
	readTimeout time.Duration
	logger      zerolog.Logger

	mu     sync.Mutex
	conn   *net.UDPConn
	closed bool

	asm   *Assembler
	ready [][]byte // complete messages not yet handed to the caller
}

// NewRakNetTransport creates a transport for the given host:port.
func NewRakNetTransport(addr string, proxyCfg ProxyConfig, readTimeout time.Duration) *RakNetTransport {
	return &RakNetTransport{
		addr:        addr,
		proxyCfg:    proxyCfg,
		readTimeout: readTimeout,
		logger:      log.With().Str("component", "raknet_transport").Str("addr", addr).Logger(),
		asm:         NewAssembler(0),
	}
}

// Connect opens a connected UDP socket to the directory server.
func (t *RakNetTransport) Connect(ctx context.Context) error {
	if t.proxyCfg.Enabled {
		// Fail closed: never fall back to a direct UDP socket.
		return &ConnectError{Addr: t.addr, Err: fmt.Errorf("UDP transport cannot be routed through a SOCKS5 proxy")}
	}

	d := net.Dialer{Timeout: udpConnectTimeout}
	conn, err := d.DialContext(ctx, "udp4", t.addr)
	if err != nil {
		return &ConnectError{Addr: t.addr, Err: err}
	}

	t.mu.Lock()
	t.conn = conn.(*net.UDPConn)
	t.closed = false
	t.asm = NewAssembler(0)
	t.ready = nil
	t.mu.Unlock()

	t.logger.Info().Msg("UDP socket opened")
	return nil
}

// SendFrame writes one datagram. Outgoing traffic is ping probes only,
// which always fit a single datagram, so no outbound framing is applied.
func (t *RakNetTransport) SendFrame(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed || t.conn == nil {
		return &ClosedError{}
	}

	t.conn.SetWriteDeadline(time.Now().Add(udpWriteTimeout))
	if _, err := t.conn.Write(data); err != nil {
		return classifyNetErr(err, "write", udpWriteTimeout)
	}
	return nil
}

// ReceiveFrame blocks until the assembler releases a complete application
// message. Malformed datagrams are logged and dropped without surfacing.
func (t *RakNetTransport) ReceiveFrame() ([]byte, error) {
	for {
		t.mu.Lock()
		if len(t.ready) > 0 {
			msg := t.ready[0]
			t.ready = t.ready[1:]
			t.mu.Unlock()
			return msg, nil
		}
		conn := t.conn
		closed := t.closed
		t.mu.Unlock()

		if closed || conn == nil {
			return nil, &ClosedError{}
		}

		buf := make([]byte, udpBufSize)
		conn.SetReadDeadline(time.Now().Add(t.readTimeout))
		n, err := conn.Read(buf)
		if err != nil {
			return nil, classifyNetErr(err, "read", t.readTimeout)
		}

		msgs, err := t.asm.Ingest(buf[:n], time.Now())
		if err != nil {
			t.logger.Debug().Err(err).Int("len", n).Msg("dropped malformed datagram")
			continue
		}
		if len(msgs) == 0 {
			continue
		}

		t.mu.Lock()
		t.ready = append(t.ready, msgs[1:]...)
		t.mu.Unlock()
		return msgs[0], nil
	}
}

// Close shuts the socket down; a blocked ReceiveFrame fails promptly.
func (t *RakNetTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true

	if t.conn != nil {
		err := t.conn.Close()
		t.conn = nil
		t.logger.Info().Msg("closed")
		return err
	}
	return nil
}

// RemoteAddr returns the configured server address.
func (t *RakNetTransport) RemoteAddr() string { return t.addr }
