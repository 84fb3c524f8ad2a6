// Package transport implements the connection layer beneath the lobby
// protocol codecs: a WebSocket transport for the BZ98R directory server and
// a UDP datagram transport with RakNet-style framing for BZCC. Both expose
// the same frame-oriented contract so the session layer is protocol-agnostic.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// Transport is a frame-oriented connection to a lobby server. A transport
// handle is owned exclusively by one session; implementations serialize
// writes internally but assume a single reader.
type Transport interface {
	// Connect establishes the connection. Returns a *ConnectError on
	// failure, including proxy safety-switch refusals.
	Connect(ctx context.Context) error

	// SendFrame writes one complete application frame.
	SendFrame(data []byte) error

	// ReceiveFrame blocks until a complete application frame arrives.
	// Returns *TimeoutError when the read deadline passes with no traffic
	// and *ClosedError when the transport is closed locally or remotely.
	ReceiveFrame() ([]byte, error)

	// Close tears the connection down. Safe to call more than once; any
	// in-flight ReceiveFrame fails promptly with a *ClosedError.
	Close() error

	// RemoteAddr returns the configured server address.
	RemoteAddr() string
}

// ConnectError indicates the transport could not be established: address
// unreachable, handshake failure, or proxy verification refused.
type ConnectError struct {
	Addr string
	Err  error
}

// Error implements the error interface.
func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect to %s failed: %v", e.Addr, e.Err)
}

// Unwrap returns the underlying cause.
func (e *ConnectError) Unwrap() error { return e.Err }

// ClosedError indicates the transport was closed, locally or by the peer.
type ClosedError struct {
	Err error
}

// Error implements the error interface.
func (e *ClosedError) Error() string {
	if e.Err == nil {
		return "transport closed"
	}
	return fmt.Sprintf("transport closed: %v", e.Err)
}

// Unwrap returns the underlying cause.
func (e *ClosedError) Unwrap() error { return e.Err }

// TimeoutError indicates a read deadline elapsed with no complete frame.
// Non-fatal: the session uses it to drive heartbeat/degraded checks.
type TimeoutError struct {
	Op    string
	After time.Duration
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Op, e.After)
}

// Timeout marks this as a timeout for net.Error-style checks.
func (e *TimeoutError) Timeout() bool { return true }

// IsTimeout reports whether err is a transport read timeout.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// IsClosed reports whether err indicates a closed transport.
func IsClosed(err error) bool {
	var ce *ClosedError
	return errors.As(err, &ce)
}

// classifyNetErr maps a raw network error into the transport taxonomy.
func classifyNetErr(err error, op string, timeout time.Duration) error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &TimeoutError{Op: op, After: timeout}
	}
	return &ClosedError{Err: err}
}
