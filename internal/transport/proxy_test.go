package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// deadProxy points at a loopback port nothing listens on, so any probe
// through it is refused immediately.
func deadProxy() ProxyConfig {
	return ProxyConfig{Enabled: true, Address: "127.0.0.1:1", SafetySwitch: true}
}

func TestVerifySkippedWhenDisabled(t *testing.T) {
	assert.NoError(t, ProxyConfig{}.Verify(context.Background(), "example.com:80"))

	// Without the safety switch there is no pre-flight probe either.
	cfg := ProxyConfig{Enabled: true, Address: "127.0.0.1:1"}
	assert.NoError(t, cfg.Verify(context.Background(), "example.com:80"))
}

func TestSafetySwitchFailsClosed(t *testing.T) {
	tr := NewWebSocketTransport("127.0.0.1:9", deadProxy(), time.Second)

	err := tr.Connect(context.Background())
	var ce *ConnectError
	require.ErrorAs(t, err, &ce, "a dead proxy must refuse the connection outright")
	assert.Contains(t, err.Error(), "proxy verification")

	// The directory server was never dialed, so nothing is writable.
	var cle *ClosedError
	assert.ErrorAs(t, tr.SendFrame([]byte("x")), &cle)
}

func TestRakNetRefusesProxiedConnect(t *testing.T) {
	cfg := ProxyConfig{Enabled: true, Address: "127.0.0.1:1080"}
	tr := NewRakNetTransport("127.0.0.1:9", cfg, time.Second)

	err := tr.Connect(context.Background())
	var ce *ConnectError
	require.ErrorAs(t, err, &ce, "UDP has no proxy path and must fail closed")

	var cle *ClosedError
	assert.ErrorAs(t, tr.SendFrame([]byte{0x01}), &cle)
}
