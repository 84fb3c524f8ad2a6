package transport

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/net/proxy"
)

const proxyProbeTimeout = 10 * time.Second

// ProxyConfig routes lobby connections through a SOCKS5 proxy. When
// SafetySwitch is set the transport refuses to connect at all unless a
// pre-flight probe through the proxy succeeds, so a dead or misconfigured
// proxy can never cause a direct connection that leaks the real IP.
type ProxyConfig struct {
	Enabled      bool   `json:"enabled"`
	Address      string `json:"address"` // host:port of the SOCKS5 proxy
	Username     string `json:"username"`
	Password     string `json:"password"`
	SafetySwitch bool   `json:"safety_switch"`
}

// dialContextFunc matches net.Dialer.DialContext.
type dialContextFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// dialer returns the DialContext to use for TCP-based transports. With no
// proxy configured it falls through to a plain net.Dialer.
func (p ProxyConfig) dialer(connectTimeout time.Duration) (dialContextFunc, error) {
	if !p.Enabled {
		d := &net.Dialer{Timeout: connectTimeout}
		return d.DialContext, nil
	}

	var auth *proxy.Auth
	if p.Username != "" {
		auth = &proxy.Auth{User: p.Username, Password: p.Password}
	}

	socks, err := proxy.SOCKS5("tcp", p.Address, auth, &net.Dialer{Timeout: connectTimeout})
	if err != nil {
		return nil, fmt.Errorf("failed to build SOCKS5 dialer for %s: %w", p.Address, err)
	}

	cd, ok := socks.(proxy.ContextDialer)
	if !ok {
		// proxy.SOCKS5 always returns a ContextDialer today; guard anyway.
		return func(ctx context.Context, network, addr string) (net.Conn, error) {
			return socks.Dial(network, addr)
		}, nil
	}
	return cd.DialContext, nil
}

// Verify runs the safety-switch pre-flight probe: a TCP dial to target
// routed through the proxy. It returns nil when the proxy is usable or
// the safety switch is disabled.
func (p ProxyConfig) Verify(ctx context.Context, target string) error {
	if !p.Enabled || !p.SafetySwitch {
		return nil
	}

	dial, err := p.dialer(proxyProbeTimeout)
	if err != nil {
		return fmt.Errorf("proxy verification failed: %w", err)
	}

	probeCtx, cancel := context.WithTimeout(ctx, proxyProbeTimeout)
	defer cancel()

	conn, err := dial(probeCtx, "tcp", target)
	if err != nil {
		return fmt.Errorf("proxy verification probe to %s failed: %w", target, err)
	}
	conn.Close()

	log.Debug().Str("proxy", p.Address).Str("target", target).Msg("proxy verification probe passed")
	return nil
}
