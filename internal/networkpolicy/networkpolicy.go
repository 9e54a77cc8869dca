// Package networkpolicy enforces a capability profile's network grant
// against outbound connection attempts made from inside a guest. A real
// microVM backend enforces NONE/HTTPS_ONLY/ALL at the hypervisor's network
// namespace; this package gives the in-process stub driver (and any future
// userspace-proxied backend) the same guarantee without one.
package networkpolicy

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/oriys/capsule/internal/profile"
)

// Target describes one outbound connection attempt.
type Target struct {
	Network string // "tcp", "udp", ...
	Host    string
	Scheme  string // "http", "https", "" if not HTTP traffic
}

// Enforce returns an error if policy does not permit target.
func Enforce(policy profile.NetPolicy, target Target) error {
	switch policy {
	case profile.NetAll:
		return nil
	case profile.NetHTTPSOnly:
		if target.Scheme != "" && target.Scheme != "https" {
			return fmt.Errorf("network policy %s: scheme %q is not https", policy, target.Scheme)
		}
		return nil
	case profile.NetNone, "":
		return fmt.Errorf("network policy %s: all egress is denied (attempted %s to %s)", policy, target.Network, target.Host)
	default:
		return fmt.Errorf("unknown network policy %q", policy)
	}
}

// NewHTTPClient returns an http.Client whose transport enforces policy on
// every dial, so a handler using it cannot bypass the profile's network
// grant. A plain http.Transport's DialContext alone can't tell an http://
// dial from an https:// one — it only ever sees a host:port — so the TLS
// handshake is pulled out of the transport's control and driven here via
// DialTLSContext, which net/http only calls for https:// requests; a dial
// that lands in the plain DialContext is therefore conclusively http.
func NewHTTPClient(policy profile.NetPolicy) *http.Client {
	dialer := &net.Dialer{}
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, _, _ := net.SplitHostPort(addr)
			if err := Enforce(policy, Target{Network: network, Host: host, Scheme: "http"}); err != nil {
				return nil, err
			}
			return dialer.DialContext(ctx, network, addr)
		},
		DialTLSContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, _, _ := net.SplitHostPort(addr)
			if err := Enforce(policy, Target{Network: network, Host: host, Scheme: "https"}); err != nil {
				return nil, err
			}
			conn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			cfg := tlsConfig.Clone()
			cfg.ServerName = host
			tlsConn := tls.Client(conn, cfg)
			if err := tlsConn.HandshakeContext(ctx); err != nil {
				conn.Close()
				return nil, err
			}
			return tlsConn, nil
		},
	}
	return &http.Client{Transport: transport, Timeout: 30 * time.Second}
}
