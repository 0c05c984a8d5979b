package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/discoproj/disco/pkg/backoff"
	"github.com/discoproj/disco/pkg/types"
)

// DialTimeout bounds a single connection attempt.
const DialTimeout = 10 * time.Second

// Dialer opens mTLS connections to peers, caching live connections by
// address so repeated RPCs (heartbeats, KV calls) reuse one socket
// instead of handshaking every time.
type Dialer struct {
	tlsConfig *tls.Config
	policy    backoff.Policy

	mu    sync.Mutex
	conns map[types.RpcAddr]net.Conn
}

// NewDialer creates a Dialer that authenticates outgoing connections
// with cfg (see LoadClientTLS).
func NewDialer(cfg *tls.Config) *Dialer {
	return &Dialer{
		tlsConfig: cfg,
		policy:    backoff.TransportPolicy(),
		conns:     make(map[types.RpcAddr]net.Conn),
	}
}

// Dial returns a connection to addr, reusing a cached one whenever one
// exists (it is not checked; callers drop a bad one with Forget), and
// retrying fresh dials per pkg/backoff's transport policy on failure.
func (d *Dialer) Dial(ctx context.Context, addr types.RpcAddr) (net.Conn, error) {
	d.mu.Lock()
	if conn, ok := d.conns[addr]; ok {
		d.mu.Unlock()
		return conn, nil
	}
	d.mu.Unlock()

	var lastErr error
	for attempt := 0; !d.policy.Done(attempt); attempt++ {
		dialer := &net.Dialer{Timeout: DialTimeout}
		conn, err := tls.DialWithDialer(dialer, "tcp", string(addr), d.tlsConfig)
		if err == nil {
			d.mu.Lock()
			d.conns[addr] = conn
			d.mu.Unlock()
			return conn, nil
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(d.policy.Duration(attempt)):
		}
	}
	return nil, fmt.Errorf("transport: dial %s: %w", addr, lastErr)
}

// Forget drops a cached connection, e.g. after the caller observes an
// RPC error on it.
func (d *Dialer) Forget(addr types.RpcAddr) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if conn, ok := d.conns[addr]; ok {
		conn.Close()
		delete(d.conns, addr)
	}
}

// Close tears down every cached connection.
func (d *Dialer) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for addr, conn := range d.conns {
		conn.Close()
		delete(d.conns, addr)
	}
	return nil
}
