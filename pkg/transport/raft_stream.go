package transport

import (
	"crypto/tls"
	"net"
	"time"

	"github.com/hashicorp/raft"
)

// StreamLayer implements raft.StreamLayer over mTLS, so hashicorp/raft's
// own TCP transport carries out its AppendEntries/RequestVote/
// InstallSnapshot RPCs through the same certificates as every other
// Disco connection, rather than the plaintext raft.NewTCPTransport the
// teacher uses.
type StreamLayer struct {
	listener  net.Listener
	serverTLS *tls.Config
	clientTLS *tls.Config
}

// NewStreamLayer wraps an already-bound TCP listener with TLS for
// accepting raft peer connections, and holds the client-side config for
// dialing out.
func NewStreamLayer(ln net.Listener, serverTLS, clientTLS *tls.Config) *StreamLayer {
	return &StreamLayer{
		listener:  tls.NewListener(ln, serverTLS),
		serverTLS: serverTLS,
		clientTLS: clientTLS,
	}
}

// Dial implements raft.StreamLayer.
func (s *StreamLayer) Dial(address raft.ServerAddress, timeout time.Duration) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: timeout}
	return tls.DialWithDialer(dialer, "tcp", string(address), s.clientTLS)
}

// Accept implements net.Listener.
func (s *StreamLayer) Accept() (net.Conn, error) { return s.listener.Accept() }

// Close implements net.Listener.
func (s *StreamLayer) Close() error { return s.listener.Close() }

// Addr implements net.Listener.
func (s *StreamLayer) Addr() net.Addr { return s.listener.Addr() }
