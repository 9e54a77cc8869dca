package transport

import (
	"fmt"
	"net"

	"github.com/oriys/capsule/internal/sandboxerr"
)

// LoopbackDialer dials 127.0.0.1:port, ignoring channelID — used exclusively
// for host-side testing and the in-process hypervisor stub, per the
// transport contract's loopback-TCP fallback variant.
type LoopbackDialer struct{}

func (LoopbackDialer) Dial(_ uint32, port uint32) (Conn, error) {
	nc, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return nil, sandboxerr.Wrap(sandboxerr.KindVMStartup, "loopback dial", err)
	}
	return newFramedConn(nc), nil
}

// LoopbackListener accepts guest-side connections on 127.0.0.1:port.
type LoopbackListener struct {
	ln net.Listener
}

func ListenLoopback(port uint32) (*LoopbackListener, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return nil, sandboxerr.Wrap(sandboxerr.KindVMStartup, "loopback listen", err)
	}
	return &LoopbackListener{ln: ln}, nil
}

// Addr returns the bound address, useful when port 0 requests an ephemeral
// port (as tests do).
func (l *LoopbackListener) Addr() net.Addr { return l.ln.Addr() }

func (l *LoopbackListener) Accept() (Conn, error) {
	nc, err := l.ln.Accept()
	if err != nil {
		return nil, sandboxerr.Wrap(sandboxerr.KindConnectionClosed, "loopback accept", err)
	}
	return newFramedConn(nc), nil
}

func (l *LoopbackListener) Close() error {
	return l.ln.Close()
}
