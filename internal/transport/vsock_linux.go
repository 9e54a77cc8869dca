//go:build linux

package transport

import (
	"github.com/mdlayher/vsock"

	"github.com/oriys/capsule/internal/sandboxerr"
)

// VsockDialer connects to a guest over AF_VSOCK, keyed by (channel_id, port)
// where channel_id is the guest's context ID.
type VsockDialer struct{}

func (VsockDialer) Dial(channelID uint32, port uint32) (Conn, error) {
	conn, err := vsock.Dial(channelID, port, nil)
	if err != nil {
		return nil, sandboxerr.Wrap(sandboxerr.KindVMStartup, "vsock dial", err)
	}
	return newFramedConn(conn), nil
}

// VsockListener accepts connections on a local vsock port; the guest agent
// (cmd/capsule-agent) listens with it for the host's calls.
type VsockListener struct {
	ln *vsock.Listener
}

func ListenVsock(port uint32) (*VsockListener, error) {
	ln, err := vsock.Listen(port, nil)
	if err != nil {
		return nil, sandboxerr.Wrap(sandboxerr.KindVMStartup, "vsock listen", err)
	}
	return &VsockListener{ln: ln}, nil
}

func (l *VsockListener) Accept() (Conn, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		return nil, sandboxerr.Wrap(sandboxerr.KindConnectionClosed, "vsock accept", err)
	}
	return newFramedConn(conn), nil
}

func (l *VsockListener) Close() error {
	return l.ln.Close()
}
