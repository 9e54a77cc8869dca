// Package transport implements the host<->guest connection abstraction:
// a connection-oriented, full-duplex, single-sender/single-receiver channel
// carrying length-framed wire messages. The native variant is keyed by
// (channel_id, port) over AF_VSOCK; a loopback-TCP variant serves host-side
// testing and the in-process hypervisor stub.
package transport

import (
	"net"
	"sync"

	"github.com/oriys/capsule/internal/wire"
)

// DefaultPort is the default guest-side RPC port, per the external
// interfaces contract.
const DefaultPort uint32 = 5000

// Conn is one connection-oriented, full-duplex channel. Send/Recv transfer
// one complete framed message each; Close is idempotent.
type Conn interface {
	Send(payload []byte) error
	Recv() ([]byte, error)
	Close() error
}

// Dialer connects to a guest's RPC endpoint identified by channelID/port.
type Dialer interface {
	Dial(channelID uint32, port uint32) (Conn, error)
}

// Listener accepts guest-side connections.
type Listener interface {
	Accept() (Conn, error)
	Close() error
}

// framedConn adapts any net.Conn (or equivalent) into a Conn using the wire
// package's length-framed envelopes. Send and Recv take no lock, since the
// contract is single-sender/single-receiver; only Close is guarded (by a
// sync.Once), so repeated or racing Close calls close the connection once.
type framedConn struct {
	nc net.Conn

	closeOnce sync.Once
	closeErr  error
}

func newFramedConn(nc net.Conn) *framedConn {
	return &framedConn{nc: nc}
}

func (c *framedConn) Send(payload []byte) error {
	return wire.WriteFrame(c.nc, payload)
}

// Recv returns one complete framed message. wire.ReadFrame already
// classifies a short read as ConnectionClosed, so the error reaches the
// caller pre-tagged with its sandboxerr.Kind.
func (c *framedConn) Recv() ([]byte, error) {
	return wire.ReadFrame(c.nc)
}

func (c *framedConn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.nc.Close()
	})
	return c.closeErr
}
