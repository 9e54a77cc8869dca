//go:build !linux

package transport

import "github.com/oriys/capsule/internal/sandboxerr"

// VsockDialer is unavailable outside Linux; callers fall back to
// LoopbackDialer for development and testing on other platforms.
type VsockDialer struct{}

func (VsockDialer) Dial(_ uint32, _ uint32) (Conn, error) {
	return nil, sandboxerr.New(sandboxerr.KindVMStartup, "vsock transport is only available on linux")
}

// VsockListener mirrors VsockDialer's unavailability on non-Linux hosts.
type VsockListener struct{}

func ListenVsock(_ uint32) (*VsockListener, error) {
	return nil, sandboxerr.New(sandboxerr.KindVMStartup, "vsock transport is only available on linux")
}

func (l *VsockListener) Accept() (Conn, error) {
	return nil, sandboxerr.New(sandboxerr.KindVMStartup, "vsock transport is only available on linux")
}

func (l *VsockListener) Close() error { return nil }
