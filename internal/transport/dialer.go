package transport

// NewDialer returns the native AF_VSOCK dialer when native is true, or the
// loopback-TCP dialer otherwise. The hypervisor driver decides which is
// appropriate for its backend (a real microVM uses native; the in-process
// stub uses loopback).
func NewDialer(native bool) Dialer {
	if native {
		return VsockDialer{}
	}
	return LoopbackDialer{}
}
