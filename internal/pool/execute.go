package pool

import (
	"context"
	"time"

	"github.com/oriys/capsule/internal/rpc"
	"github.com/oriys/capsule/internal/sandboxerr"
)

// safetyMargin is the host-side wait budget added on top of the guest's
// own cpu_ms timeout, per the three-layer timeout model.
const safetyMargin = 5 * time.Second

// Execute sends req to vm and awaits its response with a
// timeout_ms/1000 + 5s safety margin. On timeout or any transport/protocol
// error, vm is tainted before the error is returned; a clean guest-side
// failure (success=false) does not taint the VM.
func (p *Pool) Execute(ctx context.Context, vm *VMInstance, req rpc.Request) (rpc.Response, error) {
	conn, err := vm.ensureClient(p.dialer, vm.Handle.Port)
	if err != nil {
		vm.Taint()
		return rpc.Response{}, sandboxerr.Wrap(sandboxerr.KindVMStartup, "connect to vm", err)
	}

	type outcome struct {
		resp rpc.Response
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		if err := rpc.SendRequest(conn, req); err != nil {
			done <- outcome{err: err}
			return
		}
		resp, err := rpc.RecvResponse(conn)
		done <- outcome{resp: resp, err: err}
	}()

	budget := time.Duration(req.TimeoutMs)*time.Millisecond + safetyMargin
	timer := time.NewTimer(budget)
	defer timer.Stop()

	select {
	case o := <-done:
		if o.err != nil {
			vm.Taint()
			return rpc.Response{}, o.err
		}
		if !o.resp.Success {
			msg, remoteType, traceback := "", "", ""
			if o.resp.Error != nil {
				msg = o.resp.Error.Message
				remoteType = o.resp.Error.Type
				traceback = o.resp.Error.Traceback
			}
			remoteErr := sandboxerr.Remote(remoteType, msg, traceback)
			if remoteType == "TimeoutError" {
				// The guest's own cpu_ms timer tripped; it may still be
				// executing, so the VM is tainted just as a host-side
				// timeout would be.
				vm.Taint()
				remoteErr.Kind = sandboxerr.KindSandboxTimeout
			}
			return o.resp, remoteErr
		}
		return o.resp, nil
	case <-timer.C:
		vm.Taint()
		return rpc.Response{}, sandboxerr.New(sandboxerr.KindSandboxTimeout, "host-side wait for response exceeded timeout_ms+5s")
	case <-ctx.Done():
		vm.Taint()
		return rpc.Response{}, sandboxerr.Wrap(sandboxerr.KindSandboxTimeout, "call canceled", ctx.Err())
	}
}
