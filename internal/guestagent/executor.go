// Package guestagent implements the in-guest dispatcher: resolving a
// function reference, enforcing a wall-clock timeout, running the in-band
// install command, and returning uniform success/failure envelopes.
package guestagent

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/oriys/capsule/internal/logging"
	"github.com/oriys/capsule/internal/networkpolicy"
	"github.com/oriys/capsule/internal/profile"
	"github.com/oriys/capsule/internal/rpc"
	"github.com/oriys/capsule/internal/transport"
)

// Executor is the single-threaded acceptor loop: it serves one connection
// at a time, processing framed messages sequentially until a transport
// error closes the connection.
type Executor struct {
	registry  *Registry
	installer Installer
	netClient *http.Client
}

func New(registry *Registry) *Executor {
	return &Executor{
		registry:  registry,
		installer: ShellInstaller{},
		netClient: networkpolicy.NewHTTPClient(profile.NetAll),
	}
}

// WithInstaller overrides the default ShellInstaller, e.g. with
// NoopInstaller for the in-process stub driver.
func (e *Executor) WithInstaller(installer Installer) *Executor {
	e.installer = installer
	return e
}

// WithNetPolicy scopes the HTTP client handed to handlers through context to
// the bound VM's network grant; a real microVM backend enforces this at the
// hypervisor's network namespace instead, so this matters mainly for the
// in-process stub driver.
func (e *Executor) WithNetPolicy(net profile.NetPolicy) *Executor {
	e.netClient = networkpolicy.NewHTTPClient(net)
	return e
}

// Serve accepts connections from ln until ctx is canceled or Accept fails.
// Per the concurrency model, the guest serves one connection at a time;
// horizontal scale comes from pool size, not multiplexing within a VM.
func (e *Executor) Serve(ctx context.Context, ln transport.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			return err
		}
		e.serveConn(ctx, conn)
	}
}

func (e *Executor) serveConn(ctx context.Context, conn transport.Conn) {
	defer conn.Close()
	for {
		req, err := rpc.RecvRequest(conn)
		if err != nil {
			return
		}
		resp := e.handle(ctx, req)
		if err := rpc.SendResponse(conn, resp); err != nil {
			return
		}
	}
}

func (e *Executor) handle(ctx context.Context, req rpc.Request) rpc.Response {
	if req.Command == rpc.InstallCommand {
		return e.handleInstall(ctx, req)
	}
	return e.handleInvoke(ctx, req)
}

func (e *Executor) handleInstall(ctx context.Context, req rpc.Request) rpc.Response {
	if err := e.installer.Install(ctx, req.Dependencies); err != nil {
		return rpc.Response{
			RequestID: req.RequestID,
			Success:   false,
			Error:     &rpc.RemoteError{Type: "InstallError", Message: err.Error()},
		}
	}
	return rpc.Response{RequestID: req.RequestID, Success: true, Result: nil}
}

func (e *Executor) handleInvoke(ctx context.Context, req rpc.Request) rpc.Response {
	fn, err := e.registry.Resolve(req.FunctionRef)
	if err != nil {
		return rpc.Response{
			RequestID: req.RequestID,
			Success:   false,
			Error:     &rpc.RemoteError{Type: "TypeError", Message: err.Error()},
		}
	}

	callCtx := withHTTPClient(ctx, e.netClient)
	var cancel context.CancelFunc
	if req.TimeoutMs > 0 {
		callCtx, cancel = context.WithTimeout(callCtx, time.Duration(req.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	type outcome struct {
		result any
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := fn(callCtx, req.Args, req.Kwargs)
		done <- outcome{result, err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			return rpc.Response{
				RequestID: req.RequestID,
				Success:   false,
				Error:     &rpc.RemoteError{Type: "RuntimeError", Message: o.err.Error()},
			}
		}
		return rpc.Response{RequestID: req.RequestID, Success: true, Result: o.result}
	case <-callCtx.Done():
		logging.Op().Warn("function call timed out", "request_id", req.RequestID, "function_ref", req.FunctionRef)
		return rpc.Response{
			RequestID: req.RequestID,
			Success:   false,
			Error: &rpc.RemoteError{
				Type:    "TimeoutError",
				Message: fmt.Sprintf("call exceeded timeout_ms=%d", req.TimeoutMs),
			},
		}
	}
}
