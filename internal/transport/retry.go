package transport

import (
	"context"
	"time"

	"github.com/oriys/capsule/internal/sandboxerr"
)

// DialWithRetry repeatedly attempts dialer.Dial, per the ready-probe
// contract: a per-attempt timeout bounds each individual dial and a backoff
// separates attempts, until either a dial succeeds or ctx's deadline (the
// caller's startup_timeout budget) is exhausted.
func DialWithRetry(ctx context.Context, dialer Dialer, channelID, port uint32, perAttempt, backoff time.Duration) (Conn, error) {
	var lastErr error
	for {
		select {
		case <-ctx.Done():
			if lastErr != nil {
				return nil, sandboxerr.Wrap(sandboxerr.KindVMStartup, "ready probe exhausted startup_timeout", lastErr)
			}
			return nil, sandboxerr.New(sandboxerr.KindVMStartup, "ready probe exhausted startup_timeout")
		default:
		}

		attemptCtx, cancel := context.WithTimeout(ctx, perAttempt)
		conn, err := dialAttempt(attemptCtx, dialer, channelID, port)
		cancel()
		if err == nil {
			return conn, nil
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return nil, sandboxerr.Wrap(sandboxerr.KindVMStartup, "ready probe exhausted startup_timeout", lastErr)
		case <-time.After(backoff):
		}
	}
}

// dialAttempt races dialer.Dial against attemptCtx so a single slow attempt
// cannot exceed its per-attempt budget; Dial implementations here are
// synchronous network calls, so we run them in a goroutine to make them
// cancellable.
func dialAttempt(ctx context.Context, dialer Dialer, channelID, port uint32) (Conn, error) {
	type result struct {
		conn Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := dialer.Dial(channelID, port)
		ch <- result{conn, err}
	}()
	select {
	case r := <-ch:
		return r.conn, r.err
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.conn != nil {
				r.conn.Close()
			}
		}()
		return nil, ctx.Err()
	}
}
