// Package supervisor owns the single pool manager and hypervisor driver
// backing a process's sandboxed calls, and exposes both a synchronous and a
// cooperative-concurrency entry point over the same underlying call.
package supervisor

import (
	"context"
	"time"

	"github.com/oriys/capsule/internal/hypervisor"
	"github.com/oriys/capsule/internal/logging"
	"github.com/oriys/capsule/internal/metrics"
	"github.com/oriys/capsule/internal/observability"
	"github.com/oriys/capsule/internal/poolmanager"
	"github.com/oriys/capsule/internal/profile"
	"github.com/oriys/capsule/internal/rpc"
	"github.com/oriys/capsule/internal/sandboxerr"
	"github.com/oriys/capsule/internal/store"
)

// Recorder accepts completed-invocation records for durable audit logging;
// *store.Batcher satisfies this off the call's hot path.
type Recorder interface {
	Enqueue(rec *store.InvocationRecord)
}

// Supervisor is the single owner of the pool manager and the hypervisor
// driver for its lifetime; every stub call in a process routes through one
// Supervisor.
type Supervisor struct {
	driver   hypervisor.Driver
	manager  *poolmanager.Manager
	recorder Recorder
	m        *metrics.Registry
}

// New constructs a supervisor over the given driver and pool manager, both
// already wired with their shared dialer/VM config/pool policy.
func New(driver hypervisor.Driver, manager *poolmanager.Manager) *Supervisor {
	return &Supervisor{driver: driver, manager: manager}
}

// WithMetrics attaches the Prometheus registry that per-invocation duration
// and error counters are recorded against.
func (s *Supervisor) WithMetrics(m *metrics.Registry) *Supervisor {
	s.m = m
	return s
}

// WithRecorder attaches an invocation audit log; every Invoke/InvokeAsync
// call is enqueued to it after completion, success or failure alike.
func (s *Supervisor) WithRecorder(r Recorder) *Supervisor {
	s.recorder = r
	return s
}

// Result is the outcome of one invocation, delivered asynchronously by
// InvokeAsync and awaited synchronously by Invoke.
type Result struct {
	Value any
	Err   error
}

// InvokeAsync acquires a VM for prof, executes req against it, and releases
// the VM, returning a channel that is sent to exactly once. It is the
// cooperative-concurrency entry point: the caller may select on the channel
// alongside other suspension points instead of blocking.
func (s *Supervisor) InvokeAsync(ctx context.Context, prof profile.Profile, profileKey string, req rpc.Request) <-chan Result {
	out := make(chan Result, 1)
	go func() {
		out <- s.invoke(ctx, prof, profileKey, req)
	}()
	return out
}

// Invoke blocks the current goroutine until InvokeAsync's result arrives:
// the synchronous entry point that a plain function call needs.
func (s *Supervisor) Invoke(ctx context.Context, prof profile.Profile, profileKey string, req rpc.Request) (any, error) {
	r := <-s.InvokeAsync(ctx, prof, profileKey, req)
	return r.Value, r.Err
}

func (s *Supervisor) invoke(ctx context.Context, prof profile.Profile, profileKey string, req rpc.Request) (result Result) {
	start := time.Now()
	var coldStart bool

	ctx, span := observability.StartInvokeSpan(ctx, req.FunctionRef, profileKey)
	defer func() {
		kind := ""
		if result.Err != nil {
			k, _ := sandboxerr.KindOf(result.Err)
			kind = string(k)
		}
		observability.AnnotateResult(span, coldStart, kind)
		span.End()
	}()

	defer s.record(req, profileKey, start, &coldStart, &result)

	if s.m != nil {
		defer func() {
			s.m.InvokeDuration.WithLabelValues(profileKey).Observe(time.Since(start).Seconds())
			if result.Err != nil {
				kind, _ := sandboxerr.KindOf(result.Err)
				s.m.InvokeErrors.WithLabelValues(profileKey, string(kind)).Inc()
			}
		}()
	}

	p, err := s.manager.GetOrCreate(ctx, prof, profileKey)
	if err != nil {
		result = Result{Err: sandboxerr.Wrap(sandboxerr.KindPoolExhausted, "acquire pool", err)}
		return
	}

	vm, cs, err := p.Acquire(ctx)
	coldStart = cs
	if err != nil {
		result = Result{Err: err}
		return
	}

	resp, err := p.Execute(ctx, vm, req)
	p.Release(ctx, vm)

	logging.Op().Debug("invocation complete",
		"request_id", req.RequestID,
		"function_ref", req.FunctionRef,
		"profile_key", profileKey,
		"cold_start", coldStart,
		"success", err == nil,
	)

	if err != nil {
		result = Result{Err: err}
		return
	}
	result = Result{Value: resp.Result}
	return
}

// record enqueues an audit-log entry for one completed invocation, if a
// recorder is attached. Called via defer so every return path in invoke is
// covered, including pool-exhausted and acquire-timeout failures.
func (s *Supervisor) record(req rpc.Request, profileKey string, start time.Time, coldStart *bool, result *Result) {
	if s.recorder == nil {
		return
	}
	rec := &store.InvocationRecord{
		RequestID:   req.RequestID,
		FunctionRef: req.FunctionRef,
		ProfileKey:  profileKey,
		DurationMs:  time.Since(start).Milliseconds(),
		ColdStart:   *coldStart,
		Success:     result.Err == nil,
		CreatedAt:   time.Now(),
	}
	if result.Err != nil {
		kind, _ := sandboxerr.KindOf(result.Err)
		rec.ErrorKind = string(kind)
		rec.ErrorMessage = result.Err.Error()
	}
	s.recorder.Enqueue(rec)
}

// Shutdown tears down every pool and the underlying driver. After Shutdown,
// further Invoke/InvokeAsync calls fail.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.manager.Shutdown(ctx)
	return s.driver.Close()
}

// Stats reports the current size of a profile's pool, for control-plane
// introspection. ok is false if no pool has been created for profileKey yet.
func (s *Supervisor) Stats(profileKey string) (all, available, inUse int, ok bool) {
	p, found := s.manager.Get(profileKey)
	if !found {
		return 0, 0, 0, false
	}
	all, available, inUse = p.Snapshot()
	return all, available, inUse, true
}
