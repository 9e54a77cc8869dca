package guestagent

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/oriys/capsule/internal/sandboxerr"
)

// Handler is a guest-resolvable function: the callable behind a
// function_ref. context carries the per-call wall-clock deadline.
type Handler func(ctx context.Context, args []any, kwargs map[string]any) (any, error)

// Registry is the static function_ref -> Handler table populated at guest
// image build time, keyed by the same "module:qualified.name" strings the
// wire protocol carries, since the guest has no dynamic module loader.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds functionRef ("module:qualified.name") to fn.
func (r *Registry) Register(functionRef string, fn Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[functionRef] = fn
}

// Resolve requires functionRef to contain a ':' module separator and looks
// the whole string up. A
// missing entry surfaces the same way an unresolvable attribute path would:
// as a TypeError-shaped remote failure from the caller of Resolve.
func (r *Registry) Resolve(functionRef string) (Handler, error) {
	if !strings.Contains(functionRef, ":") {
		return nil, sandboxerr.New(sandboxerr.KindWireError, fmt.Sprintf("malformed function_ref %q: missing module separator", functionRef))
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.handlers[functionRef]
	if !ok {
		return nil, fmt.Errorf("function_ref %q is not registered", functionRef)
	}
	return fn, nil
}
