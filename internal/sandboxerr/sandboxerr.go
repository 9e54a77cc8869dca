// Package sandboxerr defines the error taxonomy for capability-gated
// sandboxed execution: profile validation, wire/transport faults, pool
// lifecycle failures, and guest-side remote errors.
package sandboxerr

import (
	"errors"
	"fmt"
)

// Kind tags the category of a sandbox error so callers can branch on
// errors.Is / a type switch without string matching messages.
type Kind string

const (
	KindBadProfile       Kind = "bad_profile"
	KindWireError        Kind = "wire_error"
	KindConnectionClosed Kind = "connection_closed"
	KindVMStartup        Kind = "vm_startup"
	KindProvisioning     Kind = "provisioning"
	KindPoolExhausted    Kind = "pool_exhausted"
	KindPoolClosed       Kind = "pool_closed"
	KindSandboxTimeout   Kind = "sandbox_timeout"
	KindSandboxRemote    Kind = "sandbox_remote"
	KindSandboxCrash     Kind = "sandbox_crash"
)

// Sentinel errors for errors.Is comparisons against a bare Kind, without
// requiring callers to construct a full Error value.
var (
	ErrBadProfile       = errors.New(string(KindBadProfile))
	ErrWireError        = errors.New(string(KindWireError))
	ErrConnectionClosed = errors.New(string(KindConnectionClosed))
	ErrVMStartup        = errors.New(string(KindVMStartup))
	ErrProvisioning     = errors.New(string(KindProvisioning))
	ErrPoolExhausted    = errors.New(string(KindPoolExhausted))
	ErrPoolClosed       = errors.New(string(KindPoolClosed))
	ErrSandboxTimeout   = errors.New(string(KindSandboxTimeout))
	ErrSandboxRemote    = errors.New(string(KindSandboxRemote))
	ErrSandboxCrash     = errors.New(string(KindSandboxCrash))
)

var sentinels = map[Kind]error{
	KindBadProfile:       ErrBadProfile,
	KindWireError:        ErrWireError,
	KindConnectionClosed: ErrConnectionClosed,
	KindVMStartup:        ErrVMStartup,
	KindProvisioning:     ErrProvisioning,
	KindPoolExhausted:    ErrPoolExhausted,
	KindPoolClosed:       ErrPoolClosed,
	KindSandboxTimeout:   ErrSandboxTimeout,
	KindSandboxRemote:    ErrSandboxRemote,
	KindSandboxCrash:     ErrSandboxCrash,
}

// Error is a sandbox error carrying its Kind alongside an optional wrapped
// cause and, for SandboxRemote, the guest-reconstructed exception fields.
type Error struct {
	Kind    Kind
	Message string
	Cause   error

	// RemoteType and RemoteTraceback are populated only for SandboxRemote:
	// they preserve the guest's original exception type string and
	// traceback verbatim, per the cross-boundary exception-as-data contract.
	RemoteType      string
	RemoteTraceback string
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	if e.Cause != nil {
		return e.Cause
	}
	if sentinel, ok := sentinels[e.Kind]; ok {
		return sentinel
	}
	return nil
}

// Is lets errors.Is(err, sandboxerr.ErrPoolClosed) match an *Error of the
// corresponding Kind even when Cause is set to something unrelated.
func (e *Error) Is(target error) bool {
	sentinel, ok := sentinels[e.Kind]
	return ok && errors.Is(sentinel, target)
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Remote builds a SandboxRemote error from the guest's reconstructed
// exception triple: type, message and verbatim traceback.
func Remote(remoteType, message, traceback string) *Error {
	return &Error{
		Kind:            KindSandboxRemote,
		Message:         message,
		RemoteType:      remoteType,
		RemoteTraceback: traceback,
	}
}

// KindOf extracts the Kind of err if it is (or wraps) a *Error, with ok=false
// otherwise.
func KindOf(err error) (Kind, bool) {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind, true
	}
	return "", false
}
