package core

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrCompile          = errors.New("compile error")
	ErrRuntime          = errors.New("runtime exception")
	ErrTimeout          = errors.New("execution timeout")
	ErrUnsupportedAsync = errors.New("unsupported async result")
	ErrExecutionUnit    = errors.New("execution unit failure")
	ErrPermit           = errors.New("permit not acquired")

	ErrFunctionNotFound = errors.New("function not found")
	ErrRouteConflict    = errors.New("route conflict")
	ErrInvalidFunction  = errors.New("invalid function")
)

// AsyncUnsupportedMessage is reported when an entry point returns a thenable.
const AsyncUnsupportedMessage = "Async functions are not fully supported. Please use synchronous handler."

// ErrorKind classifies a sandbox failure.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindCompile
	KindRuntime
	KindTimeout
	KindUnsupportedAsync
	KindExecutionUnit
	KindPermit
)

func (k ErrorKind) String() string {
	switch k {
	case KindCompile:
		return "compile"
	case KindRuntime:
		return "runtime"
	case KindTimeout:
		return "timeout"
	case KindUnsupportedAsync:
		return "unsupported_async"
	case KindExecutionUnit:
		return "execution_unit"
	case KindPermit:
		return "permit"
	}
	return "none"
}

func (k ErrorKind) sentinel() error {
	switch k {
	case KindCompile:
		return ErrCompile
	case KindRuntime:
		return ErrRuntime
	case KindTimeout:
		return ErrTimeout
	case KindUnsupportedAsync:
		return ErrUnsupportedAsync
	case KindExecutionUnit:
		return ErrExecutionUnit
	case KindPermit:
		return ErrPermit
	}
	return nil
}

// SandboxError is a classified sandbox failure. Its message is the
// human-readable text that ends up in ExecutionResult.Error.
type SandboxError struct {
	Kind ErrorKind
	Msg  string
}

func (e *SandboxError) Error() string { return e.Msg }

// Is matches the sentinel for the error's kind.
func (e *SandboxError) Is(target error) bool {
	return target != nil && target == e.Kind.sentinel()
}

// NewSandboxError creates a classified sandbox error.
func NewSandboxError(kind ErrorKind, format string, args ...any) *SandboxError {
	return &SandboxError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of err, defaulting to KindRuntime.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	var se *SandboxError
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindRuntime
}

// TimeoutError reports a checkpoint-detected timeout.
func TimeoutError(limitMs uint64) *SandboxError {
	return NewSandboxError(KindTimeout, "Execution timeout: exceeded %dms limit", limitMs)
}

// DispatchKind is the reason a request was rejected before execution.
type DispatchKind int

const (
	DispatchNotFound DispatchKind = iota
	DispatchMethodNotAllowed
	DispatchInactive
	DispatchPayloadTooLarge
)

// DispatchError is a pre-execution rejection. It never consumes a permit.
type DispatchError struct {
	Kind   DispatchKind
	Route  string
	Method string
	Limit  uint32
}

func (e *DispatchError) Error() string {
	switch e.Kind {
	case DispatchNotFound:
		return fmt.Sprintf("No function found for route: %s", e.Route)
	case DispatchMethodNotAllowed:
		return fmt.Sprintf("Method %s not allowed for this function", e.Method)
	case DispatchInactive:
		return "Function is not active"
	case DispatchPayloadTooLarge:
		return fmt.Sprintf("Request body exceeds %dKB limit", e.Limit)
	}
	return "dispatch rejected"
}

// HTTPStatus maps the rejection onto a status code.
func (e *DispatchError) HTTPStatus() int {
	switch e.Kind {
	case DispatchNotFound:
		return http.StatusNotFound
	case DispatchPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}
