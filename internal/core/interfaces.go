package core

import "encoding/json"

// Sandbox runs user code in a fresh isolated engine heap. Implementations
// never panic outward: every failure is reported through the result.
type Sandbox interface {
	Run(code string, payload json.RawMessage, cfg SandboxConfig) *ExecutionResult
	// Engine names the backing JS engine ("quickjs", "v8").
	Engine() string
}

// Executor hands a blocking sandbox run to an execution unit that does not
// block the caller's scheduling, and delivers exactly one result on the
// returned channel. A panicking task must still deliver a result.
type Executor interface {
	Submit(task func() *ExecutionResult) <-chan *ExecutionResult
}

// FunctionStore is the function metadata lookup used by the coordinator.
// Lookups return ErrFunctionNotFound when nothing matches.
type FunctionStore interface {
	Get(id string) (*Function, error)
	GetByRoute(path string) (*Function, error)
	RecordInvocation(id string) error
}
