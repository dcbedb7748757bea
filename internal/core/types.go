package core

import (
	"encoding/json"
	"time"
)

// Sandbox defaults, applied when a caller does not supply a SandboxConfig.
const (
	DefaultMaxExecutionTimeMs = 50
	DefaultMaxHeapSizeBytes   = 128 * 1024 * 1024
)

// SandboxConfig holds the per-invocation limits for a single sandbox run.
// It is built fresh for every call and never shared between runs.
type SandboxConfig struct {
	MaxExecutionTimeMs uint64 `json:"max_execution_time_ms"`
	MaxHeapSizeBytes   uint64 `json:"max_heap_size_bytes"`
	TenantID           string `json:"tenant_id"`
}

// DefaultSandboxConfig returns the system default limits for tenantID.
func DefaultSandboxConfig(tenantID string) SandboxConfig {
	return SandboxConfig{
		MaxExecutionTimeMs: DefaultMaxExecutionTimeMs,
		MaxHeapSizeBytes:   DefaultMaxHeapSizeBytes,
		TenantID:           tenantID,
	}
}

// Timeout returns MaxExecutionTimeMs as a time.Duration.
func (c SandboxConfig) Timeout() time.Duration {
	return time.Duration(c.MaxExecutionTimeMs) * time.Millisecond
}

// ExecutionResult is produced exactly once per sandbox run. On success
// Output is set and Error is empty; on failure Error is set and Output is nil.
type ExecutionResult struct {
	Success         bool      `json:"success"`
	Output          *Output   `json:"output"`
	Error           string    `json:"error,omitempty"`
	ErrorKind       ErrorKind `json:"-"`
	ExecutionTimeMs uint64    `json:"execution_time_ms"`
	MemoryUsedBytes uint64    `json:"memory_used_bytes"`
	Logs            []string  `json:"logs"`
}

// Succeeded builds a successful result.
func Succeeded(out *Output, elapsed time.Duration, memUsed uint64, logs []string) *ExecutionResult {
	if out == nil {
		out = NullOutput()
	}
	return &ExecutionResult{
		Success:         true,
		Output:          out,
		ExecutionTimeMs: uint64(elapsed.Milliseconds()),
		MemoryUsedBytes: memUsed,
		Logs:            nonNilLogs(logs),
	}
}

// Failed builds a failed result from err. The error kind is taken from a
// *SandboxError when present, otherwise it is classified as a runtime error.
func Failed(err error, elapsed time.Duration, logs []string) *ExecutionResult {
	kind := KindOf(err)
	msg := "Unknown error"
	if err != nil {
		msg = err.Error()
	}
	return &ExecutionResult{
		Success:         false,
		Error:           msg,
		ErrorKind:       kind,
		ExecutionTimeMs: uint64(elapsed.Milliseconds()),
		Logs:            nonNilLogs(logs),
	}
}

func nonNilLogs(logs []string) []string {
	if logs == nil {
		return []string{}
	}
	return logs
}

// OutputKind tags the shape of a sandbox return value.
type OutputKind int

const (
	// OutputValue is a plain JSON-serializable return value (null included).
	OutputValue OutputKind = iota
	// OutputResponse is a value built with the injected Response helper.
	OutputResponse
)

// ResponseShape is the HTTP-shaped result captured by the Response helper.
type ResponseShape struct {
	Body       json.RawMessage   `json:"body"`
	Status     int               `json:"status"`
	StatusText string            `json:"statusText"`
	Headers    map[string]string `json:"headers"`
}

// Output is the tagged return value of a sandbox run.
type Output struct {
	Kind     OutputKind
	Value    json.RawMessage
	Response *ResponseShape
}

// NullOutput is the value returned when user code defines no entry point.
func NullOutput() *Output {
	return &Output{Kind: OutputValue, Value: json.RawMessage("null")}
}

// ValueOutput wraps raw JSON as a plain value.
func ValueOutput(raw json.RawMessage) *Output {
	if len(raw) == 0 {
		raw = json.RawMessage("null")
	}
	return &Output{Kind: OutputValue, Value: raw}
}

// IsNull reports whether o is a plain null value.
func (o *Output) IsNull() bool {
	return o == nil || (o.Kind == OutputValue && string(o.Value) == "null")
}

type responseWire struct {
	IsResponse bool              `json:"__isResponse"`
	Body       json.RawMessage   `json:"body"`
	Status     int               `json:"status"`
	StatusText string            `json:"statusText"`
	Headers    map[string]string `json:"headers"`
}

// MarshalJSON encodes the output using the sandbox wire contract: the raw
// value, or the {"__isResponse": true, ...} envelope.
func (o Output) MarshalJSON() ([]byte, error) {
	if o.Kind == OutputResponse && o.Response != nil {
		body := o.Response.Body
		if len(body) == 0 {
			body = json.RawMessage("null")
		}
		return json.Marshal(responseWire{
			IsResponse: true,
			Body:       body,
			Status:     o.Response.Status,
			StatusText: o.Response.StatusText,
			Headers:    o.Response.Headers,
		})
	}
	if len(o.Value) == 0 {
		return []byte("null"), nil
	}
	return o.Value, nil
}

// UnmarshalJSON decodes the sandbox wire contract back into a tagged Output.
func (o *Output) UnmarshalJSON(data []byte) error {
	var probe struct {
		IsResponse bool `json:"__isResponse"`
	}
	// Non-object values fail the probe and are kept as plain values.
	if err := json.Unmarshal(data, &probe); err == nil && probe.IsResponse {
		var w responseWire
		if err := json.Unmarshal(data, &w); err != nil {
			return err
		}
		o.Kind = OutputResponse
		o.Value = nil
		o.Response = &ResponseShape{
			Body:       w.Body,
			Status:     w.Status,
			StatusText: w.StatusText,
			Headers:    w.Headers,
		}
		return nil
	}
	o.Kind = OutputValue
	o.Response = nil
	o.Value = append(json.RawMessage(nil), data...)
	return nil
}

// InvocationRequest is the structured request handed to a function. Env is
// owned by the coordinator and always replaced with the function's env.
type InvocationRequest struct {
	URL         string            `json:"url"`
	Method      string            `json:"method"`
	Headers     map[string]string `json:"headers"`
	Body        *string           `json:"body"`
	PathParams  map[string]string `json:"path_params"`
	QueryParams map[string]string `json:"query_params"`
	Env         map[string]string `json:"env"`
}

// InvocationResponse is the protocol-shaped outcome of an invocation.
type InvocationResponse struct {
	Status          uint16            `json:"status"`
	Headers         map[string]string `json:"headers"`
	Body            *Output           `json:"body"`
	ExecutionTimeMs uint64            `json:"execution_time_ms"`
	MemoryUsedBytes uint64            `json:"memory_used_bytes"`
	FunctionID      string            `json:"function_id"`
	Logs            []string          `json:"logs"`
}

// PoolStats is a snapshot of process-wide execution statistics.
type PoolStats struct {
	TotalExecutions      uint64  `json:"total_executions"`
	SuccessfulExecutions uint64  `json:"successful_executions"`
	FailedExecutions     uint64  `json:"failed_executions"`
	TotalExecutionTimeMs uint64  `json:"total_execution_time_ms"`
	AvgExecutionTimeMs   float64 `json:"avg_execution_time_ms"`
	CurrentConcurrent    int     `json:"current_concurrent"`
	MaxConcurrent        int     `json:"max_concurrent"`
	TotalMemoryUsedBytes uint64  `json:"total_memory_used_bytes"`
}

// FunctionStats is a snapshot of per-function execution statistics.
type FunctionStats struct {
	Invocations     uint64  `json:"invocations"`
	Successful      uint64  `json:"successful"`
	Failed          uint64  `json:"failed"`
	TotalTimeMs     uint64  `json:"total_time_ms"`
	AvgTimeMs       float64 `json:"avg_time_ms"`
	LastExecutionMs uint64  `json:"last_execution_ms"`
}
