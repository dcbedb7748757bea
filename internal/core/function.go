package core

import (
	"strings"
	"time"
)

// FunctionStatus is the lifecycle state of a deployed function.
type FunctionStatus string

const (
	StatusActive    FunctionStatus = "active"
	StatusInactive  FunctionStatus = "inactive"
	StatusDeploying FunctionStatus = "deploying"
	StatusError     FunctionStatus = "error"
)

// Valid reports whether s is a known status.
func (s FunctionStatus) Valid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusDeploying, StatusError:
		return true
	}
	return false
}

// Source languages accepted for function code.
const (
	LanguageJavaScript = "javascript"
	LanguageTypeScript = "typescript"
)

// FunctionLimits are the resource ceilings declared by a function.
type FunctionLimits struct {
	MaxExecutionTimeMs uint64 `json:"max_execution_time_ms"`
	MaxMemoryMB        uint32 `json:"max_memory_mb"`
	MaxRequestBodyKB   uint32 `json:"max_request_body_kb"`
}

// DefaultFunctionLimits returns the limits applied when none are given.
func DefaultFunctionLimits() FunctionLimits {
	return FunctionLimits{
		MaxExecutionTimeMs: DefaultMaxExecutionTimeMs,
		MaxMemoryMB:        128,
		MaxRequestBodyKB:   1024,
	}
}

// SandboxConfig derives the sandbox limits for a function invocation.
func (l FunctionLimits) SandboxConfig(functionID string) SandboxConfig {
	return SandboxConfig{
		MaxExecutionTimeMs: l.MaxExecutionTimeMs,
		MaxHeapSizeBytes:   uint64(l.MaxMemoryMB) * 1024 * 1024,
		TenantID:           functionID,
	}
}

// Function is a tenant's deployed unit of code.
type Function struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	Code          string            `json:"code"`
	Language      string            `json:"language"`
	Route         string            `json:"route"`
	Methods       []string          `json:"methods"`
	Env           map[string]string `json:"env"`
	Limits        FunctionLimits    `json:"limits"`
	Status        FunctionStatus    `json:"status"`
	Invocations   uint64            `json:"invocations"`
	LastInvokedAt *time.Time        `json:"last_invoked_at,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// AllowsMethod reports whether method is in the function's allow-list,
// compared case-insensitively.
func (f *Function) AllowsMethod(method string) bool {
	for _, m := range f.Methods {
		if strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of f.
func (f *Function) Clone() *Function {
	c := *f
	c.Methods = append([]string(nil), f.Methods...)
	c.Env = CloneStringMap(f.Env)
	if f.LastInvokedAt != nil {
		t := *f.LastInvokedAt
		c.LastInvokedAt = &t
	}
	return &c
}

// CloneStringMap copies m; a nil map yields an empty one.
func CloneStringMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
