package nexo

import (
	"github.com/cryguy/nexo/internal/core"
	"github.com/cryguy/nexo/internal/functions"
)

// Type aliases re-exporting internal types so downstream code can use
// nexo.Function, nexo.InvocationRequest, etc. without importing the
// internal packages directly.

type SandboxConfig = core.SandboxConfig
type ExecutionResult = core.ExecutionResult
type Output = core.Output
type OutputKind = core.OutputKind
type ResponseShape = core.ResponseShape
type InvocationRequest = core.InvocationRequest
type InvocationResponse = core.InvocationResponse
type PoolStats = core.PoolStats
type FunctionStats = core.FunctionStats
type Function = core.Function
type FunctionLimits = core.FunctionLimits
type FunctionStatus = core.FunctionStatus
type EngineConfig = core.EngineConfig
type Sandbox = core.Sandbox
type SandboxError = core.SandboxError
type DispatchError = core.DispatchError
type ErrorKind = core.ErrorKind
type CreateFunctionRequest = functions.CreateFunctionRequest
type UpdateFunctionRequest = functions.UpdateFunctionRequest

// Output kinds and function statuses re-exported from core.
const (
	OutputValue    = core.OutputValue
	OutputResponse = core.OutputResponse

	StatusActive    = core.StatusActive
	StatusInactive  = core.StatusInactive
	StatusDeploying = core.StatusDeploying
	StatusError     = core.StatusError
)

// Errors re-exported from core.
var (
	ErrCompile          = core.ErrCompile
	ErrRuntime          = core.ErrRuntime
	ErrTimeout          = core.ErrTimeout
	ErrUnsupportedAsync = core.ErrUnsupportedAsync
	ErrExecutionUnit    = core.ErrExecutionUnit
	ErrPermit           = core.ErrPermit
	ErrFunctionNotFound = core.ErrFunctionNotFound
	ErrRouteConflict    = core.ErrRouteConflict
	ErrInvalidFunction  = core.ErrInvalidFunction
)

// Functions re-exported from core.
var (
	DefaultEngineConfig  = core.DefaultEngineConfig
	DefaultSandboxConfig = core.DefaultSandboxConfig
	RouteMatches         = functions.RouteMatches
)
