// Package coordinator turns function invocations into pool executions and
// shapes the results into protocol responses. Route dispatch checks run
// here, before any concurrency permit is requested.
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/cryguy/nexo/internal/core"
	"github.com/cryguy/nexo/internal/functions"
	"github.com/cryguy/nexo/internal/logtail"
	"github.com/cryguy/nexo/internal/source"
	"go.uber.org/zap"
)

// Runner is the execution side the coordinator delegates to. *pool.Pool
// implements it.
type Runner interface {
	Execute(ctx context.Context, functionID, code string, payload json.RawMessage, cfg *core.SandboxConfig) *core.ExecutionResult
	Stats() core.PoolStats
	FunctionStats(id string) (core.FunctionStats, bool)
}

// RejectionObserver is told about every dispatch rejection.
type RejectionObserver interface {
	ObserveRejection(kind core.DispatchKind)
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the coordinator logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Coordinator) { c.log = l }
}

// WithLogTail publishes every finished invocation to h.
func WithLogTail(h *logtail.Hub) Option {
	return func(c *Coordinator) { c.tail = h }
}

// WithRejectionObserver reports dispatch rejections to o.
func WithRejectionObserver(o RejectionObserver) Option {
	return func(c *Coordinator) { c.rejections = o }
}

// Coordinator invokes functions from a store on a runner.
type Coordinator struct {
	store      core.FunctionStore
	runner     Runner
	sources    source.Cache
	tail       *logtail.Hub
	rejections RejectionObserver
	log        *zap.Logger
}

// New creates a coordinator.
func New(store core.FunctionStore, runner Runner, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:  store,
		runner: runner,
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Invoke runs fn for req. The function's configured env always replaces
// whatever env the caller put on req.
func (c *Coordinator) Invoke(ctx context.Context, fn *core.Function, req core.InvocationRequest) *core.InvocationResponse {
	if err := c.store.RecordInvocation(fn.ID); err != nil {
		c.log.Warn("recording invocation failed", zap.String("function_id", fn.ID), zap.Error(err))
	}

	cfg := fn.Limits.SandboxConfig(fn.ID)
	req = withDefaults(req)
	req.Env = core.CloneStringMap(fn.Env)

	code, err := c.sources.Prepare(fn)
	if err != nil {
		c.log.Info("function source rejected", zap.String("function_id", fn.ID), zap.Error(err))
		return failureResponse(fn.ID, core.Failed(err, 0, nil))
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return failureResponse(fn.ID, core.Failed(fmt.Errorf("encoding request: %w", err), 0, nil))
	}

	result := c.runner.Execute(ctx, fn.ID, code, payload, &cfg)
	if c.tail != nil {
		c.tail.Publish(logtail.EntryFromResult(fn.ID, result))
	}
	if !result.Success {
		c.log.Info("invocation failed",
			zap.String("function_id", fn.ID),
			zap.String("kind", result.ErrorKind.String()),
			zap.String("error", result.Error),
			zap.Uint64("execution_time_ms", result.ExecutionTimeMs))
		return failureResponse(fn.ID, result)
	}
	return successResponse(fn.ID, result)
}

// InvokeByRoute resolves route and method to an active function and
// invokes it. Rejections are returned as *core.DispatchError and never
// reach the runner.
func (c *Coordinator) InvokeByRoute(ctx context.Context, route, method string, req core.InvocationRequest) (*core.InvocationResponse, error) {
	fn, err := c.store.GetByRoute(route)
	if err != nil {
		if errors.Is(err, core.ErrFunctionNotFound) {
			return nil, c.reject(&core.DispatchError{Kind: core.DispatchNotFound, Route: route})
		}
		return nil, fmt.Errorf("resolving route %s: %w", route, err)
	}
	if !fn.AllowsMethod(method) {
		return nil, c.reject(&core.DispatchError{Kind: core.DispatchMethodNotAllowed, Route: route, Method: method})
	}
	if fn.Status != core.StatusActive {
		return nil, c.reject(&core.DispatchError{Kind: core.DispatchInactive, Route: route, Method: method})
	}
	if limit := fn.Limits.MaxRequestBodyKB; limit > 0 && req.Body != nil && len(*req.Body) > int(limit)*1024 {
		return nil, c.reject(&core.DispatchError{Kind: core.DispatchPayloadTooLarge, Route: route, Method: method, Limit: limit})
	}

	if req.Method == "" {
		req.Method = method
	}
	if len(req.PathParams) == 0 {
		req.PathParams = functions.ExtractParams(fn.Route, route)
	}
	return c.Invoke(ctx, fn, req), nil
}

func (c *Coordinator) reject(e *core.DispatchError) error {
	c.log.Debug("dispatch rejected", zap.String("route", e.Route), zap.String("method", e.Method), zap.Error(e))
	if c.rejections != nil {
		c.rejections.ObserveRejection(e.Kind)
	}
	return e
}

// PoolStats returns the runner's process-wide statistics.
func (c *Coordinator) PoolStats() core.PoolStats {
	return c.runner.Stats()
}

// FunctionStats returns the statistics of one function, if it has run.
func (c *Coordinator) FunctionStats(id string) (core.FunctionStats, bool) {
	return c.runner.FunctionStats(id)
}

// ForgetSource drops cached transpiled code of a function.
func (c *Coordinator) ForgetSource(id string) {
	c.sources.Forget(id)
}

func withDefaults(req core.InvocationRequest) core.InvocationRequest {
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	if req.Headers == nil {
		req.Headers = map[string]string{}
	}
	if req.PathParams == nil {
		req.PathParams = map[string]string{}
	}
	if req.QueryParams == nil {
		req.QueryParams = map[string]string{}
	}
	return req
}

func jsonHeaders() map[string]string {
	return map[string]string{"Content-Type": "application/json"}
}

func successResponse(functionID string, r *core.ExecutionResult) *core.InvocationResponse {
	return &core.InvocationResponse{
		Status:          http.StatusOK,
		Headers:         jsonHeaders(),
		Body:            r.Output,
		ExecutionTimeMs: r.ExecutionTimeMs,
		MemoryUsedBytes: r.MemoryUsedBytes,
		FunctionID:      functionID,
		Logs:            r.Logs,
	}
}

func failureResponse(functionID string, r *core.ExecutionResult) *core.InvocationResponse {
	msg := r.Error
	if msg == "" {
		msg = "Unknown error"
	}
	body, _ := json.Marshal(map[string]string{"error": msg})
	logs := r.Logs
	if logs == nil {
		logs = []string{}
	}
	return &core.InvocationResponse{
		Status:          http.StatusInternalServerError,
		Headers:         jsonHeaders(),
		Body:            core.ValueOutput(body),
		ExecutionTimeMs: r.ExecutionTimeMs,
		MemoryUsedBytes: r.MemoryUsedBytes,
		FunctionID:      functionID,
		Logs:            logs,
	}
}
