// Package pool is the single admission gate into sandboxed execution. It
// bounds how many sandbox runs exist at once, moves each run onto its own
// execution unit and keeps process-wide and per-function statistics.
package pool

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/cryguy/nexo/internal/core"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Observer receives a copy of every stats update. The metrics package
// implements it to export prometheus series.
type Observer interface {
	ObserveExecution(functionID string, r *core.ExecutionResult)
	SetConcurrent(n int)
}

// Option configures a Pool.
type Option func(*Pool)

// WithExecutor replaces the default ThreadExecutor.
func WithExecutor(e core.Executor) Option {
	return func(p *Pool) { p.executor = e }
}

// WithObserver attaches a stats observer.
func WithObserver(o Observer) Option {
	return func(p *Pool) { p.observer = o }
}

// WithLogger sets the pool logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pool) { p.log = l }
}

// Pool runs sandbox executions under a fixed number of concurrency permits.
type Pool struct {
	sandbox  core.Sandbox
	executor core.Executor
	sem      *semaphore.Weighted
	max      int
	current  atomic.Int64
	stats    *statsRecorder
	observer Observer
	log      *zap.Logger
}

// New creates a pool with maxConcurrent permits. A non-positive value
// falls back to the default engine configuration.
func New(sandbox core.Sandbox, maxConcurrent int, opts ...Option) *Pool {
	core.InitEngine()
	if maxConcurrent <= 0 {
		maxConcurrent = core.DefaultEngineConfig().MaxConcurrent
	}
	p := &Pool{
		sandbox:  sandbox,
		executor: ThreadExecutor{},
		sem:      semaphore.NewWeighted(int64(maxConcurrent)),
		max:      maxConcurrent,
		stats:    newStatsRecorder(maxConcurrent),
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Execute runs code for functionID and returns its result unchanged. It
// suspends until a permit is free. cfg nil means the system defaults.
//
// ctx only bounds the wait for a permit. A run that has been admitted is
// never cancelled, and a caller that gave up while queued receives a
// non-success result that is not counted as an execution.
func (p *Pool) Execute(ctx context.Context, functionID, code string, payload json.RawMessage, cfg *core.SandboxConfig) *core.ExecutionResult {
	queued := time.Now()
	if err := p.sem.Acquire(ctx, 1); err != nil {
		p.log.Debug("permit wait abandoned", zap.String("function_id", functionID), zap.Error(err))
		return core.Failed(core.NewSandboxError(core.KindPermit, "Failed to acquire execution permit: %v", err), time.Since(queued), nil)
	}
	p.publishConcurrent(p.current.Add(1))

	effective := core.DefaultSandboxConfig(functionID)
	if cfg != nil {
		effective = *cfg
	}

	result := <-p.executor.Submit(func() *core.ExecutionResult {
		return p.sandbox.Run(code, payload, effective)
	})
	if result == nil {
		result = core.Failed(core.NewSandboxError(core.KindExecutionUnit, "Execution unit returned no result"), time.Since(queued), nil)
	}

	// Decrement before releasing so the counter never exceeds max.
	p.publishConcurrent(p.current.Add(-1))
	p.sem.Release(1)

	p.stats.record(functionID, result)
	if p.observer != nil {
		p.observer.ObserveExecution(functionID, result)
	}
	if result.ErrorKind == core.KindExecutionUnit {
		p.log.Warn("execution unit failed", zap.String("function_id", functionID), zap.String("error", result.Error))
	}
	return result
}

func (p *Pool) publishConcurrent(n int64) {
	p.stats.setConcurrent(int(n))
	if p.observer != nil {
		p.observer.SetConcurrent(int(n))
	}
}

// Stats returns a snapshot of the process-wide statistics.
func (p *Pool) Stats() core.PoolStats {
	return p.stats.snapshot()
}

// FunctionStats returns the statistics of one function, if it has run.
func (p *Pool) FunctionStats(id string) (core.FunctionStats, bool) {
	return p.stats.function(id)
}

// AllFunctionStats returns a copy of every function's statistics.
func (p *Pool) AllFunctionStats() map[string]core.FunctionStats {
	return p.stats.allFunctions()
}

// CurrentConcurrent is the number of runs holding a permit right now.
func (p *Pool) CurrentConcurrent() int {
	return int(p.current.Load())
}

// MaxConcurrent is the permit count fixed at construction.
func (p *Pool) MaxConcurrent() int { return p.max }

// AvailablePermits is MaxConcurrent minus the runs in flight.
func (p *Pool) AvailablePermits() int {
	return p.max - p.CurrentConcurrent()
}
