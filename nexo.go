// Package nexo is a multi-tenant function runtime. Each invocation runs
// tenant JavaScript in a fresh engine heap (QuickJS by default, V8 with
// -tags v8) behind a system-wide concurrency bound.
package nexo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/cryguy/nexo/internal/api"
	"github.com/cryguy/nexo/internal/coordinator"
	"github.com/cryguy/nexo/internal/core"
	"github.com/cryguy/nexo/internal/functions"
	"github.com/cryguy/nexo/internal/logtail"
	"github.com/cryguy/nexo/internal/metrics"
	"github.com/cryguy/nexo/internal/pool"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

// Options configures a Runtime. The zero value runs with the default
// engine settings and an in-memory function store.
type Options struct {
	Engine    EngineConfig
	StorePath string
	Logger    *zap.Logger
	// DisableMetrics skips the prometheus collector and /metrics.
	DisableMetrics bool
}

// Runtime wires the function store, the execution pool and the
// invocation coordinator together.
type Runtime struct {
	cfg     EngineConfig
	log     *zap.Logger
	sandbox core.Sandbox
	store   *functions.Store
	pool    *pool.Pool
	coord   *coordinator.Coordinator
	metrics *metrics.Collector
	tail    *logtail.Hub
}

// New opens the store and builds the execution stack.
func New(opts Options) (*Runtime, error) {
	cfg := opts.Engine
	def := core.DefaultEngineConfig()
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = def.MaxConcurrent
	}
	if cfg.DefaultTimeoutMs == 0 {
		cfg.DefaultTimeoutMs = def.DefaultTimeoutMs
	}
	if cfg.DefaultMemoryMB == 0 {
		cfg.DefaultMemoryMB = def.DefaultMemoryMB
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = def.MaxOutputBytes
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	store, err := functions.Open(opts.StorePath, log.Named("store"))
	if err != nil {
		return nil, fmt.Errorf("opening function store: %w", err)
	}
	store.SetDefaultLimits(core.FunctionLimits{
		MaxExecutionTimeMs: cfg.DefaultTimeoutMs,
		MaxMemoryMB:        cfg.DefaultMemoryMB,
	})

	rt := &Runtime{
		cfg:     cfg,
		log:     log,
		sandbox: newSandbox(cfg),
		store:   store,
		tail:    logtail.NewHub(logtail.DefaultBuffer),
	}

	poolOpts := []pool.Option{pool.WithLogger(log.Named("pool"))}
	coordOpts := []coordinator.Option{
		coordinator.WithLogger(log.Named("coordinator")),
		coordinator.WithLogTail(rt.tail),
	}
	if !opts.DisableMetrics {
		rt.metrics = metrics.NewCollector(cfg.MaxConcurrent)
		poolOpts = append(poolOpts, pool.WithObserver(rt.metrics))
		coordOpts = append(coordOpts, coordinator.WithRejectionObserver(rt.metrics))
	}
	rt.pool = pool.New(rt.sandbox, cfg.MaxConcurrent, poolOpts...)
	rt.coord = coordinator.New(store, rt.pool, coordOpts...)

	log.Info("runtime ready",
		zap.String("engine", rt.sandbox.Engine()),
		zap.Int("max_concurrent", cfg.MaxConcurrent))
	return rt, nil
}

// Engine names the JS engine backing the sandbox.
func (rt *Runtime) Engine() string { return rt.sandbox.Engine() }

// CreateFunction deploys a new function.
func (rt *Runtime) CreateFunction(req CreateFunctionRequest) (*Function, error) {
	return rt.store.Create(req)
}

// UpdateFunction changes a deployed function.
func (rt *Runtime) UpdateFunction(id string, req UpdateFunctionRequest) (*Function, error) {
	fn, err := rt.store.Update(id, req)
	if err != nil {
		return nil, err
	}
	rt.coord.ForgetSource(id)
	return fn, nil
}

// DeleteFunction removes a deployed function.
func (rt *Runtime) DeleteFunction(id string) error {
	if err := rt.store.Delete(id); err != nil {
		return err
	}
	rt.coord.ForgetSource(id)
	return nil
}

// Function returns a copy of the function with id.
func (rt *Runtime) Function(id string) (*Function, error) {
	return rt.store.Get(id)
}

// Functions lists every deployed function.
func (rt *Runtime) Functions() []*Function {
	return rt.store.List()
}

// Invoke runs the function with id, bypassing route dispatch.
func (rt *Runtime) Invoke(ctx context.Context, id string, req InvocationRequest) (*InvocationResponse, error) {
	fn, err := rt.store.Get(id)
	if err != nil {
		return nil, err
	}
	return rt.coord.Invoke(ctx, fn, req), nil
}

// InvokeByRoute dispatches a request to the function serving route.
// Rejections are returned as *DispatchError.
func (rt *Runtime) InvokeByRoute(ctx context.Context, route, method string, req InvocationRequest) (*InvocationResponse, error) {
	return rt.coord.InvokeByRoute(ctx, route, method, req)
}

// Execute runs code directly on the pool under cfg, without a deployed
// function. cfg nil means the system defaults.
func (rt *Runtime) Execute(ctx context.Context, tenantID, code string, payload json.RawMessage, cfg *SandboxConfig) *ExecutionResult {
	return rt.pool.Execute(ctx, tenantID, code, payload, cfg)
}

// Stats returns the process-wide execution statistics.
func (rt *Runtime) Stats() PoolStats { return rt.pool.Stats() }

// FunctionStats returns one function's execution statistics.
func (rt *Runtime) FunctionStats(id string) (FunctionStats, bool) {
	return rt.pool.FunctionStats(id)
}

// Handler returns the HTTP gateway for this runtime.
func (rt *Runtime) Handler() http.Handler {
	return api.NewServer(api.Config{
		Registry: rt.store,
		Invoker:  rt.coord,
		Metrics:  rt.metrics,
		Tail:     rt.tail,
		Logger:   rt.log.Named("api"),
		Engine:   rt.sandbox.Engine(),
		Version:  Version,
	}).Handler()
}

// Close releases the function store.
func (rt *Runtime) Close() error {
	return rt.store.Close()
}
