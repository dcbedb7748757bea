//go:build !v8

package quickjs

import (
	"encoding/json"
	"time"

	"github.com/cryguy/nexo/internal/core"
	"github.com/cryguy/nexo/internal/webapi"
	"modernc.org/quickjs"
)

// EngineName identifies this backend in stats and health output.
const EngineName = "quickjs"

// runHarnessJS invokes the compiled wrapper and removes it from the global
// object first so user code cannot re-enter it.
const runHarnessJS = `(function() {
	var h = globalThis.__harness;
	delete globalThis.__harness;
	return h();
})()`

// memoryAccounting is true when the VM internals needed for heap stats
// could be read on this build of modernc.org/quickjs.
var memoryAccounting bool

func init() {
	core.RegisterEngineSetup(func() {
		vm, err := quickjs.NewVM()
		if err != nil {
			return
		}
		defer vm.Close()
		rt := newRuntime(vm)
		memoryAccounting = rt.cRuntime != 0
	})
}

// Sandbox runs each call in a brand-new QuickJS VM that is closed before
// Run returns. Nothing is shared between calls.
type Sandbox struct {
	maxOutputBytes int
}

var _ core.Sandbox = (*Sandbox)(nil)

// NewSandbox creates a QuickJS sandbox.
func NewSandbox(cfg core.EngineConfig) *Sandbox {
	core.InitEngine()
	return &Sandbox{maxOutputBytes: cfg.MaxOutputBytes}
}

// Engine returns "quickjs".
func (s *Sandbox) Engine() string { return EngineName }

// MemoryAccounting reports whether MemoryUsedBytes is measured on this build.
func (s *Sandbox) MemoryAccounting() bool { return memoryAccounting }

// Run executes code against payload under cfg. It never panics.
func (s *Sandbox) Run(code string, payload json.RawMessage, cfg core.SandboxConfig) (result *core.ExecutionResult) {
	start := time.Now()
	logs := &core.LogBuffer{}

	defer func() {
		if p := recover(); p != nil {
			result = core.Failed(core.NewSandboxError(core.KindExecutionUnit, "Sandbox panic: %v", p), time.Since(start), logs.Lines())
		}
	}()

	vm, err := quickjs.NewVM()
	if err != nil {
		return core.Failed(core.NewSandboxError(core.KindExecutionUnit, "Failed to create isolate: %v", err), time.Since(start), nil)
	}
	defer vm.Close()

	if cfg.MaxHeapSizeBytes > 0 {
		vm.SetMemoryLimit(uintptr(cfg.MaxHeapSizeBytes))
	}

	rt := newRuntime(vm)
	if err := webapi.SetupSandbox(rt, logs); err != nil {
		return core.Failed(core.NewSandboxError(core.KindExecutionUnit, "Sandbox setup failed: %v", err), time.Since(start), logs.Lines())
	}
	if err := webapi.InjectRequest(rt, payload); err != nil {
		return core.Failed(core.NewSandboxError(core.KindExecutionUnit, "Injecting request failed: %v", err), time.Since(start), logs.Lines())
	}

	if exceeded(start, cfg) {
		return core.Failed(core.TimeoutError(cfg.MaxExecutionTimeMs), time.Since(start), logs.Lines())
	}

	if err := rt.Eval(webapi.HarnessFunctionScript(code)); err != nil {
		return core.Failed(core.NewSandboxError(core.KindCompile, "Compilation error: %v", err), time.Since(start), logs.Lines())
	}
	raw, err := rt.EvalString(runHarnessJS)
	if err != nil {
		return core.Failed(core.NewSandboxError(core.KindRuntime, "Execution error: %v", err), time.Since(start), logs.Lines())
	}

	if exceeded(start, cfg) {
		return core.Failed(core.TimeoutError(cfg.MaxExecutionTimeMs), time.Since(start), logs.Lines())
	}

	out, err := webapi.DecodeResult(raw, s.maxOutputBytes)
	if err != nil {
		return core.Failed(err, time.Since(start), logs.Lines())
	}
	return core.Succeeded(out, time.Since(start), rt.MemoryUsed(), logs.Lines())
}

// exceeded is the checkpoint test. A zero limit disables it.
func exceeded(start time.Time, cfg core.SandboxConfig) bool {
	return cfg.MaxExecutionTimeMs > 0 && time.Since(start) > cfg.Timeout()
}
