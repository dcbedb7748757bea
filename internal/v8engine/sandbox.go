//go:build v8

package v8engine

import (
	"encoding/json"
	"time"

	"github.com/cryguy/nexo/internal/core"
	"github.com/cryguy/nexo/internal/webapi"
	v8 "github.com/tommie/v8go"
)

// EngineName identifies this backend in stats and health output.
const EngineName = "v8"

func init() {
	// The first isolate brings up the V8 platform, which is slow and
	// process-wide. Do it once up front instead of inside a timed run.
	core.RegisterEngineSetup(func() {
		iso := v8.NewIsolate()
		iso.Dispose()
	})
}

// Sandbox runs each call in a brand-new V8 isolate with its own heap
// ceiling. The isolate is disposed before Run returns.
type Sandbox struct {
	maxOutputBytes int
}

var _ core.Sandbox = (*Sandbox)(nil)

// NewSandbox creates a V8 sandbox.
func NewSandbox(cfg core.EngineConfig) *Sandbox {
	core.InitEngine()
	return &Sandbox{maxOutputBytes: cfg.MaxOutputBytes}
}

// Engine returns "v8".
func (s *Sandbox) Engine() string { return EngineName }

// MemoryAccounting is always available through isolate heap statistics.
func (s *Sandbox) MemoryAccounting() bool { return true }

func newIsolate(heapBytes uint64) *v8.Isolate {
	if heapBytes == 0 {
		return v8.NewIsolate()
	}
	return v8.NewIsolate(v8.WithResourceConstraints(heapBytes/2, heapBytes))
}

// Run executes code against payload under cfg. It never panics.
func (s *Sandbox) Run(code string, payload json.RawMessage, cfg core.SandboxConfig) (result *core.ExecutionResult) {
	start := time.Now()
	logs := &core.LogBuffer{}

	defer func() {
		if p := recover(); p != nil {
			result = core.Failed(core.NewSandboxError(core.KindExecutionUnit, "Sandbox panic: %v", p), time.Since(start), logs.Lines())
		}
	}()

	iso := newIsolate(cfg.MaxHeapSizeBytes)
	defer iso.Dispose()
	ctx := v8.NewContext(iso)
	defer ctx.Close()

	rt := &v8Runtime{iso: iso, ctx: ctx}
	if err := webapi.SetupSandbox(rt, logs); err != nil {
		return core.Failed(core.NewSandboxError(core.KindExecutionUnit, "Sandbox setup failed: %v", err), time.Since(start), logs.Lines())
	}
	if err := webapi.InjectRequest(rt, payload); err != nil {
		return core.Failed(core.NewSandboxError(core.KindExecutionUnit, "Injecting request failed: %v", err), time.Since(start), logs.Lines())
	}

	if exceeded(start, cfg) {
		return core.Failed(core.TimeoutError(cfg.MaxExecutionTimeMs), time.Since(start), logs.Lines())
	}

	script, err := iso.CompileUnboundScript(webapi.HarnessScript(code), "handler.js", v8.CompileOptions{})
	if err != nil {
		return core.Failed(core.NewSandboxError(core.KindCompile, "Compilation error: %v", err), time.Since(start), logs.Lines())
	}
	val, err := script.Run(ctx)
	if err != nil {
		return core.Failed(core.NewSandboxError(core.KindRuntime, "Execution error: %v", err), time.Since(start), logs.Lines())
	}

	if exceeded(start, cfg) {
		return core.Failed(core.TimeoutError(cfg.MaxExecutionTimeMs), time.Since(start), logs.Lines())
	}

	raw := ""
	if val != nil {
		raw = val.String()
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
