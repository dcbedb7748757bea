package pool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cryguy/nexo/internal/core"
	"golang.org/x/sync/errgroup"
)

// fakeSandbox interprets code as a tiny command language so pool behavior
// can be tested without a JS engine: "ok", "fail", "panic", "block".
type fakeSandbox struct {
	inFlight    atomic.Int64
	maxInFlight atomic.Int64
	delay       time.Duration
	release     chan struct{}
	onRun       func()

	mu      sync.Mutex
	configs []core.SandboxConfig
}

func (s *fakeSandbox) Engine() string { return "fake" }

func (s *fakeSandbox) Run(code string, _ json.RawMessage, cfg core.SandboxConfig) *core.ExecutionResult {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		m := s.maxInFlight.Load()
		if n <= m || s.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}

	s.mu.Lock()
	s.configs = append(s.configs, cfg)
	s.mu.Unlock()

	if s.onRun != nil {
		s.onRun()
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	switch code {
	case "panic":
		panic("engine exploded")
	case "block":
		<-s.release
	case "fail":
		return core.Failed(core.NewSandboxError(core.KindRuntime, "Execution error: boom"), 3*time.Millisecond, []string{"[LOG] x"})
	}
	return core.Succeeded(core.ValueOutput(json.RawMessage(`"ok"`)), 2*time.Millisecond, 1024, nil)
}

func newTestPool(t *testing.T, max int, sb *fakeSandbox, opts ...Option) *Pool {
	t.Helper()
	return New(sb, max, opts...)
}

func TestPool_ConcurrencyNeverExceedsMax(t *testing.T) {
	const k, n = 3, 24
	sb := &fakeSandbox{delay: 5 * time.Millisecond}
	p := newTestPool(t, k, sb)

	var observedMax atomic.Int64
	sb.onRun = func() {
		c := int64(p.CurrentConcurrent())
		for {
			m := observedMax.Load()
			if c <= m || observedMax.CompareAndSwap(m, c) {
				break
			}
		}
	}

	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(func() error {
			r := p.Execute(context.Background(), "fn", "ok", nil, nil)
			if !r.Success {
				return fmt.Errorf("run failed: %s", r.Error)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}

	if got := sb.maxInFlight.Load(); got > k {
		t.Errorf("sandbox saw %d concurrent runs, max %d", got, k)
	}
	if got := observedMax.Load(); got > k {
		t.Errorf("CurrentConcurrent reached %d, max %d", got, k)
	}
	if p.CurrentConcurrent() != 0 {
		t.Errorf("CurrentConcurrent = %d after all runs", p.CurrentConcurrent())
	}
	if p.AvailablePermits() != k {
		t.Errorf("AvailablePermits = %d, want %d", p.AvailablePermits(), k)
	}
}

func TestPool_TotalsAndAverage(t *testing.T) {
	sb := &fakeSandbox{}
	p := newTestPool(t, 4, sb)

	var g errgroup.Group
	for i := 0; i < 10; i++ {
		code := "ok"
		if i%3 == 0 {
			code = "fail"
		}
		g.Go(func() error {
			p.Execute(context.Background(), "fn", code, nil, nil)
			return nil
		})
	}
	_ = g.Wait()

	s := p.Stats()
	if s.TotalExecutions != 10 {
		t.Errorf("TotalExecutions = %d, want 10", s.TotalExecutions)
	}
	if s.SuccessfulExecutions+s.FailedExecutions != s.TotalExecutions {
		t.Errorf("successful %d + failed %d != total %d", s.SuccessfulExecutions, s.FailedExecutions, s.TotalExecutions)
	}
	if s.FailedExecutions != 4 {
		t.Errorf("FailedExecutions = %d, want 4", s.FailedExecutions)
	}
	want := float64(s.TotalExecutionTimeMs) / float64(s.TotalExecutions)
	if s.AvgExecutionTimeMs != want {
		t.Errorf("AvgExecutionTimeMs = %v, want %v", s.AvgExecutionTimeMs, want)
	}
	if s.TotalExecutionTimeMs != 6*2+4*3 {
		t.Errorf("TotalExecutionTimeMs = %d, want 24", s.TotalExecutionTimeMs)
	}
	if s.TotalMemoryUsedBytes != 6*1024 {
		t.Errorf("TotalMemoryUsedBytes = %d, want %d", s.TotalMemoryUsedBytes, 6*1024)
	}
	if s.MaxConcurrent != 4 {
		t.Errorf("MaxConcurrent = %d, want 4", s.MaxConcurrent)
	}
}

func TestPool_PerFunctionStats(t *testing.T) {
	sb := &fakeSandbox{}
	p := newTestPool(t, 8, sb)

	var g errgroup.Group
	for i := 0; i < 7; i++ {
		g.Go(func() error {
			p.Execute(context.Background(), "f", "ok", nil, nil)
			return nil
		})
	}
	for i := 0; i < 5; i++ {
		g.Go(func() error {
			p.Execute(context.Background(), "g", "fail", nil, nil)
			return nil
		})
	}
	_ = g.Wait()

	f, ok := p.FunctionStats("f")
	if !ok {
		t.Fatal("no stats for f")
	}
	if f.Invocations != 7 || f.Successful != 7 || f.Failed != 0 {
		t.Errorf("f stats = %+v", f)
	}
	if f.AvgTimeMs != 2 || f.LastExecutionMs != 2 {
		t.Errorf("f timing = avg %v last %d", f.AvgTimeMs, f.LastExecutionMs)
	}

	gs, ok := p.FunctionStats("g")
	if !ok {
		t.Fatal("no stats for g")
	}
	if gs.Invocations != 5 || gs.Failed != 5 {
		t.Errorf("g stats = %+v", gs)
	}

	if _, ok := p.FunctionStats("never-ran"); ok {
		t.Error("stats exist for a function that never ran")
	}
	if all := p.AllFunctionStats(); len(all) != 2 {
		t.Errorf("AllFunctionStats has %d entries, want 2", len(all))
	}
}

func TestPool_PanicBecomesFailure(t *testing.T) {
	sb := &fakeSandbox{}
	p := newTestPool(t, 1, sb)

	r := p.Execute(context.Background(), "fn", "panic", nil, nil)
	if r.Success {
		t.Fatal("panicking run reported success")
	}
	if r.ErrorKind != core.KindExecutionUnit {
		t.Errorf("kind = %s, want execution_unit", r.ErrorKind)
	}
	if !strings.HasPrefix(r.Error, "Task panicked:") || !strings.Contains(r.Error, "engine exploded") {
		t.Errorf("error = %q", r.Error)
	}

	// The permit must be back: a second run on a single-permit pool completes.
	r = p.Execute(context.Background(), "fn", "ok", nil, nil)
	if !r.Success {
		t.Fatalf("follow-up run failed: %s", r.Error)
	}
	if s := p.Stats(); s.TotalExecutions != 2 || s.FailedExecutions != 1 {
		t.Errorf("stats = %+v", s)
	}
}

func TestPool_CancelledWhileQueuedIsNotCounted(t *testing.T) {
	sb := &fakeSandbox{release: make(chan struct{})}
	p := newTestPool(t, 1, sb)

	done := make(chan *core.ExecutionResult, 1)
	go func() {
		done <- p.Execute(context.Background(), "fn", "block", nil, nil)
	}()
	for p.CurrentConcurrent() == 0 {
		time.Sleep(time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	r := p.Execute(ctx, "fn", "ok", nil, nil)
	if r.Success || r.ErrorKind != core.KindPermit {
		t.Fatalf("queued run: success=%v kind=%s", r.Success, r.ErrorKind)
	}
	if !errors.Is(&core.SandboxError{Kind: r.ErrorKind}, core.ErrPermit) {
		t.Error("permit failure does not match ErrPermit")
	}

	close(sb.release)
	if first := <-done; !first.Success {
		t.Fatalf("blocked run failed: %s", first.Error)
	}
	if s := p.Stats(); s.TotalExecutions != 1 {
		t.Errorf("TotalExecutions = %d, want 1", s.TotalExecutions)
	}
}

func TestPool_EffectiveConfig(t *testing.T) {
	sb := &fakeSandbox{}
	p := newTestPool(t, 2, sb)

	p.Execute(context.Background(), "fn-default", "ok", nil, nil)
	custom := core.SandboxConfig{MaxExecutionTimeMs: 900, MaxHeapSizeBytes: 1 << 20, TenantID: "fn-custom"}
	p.Execute(context.Background(), "fn-custom", "ok", nil, &custom)

	sb.mu.Lock()
	defer sb.mu.Unlock()
	if len(sb.configs) != 2 {
		t.Fatalf("sandbox saw %d configs", len(sb.configs))
	}
	if sb.configs[0] != core.DefaultSandboxConfig("fn-default") {
		t.Errorf("default config = %+v", sb.configs[0])
	}
	if sb.configs[1] != custom {
		t.Errorf("custom config = %+v", sb.configs[1])
	}
}

type recordingObserver struct {
	mu         sync.Mutex
	executions map[string]int
	maxSeen    int
}

func (o *recordingObserver) ObserveExecution(id string, _ *core.ExecutionResult) {
	o.mu.Lock()
	o.executions[id]++
	o.mu.Unlock()
}

func (o *recordingObserver) SetConcurrent(n int) {
	o.mu.Lock()
	if n > o.maxSeen {
		o.maxSeen = n
	}
	o.mu.Unlock()
}

func TestPool_ObserverSeesEveryExecution(t *testing.T) {
	obs := &recordingObserver{executions: map[string]int{}}
	p := newTestPool(t, 2, &fakeSandbox{}, WithObserver(obs))

	for i := 0; i < 3; i++ {
		p.Execute(context.Background(), "a", "ok", nil, nil)
	}
	p.Execute(context.Background(), "b", "fail", nil, nil)

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if obs.executions["a"] != 3 || obs.executions["b"] != 1 {
		t.Errorf("observer executions = %v", obs.executions)
	}
	if obs.maxSeen != 1 {
		t.Errorf("observer max concurrent = %d, want 1 for serial runs", obs.maxSeen)
	}
}

type nilExecutor struct{}

func (nilExecutor) Submit(func() *core.ExecutionResult) <-chan *core.ExecutionResult {
	ch := make(chan *core.ExecutionResult)
	close(ch)
	return ch
}

func TestPool_ExecutorWithoutResult(t *testing.T) {
	p := newTestPool(t, 1, &fakeSandbox{}, WithExecutor(nilExecutor{}))
	r := p.Execute(context.Background(), "fn", "ok", nil, nil)
	if r.Success || r.ErrorKind != core.KindExecutionUnit {
		t.Errorf("success=%v kind=%s", r.Success, r.ErrorKind)
	}
	if p.CurrentConcurrent() != 0 {
		t.Error("counter not restored")
	}
}

func TestThreadExecutor_DeliversExactlyOnce(t *testing.T) {
	ch := ThreadExecutor{}.Submit(func() *core.ExecutionResult {
		return core.Succeeded(nil, 0, 0, nil)
	})
	r := <-ch
	if r == nil || !r.Success {
		t.Fatalf("result = %+v", r)
	}
	select {
	case extra := <-ch:
		t.Errorf("second result delivered: %+v", extra)
	case <-time.After(10 * time.Millisecond):
	}
}
