package pool

import (
	"runtime"
	"time"

	"github.com/cryguy/nexo/internal/core"
)

// ThreadExecutor runs every task on a fresh goroutine pinned to its own OS
// thread for the duration of the task.
type ThreadExecutor struct{}

var _ core.Executor = ThreadExecutor{}

// Submit starts task and returns a channel that receives exactly one
// result. A panicking task yields an ExecutionUnitFailure result.
func (ThreadExecutor) Submit(task func() *core.ExecutionResult) <-chan *core.ExecutionResult {
	done := make(chan *core.ExecutionResult, 1)
	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()

		start := time.Now()
		defer func() {
			if p := recover(); p != nil {
				done <- core.Failed(core.NewSandboxError(core.KindExecutionUnit, "Task panicked: %v", p), time.Since(start), nil)
			}
		}()

		r := task()
		if r == nil {
			r = core.Failed(core.NewSandboxError(core.KindExecutionUnit, "Task returned no result"), time.Since(start), nil)
		}
		done <- r
	}()
	return done
}
