package pool

import (
	"sync"

	"github.com/cryguy/nexo/internal/core"
)

// statsRecorder owns PoolStats and the per-function map. Every mutation of
// both happens under mu so one execution is visible as a single update.
type statsRecorder struct {
	mu        sync.RWMutex
	pool      core.PoolStats
	functions map[string]*core.FunctionStats
}

func newStatsRecorder(maxConcurrent int) *statsRecorder {
	return &statsRecorder{
		pool:      core.PoolStats{MaxConcurrent: maxConcurrent},
		functions: make(map[string]*core.FunctionStats),
	}
}

func (s *statsRecorder) setConcurrent(n int) {
	s.mu.Lock()
	s.pool.CurrentConcurrent = n
	s.mu.Unlock()
}

// record applies one completed execution to the pool totals and to the
// function's entry, creating the entry on first use.
func (s *statsRecorder) record(functionID string, r *core.ExecutionResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := &s.pool
	p.TotalExecutions++
	p.TotalExecutionTimeMs += r.ExecutionTimeMs
	p.TotalMemoryUsedBytes += r.MemoryUsedBytes
	if r.Success {
		p.SuccessfulExecutions++
	} else {
		p.FailedExecutions++
	}
	p.AvgExecutionTimeMs = float64(p.TotalExecutionTimeMs) / float64(p.TotalExecutions)

	fs, ok := s.functions[functionID]
	if !ok {
		fs = &core.FunctionStats{}
		s.functions[functionID] = fs
	}
	fs.Invocations++
	fs.TotalTimeMs += r.ExecutionTimeMs
	fs.LastExecutionMs = r.ExecutionTimeMs
	if r.Success {
		fs.Successful++
	} else {
		fs.Failed++
	}
	fs.AvgTimeMs = float64(fs.TotalTimeMs) / float64(fs.Invocations)
}

func (s *statsRecorder) snapshot() core.PoolStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pool
}

func (s *statsRecorder) function(id string) (core.FunctionStats, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fs, ok := s.functions[id]
	if !ok {
		return core.FunctionStats{}, false
	}
	return *fs, true
}

func (s *statsRecorder) allFunctions() map[string]core.FunctionStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]core.FunctionStats, len(s.functions))
	for id, fs := range s.functions {
		out[id] = *fs
	}
	return out
}
