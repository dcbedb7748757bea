package core

import "sync"

var (
	engineOnce  sync.Once
	engineMu    sync.Mutex
	engineSetup func()
)

// RegisterEngineSetup installs the backend's process-wide platform setup.
// Backends call it from an init function; the last registration wins.
func RegisterEngineSetup(fn func()) {
	engineMu.Lock()
	engineSetup = fn
	engineMu.Unlock()
}

// InitEngine runs the registered platform setup exactly once per process.
// Safe to call from any number of constructors and goroutines.
func InitEngine() {
	engineOnce.Do(func() {
		engineMu.Lock()
		fn := engineSetup
		engineMu.Unlock()
		if fn != nil {
			fn()
		}
	})
}
