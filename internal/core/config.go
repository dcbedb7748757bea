package core

// EngineConfig holds runtime configuration for the execution core.
type EngineConfig struct {
	MaxConcurrent    int    // sandbox runs allowed at once
	DefaultTimeoutMs uint64 // applied when a function declares no time limit
	DefaultMemoryMB  uint32 // applied when a function declares no memory limit
	MaxOutputBytes   int    // cap on the serialized return value of a run
}

// DefaultEngineConfig mirrors the stock runtime settings.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		MaxConcurrent:    100,
		DefaultTimeoutMs: DefaultMaxExecutionTimeMs,
		DefaultMemoryMB:  128,
		MaxOutputBytes:   10 << 20,
	}
}
