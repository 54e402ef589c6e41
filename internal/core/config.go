package core

import "time"

// EngineConfig holds runtime configuration for the render engine. The root
// package converts its YAML-facing Config into this.
type EngineConfig struct {
	PoolSize         int           // number of pre-warmed JS runtimes
	MemoryLimitMB    int           // per-runtime memory limit
	ExecutionTimeout time.Duration // upper bound for one render
	CacheEnabled     bool
	CacheSize        int
	AsyncConcurrency int    // max concurrently resolving async results, 0 = unbounded
	HelpersLoader    string // "js" or "ts"
	Modules          map[string]string
}
