package render

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/cryguy/render/internal/core"
	"github.com/cryguy/render/internal/isolate"
	"github.com/cryguy/render/internal/logging"
)

// Config is the runtime configuration. It is usually loaded from YAML with
// LoadConfig; environment variables override the file:
//
//   - RENDER_CACHE_ENABLED, RENDER_CACHE_SIZE
//   - RENDER_POOL_SIZE, RENDER_MEMORY_LIMIT_MB
//   - RENDER_TIMEOUT (Go duration)
//   - RENDER_ASYNC_CONCURRENCY
//   - RENDER_HELPERS_LOADER (js or ts)
//   - RENDER_LOG_LEVEL, RENDER_LOG_FORMAT
//   - RENDER_STORE_PATH
type Config struct {
	Cache   CacheConfig       `yaml:"cache"`
	Pool    PoolConfig        `yaml:"pool"`
	Timeout time.Duration     `yaml:"timeout"`
	Async   AsyncConfig       `yaml:"async"`
	Helpers HelpersConfig     `yaml:"helpers"`
	Modules map[string]string `yaml:"modules"` // module name -> CommonJS source helpers may require
	Log     LogConfig         `yaml:"log"`
	Store   StoreConfig       `yaml:"store"`
}

type CacheConfig struct {
	Enabled bool `yaml:"enabled"`
	Size    int  `yaml:"size"`
}

type PoolConfig struct {
	Size          int `yaml:"size"`
	MemoryLimitMB int `yaml:"memory_limit_mb"`
}

type AsyncConfig struct {
	Concurrency int `yaml:"concurrency"` // 0 = unbounded
}

type HelpersConfig struct {
	Loader string `yaml:"loader"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type StoreConfig struct {
	Path string `yaml:"path"` // SQLite file; empty keeps entities in memory
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		Cache:   CacheConfig{Enabled: true, Size: 100},
		Pool:    PoolConfig{Size: 4, MemoryLimitMB: 128},
		Timeout: 30 * time.Second,
		Helpers: HelpersConfig{Loader: isolate.LoaderJS},
		Log:     LogConfig{Level: "info", Format: logging.FormatConsole},
	}
}

// LoadConfig reads path (skipped when empty), loads .env when present,
// applies environment overrides and validates the result.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	var err error
	if c.Cache.Enabled, err = getBoolEnv("RENDER_CACHE_ENABLED", c.Cache.Enabled); err != nil {
		return err
	}
	if c.Cache.Size, err = getIntEnv("RENDER_CACHE_SIZE", c.Cache.Size); err != nil {
		return err
	}
	if c.Pool.Size, err = getIntEnv("RENDER_POOL_SIZE", c.Pool.Size); err != nil {
		return err
	}
	if c.Pool.MemoryLimitMB, err = getIntEnv("RENDER_MEMORY_LIMIT_MB", c.Pool.MemoryLimitMB); err != nil {
		return err
	}
	if c.Async.Concurrency, err = getIntEnv("RENDER_ASYNC_CONCURRENCY", c.Async.Concurrency); err != nil {
		return err
	}
	if v := os.Getenv("RENDER_TIMEOUT"); v != "" {
		if c.Timeout, err = time.ParseDuration(v); err != nil {
			return fmt.Errorf("RENDER_TIMEOUT: %w", err)
		}
	}
	c.Helpers.Loader = getEnv("RENDER_HELPERS_LOADER", c.Helpers.Loader)
	c.Log.Level = getEnv("RENDER_LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("RENDER_LOG_FORMAT", c.Log.Format)
	c.Store.Path = getEnv("RENDER_STORE_PATH", c.Store.Path)
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", key)
	}
	return n, nil
}

func getBoolEnv(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean", key)
	}
	return b, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Cache.Size < 1 {
		return fmt.Errorf("cache.size must be at least 1")
	}
	if c.Pool.Size < 0 {
		return fmt.Errorf("pool.size must not be negative")
	}
	if c.Pool.MemoryLimitMB < 1 {
		return fmt.Errorf("pool.memory_limit_mb must be at least 1")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.Async.Concurrency < 0 {
		return fmt.Errorf("async.concurrency must not be negative")
	}
	switch c.Helpers.Loader {
	case isolate.LoaderJS, isolate.LoaderTS:
	default:
		return fmt.Errorf("helpers.loader must be %q or %q", isolate.LoaderJS, isolate.LoaderTS)
	}
	switch c.Log.Format {
	case logging.FormatConsole, logging.FormatJSON:
	default:
		return fmt.Errorf("log.format must be %q or %q", logging.FormatConsole, logging.FormatJSON)
	}
	return nil
}

func (c *Config) engineConfig() core.EngineConfig {
	return core.EngineConfig{
		PoolSize:         c.Pool.Size,
		MemoryLimitMB:    c.Pool.MemoryLimitMB,
		ExecutionTimeout: c.Timeout,
		CacheEnabled:     c.Cache.Enabled,
		CacheSize:        c.Cache.Size,
		AsyncConcurrency: c.Async.Concurrency,
		HelpersLoader:    c.Helpers.Loader,
		Modules:          c.Modules,
	}
}
