package config

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// The process-wide configuration. Readers never block; loads are serialized
// so a slow reload cannot be overtaken by an older one.
var (
	current  atomic.Pointer[Config]
	loadMu   sync.Mutex
	loadOnce sync.Once
)

// Initialize loads path (with environment overrides) as the process
// configuration. Only the first call loads anything.
func Initialize(path string) error {
	var err error
	loadOnce.Do(func() {
		err = ReloadConfig(path)
	})
	return err
}

// ReloadConfig loads path and publishes it. On failure the published
// configuration is left as it was.
func ReloadConfig(path string) error {
	loadMu.Lock()
	defer loadMu.Unlock()

	cfg, err := LoadConfigWithEnvOverrides(path)
	if err != nil {
		return fmt.Errorf("failed to reload configuration: %w", err)
	}
	current.Store(cfg)
	return nil
}

// GetConfig returns the published configuration, or nil before the first
// successful load.
func GetConfig() *Config {
	return current.Load()
}

// SetConfig publishes cfg directly. Tests use it to skip the loader.
func SetConfig(cfg *Config) {
	current.Store(cfg)
}

// MustGetConfig is GetConfig for callers that cannot run unconfigured.
func MustGetConfig() *Config {
	cfg := current.Load()
	if cfg == nil {
		panic("config: no configuration loaded")
	}
	return cfg
}
