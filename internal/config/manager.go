package config

import (
	"fmt"
	"sync"
)

// ConfigManager provides thread-safe access to live configuration, so the
// Scan Loop and Think Loop can each read a consistent snapshot while a
// SIGHUP reload swaps in a new one.
type ConfigManager interface {
	Get() *Config
	Set(cfg *Config)
	Reload(path string) error
}

// RWMutexManager is a ConfigManager backed by a sync.RWMutex. Get returns a
// cloned snapshot so callers never observe a partially-applied reload.
type RWMutexManager struct {
	mu   sync.RWMutex
	cfg  *Config
	path string
}

// NewManager constructs a manager around an already-loaded config.
func NewManager(path string, initial *Config) *RWMutexManager {
	return &RWMutexManager{cfg: initial.Clone(), path: path}
}

// LoadManager loads the config at path and wraps it in a manager.
func LoadManager(path string) (*RWMutexManager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	return NewManager(path, cfg), nil
}

func (m *RWMutexManager) Get() *Config {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg.Clone()
}

func (m *RWMutexManager) Set(cfg *Config) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg = cfg.Clone()
}

// Reload loads config from the manager's path and atomically swaps it in.
func (m *RWMutexManager) Reload(path string) error {
	if m == nil {
		return fmt.Errorf("config manager is nil")
	}
	if path == "" {
		path = m.path
	}
	if path == "" {
		return fmt.Errorf("config reload path is required")
	}

	loaded, err := Load(path)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg = loaded.Clone()
	m.path = path
	return nil
}

var _ ConfigManager = (*RWMutexManager)(nil)
