package config

import (
	"fmt"
	"sync"
)

// Provider hands out the configuration currently in effect.
// Components read it at the moment they need it instead of holding a copy.
type Provider interface {
	Current() *Config
}

// Change is published on a config-change bus whenever relevant settings are saved.
type Change struct {
	Config *Config
	Source string // file path or "manual"
}

// Static is a Provider over a fixed configuration.
type Static struct {
	mu  sync.RWMutex
	cfg *Config
}

// NewStatic wraps cfg.
func NewStatic(cfg *Config) *Static {
	return &Static{cfg: cfg}
}

// Current returns the wrapped configuration.
func (s *Static) Current() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Set replaces the configuration, e.g. from a settings screen.
func (s *Static) Set(cfg *Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

// FileProvider serves the configuration stored in a yaml file and reloads it on demand.
type FileProvider struct {
	path string

	mu  sync.RWMutex
	cfg *Config
}

// NewFileProvider loads path once and returns a provider for it.
func NewFileProvider(path string) (*FileProvider, error) {
	cfg, err := LoadFromFile(path)
	if err != nil {
		return nil, err
	}
	return &FileProvider{path: path, cfg: cfg}, nil
}

// Path returns the watched file.
func (p *FileProvider) Path() string {
	return p.path
}

// Current returns the last successfully loaded configuration.
func (p *FileProvider) Current() *Config {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg
}

// Reload re-reads the file. On error the previous configuration stays in effect.
func (p *FileProvider) Reload() (*Config, error) {
	cfg, err := LoadFromFile(p.path)
	if err != nil {
		return nil, fmt.Errorf("failed to reload config: %w", err)
	}

	p.mu.Lock()
	p.cfg = cfg
	p.mu.Unlock()
	return cfg, nil
}
