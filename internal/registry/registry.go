// Package registry manages module lifecycle: registration, dependency
// resolution, initialization, and shutdown of CoreSentry modules.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ravenhall-io/coresentry/pkg/plugin"
	"go.uber.org/zap"
)

// Registry manages the lifecycle of all registered modules.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]plugin.Plugin
	infos   map[string]plugin.PluginInfo
	order   []string // topological order after Validate
	started []string // names started so far, in start order
	logger  *zap.Logger
}

// New creates a new module registry.
func New(logger *zap.Logger) *Registry {
	return &Registry{
		plugins: make(map[string]plugin.Plugin),
		infos:   make(map[string]plugin.PluginInfo),
		logger:  logger,
	}
}

// Register adds a module to the registry. Must be called before Validate.
func (r *Registry) Register(p plugin.Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	info := p.Info()
	name := info.Name

	if name == "" {
		return fmt.Errorf("plugin has empty name")
	}
	if _, exists := r.plugins[name]; exists {
		return fmt.Errorf("plugin %q already registered", name)
	}

	r.plugins[name] = p
	r.infos[name] = info
	r.logger.Info("plugin registered",
		zap.String("name", name),
		zap.String("version", info.Version),
	)
	return nil
}

// Validate resolves dependencies via topological sort and verifies there
// are no cycles or missing dependencies.
func (r *Registry) Validate() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for name, info := range r.infos {
		for _, dep := range info.Dependencies {
			if _, ok := r.plugins[dep]; !ok {
				return fmt.Errorf("plugin %q depends on %q which is not registered", name, dep)
			}
		}
	}

	order, err := r.topologicalSort()
	if err != nil {
		return err
	}
	r.order = order

	r.logger.Info("plugin dependency resolution complete",
		zap.Strings("start_order", r.order),
	)
	return nil
}

// InitAll initializes all modules in dependency order.
func (r *Registry) InitAll(ctx context.Context, depsFn func(name string) plugin.Dependencies) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, name := range r.order {
		r.logger.Info("initializing plugin", zap.String("name", name))
		if err := r.plugins[name].Init(ctx, depsFn(name)); err != nil {
			return fmt.Errorf("plugin %q failed to initialize: %w", name, err)
		}
	}
	return nil
}

// StartAll starts all initialized modules in dependency order.
func (r *Registry) StartAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, name := range r.order {
		r.logger.Info("starting plugin", zap.String("name", name))
		if err := r.plugins[name].Start(ctx); err != nil {
			return fmt.Errorf("plugin %q failed to start: %w", name, err)
		}
		r.started = append(r.started, name)
	}
	return nil
}

// StopAll stops started modules in reverse start order. Errors are logged
// but do not interrupt the shutdown of remaining modules.
func (r *Registry) StopAll(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := len(r.started) - 1; i >= 0; i-- {
		name := r.started[i]
		r.logger.Info("stopping plugin", zap.String("name", name))
		if err := r.plugins[name].Stop(ctx); err != nil {
			r.logger.Error("plugin failed to stop", zap.String("name", name), zap.Error(err))
		}
	}
	r.started = nil
}

// Resolve returns a registered module by name.
func (r *Registry) Resolve(name string) (plugin.Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[name]
	return p, ok
}

// topologicalSort orders modules so that dependencies initialize first.
// Caller holds r.mu.
func (r *Registry) topologicalSort() ([]string, error) {
	const (
		unvisited = iota
		visiting
		visited
	)
	state := make(map[string]int, len(r.plugins))
	var order []string

	var visit func(name string) error
	visit = func(name string) error {
		switch state[name] {
		case visited:
			return nil
		case visiting:
			return fmt.Errorf("dependency cycle involving plugin %q", name)
		}
		state[name] = visiting
		for _, dep := range r.infos[name].Dependencies {
			if err := visit(dep); err != nil {
				return err
			}
		}
		state[name] = visited
		order = append(order, name)
		return nil
	}

	// Deterministic iteration keeps start order stable across runs.
	names := make([]string, 0, len(r.plugins))
	for name := range r.plugins {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := visit(name); err != nil {
			return nil, err
		}
	}
	return order, nil
}
