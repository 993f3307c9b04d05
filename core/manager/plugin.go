package manager

import (
	"sync"

	"github.com/remoteops/distant/core/errs"
)

// Plugin extends a Manager at load time, e.g. registering extra connect
// handlers for destinations beyond the built-in transports.
type Plugin interface {
	Name() string
	OnLoad(m *Manager) error
	OnUnload(m *Manager)
}

// plugins tracks loaded plugins in load order, so Unload can reverse it.
type plugins struct {
	mu      sync.Mutex
	loaded  []Plugin
	byName  map[string]bool
}

func newPlugins() *plugins {
	return &plugins{byName: make(map[string]bool)}
}

// Load runs p.OnLoad against m and records it. Loading a plugin whose
// Name() is already loaded is a no-op: re-registering the same plugin
// twice (e.g. two config entries pointing at it) must not double-wire
// its connect handlers.
func (p *plugins) Load(m *Manager, plugin Plugin) error {
	p.mu.Lock()
	if p.byName[plugin.Name()] {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	if err := plugin.OnLoad(m); err != nil {
		return errs.Wrap(errs.Other, "plugin "+plugin.Name()+" failed to load", err)
	}

	p.mu.Lock()
	p.byName[plugin.Name()] = true
	p.loaded = append(p.loaded, plugin)
	p.mu.Unlock()
	return nil
}

// UnloadAll runs OnUnload for every loaded plugin in reverse load order,
// so a plugin that depends on one loaded before it is torn down first.
func (p *plugins) UnloadAll(m *Manager) {
	p.mu.Lock()
	loaded := p.loaded
	p.loaded = nil
	p.byName = make(map[string]bool)
	p.mu.Unlock()

	for i := len(loaded) - 1; i >= 0; i-- {
		loaded[i].OnUnload(m)
	}
}
