// Package plugin holds the native capabilities the UI bridge can invoke. Each
// plugin is registered once at creation under a stable name.
package plugin

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

var (
	// ErrUnknownPlugin is returned when invoking a plugin that was never registered.
	ErrUnknownPlugin = errors.New("plugin: unknown plugin")

	// ErrUnknownMethod is returned when a plugin has no such method.
	ErrUnknownMethod = errors.New("plugin: unknown method")

	// ErrDuplicatePlugin is returned when a name is registered twice.
	ErrDuplicatePlugin = errors.New("plugin: already registered")

	// ErrInvalidArgument is returned when a method argument is missing or has the wrong type.
	ErrInvalidArgument = errors.New("plugin: invalid argument")
)

// Host is what plugins may ask of the shell that loads them.
type Host interface {
	// RegisterReadyCallback sets the function run when the playback service is ready.
	RegisterReadyCallback(fn func())
	// StopService unbinds and stops the playback service.
	StopService()
}

// Emitter pushes events to the UI.
type Emitter interface {
	Emit(event string, data any)
}

// Plugin is a capability unit callable from the UI.
type Plugin interface {
	Name() string
	Load(host Host) error
	Invoke(ctx context.Context, method string, args map[string]any) (any, error)
}

// Registry holds the loaded plugins.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]Plugin
	order   []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{plugins: make(map[string]Plugin)}
}

// Register loads p with host and makes it invokable.
func (r *Registry) Register(host Host, p Plugin) error {
	name := p.Name()

	r.mu.Lock()
	if _, ok := r.plugins[name]; ok {
		r.mu.Unlock()
		return fmt.Errorf("%s: %w", name, ErrDuplicatePlugin)
	}
	r.mu.Unlock()

	if err := p.Load(host); err != nil {
		return fmt.Errorf("load plugin %s: %w", name, err)
	}

	r.mu.Lock()
	r.plugins[name] = p
	r.order = append(r.order, name)
	r.mu.Unlock()

	log.Info().Str("plugin", name).Msg("Plugin registered")
	return nil
}

// Get returns the plugin registered under name.
func (r *Registry) Get(name string) (Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[name]
	return p, ok
}

// Names returns plugin names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Invoke calls method on the named plugin.
func (r *Registry) Invoke(ctx context.Context, name, method string, args map[string]any) (any, error) {
	p, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrUnknownPlugin)
	}
	if args == nil {
		args = map[string]any{}
	}

	log.Debug().Str("plugin", name).Str("method", method).Msg("Invoking plugin")
	return p.Invoke(ctx, method, args)
}

func unknownMethod(plugin, method string) error {
	return fmt.Errorf("%s.%s: %w", plugin, method, ErrUnknownMethod)
}
