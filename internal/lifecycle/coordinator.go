// Package lifecycle coordinates the shell's lifecycle events with the plugins,
// the permission gate and the playback service binding.
package lifecycle

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/edumarques81/stellar-shell/internal/binding"
	"github.com/edumarques81/stellar-shell/internal/permission"
	"github.com/edumarques81/stellar-shell/internal/plugin"
)

// Bundle is saved instance state.
type Bundle = map[string]any

// Storage is the persistent storage opened on create.
type Storage interface {
	Open() error
}

// StateStore persists instance state between runs. *store.DB implements it.
type StateStore interface {
	SaveBundle(b map[string]any) error
	LoadBundle() (map[string]any, error)
}

// GrantRecorder remembers permission answers. *store.DB implements it.
type GrantRecorder interface {
	RecordPermission(perm string, granted bool) error
}

// StateHelper takes part in instance state, activity results and permission
// results. *plugin.StorageHelper implements it.
type StateHelper interface {
	OnSaveInstanceState(b map[string]any)
	OnRestoreInstanceState(b map[string]any)
	OnActivityResult(code, resultCode int, data map[string]any) bool
	OnRequestPermissionsResult(code int, perms []string, results []permission.Result)
}

// ServiceConnector is the binding to the playback service.
// *binding.Connector implements it.
type ServiceConnector interface {
	Register(fn func())
	Bind(desc binding.Descriptor) error
	Unbind()
	StopService(desc binding.Descriptor) bool
	State() binding.State
}

// PermissionGate is the storage permission gate. *permission.Gate implements it.
type PermissionGate interface {
	CheckAndRequest(perms ...string) bool
	OnResult(code int, perms []string, results []permission.Result) (permission.Outcome, bool)
}

// Options wires a Coordinator.
type Options struct {
	Storage     Storage
	State       StateStore
	Grants      GrantRecorder
	Registry    *plugin.Registry
	Plugins     []plugin.Plugin
	Gate        PermissionGate
	Permissions []string
	Connector   ServiceConnector
	Service     binding.Descriptor
	Helper      StateHelper
}

// Coordinator is the root of the shell. It forwards lifecycle events to the
// components that own them and implements plugin.Host.
type Coordinator struct {
	opts Options

	mu       sync.Mutex
	phase    Phase
	readyFn  func()
	saved    Bundle
	restored bool
}

// New creates a coordinator in PhaseInitialized.
func New(opts Options) *Coordinator {
	if opts.Registry == nil {
		opts.Registry = plugin.NewRegistry()
	}
	return &Coordinator{opts: opts, phase: PhaseInitialized}
}

// Phase returns the current phase.
func (c *Coordinator) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Registry returns the plugin registry.
func (c *Coordinator) Registry() *plugin.Registry {
	return c.opts.Registry
}

// SavedState returns the instance state restored by the base restore hook.
func (c *Coordinator) SavedState() Bundle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saved
}

func (c *Coordinator) enter(from, to Phase) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != from {
		return fmt.Errorf("%s in phase %s: %w", to, c.phase, ErrInvalidPhase)
	}
	c.phase = to
	log.Info().Str("from", from.String()).Str("to", to.String()).Msg("Lifecycle phase changed")
	return nil
}

// OnCreate opens storage, registers the plugins and checks permissions. A nil
// saved bundle means the persisted state is loaded instead.
func (c *Coordinator) OnCreate(saved Bundle) error {
	if p := c.Phase(); p != PhaseInitialized {
		return fmt.Errorf("create in phase %s: %w", p, ErrInvalidPhase)
	}

	if c.opts.Storage != nil {
		if err := c.opts.Storage.Open(); err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
	}

	if saved == nil && c.opts.State != nil {
		loaded, err := c.opts.State.LoadBundle()
		if err != nil {
			log.Warn().Err(err).Msg("Failed to load saved state")
		} else if len(loaded) > 0 {
			saved = loaded
		}
	}

	for _, p := range c.opts.Plugins {
		if err := c.opts.Registry.Register(c, p); err != nil {
			return err
		}
	}

	if err := c.enter(PhaseInitialized, PhaseCreated); err != nil {
		return err
	}

	c.mu.Lock()
	c.saved = saved
	c.mu.Unlock()

	log.Debug().Strs("plugins", c.opts.Registry.Names()).Msg("onCreate")

	if c.opts.Gate != nil && len(c.opts.Permissions) > 0 {
		c.opts.Gate.CheckAndRequest(c.opts.Permissions...)
	}
	return nil
}

// OnPostCreate restores saved state if there is any, then binds the playback
// service. It must follow OnCreate so the ready callback is already registered.
func (c *Coordinator) OnPostCreate() error {
	c.mu.Lock()
	phase := c.phase
	saved := c.saved
	restored := c.restored
	c.mu.Unlock()

	if phase != PhaseCreated {
		return fmt.Errorf("post create in phase %s: %w", phase, ErrInvalidPhase)
	}
	if len(saved) > 0 && !restored {
		c.OnRestoreInstanceState(saved)
	}

	if err := c.enter(PhaseCreated, PhasePostCreated); err != nil {
		return err
	}

	log.Debug().Str("service", c.opts.Service.Name).Msg("onPostCreate")
	c.opts.Connector.Register(c.onServiceReady)
	if err := c.opts.Connector.Bind(c.opts.Service); err != nil {
		return fmt.Errorf("bind %s: %w", c.opts.Service.Name, err)
	}
	return nil
}

// RegisterReadyCallback implements plugin.Host. The last registration wins.
func (c *Coordinator) RegisterReadyCallback(fn func()) {
	c.mu.Lock()
	c.readyFn = fn
	c.mu.Unlock()
	c.opts.Connector.Register(c.onServiceReady)
}

// StopService implements plugin.Host.
func (c *Coordinator) StopService() {
	c.Stop()
}

func (c *Coordinator) onServiceReady() {
	c.mu.Lock()
	if c.phase == PhasePostCreated {
		c.phase = PhaseActive
		log.Info().Str("from", PhasePostCreated.String()).Str("to", PhaseActive.String()).Msg("Lifecycle phase changed")
	}
	destroyed := c.phase == PhaseDestroyed
	fn := c.readyFn
	c.mu.Unlock()

	if destroyed {
		return
	}
	if fn != nil {
		fn()
	}
}

// Stop unbinds from the playback service and stops it, even if this shell is
// not bound to it.
func (c *Coordinator) Stop() {
	if state := c.opts.Connector.State(); state != binding.StateUnbound {
		c.opts.Connector.Unbind()
	}
	stopped := c.opts.Connector.StopService(c.opts.Service)
	log.Info().Bool("was_running", stopped).Msg("Playback service stopped")
}

// OnSaveInstanceState lets the helper store its state first, then persists the bundle.
func (c *Coordinator) OnSaveInstanceState(out Bundle) error {
	if c.opts.Helper != nil {
		c.opts.Helper.OnSaveInstanceState(out)
	}
	if c.opts.State == nil {
		return nil
	}
	if err := c.opts.State.SaveBundle(out); err != nil {
		return fmt.Errorf("save instance state: %w", err)
	}
	log.Debug().Int("keys", len(out)).Msg("Instance state saved")
	return nil
}

// OnRestoreInstanceState takes the bundle as the base state first, then hands it
// to the helper.
func (c *Coordinator) OnRestoreInstanceState(in Bundle) {
	c.mu.Lock()
	c.saved = in
	c.restored = true
	c.mu.Unlock()

	if c.opts.Helper != nil {
		c.opts.Helper.OnRestoreInstanceState(in)
	}
	log.Debug().Int("keys", len(in)).Msg("Instance state restored")
}

// OnActivityResult forwards an activity result to the helper.
func (c *Coordinator) OnActivityResult(code, resultCode int, data map[string]any) {
	if c.Phase() == PhaseDestroyed {
		log.Debug().Int("request_code", code).Msg("Dropping activity result after destroy")
		return
	}
	if c.opts.Helper == nil || !c.opts.Helper.OnActivityResult(code, resultCode, data) {
		log.Debug().Int("request_code", code).Msg("Unhandled activity result")
	}
}

// OnRequestPermissionsResult passes the answer to the gate and, if the gate
// accepted it, records the grants and notifies the helper. Permissions in the
// answer that were never requested are ignored.
func (c *Coordinator) OnRequestPermissionsResult(code int, perms []string, results []permission.Result) {
	log.Debug().Int("request_code", code).Strs("permissions", perms).Msg("onRequestPermissionsResult")

	if c.opts.Gate == nil {
		return
	}
	outcome, ok := c.opts.Gate.OnResult(code, perms, results)
	if !ok {
		return
	}

	// Only the permissions that were asked for are recorded and passed on.
	requested := outcome.Requested
	answers := make([]permission.Result, len(requested))
	for i, p := range requested {
		answers[i] = permission.Denied
		if outcome.IsGranted(p) {
			answers[i] = permission.Granted
		}
		if c.opts.Grants != nil {
			if err := c.opts.Grants.RecordPermission(p, answers[i] == permission.Granted); err != nil {
				log.Error().Err(err).Str("permission", p).Msg("Failed to record permission")
			}
		}
	}
	if c.opts.Helper != nil {
		c.opts.Helper.OnRequestPermissionsResult(code, requested, answers)
	}
}

// OnDestroy releases the binding. The service keeps running if it was started.
func (c *Coordinator) OnDestroy() {
	c.mu.Lock()
	if c.phase == PhaseDestroyed {
		c.mu.Unlock()
		return
	}
	from := c.phase
	c.phase = PhaseDestroyed
	c.mu.Unlock()

	c.opts.Connector.Unbind()
	log.Info().Str("from", from.String()).Str("to", PhaseDestroyed.String()).Msg("Lifecycle phase changed")
}
