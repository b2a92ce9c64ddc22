package binding

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Descriptor names the service to bind.
type Descriptor struct {
	Name string
}

// BindFlags modify a bind request.
type BindFlags int

const (
	// BindAutoCreate allows the binder to create the service if it is not running.
	BindAutoCreate BindFlags = 1 << iota
)

// Connection receives the asynchronous outcome of a bind request.
type Connection interface {
	OnServiceConnected(name string, service any)
	OnServiceDisconnected(name string)
}

// Binder is the service manager the connector binds through.
// BindService returns immediately; the result arrives later on conn.
type Binder interface {
	BindService(desc Descriptor, conn Connection, flags BindFlags) error
	UnbindService(conn Connection)
	StopService(desc Descriptor) bool
}

// LocalBinder is implemented by binder objects that wrap an in-process service.
type LocalBinder[H any] interface {
	Service() H
}

// Connector owns the binding to one background service and exposes the typed
// handle H while bound.
//
// State changes come from Bind, Unbind and the binder callbacks. All of them are
// expected on the same goroutine (the looper); the mutex makes the queries safe
// from anywhere else.
type Connector[H any] struct {
	mu        sync.Mutex
	binder    Binder
	desc      Descriptor
	state     State
	handle    H
	hasHandle bool
	session   uuid.UUID
	conn      *connection[H]
	ready     *ReadyCallback
}

// NewConnector creates an unbound connector using binder and the given ready policy.
func NewConnector[H any](binder Binder, policy ReArmPolicy) *Connector[H] {
	return &Connector[H]{
		binder: binder,
		state:  StateUnbound,
		ready:  NewReadyCallback(policy),
	}
}

// connection ties binder callbacks to the bind session that requested them.
type connection[H any] struct {
	c       *Connector[H]
	session uuid.UUID
}

func (cn *connection[H]) OnServiceConnected(name string, service any) {
	cn.c.onConnected(cn.session, name, service)
}

func (cn *connection[H]) OnServiceDisconnected(name string) {
	cn.c.onDisconnected(cn.session, name)
}

// Register sets the ready callback. Last registration wins.
func (c *Connector[H]) Register(fn func()) {
	c.ready.Register(fn)
}

// Bind starts binding to desc. It requires the connector to be unbound and returns
// before the service is connected.
func (c *Connector[H]) Bind(desc Descriptor) error {
	c.mu.Lock()
	if !canTransition(c.state, StateBinding) {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("bind %s in state %s: %w", desc.Name, state, ErrAlreadyBound)
	}
	session := uuid.New()
	conn := &connection[H]{c: c, session: session}
	c.desc = desc
	c.state = StateBinding
	c.session = session
	c.conn = conn
	c.mu.Unlock()

	log.Info().Str("service", desc.Name).Str("session", session.String()).Msg("Binding service")

	if err := c.binder.BindService(desc, conn, BindAutoCreate); err != nil {
		c.mu.Lock()
		if c.session == session {
			c.resetLocked()
		}
		c.mu.Unlock()
		return fmt.Errorf("bind %s: %w", desc.Name, err)
	}
	return nil
}

// Unbind releases the binding. A bind still in flight is cancelled, so a late
// connect for it is ignored. Calling Unbind while unbound does nothing.
func (c *Connector[H]) Unbind() {
	c.mu.Lock()
	if c.state == StateUnbound {
		c.mu.Unlock()
		return
	}
	conn := c.conn
	from := c.state
	name := c.desc.Name
	c.resetLocked()
	c.mu.Unlock()

	log.Info().Str("service", name).Str("from", from.String()).Msg("Unbinding service")
	c.binder.UnbindService(conn)
}

// StopService asks the binder to stop the service regardless of this binding.
func (c *Connector[H]) StopService(desc Descriptor) bool {
	return c.binder.StopService(desc)
}

// resetLocked returns to Unbound and drops the handle and session (must hold lock).
func (c *Connector[H]) resetLocked() {
	var zero H
	c.state = StateUnbound
	c.handle = zero
	c.hasHandle = false
	c.session = uuid.Nil
	c.conn = nil
}

func (c *Connector[H]) onConnected(session uuid.UUID, name string, service any) {
	c.mu.Lock()
	if session != c.session || !canTransition(c.state, StateBound) {
		state := c.state
		c.mu.Unlock()
		log.Debug().Str("service", name).Str("state", state.String()).Msg("Ignoring stale service connect")
		return
	}

	handle, ok := unwrap[H](service)
	if !ok {
		c.mu.Unlock()
		log.Error().Err(ErrUnexpectedBinder).Str("service", name).Msgf("Cannot use binder %T", service)
		return
	}

	c.state = StateBound
	c.handle = handle
	c.hasHandle = true
	c.mu.Unlock()

	log.Info().Str("service", name).Msg("Service connected")

	// An Unbind between the transition and here means the service is no longer ours.
	if !c.sessionBound(session) {
		return
	}
	c.ready.fire()
}

func (c *Connector[H]) onDisconnected(session uuid.UUID, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if session != c.session || !canTransition(c.state, StateDisconnected) {
		log.Debug().Str("service", name).Str("state", c.state.String()).Msg("Ignoring stale service disconnect")
		return
	}

	var zero H
	c.state = StateDisconnected
	c.handle = zero
	c.hasHandle = false
	log.Warn().Str("service", name).Msg("Service disconnected")
}

func (c *Connector[H]) sessionBound(session uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session == session && c.state == StateBound
}

// State returns the current binding state.
func (c *Connector[H]) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsReady reports whether the service is bound and its handle is available.
func (c *Connector[H]) IsReady() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateBound && c.hasHandle
}

// Handle returns the bound service handle. The handle is only valid until the
// next disconnect or unbind; do not keep it across lifecycle events.
func (c *Connector[H]) Handle() (H, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateBound || !c.hasHandle {
		var zero H
		return zero, ErrNotBound
	}
	return c.handle, nil
}

func unwrap[H any](service any) (H, bool) {
	if h, ok := service.(H); ok {
		return h, true
	}
	if lb, ok := service.(LocalBinder[H]); ok {
		return lb.Service(), true
	}
	var zero H
	return zero, false
}
