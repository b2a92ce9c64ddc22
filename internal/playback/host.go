package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/edumarques81/stellar-shell/internal/binding"
)

// DefaultRestartDelay is how long the host waits before recreating a dead service.
const DefaultRestartDelay = 2 * time.Second

// Host creates the player service on demand and delivers connection callbacks.
// A service lives while it is bound or started; when it dies every connection
// is told it disconnected and the service is recreated after the restart delay.
type Host struct {
	newService   func() *Service
	dispatch     func(func())
	restartDelay time.Duration

	mu           sync.Mutex
	svc          *Service
	cancel       context.CancelFunc
	creating     bool
	started      bool
	closed       bool
	conns        map[binding.Connection]struct{}
	restartTimer *time.Timer
}

// NewHost creates a host. newService builds a fresh service for every (re)start;
// dispatch schedules callbacks on the UI looper.
func NewHost(newService func() *Service, dispatch func(func()), restartDelay time.Duration) *Host {
	if restartDelay <= 0 {
		restartDelay = DefaultRestartDelay
	}
	return &Host{
		newService:   newService,
		dispatch:     dispatch,
		restartDelay: restartDelay,
		conns:        make(map[binding.Connection]struct{}),
	}
}

// BindService registers conn. With BindAutoCreate a missing service is created;
// the connect callback is dispatched once the service runs.
func (h *Host) BindService(desc binding.Descriptor, conn binding.Connection, flags binding.BindFlags) error {
	if desc.Name != ServiceName {
		return fmt.Errorf("%s: %w", desc.Name, ErrServiceNotFound)
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrHostClosed
	}

	h.conns[conn] = struct{}{}

	svc := h.svc
	if svc == nil && flags&binding.BindAutoCreate != 0 {
		h.createLocked()
	}
	h.mu.Unlock()

	if svc != nil {
		h.dispatch(func() { h.deliverConnected(conn, svc) })
	}
	return nil
}

// UnbindService drops conn. The service is destroyed when nothing keeps it alive.
func (h *Host) UnbindService(conn binding.Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.conns, conn)
	if len(h.conns) == 0 && !h.started {
		h.destroyLocked()
	}
}

// StartService marks the service as started so it outlives its bindings.
func (h *Host) StartService() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrHostClosed
	}

	h.started = true
	if h.svc != nil {
		h.svc.setForeground(true)
		return nil
	}
	h.createLocked()
	return nil
}

// StopService clears the started flag and destroys the service if nothing is
// bound. It reports whether the service was running or starting.
func (h *Host) StopService(desc binding.Descriptor) bool {
	if desc.Name != ServiceName {
		return false
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	running := h.svc != nil || h.creating || h.started
	h.started = false
	if h.svc != nil {
		h.svc.setForeground(false)
	}
	if len(h.conns) == 0 {
		h.destroyLocked()
	}
	log.Info().Bool("was_running", running).Int("bindings", len(h.conns)).Msg("Stop player service requested")
	return running
}

// Running reports whether a service instance exists.
func (h *Host) Running() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.svc != nil
}

// Close destroys the service and refuses further binds.
func (h *Host) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	h.started = false
	h.conns = make(map[binding.Connection]struct{})
	h.destroyLocked()
}

// createLocked starts creating a service in the background (must hold lock).
func (h *Host) createLocked() {
	if h.creating || h.svc != nil || h.closed {
		return
	}
	h.creating = true
	go h.create()
}

func (h *Host) create() {
	svc := h.newService()
	ctx, cancel := context.WithCancel(context.Background())

	err := svc.start(ctx, func() { h.onServiceDied(svc) })

	h.mu.Lock()
	h.creating = false

	if err == nil && svc.isLost() {
		// Died before it was installed, so onServiceDied ignored it.
		err = errors.New("backend lost during start")
		svc.destroy()
	}

	if err != nil {
		cancel()
		log.Error().Err(err).Msg("Failed to create player service")
		if h.wantedLocked() {
			h.scheduleRestartLocked()
		}
		h.mu.Unlock()
		return
	}

	if !h.wantedLocked() {
		// Unbound or stopped while starting.
		h.mu.Unlock()
		cancel()
		svc.destroy()
		return
	}

	h.svc = svc
	h.cancel = cancel
	svc.setForeground(h.started)
	conns := h.connsLocked()
	h.mu.Unlock()

	for _, conn := range conns {
		conn := conn
		h.dispatch(func() { h.deliverConnected(conn, svc) })
	}
}

func (h *Host) deliverConnected(conn binding.Connection, svc *Service) {
	h.mu.Lock()
	_, bound := h.conns[conn]
	current := h.svc == svc
	h.mu.Unlock()

	if !bound || !current {
		return
	}
	conn.OnServiceConnected(ServiceName, LocalBinder{svc: svc})
}

func (h *Host) onServiceDied(svc *Service) {
	h.mu.Lock()
	if h.svc != svc {
		h.mu.Unlock()
		return
	}
	h.cancel()
	h.svc = nil
	h.cancel = nil
	conns := h.connsLocked()
	if h.wantedLocked() {
		h.scheduleRestartLocked()
	}
	h.mu.Unlock()

	svc.destroy()

	for _, conn := range conns {
		conn := conn
		h.dispatch(func() {
			h.mu.Lock()
			_, bound := h.conns[conn]
			h.mu.Unlock()
			if bound {
				conn.OnServiceDisconnected(ServiceName)
			}
		})
	}
}

func (h *Host) scheduleRestartLocked() {
	if h.restartTimer != nil || h.closed {
		return
	}
	log.Info().Dur("delay", h.restartDelay).Msg("Scheduling player service restart")
	h.restartTimer = time.AfterFunc(h.restartDelay, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.restartTimer = nil
		if h.wantedLocked() {
			h.createLocked()
		}
	})
}

// destroyLocked tears the service down (must hold lock).
func (h *Host) destroyLocked() {
	if h.restartTimer != nil {
		h.restartTimer.Stop()
		h.restartTimer = nil
	}
	if h.svc == nil {
		return
	}
	svc := h.svc
	h.cancel()
	h.svc = nil
	h.cancel = nil
	go svc.destroy()
}

// wantedLocked reports whether something keeps the service alive (must hold lock).
func (h *Host) wantedLocked() bool {
	return !h.closed && (h.started || len(h.conns) > 0)
}

func (h *Host) connsLocked() []binding.Connection {
	conns := make([]binding.Connection, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	return conns
}
