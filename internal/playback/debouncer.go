package playback

import (
	"sync"
	"time"
)

// debouncer collapses bursts of MPD subsystem changes into one callback that
// receives every subsystem seen during the window.
type debouncer struct {
	window   time.Duration
	callback func(subsystems []string)

	mu      sync.Mutex
	pending map[string]struct{}
	timer   *time.Timer
	stopped bool
}

func newDebouncer(window time.Duration, callback func(subsystems []string)) *debouncer {
	return &debouncer{
		window:   window,
		callback: callback,
		pending:  make(map[string]struct{}),
	}
}

// Trigger records a change and restarts the window.
func (d *debouncer) Trigger(subsystem string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	d.pending[subsystem] = struct{}{}

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.flush)
}

func (d *debouncer) flush() {
	d.mu.Lock()
	if d.stopped || len(d.pending) == 0 {
		d.mu.Unlock()
		return
	}
	subsystems := make([]string, 0, len(d.pending))
	for s := range d.pending {
		subsystems = append(subsystems, s)
	}
	d.pending = make(map[string]struct{})
	d.mu.Unlock()

	d.callback(subsystems)
}

// Stop drops pending changes and prevents further callbacks.
func (d *debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	d.pending = make(map[string]struct{})
}
