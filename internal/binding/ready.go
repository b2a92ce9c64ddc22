package binding

import "sync"

// ReArmPolicy decides what happens to a registered ready callback after it fires.
type ReArmPolicy int

const (
	// ReArmOnce clears the callback after it fires. A later reconnect needs a new
	// registration.
	ReArmOnce ReArmPolicy = iota

	// ReArmPersistent keeps the callback registered so every reconnect fires it again.
	ReArmPersistent
)

// ParseReArmPolicy maps a config value to a policy. Unknown values map to ReArmOnce.
func ParseReArmPolicy(s string) ReArmPolicy {
	if s == "persistent" {
		return ReArmPersistent
	}
	return ReArmOnce
}

// String returns the config name of the policy.
func (p ReArmPolicy) String() string {
	if p == ReArmPersistent {
		return "persistent"
	}
	return "once"
}

// ReadyCallback is a single callback slot fired when the service becomes ready.
// Registration is last-writer-wins; there is no queue.
type ReadyCallback struct {
	mu     sync.Mutex
	fn     func()
	policy ReArmPolicy
}

// NewReadyCallback creates an empty slot with the given re-arm policy.
func NewReadyCallback(policy ReArmPolicy) *ReadyCallback {
	return &ReadyCallback{policy: policy}
}

// Register stores fn, replacing any callback that has not fired yet.
// Passing nil clears the slot.
func (r *ReadyCallback) Register(fn func()) {
	r.mu.Lock()
	r.fn = fn
	r.mu.Unlock()
}

// Armed reports whether a callback is registered.
func (r *ReadyCallback) Armed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fn != nil
}

// take returns the callback to run for this firing and applies the re-arm policy.
func (r *ReadyCallback) take() func() {
	r.mu.Lock()
	defer r.mu.Unlock()

	fn := r.fn
	if r.policy == ReArmOnce {
		r.fn = nil
	}
	return fn
}

// fire invokes the registered callback, if any. It reports whether one ran.
func (r *ReadyCallback) fire() bool {
	fn := r.take()
	if fn == nil {
		return false
	}
	fn()
	return true
}
