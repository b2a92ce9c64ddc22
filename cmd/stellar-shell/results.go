package main

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/edumarques81/stellar-shell/internal/permission"
	"github.com/edumarques81/stellar-shell/internal/transport/socketio"
)

// uiResults forwards UI results to the coordinator once it exists.
type uiResults struct {
	mu   sync.RWMutex
	next socketio.Lifecycle
}

func (r *uiResults) set(next socketio.Lifecycle) {
	r.mu.Lock()
	r.next = next
	r.mu.Unlock()
}

func (r *uiResults) target() socketio.Lifecycle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.next
}

func (r *uiResults) OnRequestPermissionsResult(code int, perms []string, results []permission.Result) {
	next := r.target()
	if next == nil {
		log.Warn().Int("request_code", code).Msg("Permission result before shell creation")
		return
	}
	next.OnRequestPermissionsResult(code, perms, results)
}

func (r *uiResults) OnActivityResult(code, resultCode int, data map[string]any) {
	next := r.target()
	if next == nil {
		log.Warn().Int("request_code", code).Msg("Activity result before shell creation")
		return
	}
	next.OnActivityResult(code, resultCode, data)
}
