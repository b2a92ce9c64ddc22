// Package permission tracks the runtime permissions the shell needs and matches
// asynchronous permission results back to the request that caused them.
package permission

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// RequestCodePermissions is the correlation token sent with every permission request.
const RequestCodePermissions = 1

// StorageRead is the permission guarding access to the music directory.
const StorageRead = "storage.read"

// ErrPermissionDenied is returned by Outcome.Err when a permission was refused.
var ErrPermissionDenied = errors.New("permission denied")

// Result is the answer for a single permission.
type Result string

// Permission results.
const (
	Granted Result = "granted"
	Denied  Result = "denied"
)

// Checker reports whether a permission is already held.
type Checker interface {
	CheckSelfPermission(perm string) bool
}

// Requester shows the permission prompt. The answer is delivered later to Gate.OnResult.
type Requester interface {
	RequestPermissions(perms []string, code int) error
}

// Request is an outstanding permission request.
type Request struct {
	Code        int
	Permissions []string
}

// Outcome is the latest known answer for the gate's permissions.
type Outcome struct {
	Decided   bool     `json:"decided"`
	Granted   bool     `json:"granted"`
	Requested []string `json:"requested,omitempty"`
	Denied    []string `json:"denied,omitempty"`
}

// IsGranted reports whether perm was requested and granted.
func (o Outcome) IsGranted(perm string) bool {
	if !o.Decided {
		return false
	}
	requested := false
	for _, p := range o.Requested {
		if p == perm {
			requested = true
			break
		}
	}
	if !requested {
		return false
	}
	for _, p := range o.Denied {
		if p == perm {
			return false
		}
	}
	return true
}

// Err returns ErrPermissionDenied wrapped with the refused permissions, or nil.
func (o Outcome) Err() error {
	if !o.Decided || o.Granted {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrPermissionDenied, strings.Join(o.Denied, ","))
}

// Gate checks permissions and issues at most one outstanding request.
type Gate struct {
	mu        sync.Mutex
	checker   Checker
	requester Requester
	pending   *Request
	outcome   Outcome
	listeners map[int]func(Outcome)
	nextID    int
}

// NewGate creates a gate using checker for grant status and requester for prompts.
func NewGate(checker Checker, requester Requester) *Gate {
	return &Gate{
		checker:   checker,
		requester: requester,
		listeners: make(map[int]func(Outcome)),
	}
}

// CheckAndRequest checks perms and requests the missing ones. It returns true if
// every permission was already granted. A request already outstanding is not
// repeated.
func (g *Gate) CheckAndRequest(perms ...string) bool {
	var missing []string
	for _, p := range perms {
		if !g.checker.CheckSelfPermission(p) {
			missing = append(missing, p)
		}
	}

	g.mu.Lock()
	if len(missing) == 0 {
		g.outcome = Outcome{Decided: true, Granted: true, Requested: append([]string(nil), perms...)}
		g.mu.Unlock()
		log.Debug().Strs("permissions", perms).Msg("Permissions already granted")
		return true
	}
	if g.pending != nil {
		code := g.pending.Code
		g.mu.Unlock()
		log.Debug().Int("request_code", code).Msg("Permission request already outstanding")
		return false
	}
	req := &Request{Code: RequestCodePermissions, Permissions: append([]string(nil), perms...)}
	g.pending = req
	g.mu.Unlock()

	log.Info().Strs("missing", missing).Int("request_code", req.Code).Msg("Requesting permissions")

	if err := g.requester.RequestPermissions(append([]string(nil), req.Permissions...), req.Code); err != nil {
		log.Error().Err(err).Msg("Permission request failed")
		g.mu.Lock()
		if g.pending == req {
			g.pending = nil
		}
		g.mu.Unlock()
	}
	return false
}

// Check reports whether every permission in perms is granted without requesting.
func (g *Gate) Check(perms ...string) bool {
	for _, p := range perms {
		if !g.checker.CheckSelfPermission(p) {
			return false
		}
	}
	return true
}

// OnResult consumes the answer for the outstanding request. Results with an
// unknown correlation token, or with nothing outstanding, are dropped and the
// second return value is false.
func (g *Gate) OnResult(code int, perms []string, results []Result) (Outcome, bool) {
	g.mu.Lock()
	if g.pending == nil || g.pending.Code != code {
		g.mu.Unlock()
		log.Warn().Int("request_code", code).Msg("Dropping permission result for unknown request")
		return Outcome{}, false
	}
	requested := g.pending.Permissions
	g.pending = nil

	// Only the requested permissions count. Unanswered ones are denied.
	answers := make(map[string]Result, len(perms))
	for i, p := range perms {
		if i < len(results) {
			answers[p] = results[i]
		}
	}
	outcome := Outcome{Decided: true, Granted: true, Requested: requested}
	for _, p := range requested {
		if answers[p] != Granted {
			outcome.Granted = false
			outcome.Denied = append(outcome.Denied, p)
		}
	}
	g.outcome = outcome

	listeners := make([]func(Outcome), 0, len(g.listeners))
	for _, l := range g.listeners {
		listeners = append(listeners, l)
	}
	g.mu.Unlock()

	for i, p := range perms {
		r := Denied
		if i < len(results) {
			r = results[i]
		}
		log.Debug().Str("permission", p).Str("result", string(r)).Msg("Permission result")
	}
	if outcome.Granted {
		log.Info().Int("request_code", code).Msg("Permissions granted")
	} else {
		log.Warn().Strs("denied", outcome.Denied).Msg("Permissions denied")
	}

	for _, l := range listeners {
		l(outcome)
	}
	return outcome, true
}

// Listen registers fn for every accepted result. It returns an unsubscribe function.
func (g *Gate) Listen(fn func(Outcome)) func() {
	g.mu.Lock()
	id := g.nextID
	g.nextID++
	g.listeners[id] = fn
	g.mu.Unlock()

	return func() {
		g.mu.Lock()
		delete(g.listeners, id)
		g.mu.Unlock()
	}
}

// Outcome returns the latest known outcome.
func (g *Gate) Outcome() Outcome {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.outcome
}

// Pending returns the outstanding request, or nil.
func (g *Gate) Pending() *Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pending == nil {
		return nil
	}
	req := *g.pending
	req.Permissions = append([]string(nil), g.pending.Permissions...)
	return &req
}
