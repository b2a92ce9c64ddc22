// Package socketio provides the Socket.io bridge between the web UI and the shell.
package socketio

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/zishang520/socket.io/servers/socket/v3"
	"github.com/zishang520/socket.io/v3/pkg/types"

	"github.com/edumarques81/stellar-shell/internal/permission"
)

// Events sent to the UI.
const (
	EventRequestPermissions     = "requestPermissions"
	EventStartActivityForResult = "startActivityForResult"
	EventPermissionOutcome      = "permissionOutcome"
	EventInvokeResult           = "invokeResult"
)

// DefaultCallTimeout bounds how long a UI call waits for the shell's looper.
const DefaultCallTimeout = 10 * time.Second

// Invoker calls plugin methods. *plugin.Registry implements it.
type Invoker interface {
	Invoke(ctx context.Context, plugin, method string, args map[string]any) (any, error)
}

// Lifecycle receives the results the UI reports back.
// *lifecycle.Coordinator implements it.
type Lifecycle interface {
	OnRequestPermissionsResult(code int, perms []string, results []permission.Result)
	OnActivityResult(code, resultCode int, data map[string]any)
}

// Runner runs fn on the shell's UI looper and waits for it. *looper.Looper implements it.
type Runner interface {
	Call(ctx context.Context, fn func() error) error
}

// Options configures a Server.
type Options struct {
	Invoker     Invoker
	Lifecycle   Lifecycle
	Runner      Runner
	MaxExternal int
	CallTimeout time.Duration
}

// Server handles Socket.io connections and events.
type Server struct {
	io      *socket.Server
	opts    Options
	limiter *clientLimiter

	mu         sync.RWMutex
	clients    map[string]*socket.Socket
	permission *permissionRequest
	activities map[int]activityRequest
}

type permissionRequest struct {
	Permissions []string `json:"permissions"`
	RequestCode int      `json:"requestCode"`
}

type activityRequest struct {
	RequestCode int            `json:"requestCode"`
	Action      string         `json:"action"`
	Extras      map[string]any `json:"extras,omitempty"`
}

// invokeRequest is the payload of an "invoke" event.
type invokeRequest struct {
	ID     string         `json:"id"`
	Plugin string         `json:"plugin"`
	Method string         `json:"method"`
	Args   map[string]any `json:"args"`
}

type invokeResponse struct {
	ID     string `json:"id,omitempty"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

type permissionsResult struct {
	RequestCode  int      `json:"requestCode"`
	Permissions  []string `json:"permissions"`
	GrantResults []string `json:"grantResults"`
}

type activityResult struct {
	RequestCode int            `json:"requestCode"`
	ResultCode  int            `json:"resultCode"`
	Data        map[string]any `json:"data"`
}

// NewServer creates a new Socket.io server.
func NewServer(opts Options) (*Server, error) {
	if opts.Invoker == nil || opts.Lifecycle == nil || opts.Runner == nil {
		return nil, fmt.Errorf("socketio: invoker, lifecycle and runner are required")
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultCallTimeout
	}
	if opts.MaxExternal <= 0 {
		opts.MaxExternal = 1
	}

	// Configure Socket.io server options
	sopts := socket.DefaultServerOptions()
	sopts.SetPingTimeout(20 * time.Second)
	sopts.SetPingInterval(25 * time.Second)
	sopts.SetCors(&types.Cors{
		Origin:      "*",
		Credentials: true,
	})

	s := &Server{
		io:         socket.NewServer(nil, sopts),
		opts:       opts,
		limiter:    newClientLimiter(opts.MaxExternal),
		clients:    make(map[string]*socket.Socket),
		activities: make(map[int]activityRequest),
	}

	s.setupHandlers()

	return s, nil
}

// setupHandlers registers all Socket.io event handlers.
func (s *Server) setupHandlers() {
	s.io.On("connection", func(clients ...any) {
		client := clients[0].(*socket.Socket)
		clientID := string(client.Id())
		addr := client.Handshake().Address

		log.Info().Str("id", clientID).Str("addr", addr).Msg("Client connected")

		s.mu.Lock()
		s.clients[clientID] = client
		evictedID := s.limiter.admit(clientID, addr)
		evicted := s.clients[evictedID]
		delete(s.clients, evictedID)
		s.mu.Unlock()

		if evicted != nil {
			log.Info().Str("id", evictedID).Str("by", clientID).Msg("Evicting oldest remote client")
			evicted.Disconnect(true)
		}

		// Replay requests the UI has not answered yet.
		s.replayPending(client)

		client.On("disconnect", func(args ...any) {
			reason := ""
			if len(args) > 0 {
				if r, ok := args[0].(string); ok {
					reason = r
				}
			}
			log.Info().Str("id", clientID).Str("reason", reason).Msg("Client disconnected")

			s.mu.Lock()
			delete(s.clients, clientID)
			s.limiter.remove(clientID)
			s.mu.Unlock()
		})

		client.On("invoke", func(args ...any) {
			s.handleInvoke(client, args)
		})

		client.On("requestPermissionsResult", func(args ...any) {
			var res permissionsResult
			if err := decodeArg(args, &res); err != nil {
				log.Warn().Err(err).Str("id", clientID).Msg("Bad permission result")
				return
			}
			s.handlePermissionsResult(res)
		})

		client.On("activityResult", func(args ...any) {
			var res activityResult
			if err := decodeArg(args, &res); err != nil {
				log.Warn().Err(err).Str("id", clientID).Msg("Bad activity result")
				return
			}
			s.handleActivityResult(res)
		})
	})
}

func (s *Server) handleInvoke(client *socket.Socket, args []any) {
	ack := ackFunc(args)

	var req invokeRequest
	if err := decodeArg(args, &req); err != nil {
		s.reply(client, ack, invokeResponse{Error: err.Error()})
		return
	}

	log.Debug().Str("id", string(client.Id())).Str("plugin", req.Plugin).Str("method", req.Method).Msg("invoke")
	s.reply(client, ack, s.call(req))
}

// call runs the plugin call on the looper.
func (s *Server) call(req invokeRequest) invokeResponse {
	if req.Args == nil {
		req.Args = map[string]any{}
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.CallTimeout)
	defer cancel()

	var result any
	err := s.opts.Runner.Call(ctx, func() error {
		var err error
		result, err = s.opts.Invoker.Invoke(ctx, req.Plugin, req.Method, req.Args)
		return err
	})

	resp := invokeResponse{ID: req.ID}
	if err != nil {
		log.Warn().Err(err).Str("plugin", req.Plugin).Str("method", req.Method).Msg("Invoke failed")
		resp.Error = err.Error()
	} else {
		resp.Result = result
	}
	return resp
}

func (s *Server) reply(client *socket.Socket, ack func([]any, error), resp invokeResponse) {
	if ack != nil {
		ack([]any{resp}, nil)
		return
	}
	client.Emit(EventInvokeResult, resp)
}

func (s *Server) handlePermissionsResult(res permissionsResult) {
	s.mu.Lock()
	if s.permission != nil && s.permission.RequestCode == res.RequestCode {
		s.permission = nil
	}
	s.mu.Unlock()

	results := make([]permission.Result, len(res.GrantResults))
	for i, r := range res.GrantResults {
		results[i] = permission.Result(r)
	}

	s.runOnLooper("requestPermissionsResult", func() {
		s.opts.Lifecycle.OnRequestPermissionsResult(res.RequestCode, res.Permissions, results)
	})
}

func (s *Server) handleActivityResult(res activityResult) {
	s.mu.Lock()
	delete(s.activities, res.RequestCode)
	s.mu.Unlock()

	s.runOnLooper("activityResult", func() {
		s.opts.Lifecycle.OnActivityResult(res.RequestCode, res.ResultCode, res.Data)
	})
}

func (s *Server) runOnLooper(what string, fn func()) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.CallTimeout)
	defer cancel()

	err := s.opts.Runner.Call(ctx, func() error {
		fn()
		return nil
	})
	if err != nil {
		log.Error().Err(err).Str("event", what).Msg("Failed to deliver UI result")
	}
}

// RequestPermissions implements permission.Requester. The request is sent to
// every connected client and replayed to clients that connect before it is answered.
func (s *Server) RequestPermissions(perms []string, code int) error {
	req := &permissionRequest{Permissions: perms, RequestCode: code}

	s.mu.Lock()
	s.permission = req
	n := len(s.clients)
	s.mu.Unlock()

	s.io.Emit(EventRequestPermissions, req)
	if n == 0 {
		log.Info().Int("request_code", code).Msg("Permission request queued until a client connects")
	}
	return nil
}

// StartActivityForResult implements plugin.ActivityStarter. Like permission
// requests, it is replayed to late clients until answered.
func (s *Server) StartActivityForResult(code int, action string, extras map[string]any) error {
	req := activityRequest{RequestCode: code, Action: action, Extras: extras}

	s.mu.Lock()
	s.activities[code] = req
	n := len(s.clients)
	s.mu.Unlock()

	s.io.Emit(EventStartActivityForResult, req)
	if n == 0 {
		log.Info().Int("request_code", code).Str("action", action).Msg("Activity queued until a client connects")
	}
	return nil
}

func (s *Server) replayPending(client *socket.Socket) {
	s.mu.RLock()
	perm := s.permission
	codes := make([]int, 0, len(s.activities))
	for code := range s.activities {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	acts := make([]activityRequest, 0, len(codes))
	for _, code := range codes {
		acts = append(acts, s.activities[code])
	}
	s.mu.RUnlock()

	if perm != nil {
		client.Emit(EventRequestPermissions, perm)
	}
	for _, a := range acts {
		client.Emit(EventStartActivityForResult, a)
	}
}

// Emit implements plugin.Emitter by broadcasting to every client.
func (s *Server) Emit(event string, data any) {
	s.io.Emit(event, data)

	if log.Debug().Enabled() {
		s.mu.RLock()
		clientCount := len(s.clients)
		s.mu.RUnlock()
		log.Debug().Str("event", event).Int("clients", clientCount).Msg("Broadcast")
	}
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// ServeHTTP implements http.Handler for the Socket.io server.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.io.ServeHandler(nil).ServeHTTP(w, r)
}

// Close closes the Socket.io server.
func (s *Server) Close() error {
	s.io.Close(nil)
	return nil
}

// ackFunc returns the acknowledgement callback if the client sent one.
func ackFunc(args []any) func([]any, error) {
	if len(args) == 0 {
		return nil
	}
	if ack, ok := args[len(args)-1].(func([]any, error)); ok {
		return ack
	}
	return nil
}

// decodeArg decodes the first event argument into v.
func decodeArg(args []any, v any) error {
	if len(args) == 0 {
		return fmt.Errorf("missing payload")
	}
	data, err := json.Marshal(args[0])
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}
