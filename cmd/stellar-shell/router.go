package main

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/edumarques81/stellar-shell/internal/binding"
	"github.com/edumarques81/stellar-shell/internal/lifecycle"
	"github.com/edumarques81/stellar-shell/internal/version"
)

type bindingState interface {
	State() binding.State
}

type phaser interface {
	Phase() lifecycle.Phase
}

type runningReporter interface {
	Running() bool
}

type clientCounter interface {
	http.Handler
	ClientCount() int
}

type routerOptions struct {
	Bridge     clientCounter
	Connector  bindingState
	Coord      phaser
	Host       runningReporter
	StaticDir  string
	CORSOrigin string
}

// healthStatus is the body of /health.
type healthStatus struct {
	Status  string `json:"status"`
	Phase   string `json:"phase"`
	Binding string `json:"binding"`
	Service bool   `json:"serviceRunning"`
	Clients int    `json:"clients"`
}

func newRouter(opts routerOptions) http.Handler {
	mux := http.NewServeMux()

	// Socket.io endpoint
	mux.Handle("/socket.io/", opts.Bridge)

	api := http.NewServeMux()
	api.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		st := healthStatus{
			Status:  "ok",
			Phase:   opts.Coord.Phase().String(),
			Binding: opts.Connector.State().String(),
			Service: opts.Host.Running(),
			Clients: opts.Bridge.ClientCount(),
		}
		code := http.StatusOK
		if opts.Connector.State() != binding.StateBound {
			st.Status = "degraded"
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, st)
	})
	api.HandleFunc("/api/v1/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, version.GetInfo())
	})

	cors := corsMiddleware(opts.CORSOrigin, api)
	mux.Handle("/health", cors)
	mux.Handle("/api/", cors)

	// Serve static files if directory specified (SPA mode)
	if opts.StaticDir != "" {
		log.Info().Str("dir", opts.StaticDir).Msg("Serving static files")
		mux.Handle("/", spaHandler(opts.StaticDir))
	}

	return mux
}

// spaHandler serves dir and falls back to index.html for unknown paths.
func spaHandler(dir string) http.Handler {
	fs := http.FileServer(http.Dir(dir))
	index := filepath.Join(dir, "index.html")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			http.ServeFile(w, r, index)
			return
		}
		if _, err := os.Stat(filepath.Join(dir, filepath.FromSlash(filepath.Clean("/"+r.URL.Path)))); os.IsNotExist(err) {
			http.ServeFile(w, r, index)
			return
		}
		fs.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("Failed to write response")
	}
}
