// Package main is the entry point for the Stellar shell.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/edumarques81/stellar-shell/internal/binding"
	"github.com/edumarques81/stellar-shell/internal/config"
	"github.com/edumarques81/stellar-shell/internal/infra/mpd"
	"github.com/edumarques81/stellar-shell/internal/infra/store"
	"github.com/edumarques81/stellar-shell/internal/lifecycle"
	"github.com/edumarques81/stellar-shell/internal/looper"
	"github.com/edumarques81/stellar-shell/internal/permission"
	"github.com/edumarques81/stellar-shell/internal/playback"
	"github.com/edumarques81/stellar-shell/internal/plugin"
	"github.com/edumarques81/stellar-shell/internal/transport/socketio"
	"github.com/edumarques81/stellar-shell/internal/version"
)

func main() {
	// Command line flags
	configPath := flag.String("config", config.FileName, "Path to the optional YAML config file")
	port := flag.String("port", "", "HTTP server port")
	mpdHost := flag.String("mpd-host", "", "MPD host")
	mpdPort := flag.Int("mpd-port", 0, "MPD port")
	mpdPassword := flag.String("mpd-password", "", "MPD password")
	dataDir := flag.String("data-dir", "", "Directory for the shell database")
	readyPolicy := flag.String("ready-policy", "", "Service ready callback policy: once or persistent")
	restartDelay := flag.Duration("restart-delay", 0, "Delay before restarting a dead playback service")
	stopOnExit := flag.Bool("stop-on-exit", false, "Stop the playback service when the shell exits")
	staticDir := flag.String("static", "", "Directory to serve static files from (optional)")
	corsOrigin := flag.String("cors-origin", "*", "Allowed CORS origin for the HTTP API")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	cfg, err := config.LoadOptional(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	// Flags given on the command line win over the file.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Port = *port
		case "mpd-host":
			cfg.MPD.Host = *mpdHost
		case "mpd-port":
			cfg.MPD.Port = *mpdPort
		case "mpd-password":
			cfg.MPD.Password = *mpdPassword
		case "data-dir":
			cfg.DataDir = *dataDir
		case "ready-policy":
			cfg.ReadyPolicy = *readyPolicy
		case "restart-delay":
			cfg.RestartDelay = *restartDelay
		case "stop-on-exit":
			cfg.StopServiceOnExit = *stopOnExit
		case "static":
			cfg.StaticDir = *staticDir
		case "debug":
			cfg.Debug = *debug
		}
	})
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	// Setup logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// Print startup banner
	versionInfo := version.GetInfo()
	log.Info().Msg("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	log.Info().Msgf("  %s", versionInfo.String())
	log.Info().Msg("  Web UI shell for the Stellar player")
	log.Info().Msg("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	log.Info().
		Str("port", cfg.Port).
		Str("mpd_host", cfg.MPD.Host).
		Int("mpd_port", cfg.MPD.Port).
		Bool("password_set", cfg.MPD.Password != "").
		Str("data_dir", cfg.DataDir).
		Str("ready_policy", cfg.ReadyPolicy).
		Dur("restart_delay", cfg.RestartDelay).
		Strs("permissions", cfg.Permissions).
		Msg("Configuration")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The looper is the shell's UI thread. Every lifecycle event runs on it.
	lp := looper.New()
	go lp.Run(ctx)

	db := store.NewDB(cfg.DBPath())
	mpdClient := mpd.NewClient(cfg.MPD.Host, cfg.MPD.Port, cfg.MPD.Password)

	host := playback.NewHost(func() *playback.Service {
		return playback.NewService(mpdClient)
	}, lp.Dispatch, cfg.RestartDelay)

	connector := binding.NewConnector[playback.Handle](host, binding.ParseReArmPolicy(cfg.ReadyPolicy))
	registry := plugin.NewRegistry()

	// The bridge reports UI results to the coordinator, which is built after it.
	results := &uiResults{}
	bridge, err := socketio.NewServer(socketio.Options{
		Invoker:   registry,
		Lifecycle: results,
		Runner:    lp,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Socket.io server")
	}

	gate := permission.NewGate(db, bridge)
	gate.Listen(func(o permission.Outcome) {
		bridge.Emit(socketio.EventPermissionOutcome, o)
	})

	helper := plugin.NewStorageHelper(bridge, db, bridge)
	helper.StartDir = cfg.MusicDir

	coord := lifecycle.New(lifecycle.Options{
		Storage:  db,
		State:    db,
		Grants:   db,
		Registry: registry,
		Plugins: []plugin.Plugin{
			plugin.NewAudioPlayer(connector, host, bridge),
			plugin.NewDownloader(db, gate, bridge),
			plugin.NewFileSystem(helper, gate),
			plugin.NewDatabase(db),
			plugin.NewLogger(db),
		},
		Gate:        gate,
		Permissions: cfg.Permissions,
		Connector:   connector,
		Service:     binding.Descriptor{Name: playback.ServiceName},
		Helper:      helper,
	})
	results.set(coord)

	// onCreate, then onPostCreate
	err = lp.Call(ctx, func() error {
		if err := coord.OnCreate(nil); err != nil {
			return err
		}
		return coord.OnPostCreate()
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to start shell")
	}

	handler := newRouter(routerOptions{
		Bridge:     bridge,
		Connector:  connector,
		Coord:      coord,
		Host:       host,
		StaticDir:  cfg.StaticDir,
		CORSOrigin: *corsOrigin,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		log.Info().Msg("Shutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server shutdown error")
		}
	}()

	log.Info().Str("addr", server.Addr).Msg("HTTP server listening")
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("HTTP server error")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	err = lp.Call(shutdownCtx, func() error {
		if err := coord.OnSaveInstanceState(lifecycle.Bundle{}); err != nil {
			log.Warn().Err(err).Msg("Failed to save instance state")
		}
		if cfg.StopServiceOnExit {
			coord.Stop()
		}
		coord.OnDestroy()
		return nil
	})
	if err != nil {
		log.Error().Err(err).Msg("Lifecycle shutdown failed")
	}

	host.Close()
	bridge.Close()
	lp.Quit()
	<-lp.Done()

	if err := mpdClient.Close(); err != nil {
		log.Debug().Err(err).Msg("MPD close")
	}
	if err := db.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close database")
	}

	log.Info().Msg("Shell stopped")
}
