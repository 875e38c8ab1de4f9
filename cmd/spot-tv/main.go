package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"

	"github.com/rickgao/spot-tv/internal/auth"
	"github.com/rickgao/spot-tv/internal/backend"
	"github.com/rickgao/spot-tv/internal/config"
	"github.com/rickgao/spot-tv/internal/connection"
	"github.com/rickgao/spot-tv/internal/credentials"
	"github.com/rickgao/spot-tv/internal/refresher"
	"github.com/rickgao/spot-tv/internal/signaling"
	"github.com/rickgao/spot-tv/internal/transport"
	"github.com/rickgao/spot-tv/internal/version"
)

func main() {
	configPath := flag.StringP("config", "c", "configs/spot-tv.local.yaml", "path to config file")
	envFile := flag.String("env-file", ".env", "dotenv file loaded before the config")
	pairingCode := flag.String("pairing-code", "", "backend pairing code to pair this device with")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	logJSON := flag.Bool("log-json", false, "emit JSON logs")
	showVersion := flag.BoolP("version", "v", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	// Set up structured logging
	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		level = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewTextHandler(os.Stdout, handlerOpts)
	if *logJSON {
		handler = slog.NewJSONHandler(os.Stdout, handlerOpts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("failed to load env file", "path", *envFile, "error", err)
	}

	logger.Info("starting spot-tv",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"server_url", cfg.RemoteControl.ServerURL,
		"backend_enabled", cfg.Backend.Enabled,
		"store_driver", cfg.Store.Driver,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Open credential store
	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open credential store", "error", err)
		os.Exit(1)
	}
	defer store.close()

	deviceID, err := ensureDeviceID(ctx, cfg, store)
	if err != nil {
		logger.Error("failed to resolve device id", "error", err)
		os.Exit(1)
	}
	logger = logger.With("device_id", deviceID)

	state, err := store.Load(ctx)
	if err != nil {
		logger.Error("failed to load credentials", "error", err)
		os.Exit(1)
	}

	// Create signaling client
	sigOpts := []signaling.Option{signaling.WithLogger(logger)}
	if cfg.Device.PrivateKeyPath != "" {
		creds, err := auth.LoadCredentials(deviceID, cfg.Device.PrivateKeyPath)
		if err != nil {
			logger.Error("failed to load device key", "error", err)
			os.Exit(1)
		}
		sigOpts = append(sigOpts, signaling.WithSigner(creds))
	}
	sig := signaling.NewClient(sigOpts...)

	// Create connection manager
	unload := make(chan struct{})
	nav := &conflictNavigator{logger: logger}

	mgrOpts := []connection.Option{
		connection.WithLogger(logger),
		connection.WithNavigator(nav),
		connection.WithUnloadNotifier(unload),
	}
	if cfg.Backend.Enabled {
		mgrOpts = append(mgrOpts, connection.WithBackendFactory(func() transport.Backend {
			return backend.NewClient(
				cfg.Backend.PairingServiceURL,
				backend.WithLogger(logger),
				backend.WithTimeout(cfg.Backend.Timeout),
				backend.WithRetries(*cfg.Backend.MaxRetries, cfg.Backend.RetryBackoff),
			)
		}))
	}

	mgr, err := connection.New(managerConfig(cfg), sig, store, mgrOpts...)
	if err != nil {
		logger.Error("failed to create connection manager", "error", err)
		os.Exit(1)
	}

	// Start health server
	healthServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler: createHealthHandler(cfg, store, mgr, sig, nav),
	}

	go func() {
		logger.Info("starting health server", "port", cfg.Metrics.Port)
		if err := healthServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("health server error", "error", err)
		}
	}()

	// Keep the long lived pairing code fresh while paired with the backend
	var codeRefresher *refresher.Refresher
	if cfg.Backend.Enabled {
		codeRefresher = refresher.New(refresher.Config{Interval: cfg.PairingCode.CheckInterval}, mgr, logger)
		if err := codeRefresher.Start(ctx); err != nil {
			logger.Error("failed to start pairing code refresher", "error", err)
			os.Exit(1)
		}
	}

	go bootstrap(ctx, mgr, cfg, state, *pairingCode, logger)

	logger.Info("spot-tv running",
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Metrics.Port),
	)

	// Wait for shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	s := <-sigCh
	logger.Info("received shutdown signal", "signal", s)

	// The host is going away: leave the room before anything else stops.
	close(unload)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := mgr.Close(shutdownCtx); err != nil {
		logger.Warn("connection manager shutdown", "error", err)
	}
	if codeRefresher != nil {
		codeRefresher.Stop(shutdownCtx)
	}
	cancel()
	sig.Close(shutdownCtx)
	healthServer.Shutdown(shutdownCtx)

	logger.Info("spot-tv stopped")
}

// managerConfig maps application config onto the connection manager.
func managerConfig(cfg *config.Config) connection.Config {
	rc := cfg.RemoteControl
	return connection.Config{
		BackendEnabled:      cfg.Backend.Enabled,
		CalendarPushEnabled: cfg.Calendar.PushEnabled,
		FixedCodeSegment:    rc.FixedCodeSegment,
		JoinCodeRefreshRate: rc.JoinCodeRefreshRate,
		Server: transport.ServerConfig{
			URL:              rc.ServerURL,
			HandshakeTimeout: rc.HandshakeTimeout,
			PingInterval:     rc.PingInterval,
			PingTimeout:      rc.PingTimeout,
			RequestTimeout:   rc.RequestTimeout,
		},
		Jitter: connection.Jitter{
			RetryCount: cfg.Reconnect.JitterRetryCount,
			MinDelay:   cfg.Reconnect.JitterMinDelay,
			Base:       cfg.Reconnect.JitterBase,
			MaxDelay:   cfg.Reconnect.MaxDelay,
		},
		MaxAttempts:     cfg.Reconnect.MaxAttempts,
		MinCodeValidity: cfg.PairingCode.MinValidity,
	}
}

// bootstrap opens the first session: a fresh pairing when a code was given,
// the stored permanent code when paired, or a self-generated code without
// the backend.
func bootstrap(ctx context.Context, mgr *connection.Manager, cfg *config.Config, st credentials.State, pairingCode string, logger *slog.Logger) {
	var err error

	switch {
	case pairingCode != "" && !cfg.Backend.Enabled:
		logger.Warn("ignoring --pairing-code, backend is disabled")
		err = mgr.Connect(ctx, connection.ConnectOptions{Retry: true})

	case pairingCode != "":
		logger.Info("pairing with backend")
		err = mgr.PairWithBackend(ctx, pairingCode)

	case cfg.Backend.Enabled && st.Credentials.PermanentPairingCode != "":
		logger.Info("connecting with stored permanent pairing code")
		err = mgr.Connect(ctx, connection.ConnectOptions{
			PairingCode: st.Credentials.PermanentPairingCode,
			Retry:       true,
		})

	case cfg.Backend.Enabled:
		logger.Warn("device is not paired with the backend, restart with --pairing-code")
		return

	default:
		err = mgr.Connect(ctx, connection.ConnectOptions{Retry: true})
	}

	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, connection.ErrDisconnected) {
		logger.Error("initial connection failed", "error", err)
	}
}

// conflictNavigator records that another device took over the room.
type conflictNavigator struct {
	logger   *slog.Logger
	conflict atomic.Bool
}

func (n *conflictNavigator) ShowConflict() {
	n.conflict.Store(true)
	n.logger.Error("another device is connected to this room with the same identity")
}

// createHealthHandler creates the HTTP handler for health, status, remote
// management and metrics.
func createHealthHandler(cfg *config.Config, store *storeHandle, mgr *connection.Manager, sig *signaling.Client, nav *conflictNavigator) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := struct {
			Status     string         `json:"status"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]any),
		}

		// Check credential store
		if err := store.ping(ctx); err != nil {
			health.Status = "unhealthy"
			health.Components["store"] = map[string]string{
				"driver": store.driver,
				"status": "disconnected",
				"error":  err.Error(),
			}
		} else {
			health.Components["store"] = map[string]string{
				"driver": store.driver,
				"status": "connected",
			}
		}

		// Check remote control connection
		status := mgr.Status()
		health.Components["remote_control"] = map[string]any{
			"state":    status.State,
			"conflict": nav.conflict.Load(),
		}
		if health.Status == "healthy" && status.State != connection.StateConnected {
			health.Status = "degraded"
		}

		// Set response
		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"version":     version.Get(),
			"connection":  mgr.Status(),
			"router":      mgr.RouterStats(),
			"event_queue": sig.Stats(),
			"backend":     cfg.Backend.Enabled,
			"conflict":    nav.conflict.Load(),
		})
	})

	// Remove every temporarily paired Spot-Remote, e.g. when a meeting ends.
	mux.HandleFunc("DELETE /remotes/temporary", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()

		if err := mgr.DisconnectAllTemporaryRemotes(ctx); err != nil {
			status := http.StatusBadGateway
			if errors.Is(err, signaling.ErrNotConnected) {
				status = http.StatusConflict
			}
			http.Error(w, err.Error(), status)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.Handle(cfg.Metrics.Path, promhttp.Handler())

	return mux
}
