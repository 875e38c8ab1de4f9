// rcsprobe joins the remote control service once as a Spot-TV and prints
// every session event it receives. It is a manual smoke test for a signaling
// deployment and never writes credentials.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/rickgao/spot-tv/internal/config"
	"github.com/rickgao/spot-tv/internal/router"
	"github.com/rickgao/spot-tv/internal/signaling"
	"github.com/rickgao/spot-tv/internal/transport"
)

func main() {
	configPath := flag.StringP("config", "c", "configs/spot-tv.local.yaml", "path to config file")
	serverURL := flag.String("url", "", "override remote_control.server_url")
	segment := flag.String("segment", "", "override remote_control.fixed_code_segment")
	verbose := flag.Bool("verbose", false, "print full event payloads")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	rc := cfg.RemoteControl
	if *serverURL != "" {
		rc.ServerURL = *serverURL
	}
	if *segment != "" {
		rc.FixedCodeSegment = *segment
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client := signaling.NewClient(signaling.WithLogger(logger))
	rtr := router.New(logger)
	registry := router.NewRegistry()

	rtr.Register(registry, client, router.HandlerFunc(func(ev router.Event) {
		printEvent(ev, *verbose)
	}))
	logger.Info("listening for session events", "events", registry.Names())

	connectCtx, connectCancel := context.WithTimeout(ctx, 30*time.Second)
	room, err := client.Connect(connectCtx, transport.Config{
		FixedCodeSegment:    rc.FixedCodeSegment,
		JoinAsSpot:          true,
		JoinCodeRefreshRate: rc.JoinCodeRefreshRate,
		Server: transport.ServerConfig{
			URL:              rc.ServerURL,
			HandshakeTimeout: rc.HandshakeTimeout,
			PingInterval:     rc.PingInterval,
			PingTimeout:      rc.PingTimeout,
			RequestTimeout:   rc.RequestTimeout,
		},
	})
	connectCancel()
	if err != nil {
		logger.Error("connect failed", "error", err, "recoverable", client.IsRecoverableRequestError(err))
		os.Exit(1)
	}

	logger.Info("joined room - press Ctrl+C to stop",
		"room_id", room.ID,
		"room_name", room.Name,
		"join_code", client.RemoteJoinCode(),
	)

	// Stats printer
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rs := rtr.Stats()
				qs := client.Stats()
				logger.Info("stats",
					"connected", client.HasConnection(),
					"join_code", client.RemoteJoinCode(),
					"permanent_remotes", client.PermanentRemoteCount(),
					"received", rs.Received,
					"dispatched", rs.Dispatched,
					"decode_errors", rs.DecodeErrors,
					"queue", qs,
				)
			}
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	logger.Info("shutting down...")
	registry.Drain()
	if err := client.Disconnect(shutdownCtx, "probe finished"); err != nil {
		logger.Warn("disconnect failed", "error", err)
	}
	client.Close(shutdownCtx)

	logger.Info("shutdown complete")
}

func printEvent(ev router.Event, verbose bool) {
	if verbose {
		data, _ := json.MarshalIndent(ev, "", "  ")
		fmt.Printf("[%s] %s\n", ev.Name(), data)
		return
	}

	switch e := ev.(type) {
	case router.JoinCodeChanged:
		fmt.Printf("[%s] code=%s\n", e.Name(), e.Code)
	case router.ClientJoined:
		fmt.Printf("[%s] id=%s type=%s\n", e.Name(), e.ID, e.Type)
	case router.ClientLeft:
		fmt.Printf("[%s] id=%s type=%s\n", e.Name(), e.ID, e.Type)
	case router.UnrecoverableDisconnect:
		fmt.Printf("[%s] err=%v\n", e.Name(), e.Err)
	default:
		fmt.Printf("[%s]\n", ev.Name())
	}
}
