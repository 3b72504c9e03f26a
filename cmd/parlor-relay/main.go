// Parlor relay — signaling server entry point.
//
// The relay brokers connection setup between voice-room peers: room
// membership, roster delivery, and offer/answer/ICE forwarding. Audio never
// flows through it.
//
// Configuration comes from the environment (PARLOR_LISTEN_ADDR,
// PARLOR_ALLOWED_ORIGINS, PARLOR_ENV, PARLOR_SHUTDOWN_TIMEOUT).
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"

	"github.com/parlorvoice/parlor/internal/config"
	"github.com/parlorvoice/parlor/internal/relay"
	"github.com/parlorvoice/parlor/internal/util"
)

var version = "dev"

func main() {
	// Root context — cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *debugMode {
		util.EnableDebug()
	}

	cfg, err := config.FromEnv()
	if err != nil {
		util.LogError("invalid configuration: %v", err)
		os.Exit(1)
	}
	if len(cfg.AllowedOrigins) == 0 {
		util.LogWarning("no origin allow-list configured, admitting every origin")
	}

	util.LogInfo("Parlor relay — v%s", version)

	server := relay.NewServer(cfg)
	util.StartStatsReporter(ctx, server.Registry().RoomCount)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		util.LogInfo("shutting down")
		if err := server.Shutdown(context.Background()); err != nil {
			util.LogError("shutdown: %v", err)
			os.Exit(1)
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			util.LogError("server failed: %v", err)
			os.Exit(1)
		}
	}

	util.LogInfo("relay stopped")
}
