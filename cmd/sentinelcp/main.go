// Command sentinelcp runs the Sentinel-CP control plane in either of its
// two runtime modes: the HTTP API server or the background dispatcher.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/sentinelcp/control-plane/internal/app"
	"github.com/sentinelcp/control-plane/internal/config"
)

func main() {
	mode := flag.String("mode", "", "run mode: api or dispatcher (overrides SENTINELCP_MODE)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: loading config: %v\n", err)
		os.Exit(1)
	}

	if *mode != "" {
		cfg.Mode = *mode
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := app.Run(ctx, cfg); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}
