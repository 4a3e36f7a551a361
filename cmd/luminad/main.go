// Command luminad is the Lumina runtime entrypoint: it loads config,
// builds the root logger, hands both to lifecycle.Bootstrap, and runs
// until an OS signal requests shutdown.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"lumina/internal/config"
	"lumina/internal/lifecycle"
	"lumina/internal/logging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "luminad:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logging.Init("", cfg.LogLevel, cfg.LogFormat)
	log.Info().Str("gateway_addr", cfg.Gateway.Addr).Msg("luminad: starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	services, err := lifecycle.Bootstrap(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	log.Info().Msg("luminad: ready")
	if err := services.Run(ctx); err != nil {
		return fmt.Errorf("run: %w", err)
	}
	log.Info().Msg("luminad: stopped")
	return nil
}
