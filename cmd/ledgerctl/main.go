package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/ledgerctl/internal/logging"
	"github.com/rs/zerolog"
)

func main() {
	// stdout carries command output; logs go to stderr.
	cfg := logging.DefaultConfig()
	cfg.Level = zerolog.DebugLevel
	logging.ApplyTo(cfg, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
