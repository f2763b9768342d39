package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/danmuck/ledgerctl/internal/config"
	"github.com/danmuck/ledgerctl/internal/ledgerd"
	"github.com/danmuck/ledgerctl/internal/observability"
	"github.com/danmuck/ledgerctl/internal/store"
	"github.com/rs/zerolog"
)

func main() {
	configPath := flag.String("config", "", "path to ledgerd.toml")
	addr := flag.String("addr", "", "protocol listen address override")
	adminAddr := flag.String("admin-addr", "", "admin HTTP listen address override")
	dataPath := flag.String("data", "", "SQLite journal path override; empty keeps state in memory")
	flag.Parse()

	logger := observability.InitLogger("ledgerd")

	cfg := config.DefaultLedgerd()
	if path := strings.TrimSpace(*configPath); path != "" {
		loaded, err := config.LoadLedgerd(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "ledgerd: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if v := strings.TrimSpace(*addr); v != "" {
		cfg.Service.ListenAddr = v
	}
	if v := strings.TrimSpace(*adminAddr); v != "" {
		cfg.Service.AdminListenAddr = v
	}
	if v := strings.TrimSpace(*dataPath); v != "" {
		cfg.DataPath = v
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "ledgerd: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger zerolog.Logger, cfg config.Ledgerd) error {
	var journal ledgerd.Journal
	if cfg.DataPath != "" {
		db, err := store.Open(cfg.DataPath)
		if err != nil {
			return err
		}
		defer db.Close()
		counts, err := db.Counts(ctx)
		if err != nil {
			return err
		}
		logger.Info().
			Str("path", cfg.DataPath).
			Int("accounts", counts.Accounts).
			Int("transfers", counts.Transfers).
			Int("pending", counts.Pending).
			Msg("journal opened")
		journal = db
	}

	state := ledgerd.NewStateMachine(ledgerd.StateConfig{
		Limits:  cfg.Service.Limits,
		Journal: journal,
	})
	if err := state.Restore(ctx); err != nil {
		return err
	}

	svc := ledgerd.NewService(cfg.Service, state)
	logger.Info().
		Str("replica_id", cfg.Service.ReplicaID).
		Str("cluster_id", cfg.Service.ClusterID.String()).
		Str("addr", cfg.Service.ListenAddr).
		Str("admin_addr", cfg.Service.AdminListenAddr).
		Msg("ledgerd starting")
	if err := svc.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	logger.Info().Msg("ledgerd stopped")
	return nil
}
