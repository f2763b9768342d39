package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/ledgerctl/internal/config"
	"github.com/danmuck/ledgerctl/internal/health"
	"github.com/danmuck/ledgerctl/internal/logging"
	"github.com/danmuck/ledgerctl/pkg/client"
	"github.com/danmuck/ledgerctl/pkg/ledger"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// options holds the persistent flags shared by every subcommand.
type options struct {
	configPath string
	addresses  []string
	clusterID  string
	output     string
	timeout    time.Duration
	verbose    bool
}

// resolved is the effective configuration after the config file and flags.
type resolved struct {
	client client.Config
	health health.Policy
	output string
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "ledgerctl",
		Short: "Client for ledger replicas",
		Long: `ledgerctl submits batches to a ledger cluster over the binary protocol.

Events are read from JSON or YAML files (use - for stdin). 128-bit values may
be written as decimal strings, 0x-prefixed hex strings, or bare integers.`,
		SilenceUsage: true,
		// The process logger is installed once in main; commands only move
		// the global level, which replicas in the same process read atomically.
		PersistentPreRun: func(*cobra.Command, []string) {
			if opts.verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			} else {
				zerolog.SetGlobalLevel(zerolog.WarnLevel)
			}
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "path to ledgerctl.toml")
	flags.StringSliceVarP(&opts.addresses, "addresses", "a", nil, "replica addresses (host:port, host, or port)")
	flags.StringVar(&opts.clusterID, "cluster-id", "", "cluster id (decimal or 0x hex)")
	flags.StringVarP(&opts.output, "output", "o", "", "output format: json|yaml")
	flags.DurationVar(&opts.timeout, "timeout", 0, "per-request timeout")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging on stderr")

	root.AddCommand(
		newCreateAccountsCmd(opts),
		newCreateTransfersCmd(opts),
		newLookupAccountsCmd(opts),
		newLookupTransfersCmd(opts),
		newAccountTransfersCmd(opts),
		newAccountBalancesCmd(opts),
		newPingCmd(opts),
		newHealthCmd(opts),
		newIDCmd(opts),
		newConfigCmd(),
	)
	return root
}

// resolve merges defaults, the optional config file and explicit flags.
func (o *options) resolve(cmd *cobra.Command) (resolved, error) {
	out := resolved{
		client: client.DefaultConfig(),
		health: health.DefaultPolicy(),
		output: "json",
	}
	if path := strings.TrimSpace(o.configPath); path != "" {
		file, err := config.LoadClientConfig(path)
		if err != nil {
			return resolved{}, err
		}
		cfg, policy, err := file.ClientOptions()
		if err != nil {
			return resolved{}, err
		}
		out.client, out.health = cfg, policy
		if v := strings.TrimSpace(file.Output); v != "" {
			out.output = v
		}
	}

	flags := cmd.Flags()
	if flags.Changed("addresses") {
		out.client.Addresses = o.addresses
	}
	if flags.Changed("cluster-id") {
		cluster, err := ledger.ParseUint128(o.clusterID)
		if err != nil {
			return resolved{}, fmt.Errorf("parse --cluster-id: %w", err)
		}
		out.client.ClusterID = cluster
	}
	if flags.Changed("output") {
		out.output = o.output
	}
	if flags.Changed("timeout") {
		out.client.Session.RequestTimeout = o.timeout
	}
	out.output = strings.ToLower(strings.TrimSpace(out.output))
	if out.output != "json" && out.output != "yaml" {
		return resolved{}, fmt.Errorf("unknown output format %q", out.output)
	}
	return out, nil
}

// withClient opens a client for the duration of fn.
func (o *options) withClient(cmd *cobra.Command, fn func(ctx context.Context, c *client.Client, r resolved) error) error {
	r, err := o.resolve(cmd)
	if err != nil {
		return err
	}
	logger := logging.Component("ledgerctl")
	r.client.Logger = &logger
	c, err := client.NewClient(r.client)
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(cmd.Context(), c, r)
}
