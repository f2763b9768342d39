package main

import (
	"context"
	"fmt"

	"github.com/danmuck/ledgerctl/internal/health"
	"github.com/danmuck/ledgerctl/internal/protocol/session"
	"github.com/danmuck/ledgerctl/pkg/client"
	"github.com/danmuck/ledgerctl/pkg/ledger"
	"github.com/spf13/cobra"
)

// resultView is one create result as printed.
type resultView struct {
	Index  uint32 `json:"index" yaml:"index"`
	Code   uint32 `json:"code" yaml:"code"`
	Result string `json:"result" yaml:"result"`
}

func newCreateAccountsCmd(opts *options) *cobra.Command {
	var file string
	var failedOnly bool
	cmd := &cobra.Command{
		Use:   "create-accounts",
		Short: "Create a batch of accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			accounts, err := readEvents[ledger.Account](cmd.InOrStdin(), file)
			if err != nil {
				return err
			}
			return opts.withClient(cmd, func(ctx context.Context, c *client.Client, r resolved) error {
				results, err := c.CreateAccounts(ctx, accounts)
				if err != nil {
					return err
				}
				views := make([]resultView, 0, len(results))
				for _, res := range results {
					if failedOnly && res.Result == ledger.AccountOK {
						continue
					}
					views = append(views, resultView{Index: res.Index, Code: uint32(res.Result), Result: res.Result.String()})
				}
				return writeOutput(cmd.OutOrStdout(), r.output, views)
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "-", "JSON or YAML list of accounts")
	cmd.Flags().BoolVar(&failedOnly, "failed-only", false, "print only events that did not succeed")
	return cmd
}

func newCreateTransfersCmd(opts *options) *cobra.Command {
	var file string
	var failedOnly bool
	cmd := &cobra.Command{
		Use:   "create-transfers",
		Short: "Create a batch of transfers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			transfers, err := readEvents[ledger.Transfer](cmd.InOrStdin(), file)
			if err != nil {
				return err
			}
			return opts.withClient(cmd, func(ctx context.Context, c *client.Client, r resolved) error {
				results, err := c.CreateTransfers(ctx, transfers)
				if err != nil {
					return err
				}
				views := make([]resultView, 0, len(results))
				for _, res := range results {
					if failedOnly && res.Result == ledger.TransferOK {
						continue
					}
					views = append(views, resultView{Index: res.Index, Code: uint32(res.Result), Result: res.Result.String()})
				}
				return writeOutput(cmd.OutOrStdout(), r.output, views)
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "-", "JSON or YAML list of transfers")
	cmd.Flags().BoolVar(&failedOnly, "failed-only", false, "print only events that did not succeed")
	return cmd
}

func parseIDs(args []string) ([]ledger.Uint128, error) {
	ids := make([]ledger.Uint128, 0, len(args))
	for _, arg := range args {
		id, err := ledger.ParseUint128(arg)
		if err != nil {
			return nil, fmt.Errorf("parse id %q: %w", arg, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func newLookupAccountsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "lookup-accounts ID...",
		Short: "Look up accounts by id",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			return opts.withClient(cmd, func(ctx context.Context, c *client.Client, r resolved) error {
				accounts, err := c.LookupAccounts(ctx, ids)
				if err != nil {
					return err
				}
				return writeOutput(cmd.OutOrStdout(), r.output, accounts)
			})
		},
	}
}

func newLookupTransfersCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "lookup-transfers ID...",
		Short: "Look up transfers by id",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			return opts.withClient(cmd, func(ctx context.Context, c *client.Client, r resolved) error {
				transfers, err := c.LookupTransfers(ctx, ids)
				if err != nil {
					return err
				}
				return writeOutput(cmd.OutOrStdout(), r.output, transfers)
			})
		},
	}
}

// filterFlags binds the account filter flags shared by the history queries.
type filterFlags struct {
	min      uint64
	max      uint64
	limit    uint32
	debits   bool
	credits  bool
	reversed bool
}

func (f *filterFlags) bind(cmd *cobra.Command) {
	cmd.Flags().Uint64Var(&f.min, "timestamp-min", 0, "lowest timestamp, inclusive; 0 is unbounded")
	cmd.Flags().Uint64Var(&f.max, "timestamp-max", 0, "highest timestamp, inclusive; 0 is unbounded")
	cmd.Flags().Uint32Var(&f.limit, "limit", ledger.DefaultAccountFilterLimit, "maximum results")
	cmd.Flags().BoolVar(&f.debits, "debits", false, "include transfers debiting the account")
	cmd.Flags().BoolVar(&f.credits, "credits", false, "include transfers crediting the account")
	cmd.Flags().BoolVar(&f.reversed, "reversed", false, "newest first")
}

func (f *filterFlags) filter(raw string) (ledger.AccountFilter, error) {
	id, err := ledger.ParseUint128(raw)
	if err != nil {
		return ledger.AccountFilter{}, fmt.Errorf("parse account id %q: %w", raw, err)
	}
	filter := ledger.NewAccountFilter(id)
	filter.TimestampMin = f.min
	filter.TimestampMax = f.max
	filter.Limit = f.limit
	filter.Flags = ledger.AccountFilterFlags{
		Debits:   f.debits,
		Credits:  f.credits,
		Reversed: f.reversed,
	}.ToUint32()
	return filter, nil
}

func newAccountTransfersCmd(opts *options) *cobra.Command {
	var ff filterFlags
	cmd := &cobra.Command{
		Use:   "account-transfers ACCOUNT_ID",
		Short: "List transfers touching an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := ff.filter(args[0])
			if err != nil {
				return err
			}
			return opts.withClient(cmd, func(ctx context.Context, c *client.Client, r resolved) error {
				transfers, err := c.GetAccountTransfers(ctx, filter)
				if err != nil {
					return err
				}
				return writeOutput(cmd.OutOrStdout(), r.output, transfers)
			})
		},
	}
	ff.bind(cmd)
	return cmd
}

func newAccountBalancesCmd(opts *options) *cobra.Command {
	var ff filterFlags
	cmd := &cobra.Command{
		Use:   "account-balances ACCOUNT_ID",
		Short: "List historical balances of an account with the history flag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := ff.filter(args[0])
			if err != nil {
				return err
			}
			return opts.withClient(cmd, func(ctx context.Context, c *client.Client, r resolved) error {
				balances, err := c.GetAccountBalances(ctx, filter)
				if err != nil {
					return err
				}
				return writeOutput(cmd.OutOrStdout(), r.output, balances)
			})
		},
	}
	ff.bind(cmd)
	return cmd
}

func newPingCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Round-trip a pulse to the cluster",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withClient(cmd, func(ctx context.Context, c *client.Client, r resolved) error {
				if err := c.Ping(ctx); err != nil {
					return err
				}
				return writeOutput(cmd.OutOrStdout(), r.output, map[string]string{
					"status":    "ok",
					"client_id": c.ClientID().String(),
				})
			})
		},
	}
}

type healthView struct {
	Addr     string `json:"addr" yaml:"addr"`
	Healthy  bool   `json:"healthy" yaml:"healthy"`
	Attempts int    `json:"attempts" yaml:"attempts"`
	Elapsed  string `json:"elapsed" yaml:"elapsed"`
	Error    string `json:"error,omitempty" yaml:"error,omitempty"`
}

func newHealthCmd(opts *options) *cobra.Command {
	policy := health.DefaultPolicy()
	var pulse bool
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Probe each replica port until it is listening",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := opts.resolve(cmd)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("interval") {
				r.health.Interval = policy.Interval
			}
			if flags.Changed("probe-timeout") {
				r.health.Timeout = policy.Timeout
			}
			if flags.Changed("retries") {
				r.health.Retries = policy.Retries
			}
			addrs, err := session.ParseAddresses(r.client.Addresses)
			if err != nil {
				return err
			}

			views := make([]healthView, 0, len(addrs))
			var failed error
			for _, addr := range addrs {
				report, err := health.Probe(cmd.Context(), addr, r.health)
				if err == nil && pulse {
					err = pingAddr(cmd.Context(), r, addr)
				}
				view := healthView{
					Addr:     addr,
					Healthy:  err == nil,
					Attempts: report.Attempts,
					Elapsed:  report.Elapsed.String(),
				}
				if err != nil {
					view.Error = err.Error()
					failed = err
				}
				views = append(views, view)
			}
			if err := writeOutput(cmd.OutOrStdout(), r.output, views); err != nil {
				return err
			}
			return failed
		},
	}
	cmd.Flags().DurationVar(&policy.Interval, "interval", policy.Interval, "delay between attempts")
	cmd.Flags().DurationVar(&policy.Timeout, "probe-timeout", policy.Timeout, "per-attempt timeout")
	cmd.Flags().IntVar(&policy.Retries, "retries", policy.Retries, "attempts before reporting unhealthy")
	cmd.Flags().BoolVar(&pulse, "pulse", false, "also round-trip a pulse after the port answers")
	return cmd
}

// pingAddr pulses one replica with a dedicated session.
func pingAddr(ctx context.Context, r resolved, addr string) error {
	cfg := r.client
	cfg.Addresses = []string{addr}
	cfg.Session.RequestTimeout = r.health.Timeout
	c, err := client.NewClient(cfg)
	if err != nil {
		return err
	}
	defer c.Close()
	return c.Ping(ctx)
}

func newIDCmd(opts *options) *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "id",
		Short: "Generate time-ordered 128-bit ids",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if count < 1 {
				return fmt.Errorf("--count must be at least 1")
			}
			r, err := opts.resolve(cmd)
			if err != nil {
				return err
			}
			ids := make([]ledger.Uint128, count)
			for i := range ids {
				ids[i] = ledger.ID()
			}
			return writeOutput(cmd.OutOrStdout(), r.output, ids)
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 1, "number of ids")
	return cmd
}
