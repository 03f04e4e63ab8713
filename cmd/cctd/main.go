// main.go - Operator daemon and tooling for the confidential commitment token.
//
// Usage:
//
//	cctd serve  [--config cctd.json] [--data-dir data] [--listen 127.0.0.1:8545]
//	cctd verify                       audit the supply invariant of a stopped store
//	cctd params                       print the configured group parameters
//	cctd commit --value 12.5 [--blinding 0x..]
//
// The configuration file is created with defaults when missing. Flags override it.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"os"
	"os/signal"
	"syscall"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"cctoken/internal/commitment"
)

// Version is set at build time.
var Version = "dev"

type options struct {
	configPath string
	dataDir    string
	listen     string
	inMemory   bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:          "cctd",
		Short:        "Confidential commitment token ledger daemon",
		Version:      Version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "cctd.json", "path to the JSON configuration file")
	root.PersistentFlags().StringVar(&opts.dataDir, "data-dir", "", "override data_dir")
	root.PersistentFlags().StringVar(&opts.listen, "listen", "", "override the HTTP listen address")
	root.PersistentFlags().BoolVar(&opts.inMemory, "in-memory", false, "keep the ledger in memory only")

	root.AddCommand(
		newServeCmd(opts),
		newVerifyCmd(opts),
		newParamsCmd(opts),
		newCommitCmd(opts),
	)
	return root
}

// load reads the configuration file and applies flag overrides.
func (o *options) load() (*Config, error) {
	cfg, err := LoadConfig(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.dataDir != "" {
		cfg.DataDir = o.dataDir
	}
	if o.listen != "" {
		cfg.Listen = o.listen
	}
	if o.inMemory {
		cfg.InMemory = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newServeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Deploy if needed and serve the ledger over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			logger, closeLog, err := NewLogger(cfg.Log, cfg.DataDir)
			if err != nil {
				return err
			}
			defer closeLog()
			return runServe(cmd.Context(), cfg, logger)
		},
	}
}

func newVerifyCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Audit the supply invariant of the configured store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			logger, closeLog, err := NewLogger(cfg.Log, cfg.DataDir)
			if err != nil {
				return err
			}
			defer closeLog()
			return runVerify(cmd.OutOrStdout(), cfg, logger)
		},
	}
}

func newParamsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "params",
		Short: "Print the configured group parameters",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			pp, err := cfg.Params()
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), pp)
		},
	}
}

type commitOutput struct {
	Value      string `json:"value"`
	Blinding   string `json:"blinding"`
	Commitment string `json:"commitment"`
}

func newCommitCmd(opts *options) *cobra.Command {
	var value, blinding string
	cmd := &cobra.Command{
		Use:   "commit",
		Short: "Compute the commitment of a value; the blinding is random unless given",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			pp, err := cfg.Params()
			if err != nil {
				return err
			}
			amount, err := decimal.NewFromString(value)
			if err != nil {
				return fmt.Errorf("invalid value %q: %w", value, err)
			}
			r, err := parseBlinding(pp, blinding)
			if err != nil {
				return err
			}
			c, err := pp.CommitDecimal(amount, r)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), commitOutput{
				Value:      commitment.FormatValue(amount),
				Blinding:   commitment.ToHex(r),
				Commitment: commitment.ToHex(c),
			})
		},
	}
	cmd.Flags().StringVar(&value, "value", "", "decimal amount to commit")
	cmd.Flags().StringVar(&blinding, "blinding", "", "blinding factor, hex (0x..) or decimal; random when empty")
	_ = cmd.MarkFlagRequired("value")
	return cmd
}

func parseBlinding(pp *commitment.Params, s string) (*big.Int, error) {
	if s == "" {
		return pp.RandomBlinding(nil)
	}
	r, err := commitment.ParseHex(s)
	if err != nil {
		return nil, fmt.Errorf("invalid blinding: %w", err)
	}
	return r, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
