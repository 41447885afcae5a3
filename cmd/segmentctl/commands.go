package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ignite/audience-engine/internal/config"
	"github.com/ignite/audience-engine/internal/copilot"
	"github.com/ignite/audience-engine/internal/repository/memory"
	"github.com/ignite/audience-engine/internal/segmentation"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "segmentctl",
		Short:         "Validate, compile and preview audience segment rules",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newValidateCmd(), newSQLCmd(), newPreviewCmd(), newTranslateCmd())
	return root
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <rules.json>",
		Short: "Check that a rule tree is well formed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := readRules(args[0])
			if err != nil {
				return err
			}
			if err := g.Validate(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok (fingerprint %s)\n", g.Fingerprint())
			return nil
		},
	}
}

func newSQLCmd() *cobra.Command {
	var count bool
	cmd := &cobra.Command{
		Use:   "sql <rules.json>",
		Short: "Print the Postgres query a rule tree compiles to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := readRules(args[0])
			if err != nil {
				return err
			}
			p, err := segmentation.Compile(*g)
			if err != nil {
				return err
			}
			qb := segmentation.NewQueryBuilder()
			build := qb.BuildIDQuery
			if count {
				build = qb.BuildCountQuery
			}
			query, params, err := build(p)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, query)
			for i, v := range params {
				fmt.Fprintf(out, "-- $%d = %v\n", i+1, v)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&count, "count", false, "print the COUNT query instead of the id query")
	return cmd
}

func newPreviewCmd() *cobra.Command {
	var customersPath string
	cmd := &cobra.Command{
		Use:   "preview <rules.json>",
		Short: "Evaluate a rule tree against a JSON file of customers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := readRules(args[0])
			if err != nil {
				return err
			}
			customers, err := memory.LoadCustomers(customersPath)
			if err != nil {
				return err
			}
			engine := segmentation.NewEngine(memory.NewCustomerStore(customers...), memory.NewSegmentRepo())
			p, err := engine.Preview(cmd.Context(), *g)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), p)
		},
	}
	cmd.Flags().StringVar(&customersPath, "customers", "customers.json", "JSON array of customers")
	return cmd
}

func newTranslateCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "translate <text>",
		Short: "Ask the copilot to turn a plain-language audience into rules",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFromEnv("")
			if err != nil {
				return err
			}
			client := copilot.NewClient(copilot.Options{
				APIKey:     cfg.OpenAI.APIKey,
				BaseURL:    cfg.OpenAI.BaseURL,
				Model:      cfg.OpenAI.Model,
				Timeout:    cfg.OpenAI.Timeout,
				MaxRetries: cfg.OpenAI.MaxRetries,
			})
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			g, err := copilot.NewTranslator(client).Translate(ctx, args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), g)
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", time.Minute, "request timeout")
	return cmd
}

func readRules(path string) (*segmentation.RuleGroup, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules: %w", err)
	}
	var g segmentation.RuleGroup
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("parse rules %s: %w", path, err)
	}
	return &g, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
