package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/vanshika/fintrace/txnengine/internal/generator"
)

func main() {
	cfg := generator.DefaultConfig()
	var (
		outputDir   string
		writeStdout bool
	)

	cmd := &cobra.Command{
		Use:          "txnengine-loadgen",
		Short:        "Generate synthetic accounts and transaction requests",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg.LargeAmountChance = clampProbability(cfg.LargeAmountChance)
			cfg.CapabilityChance = clampProbability(cfg.CapabilityChance)
			cfg.DuplicateChance = clampProbability(cfg.DuplicateChance)
			cfg.UrgentChance = clampProbability(cfg.UrgentChance)

			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()

			dataset, err := generator.New(cfg).Generate(ctx)
			if err != nil {
				return fmt.Errorf("generation failed: %w", err)
			}

			if writeStdout {
				return json.NewEncoder(os.Stdout).Encode(dataset)
			}
			if err := generator.WriteDataset(dataset, outputDir); err != nil {
				return fmt.Errorf("failed to write dataset: %w", err)
			}
			fmt.Fprintf(os.Stdout, "Generated %d accounts and %d requests into %s\n", len(dataset.Accounts), len(dataset.Requests), outputDir)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&cfg.NumUsers, "users", cfg.NumUsers, "number of distinct users")
	flags.IntVar(&cfg.NumAccounts, "accounts", cfg.NumAccounts, "number of accounts")
	flags.IntVar(&cfg.NumTransactions, "transactions", cfg.NumTransactions, "number of requests to generate")
	flags.Float64Var(&cfg.OpeningBalance, "opening-balance", cfg.OpeningBalance, "opening balance per account")
	flags.Float64Var(&cfg.LargeAmountChance, "large-chance", cfg.LargeAmountChance, "probability of an amount above the reporting threshold")
	flags.Float64Var(&cfg.CapabilityChance, "capability-chance", cfg.CapabilityChance, "probability of pinning a request to a capability")
	flags.Float64Var(&cfg.DuplicateChance, "duplicate-chance", cfg.DuplicateChance, "probability of resubmitting an earlier request")
	flags.Float64Var(&cfg.UrgentChance, "urgent-chance", cfg.UrgentChance, "probability of CRITICAL or HIGH priority")
	flags.Int64Var(&cfg.Seed, "seed", cfg.Seed, "random seed for deterministic generation")
	flags.StringVar(&outputDir, "output-dir", "seed-data", "directory to write accounts.json and requests.json")
	flags.BoolVar(&writeStdout, "stdout", false, "write combined dataset to stdout instead of files")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func clampProbability(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}
