package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vanshika/fintrace/txnengine/internal/app"
	"github.com/vanshika/fintrace/txnengine/internal/config"
	"github.com/vanshika/fintrace/txnengine/internal/generator"
	"github.com/vanshika/fintrace/txnengine/internal/logging"
	"github.com/vanshika/fintrace/txnengine/internal/manager"
)

var errMissingDataset = errors.New("dataset not found")

type options struct {
	datasetDir   string
	requestsPath string
	accountsPath string
	workers      int
	seedBalances bool
}

func main() {
	var opts options
	cmd := &cobra.Command{
		Use:           "txnengine-submit",
		Short:         "Submit a JSON file of transaction requests to the shared queue",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&opts.datasetDir, "dataset-dir", "./seed-data", "directory containing requests.json and accounts.json")
	flags.StringVar(&opts.requestsPath, "requests", "", "path to requests.json (overrides dataset-dir)")
	flags.StringVar(&opts.accountsPath, "accounts", "", "path to accounts.json (overrides dataset-dir)")
	flags.IntVar(&opts.workers, "workers", 4, "number of concurrent submitters")
	flags.BoolVar(&opts.seedBalances, "seed-balances", false, "write opening balances from accounts.json before submitting")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	logger = logger.With(zap.String("component", "submit"))
	defer func() { _ = logger.Sync() }()

	requestsFile, err := resolve(opts.requestsPath, opts.datasetDir, "requests.json")
	if err != nil {
		return err
	}
	reqs, err := generator.ReadRequests(requestsFile)
	if err != nil {
		return err
	}
	if len(reqs) == 0 {
		return fmt.Errorf("requests dataset empty: %s", requestsFile)
	}

	engine, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := engine.Close(); err != nil {
			logger.Warn("closing backends failed", zap.Error(err))
		}
	}()

	if opts.seedBalances {
		accountsFile, err := resolve(opts.accountsPath, opts.datasetDir, "accounts.json")
		if err != nil {
			return err
		}
		accounts, err := generator.ReadAccounts(accountsFile)
		if err != nil {
			return err
		}
		for _, acc := range accounts {
			if err := engine.Cache.SetBalance(ctx, acc.ID, acc.Balance); err != nil {
				return fmt.Errorf("seed balance %s: %w", acc.ID, err)
			}
		}
		logger.Info("seeded opening balances", zap.Int("accounts", len(accounts)))
	}

	start := time.Now()
	logger.Info("submitting transactions", zap.Int("count", len(reqs)), zap.Int("workers", opts.workers))
	ids, err := manager.NewBulkSubmitter(engine.Manager, opts.workers).SubmitAll(ctx, reqs)

	accepted := 0
	for _, id := range ids {
		if id != "" {
			accepted++
		}
	}
	var taskErr *manager.TaskError
	if errors.As(err, &taskErr) {
		for _, e := range taskErr.Errors {
			logger.Warn("submission rejected", zap.Error(e))
		}
	} else if err != nil {
		return err
	}

	logger.Info("submission complete",
		zap.Duration("duration", time.Since(start)),
		zap.Int("accepted", accepted),
		zap.Int("rejected", len(reqs)-accepted))
	return nil
}

func resolve(explicitPath, baseDir, fallbackFile string) (string, error) {
	if explicitPath != "" {
		if _, err := os.Stat(explicitPath); err != nil {
			return "", fmt.Errorf("stat %s: %w", explicitPath, err)
		}
		return explicitPath, nil
	}
	path := filepath.Join(baseDir, fallbackFile)
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("%w: %s", errMissingDataset, path)
	}
	return path, nil
}
