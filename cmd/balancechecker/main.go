package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/acme/ivr-balance-checker/internal/api"
	"github.com/acme/ivr-balance-checker/internal/app"
	"github.com/acme/ivr-balance-checker/internal/config"
	"github.com/acme/ivr-balance-checker/internal/extraction"
	"github.com/acme/ivr-balance-checker/internal/repository/sqlstore"
	"github.com/acme/ivr-balance-checker/internal/telemetry"
	"github.com/acme/ivr-balance-checker/internal/workitem"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "balancechecker",
		Short: "Check account balances over an IVR phone line",
		Long:  "balancechecker dials a phone menu for each card, keys in the card details and reads back the spoken balance.",
	}
	rootCmd.PersistentFlags().String("config", getEnv("CONFIG_FILE", "configs/config.yaml"), "path to configuration file")

	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newExtractCommand())
	rootCmd.AddCommand(newStatsCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Call every card in the input file and record the balances",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if v, _ := cmd.Flags().GetString("cards"); v != "" {
				cfg.Input.CardsFile = v
			}
			if v, _ := cmd.Flags().GetString("results"); v != "" {
				cfg.Output.ResultsFile = v
			}
			if dry, _ := cmd.Flags().GetBool("dry-run"); dry {
				cfg.Telephony.Provider = config.ProviderMock
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return run(ctx, cfg)
		},
	}

	cmd.Flags().String("cards", "", "input file of identifier|secret lines (overrides input.cards_file)")
	cmd.Flags().String("results", "", "CSV results file (overrides output.results_file)")
	cmd.Flags().Bool("dry-run", false, "use the simulated provider instead of placing real calls")
	return cmd
}

func run(ctx context.Context, cfg *config.Config) error {
	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry, cfg.App.Version)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Telemetry.ShutdownTimeout)
		defer cancel()
		_ = shutdownTracing(sctx)
	}()

	container, err := app.Build(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to bootstrap application: %w", err)
	}
	defer container.Close()
	log := container.Logger

	items, stats, err := workitem.LoadFile(cfg.Input.CardsFile, log)
	if err != nil {
		return err
	}
	log.Info("cards loaded",
		zap.String("file", cfg.Input.CardsFile),
		zap.Int("loaded", stats.Loaded),
		zap.Int("skipped", stats.Skipped),
	)
	if len(items) == 0 {
		fmt.Println("No cards to process.")
		return nil
	}

	orch, err := container.Orchestrator(ctx)
	if err != nil {
		return err
	}

	// the simulated provider calls the dispatcher directly, so only real providers need the webhook server
	serverErr := make(chan error, 1)
	srvCtx, stopServer := context.WithCancel(ctx)
	defer stopServer()
	if cfg.Telephony.Provider != config.ProviderMock {
		handlerSet, err := container.HandlerSet(ctx)
		if err != nil {
			return err
		}
		server := api.NewServer(cfg.HTTP, handlerSet)
		go func() { serverErr <- server.Start(srvCtx) }()
		log.Info("webhook server listening",
			zap.Int("port", cfg.HTTP.Port),
			zap.String("webhook_url", cfg.Telephony.WebhookURL()),
		)
	}

	runCtx, stopRun := context.WithCancel(ctx)
	defer stopRun()
	go func() {
		select {
		case err := <-serverErr:
			if err != nil {
				log.Error("webhook server stopped", zap.Error(err))
				stopRun()
			}
		case <-runCtx.Done():
		}
	}()

	fmt.Printf("Checking %d cards with up to %d concurrent calls...\n", len(items), cfg.Orchestrator.Concurrency)
	summary := orch.Run(runCtx, items)

	fmt.Println(strings.Repeat("=", 40))
	fmt.Printf("Calls processed: %d\n", summary.Processed)
	fmt.Printf("Completed:       %d\n", summary.Completed)
	fmt.Printf("Failed:          %d\n", summary.Failed)
	fmt.Printf("Errored:         %d\n", summary.Errored)
	fmt.Printf("Elapsed:         %s\n", summary.Elapsed.Round(time.Millisecond))
	fmt.Printf("Rate:            %.1f calls/min\n", summary.RatePerMinute())
	if cfg.Output.ResultsFile != "" {
		fmt.Printf("Results written to %s\n", cfg.Output.ResultsFile)
	}
	return nil
}

func newExtractCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "extract <text>",
		Short: "Show what the extraction engine reads from a transcribed utterance",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			engine, err := extraction.New(
				extraction.WithKeywords(cfg.Extraction.Keywords),
				extraction.WithSeparator(cfg.Extraction.Separator),
			)
			if err != nil {
				return err
			}

			match := engine.Match(strings.Join(args, " "))
			if match.Kind == extraction.KindNone {
				fmt.Println("(no balance found)")
				return nil
			}
			fmt.Printf("%s [%s]\n", match.Value, match.Kind)
			return nil
		},
	}
}

func newStatsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print stored counters and results for a batch",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if batch, _ := cmd.Flags().GetString("batch"); batch != "" {
				cfg.Orchestrator.BatchName = batch
			}
			if cfg.Store.Driver == config.DriverNone {
				return fmt.Errorf("store.driver is not configured")
			}
			cfg.Telephony.Provider = config.ProviderMock
			cfg.Output.ResultsFile = ""

			container, err := app.Build(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer container.Close()

			var repo *sqlstore.ResultRepository
			if container.Postgres != nil {
				repo = sqlstore.NewResultRepository(container.Postgres.DB())
			} else {
				repo = sqlstore.NewResultRepository(container.SQLite.DB())
			}

			stats, err := repo.Stats(cmd.Context(), cfg.Orchestrator.BatchName)
			if err != nil {
				return err
			}
			fmt.Printf("Batch %s: %d calls, %d completed, %d failed, %d errored\n",
				stats.Batch, stats.Total, stats.Completed, stats.Failed, stats.Errored)

			limit, _ := cmd.Flags().GetInt("limit")
			records, err := repo.ListByBatch(cmd.Context(), cfg.Orchestrator.BatchName, limit)
			if err != nil {
				return err
			}
			for _, r := range records {
				fmt.Printf("%s  %-10s %-30s %s\n", r.MaskedCard, r.Status, r.Balance, r.FailureReason)
			}
			return nil
		},
	}
	cmd.Flags().String("batch", "", "batch name (overrides orchestrator.batch_name)")
	cmd.Flags().Int("limit", 50, "maximum rows to list")
	return cmd
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
