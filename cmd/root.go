// Package cmd defines and implements the CLI commands for the gazette
// executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/gazette-ingest/internal/api"
	"github.com/JakeFAU/gazette-ingest/internal/app"
	"github.com/JakeFAU/gazette-ingest/internal/config"
	"github.com/JakeFAU/gazette-ingest/internal/delivery"
	"github.com/JakeFAU/gazette-ingest/internal/gazette"
	"github.com/JakeFAU/gazette-ingest/internal/logging"
	"github.com/JakeFAU/gazette-ingest/internal/orchestrator"
	"github.com/JakeFAU/gazette-ingest/internal/queue"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is the set of services the commands use. Tests inject their own.
type App interface {
	Close()
	Config() config.Config
	Logger() *zap.Logger
	Clock() gazette.Clock
	Queue(ctx context.Context) (queue.Queue, error)
	Archive(ctx context.Context) (app.Archive, error)
	DeliveryWorker(ctx context.Context) (*delivery.Worker, error)
	Orchestrator() (*orchestrator.Orchestrator, error)
	StatusServer(ledger api.LedgerSource, q api.QueueInspector) *http.Server
	ServeStatus(ctx context.Context, srv *http.Server)
}

// newApp is the application factory. It's a variable so tests can swap it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "gazette",
		Short: "Scrapes gazette records and delivers them downstream.",
		Long: `gazette reconstructs records from a paginated online gazette, including
records split across page boundaries, and hands the output to a durable
queue whose delivery worker pushes each record to a downstream endpoint.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			logger, err := logging.New(logging.Config{
				Development: cfg.Logging.Development,
				Level:       cfg.Logging.Level,
			})
			if err != nil {
				return err
			}
			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, JSON or TOML)")

	cmd.AddCommand(
		newOrchestrateCmd(),
		newProduceCmd(),
		newDeliverCmd(),
		newRecoverCmd(),
	)
	return cmd
}

// run executes root and closes the App the command started, whether or not
// the command succeeded. Cobra skips post-run hooks when RunE fails.
func run(ctx context.Context, root *cobra.Command) error {
	executed, err := root.ExecuteContextC(ctx)
	if executed != nil && executed.Context() != nil {
		if appInstance, ok := executed.Context().Value(appKey).(App); ok && appInstance != nil {
			appInstance.Close()
		}
	}
	return err
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point. SIGINT and SIGTERM cancel the command's
// context so workers can finish their current item.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, newRootCmd())
	stop()
	if err != nil {
		os.Exit(1)
	}
}
