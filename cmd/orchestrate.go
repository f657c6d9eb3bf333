package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/gazette-ingest/internal/gazette"
)

func newOrchestrateCmd() *cobra.Command {
	var start, end string
	cmd := &cobra.Command{
		Use:   "orchestrate",
		Short: "Scrapes a range of gazette dates with a pool of workers",
		Long: `Splits the date range across workers, each with its own scraping session.
Progress is kept in a JSON ledger so an interrupted run resumes where it
stopped. Dates are DD/MM/YYYY or YYYY-MM-DD.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runOrchestrate(cmd.Context(), start, end)
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "first date to scrape")
	cmd.Flags().StringVar(&end, "end", "", "last date to scrape (defaults to --start)")
	_ = cmd.MarkFlagRequired("start")
	return cmd
}

func runOrchestrate(ctx context.Context, startFlag, endFlag string) error {
	appInstance, err := resolveApp(ctx)
	if err != nil {
		return err
	}
	start, err := gazette.ParseDate(startFlag)
	if err != nil {
		return fmt.Errorf("--start: %w", err)
	}
	end := start
	if endFlag != "" {
		if end, err = gazette.ParseDate(endFlag); err != nil {
			return fmt.Errorf("--end: %w", err)
		}
	}

	o, err := appInstance.Orchestrator()
	if err != nil {
		return fmt.Errorf("init orchestrator: %w", err)
	}
	appInstance.ServeStatus(ctx, appInstance.StatusServer(o, nil))

	if err := o.Run(ctx, start, end); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run orchestrator: %w", err)
	}
	meta := o.Snapshot().Metadata
	appInstance.Logger().Info("orchestrate command finished",
		zap.Int("processed_dates", meta.ProcessedDates),
		zap.Int("total_dates", meta.TotalDates),
		zap.Int("total_records", meta.TotalRecords),
	)
	return nil
}
