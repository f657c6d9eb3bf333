package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/gazette-ingest/internal/producer"
)

func newProduceCmd() *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "produce",
		Short: "Enqueues finished record files for delivery",
		Long: `Watches the session output directory and enqueues every complete record
file the queue does not already hold. With --once it scans the directory a
single time and exits.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			appInstance, err := resolveApp(ctx)
			if err != nil {
				return err
			}
			q, err := appInstance.Queue(ctx)
			if err != nil {
				return err
			}
			dir := appInstance.Config().Session.OutputDir
			p, err := producer.New(q, dir, appInstance.Clock(), appInstance.Logger().Named("producer"))
			if err != nil {
				return err
			}
			if once {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return fmt.Errorf("create output dir: %w", err)
				}
				n, err := p.Scan(ctx)
				if err != nil {
					return fmt.Errorf("scan output dir: %w", err)
				}
				appInstance.Logger().Info("produce scan finished", zap.Int("enqueued", n))
				return nil
			}
			appInstance.ServeStatus(ctx, appInstance.StatusServer(nil, q))
			return p.Run(ctx)
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "scan once instead of watching")
	return cmd
}
