package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newDeliverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deliver",
		Short: "Runs the delivery worker",
		Long: `Claims queued records one at a time and POSTs them to the configured
endpoint. Retryable failures back off and requeue; permanent failures and
exhausted retries are logged and dead-lettered.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			appInstance, err := resolveApp(ctx)
			if err != nil {
				return err
			}
			w, err := appInstance.DeliveryWorker(ctx)
			if err != nil {
				return fmt.Errorf("init delivery worker: %w", err)
			}
			q, err := appInstance.Queue(ctx)
			if err != nil {
				return err
			}
			appInstance.ServeStatus(ctx, appInstance.StatusServer(nil, q))
			return w.Run(ctx)
		},
	}
}
