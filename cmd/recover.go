package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/gazette-ingest/internal/delivery"
)

func newRecoverCmd() *cobra.Command {
	var deadLetters bool
	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Returns stranded queue items to pending",
		Long: `Moves items left in processing by a crashed worker back to pending. With
--dead-letters it also replays dead-lettered items, restoring their payload
from the archive when the source file is gone.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			appInstance, err := resolveApp(ctx)
			if err != nil {
				return err
			}
			logger := appInstance.Logger()
			q, err := appInstance.Queue(ctx)
			if err != nil {
				return err
			}
			moved, err := q.RecoverProcessing(ctx)
			if err != nil {
				return fmt.Errorf("recover processing items: %w", err)
			}
			logger.Info("processing items recovered", zap.Int("count", moved))
			if !deadLetters {
				return nil
			}

			archive, err := appInstance.Archive(ctx)
			if err != nil {
				return err
			}
			var reader delivery.ArchiveReader
			if archive != nil {
				reader = archive
			}
			_, err = delivery.ReplayDeadLetters(ctx, q, reader, logger.Named("replay"))
			return err
		},
	}
	cmd.Flags().BoolVar(&deadLetters, "dead-letters", false, "also replay dead-lettered items")
	return cmd
}
