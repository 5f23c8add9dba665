package main

import (
	"context"
	"fmt"
	"time"

	"github.com/bitrise-io/go-resumable-upload/chunk"
	"github.com/bitrise-io/go-resumable-upload/progress"
	"github.com/bitrise-io/go-resumable-upload/session"
	"github.com/spf13/cobra"
)

func newListCmd(a *app) *cobra.Command {
	var finished, unfinished bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List finished and unfinished sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !finished && !unfinished {
				finished, unfinished = true, true
			}
			return a.list(cmd.Context(), finished, unfinished)
		},
	}
	cmd.Flags().BoolVar(&finished, "finished", false, "List finished sessions")
	cmd.Flags().BoolVar(&unfinished, "unfinished", false, "List unfinished sessions")
	return cmd
}

func (a *app) list(ctx context.Context, finished, unfinished bool) error {
	if unfinished {
		views, err := a.store.ListUnfinished(ctx)
		if err != nil {
			return fmt.Errorf("list unfinished sessions: %w", err)
		}
		a.logger.Infof("Unfinished sessions (%d)", len(views))
		for _, v := range views {
			a.logger.Printf("- %s", a.describe(v, true))
		}
	}

	if finished {
		if unfinished {
			a.logger.Println()
		}
		views, err := a.store.ListFinished(ctx)
		if err != nil {
			return fmt.Errorf("list finished sessions: %w", err)
		}
		a.logger.Infof("Finished sessions (%d)", len(views))
		for _, v := range views {
			a.logger.Printf("- %s", a.describe(v, false))
		}
	}
	return nil
}

func (a *app) describe(v session.View, withProgress bool) string {
	line := fmt.Sprintf("%s  %s  %s", v.ID, v.FileName, chunk.HumanSize(v.TotalSize))
	if v.CreatedAt != nil {
		line += "  " + v.CreatedAt.Local().Format(time.DateTime)
	}
	if withProgress {
		total := chunk.Count(v.TotalSize, a.chunkSize)
		line += fmt.Sprintf("  %d/%d chunks (%d%%)", len(v.UploadedChunks), total, progress.Percent(len(v.UploadedChunks), total))
	}
	return line
}
