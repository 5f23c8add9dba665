package main

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/bitrise-io/go-resumable-upload/chunk"
	"github.com/bitrise-io/go-resumable-upload/internal/fileselect"
	"github.com/bitrise-io/go-resumable-upload/upload"
	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/spf13/cobra"
)

func newUploadCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "upload <path or glob>...",
		Short: "Upload files one after another",
		Long: `Upload every file matched by the arguments, one after another.

Press Ctrl+C to pause: the chunk in flight finishes, then the session id to
resume with is printed.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resolver := fileselect.NewResolver(pathutil.NewPathModifier(), pathutil.NewPathChecker(), a.logger)
			paths, err := resolver.Resolve(args)
			if err != nil {
				return err
			}
			return a.uploadFiles(cmd.Context(), paths)
		},
	}
}

func (a *app) uploadFiles(ctx context.Context, paths []string) error {
	controller := a.newController()

	return runPausable(ctx, controller, a.logger, func(ctx context.Context, interrupted *atomic.Bool) error {
		for i, path := range paths {
			if interrupted.Load() {
				a.logger.Warnf("Skipping %d remaining file(s)", len(paths)-i)
				return nil
			}

			a.logger.Println()
			a.logger.Infof("(%d/%d) %s", i+1, len(paths), path)
			paused, err := a.uploadFile(ctx, controller, path)
			if err != nil {
				return err
			}
			if paused {
				a.logger.Warnf("Skipping %d remaining file(s)", len(paths)-i-1)
				return nil
			}
		}
		return nil
	})
}

func (a *app) uploadFile(ctx context.Context, controller *upload.Controller, path string) (bool, error) {
	file, err := chunk.OpenFile(path)
	if err != nil {
		return false, err
	}
	defer func() {
		if err := file.Close(); err != nil {
			a.logger.Warnf("failed to close %s: %s", path, err)
		}
	}()

	err = controller.Start(ctx, file)
	return a.report(controller, path, err)
}

// report prints how a transfer ended and reports whether it was paused.
func (a *app) report(controller *upload.Controller, path string, err error) (bool, error) {
	status := controller.Status()

	switch status.State {
	case upload.StatePaused:
		a.logger.Warnf("Upload paused at %d%%. Resume with:", status.Progress)
		a.logger.Printf("  resumable-upload resume %s --file %q", status.SessionID, path)
		return true, nil
	case upload.StateFailed:
		if status.SessionID != "" {
			a.logger.Warnf("Continue the failed upload with:")
			a.logger.Printf("  resumable-upload resume %s --file %q", status.SessionID, path)
		}
		return false, err
	}

	if err != nil {
		return false, err
	}
	if status.State != upload.StateIdle {
		return false, fmt.Errorf("upload ended in unexpected state: %s", status.State)
	}
	return false, nil
}
