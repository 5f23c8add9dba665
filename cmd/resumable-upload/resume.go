package main

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/bitrise-io/go-resumable-upload/chunk"
	"github.com/bitrise-io/go-resumable-upload/internal/fileselect"
	"github.com/bitrise-io/go-resumable-upload/session"
	"github.com/bitrise-io/go-resumable-upload/upload"
	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/spf13/cobra"
)

func newResumeCmd(a *app) *cobra.Command {
	var files []string

	cmd := &cobra.Command{
		Use:   "resume <session id>",
		Short: "Resume an unfinished session",
		Long: `Resume an unfinished session with the file it was started with.

The files given with --file are tried in order. The first one is checked
against the session; if it is not the session's file, the next ones are
offered until the right file is found. Chunks already stored are never sent
again.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var paths []string
			if len(files) > 0 {
				resolver := fileselect.NewResolver(pathutil.NewPathModifier(), pathutil.NewPathChecker(), a.logger)
				var err error
				if paths, err = resolver.Resolve(files); err != nil {
					return err
				}
			}
			return a.resume(cmd.Context(), args[0], paths)
		},
	}
	cmd.Flags().StringArrayVarP(&files, "file", "f", nil, "Path or glob of the session's file, can be repeated")
	return cmd
}

func (a *app) resume(ctx context.Context, id string, paths []string) error {
	s, err := a.findUnfinished(ctx, id)
	if err != nil {
		return err
	}
	a.logger.Infof("Session %s: %s (%s)", s.ID, s.FileName, chunk.HumanSize(s.TotalSize))

	var sources []*chunk.FileSource
	defer func() {
		for _, source := range sources {
			if err := source.Close(); err != nil {
				a.logger.Warnf("failed to close %s: %s", source.Name(), err)
			}
		}
	}()
	open := func(path string) (*chunk.FileSource, error) {
		source, err := chunk.OpenFile(path)
		if err != nil {
			return nil, err
		}
		sources = append(sources, source)
		return source, nil
	}

	controller := a.newController()
	selectedPath := s.FileName
	if len(paths) > 0 {
		first, err := open(paths[0])
		if err != nil {
			return err
		}
		if err := controller.SelectFile(ctx, first); err != nil {
			return err
		}
		selectedPath = paths[0]
	}

	return runPausable(ctx, controller, a.logger, func(ctx context.Context, interrupted *atomic.Bool) error {
		decision, err := controller.ResumeSession(ctx, s)
		if err != nil || decision.Action == upload.ActionResume {
			_, err = a.report(controller, selectedPath, err)
			return err
		}

		a.logger.Printf("%d%% of the session is already stored", decision.Progress)
		if len(paths) > 1 {
			return a.reselect(ctx, controller, s, paths[1:], open, interrupted)
		}
		return fmt.Errorf("select the file %s with --file to resume the session", s.FileName)
	})
}

// reselect offers the candidates to the controller until one of them claims
// the staged session.
func (a *app) reselect(ctx context.Context, controller *upload.Controller, s session.Session, candidates []string, open func(string) (*chunk.FileSource, error), interrupted *atomic.Bool) error {
	for _, path := range candidates {
		if interrupted.Load() {
			return nil
		}

		source, err := open(path)
		if err != nil {
			return err
		}
		err = controller.SelectFile(ctx, source)
		if _, pending := controller.Reconciler().Pending(); pending {
			if err != nil {
				return err
			}
			a.logger.Debugf("%s is not the file of session %s", path, s.ID)
			continue
		}
		_, err = a.report(controller, path, err)
		return err
	}
	return fmt.Errorf("none of the given files is %s", s.FileName)
}
