package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/bitrise-io/go-resumable-upload/upload"
	"github.com/bitrise-io/go-utils/v2/log"
	"golang.org/x/sync/errgroup"
)

// runPausable runs fn while watching for SIGINT and SIGTERM. The first
// signal pauses the controller after its in-flight chunk; when nothing is
// transmitting yet the context handed to fn is cancelled instead. A second
// signal terminates the process.
func runPausable(ctx context.Context, controller *upload.Controller, logger log.Logger, fn func(ctx context.Context, interrupted *atomic.Bool) error) error {
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var interrupted atomic.Bool
	done := make(chan struct{})

	g := new(errgroup.Group)
	g.Go(func() error {
		select {
		case <-done:
			return nil
		case <-sigCtx.Done():
		}
		stop()
		if ctx.Err() != nil {
			return nil
		}

		interrupted.Store(true)
		logger.Warnf("Interrupted, pausing after the current chunk...")
		if err := controller.Pause(); errors.Is(err, upload.ErrNotTransmitting) {
			cancel()
		}
		return nil
	})
	g.Go(func() error {
		defer close(done)
		return fn(runCtx, &interrupted)
	})
	return g.Wait()
}
