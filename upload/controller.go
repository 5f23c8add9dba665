// Package upload drives a resumable, chunked upload session: it opens the
// session, transmits chunks one after another, honors pause requests between
// chunks and reconciles previously interrupted sessions with a reselected
// file.
package upload

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bitrise-io/go-resumable-upload/chunk"
	"github.com/bitrise-io/go-resumable-upload/progress"
	"github.com/bitrise-io/go-resumable-upload/session"
	"github.com/bitrise-io/go-utils/v2/analytics"
	"github.com/bitrise-io/go-utils/v2/log"
)

// Config holds configuration for the Controller.
type Config struct {
	// ChunkSize is the size of every chunk but the last one.
	// Default: chunk.DefaultSize
	ChunkSize int64

	// Tracker receives session lifecycle events. Optional.
	Tracker analytics.Tracker
}

// DefaultConfig ...
func DefaultConfig() Config {
	return Config{ChunkSize: chunk.DefaultSize}
}

// Controller owns the state machine of one upload session at a time.
//
// Chunks are transmitted sequentially from a single goroutine. Pause may be
// called from any goroutine; it is observed before the next chunk starts, so
// an in-flight chunk always finishes.
type Controller struct {
	backend    Backend
	chunkSize  int64
	logger     log.Logger
	tracker    uploadTracker
	reconciler *Reconciler
	stats      *chunk.Stats

	paused atomic.Bool

	mu        sync.Mutex
	state     State
	file      chunk.Source
	fileName  string // file of the session, may differ from the selection
	sessionID string
	nextIndex int
	progress  int
	lastErr   error
	events    *eventLog
}

// NewController ...
func NewController(backend Backend, config Config, logger log.Logger) *Controller {
	chunkSize := config.ChunkSize
	if chunkSize <= 0 {
		chunkSize = chunk.DefaultSize
	}

	return &Controller{
		backend:    backend,
		chunkSize:  chunkSize,
		logger:     logger,
		tracker:    newUploadTracker(config.Tracker),
		reconciler: NewReconciler(backend, chunkSize),
		stats:      chunk.NewStats(),
		state:      StateIdle,
		events:     newEventLog(),
	}
}

// ChunkSize ...
func (c *Controller) ChunkSize() int64 {
	return c.chunkSize
}

// Reconciler exposes the pending-session bookkeeping.
func (c *Controller) Reconciler() *Reconciler {
	return c.reconciler
}

// Status returns a snapshot of the controller.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := Status{
		State:     c.state,
		SessionID: c.sessionID,
		NextIndex: c.nextIndex,
		Progress:  c.progress,
		Err:       c.lastErr,
	}
	if c.file != nil {
		status.FileName = c.file.Name()
	}
	return status
}

// Events returns a copy of the upload log.
func (c *Controller) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.events.snapshot()
}

// Start opens a new session for file and transmits it from the first chunk.
// It returns once the upload completed, paused or failed.
func (c *Controller) Start(ctx context.Context, file chunk.Source) error {
	if file == nil {
		return ErrNoFile
	}

	c.mu.Lock()
	if c.state.busy() {
		c.mu.Unlock()
		return ErrBusy
	}
	c.paused.Store(false)
	c.events.reset()
	c.stats.Reset()
	c.state = StateInitializing
	c.file = file
	c.sessionID = ""
	c.nextIndex = 0
	c.progress = 0
	c.lastErr = nil
	c.mu.Unlock()

	c.logger.Infof("Initializing upload session for %s (%s)", file.Name(), chunk.HumanSize(file.Size()))
	totalChunks := chunk.Count(file.Size(), c.chunkSize)
	s, err := c.backend.InitSession(ctx, file.Name(), file.Size())
	if err != nil {
		return c.fail("", -1, totalChunks, fmt.Errorf("%w: %s: %w", session.ErrInitialization, file.Name(), err))
	}

	c.tracker.logSessionStarted(s, totalChunks, c.chunkSize)

	c.mu.Lock()
	c.record(EventStarted, s.ID, -1, totalChunks, "Upload session %s started for %s", s.ID, file.Name())
	c.enterTransmitting(s.ID, file, 0)
	c.mu.Unlock()

	return c.transmit(ctx, s.ID, file, 0, nil)
}

// Pause asks the running transfer to stop before its next chunk.
func (c *Controller) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateTransmitting {
		return ErrNotTransmitting
	}
	c.paused.Store(true)
	c.logger.Debugf("Pause requested for session %s", c.sessionID)
	return nil
}

// Resume continues a paused transfer from the first unsent chunk. Without a
// paused session and a selection of the session's file it returns
// ErrNothingToResume and does nothing.
func (c *Controller) Resume(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StatePaused || c.file == nil || c.sessionID == "" || c.file.Name() != c.fileName {
		c.mu.Unlock()
		return ErrNothingToResume
	}
	sessionID, file, from := c.sessionID, c.file, c.nextIndex
	c.record(EventResumed, sessionID, from, chunk.Count(file.Size(), c.chunkSize), "Resuming upload...")
	c.enterTransmitting(sessionID, file, from)
	c.mu.Unlock()

	return c.transmit(ctx, sessionID, file, from, nil)
}

// Transmit uploads the chunks of file for an existing session, starting at
// fromIndex. Chunks in known are skipped without a network call; when known
// is empty the backend is asked for the stored chunks first.
func (c *Controller) Transmit(ctx context.Context, sessionID string, file chunk.Source, fromIndex int, known *session.ChunkSet) error {
	if file == nil {
		return ErrNoFile
	}
	if sessionID == "" {
		return errors.New("session id must not be empty")
	}
	if fromIndex < 0 {
		return fmt.Errorf("invalid start index: %d", fromIndex)
	}
	if total := chunk.Count(file.Size(), c.chunkSize); fromIndex > total {
		return fmt.Errorf("invalid start index: %d, file has %d chunks", fromIndex, total)
	}

	c.mu.Lock()
	if c.state.busy() {
		c.mu.Unlock()
		return ErrBusy
	}
	c.enterTransmitting(sessionID, file, fromIndex)
	c.mu.Unlock()

	return c.transmit(ctx, sessionID, file, fromIndex, known)
}

// Complete retries only the completion call of a session whose chunks are
// all stored but whose completion failed.
func (c *Controller) Complete(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateFailed || c.sessionID == "" || !errors.Is(c.lastErr, session.ErrCompletion) {
		c.mu.Unlock()
		return ErrNothingToComplete
	}
	sessionID := c.sessionID
	total := 0
	if c.file != nil {
		total = chunk.Count(c.file.Size(), c.chunkSize)
	}
	c.state = StateCompleting
	c.lastErr = nil
	c.mu.Unlock()

	return c.complete(ctx, sessionID, total, time.Now(), 0, 0)
}

// SelectFile records the file the user picked. If it is the file a staged
// session waits for, the staged session is resumed with the chunk set fetched
// during reconciliation.
func (c *Controller) SelectFile(ctx context.Context, file chunk.Source) error {
	c.mu.Lock()
	if c.state.busy() {
		c.mu.Unlock()
		return ErrBusy
	}
	c.file = file

	pending, ok := c.reconciler.Claim(file)
	if !ok {
		c.mu.Unlock()
		return nil
	}

	sessionID := pending.Session.ID
	c.record(EventReselected, sessionID, -1, chunk.Count(file.Size(), c.chunkSize), "File reselected. Resuming...")
	c.enterTransmitting(sessionID, file, 0)
	c.mu.Unlock()

	return c.transmit(ctx, sessionID, file, 0, pending.Uploaded)
}

// ResumeSession reconciles a previously started session with the currently
// selected file. A matching file resumes right away; otherwise the session is
// staged, the selection is cleared and the returned decision says so.
func (c *Controller) ResumeSession(ctx context.Context, s session.Session) (Decision, error) {
	c.mu.Lock()
	if c.state.busy() {
		c.mu.Unlock()
		return Decision{}, ErrBusy
	}
	selected := c.file
	c.state = StateInitializing
	c.sessionID = s.ID
	c.nextIndex = 0
	c.lastErr = nil
	c.mu.Unlock()

	decision, err := c.reconciler.Reconcile(ctx, s, selected)
	if err != nil {
		total := 0
		if s.TotalSize >= 0 {
			total = chunk.Count(s.TotalSize, c.chunkSize)
		}
		return Decision{}, c.fail(s.ID, -1, total, err)
	}

	totalChunks := chunk.Count(s.TotalSize, c.chunkSize)

	c.mu.Lock()
	c.progress = decision.Progress
	c.record(EventSessionLoaded, s.ID, -1, totalChunks, "Loaded session for file: %s", s.FileName)

	if decision.Action == ActionAwaitReselect {
		c.file = nil
		c.sessionID = ""
		c.state = StateIdle
		c.record(EventReselectRequired, s.ID, -1, totalChunks, "File not selected or mismatch. Please reselect: %s", s.FileName)
		c.mu.Unlock()
		c.tracker.logReselectRequired(s.ID)
		return decision, nil
	}

	c.record(EventResumed, s.ID, decision.FromIndex, totalChunks, "Resuming upload with selected file: %s", selected.Name())
	c.enterTransmitting(s.ID, selected, decision.FromIndex)
	c.mu.Unlock()

	return decision, c.transmit(ctx, s.ID, selected, decision.FromIndex, decision.Uploaded)
}

// enterTransmitting must be called with c.mu held.
func (c *Controller) enterTransmitting(sessionID string, file chunk.Source, from int) {
	c.paused.Store(false)
	c.state = StateTransmitting
	c.sessionID = sessionID
	c.file = file
	c.fileName = file.Name()
	c.nextIndex = from
	c.lastErr = nil
}

func (c *Controller) transmit(ctx context.Context, sessionID string, file chunk.Source, fromIndex int, known *session.ChunkSet) error {
	startTime := time.Now()
	plan := chunk.NewPlan(file.Size(), c.chunkSize)

	uploaded := known.Clone()
	if known.Len() == 0 {
		c.logger.Debugf("Querying stored chunks of session %s", sessionID)
		indices, err := c.backend.UploadedChunks(ctx, sessionID)
		if err != nil {
			return c.fail(sessionID, fromIndex, plan.TotalChunks, fmt.Errorf("%w: session %s: %w", session.ErrOracleQuery, sessionID, err))
		}
		uploaded, err = session.NewChunkSet(indices...)
		if err != nil {
			return c.fail(sessionID, fromIndex, plan.TotalChunks, fmt.Errorf("%w: session %s: %w", session.ErrOracleQuery, sessionID, err))
		}
	}

	c.logger.Debugf("Transmitting %d chunks of %s from chunk %d, %d already stored",
		plan.TotalChunks, chunk.HumanSize(c.chunkSize), fromIndex+1, uploaded.Len())

	transmitted, skipped := 0, 0
	for i := fromIndex; i < plan.TotalChunks; i++ {
		if c.paused.Load() || ctx.Err() != nil {
			return c.suspend(ctx, sessionID, i, plan.TotalChunks)
		}

		if uploaded.Contains(i) {
			skipped++
			c.mu.Lock()
			c.nextIndex = i + 1
			c.record(EventChunkSkipped, sessionID, i, plan.TotalChunks, "Skipping chunk %d", i+1)
			c.mu.Unlock()
			continue
		}

		data, err := chunk.Read(file, plan, i)
		if err != nil {
			return c.fail(sessionID, i, plan.TotalChunks, &session.ChunkError{SessionID: sessionID, Index: i, Err: err})
		}

		chunkStart := time.Now()
		if err := c.backend.PutChunk(ctx, sessionID, i, data); err != nil {
			return c.fail(sessionID, i, plan.TotalChunks, &session.ChunkError{SessionID: sessionID, Index: i, Err: err})
		}
		c.stats.Update(time.Since(chunkStart), int64(len(data)))
		uploaded.Add(i)
		transmitted++

		c.mu.Lock()
		c.nextIndex = i + 1
		c.progress = progress.Percent(i+1, plan.TotalChunks)
		c.record(EventChunkUploaded, sessionID, i, plan.TotalChunks, "Uploaded chunk %d / %d", i+1, plan.TotalChunks)
		c.mu.Unlock()

		c.logger.Debugf("Chunk %d took %s [finished=%d] [avg=%s] [%s/s]",
			i+1, time.Since(chunkStart).Round(time.Millisecond), c.stats.FinishedCount(),
			c.stats.Average().Round(time.Millisecond), chunk.HumanSize(int64(c.stats.Throughput())))
	}

	c.mu.Lock()
	c.state = StateCompleting
	c.mu.Unlock()

	return c.complete(ctx, sessionID, plan.TotalChunks, startTime, transmitted, skipped)
}

func (c *Controller) complete(ctx context.Context, sessionID string, totalChunks int, startTime time.Time, transmitted, skipped int) error {
	if err := c.backend.CompleteSession(ctx, sessionID); err != nil {
		return c.fail(sessionID, -1, totalChunks, fmt.Errorf("%w: session %s: %w", session.ErrCompletion, sessionID, err))
	}

	c.mu.Lock()
	c.state = StateIdle
	c.sessionID = ""
	c.nextIndex = 0
	if totalChunks > 0 {
		c.progress = 100
	}
	c.record(EventCompleted, sessionID, -1, totalChunks, "Upload complete!")
	c.mu.Unlock()

	c.tracker.logCompleted(sessionID, totalChunks, transmitted, skipped, time.Since(startTime))
	return nil
}

// suspend parks the session at index. A cancelled context suspends the same
// way a pause does, but the cancellation is reported to the caller.
func (c *Controller) suspend(ctx context.Context, sessionID string, index, totalChunks int) error {
	c.mu.Lock()
	c.state = StatePaused
	c.nextIndex = index
	c.record(EventPaused, sessionID, index, totalChunks, "Upload paused before chunk %d / %d", index+1, totalChunks)
	c.mu.Unlock()

	c.tracker.logPaused(sessionID, index, totalChunks)

	if !c.paused.Load() && ctx.Err() != nil {
		return fmt.Errorf("upload of session %s suspended at chunk %d: %w", sessionID, index+1, ctx.Err())
	}
	return nil
}

// fail records err as the terminal error of the attempt. index is kept as the
// resume point when it is a valid chunk index.
func (c *Controller) fail(sessionID string, index, totalChunks int, err error) error {
	c.mu.Lock()
	c.state = StateFailed
	c.lastErr = err
	if index >= 0 {
		c.nextIndex = index
	}
	c.record(EventFailed, sessionID, index, totalChunks, "Upload failed: %s", err)
	c.mu.Unlock()

	c.tracker.logFailed(sessionID, err)
	return err
}

// record must be called with c.mu held.
func (c *Controller) record(kind EventKind, sessionID string, index, total int, format string, args ...interface{}) {
	e := c.events.append(kind, sessionID, index, total, c.progress, format, args...)

	switch kind {
	case EventCompleted:
		c.logger.Donef("%s", e.Message)
	case EventFailed:
		c.logger.Errorf("%s", e.Message)
	case EventReselectRequired, EventPaused:
		c.logger.Warnf("%s", e.Message)
	case EventChunkSkipped:
		c.logger.Debugf("%s", e.Message)
	default:
		c.logger.Infof("%s", e.Message)
	}
}
