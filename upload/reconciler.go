package upload

import (
	"context"
	"fmt"
	"sync"

	"github.com/bitrise-io/go-resumable-upload/chunk"
	"github.com/bitrise-io/go-resumable-upload/progress"
	"github.com/bitrise-io/go-resumable-upload/session"
)

// Action is the outcome of a reconciliation.
type Action int

const (
	// ActionResume means the selected file belongs to the session and
	// transmission can continue right away.
	ActionResume Action = iota
	// ActionAwaitReselect means the session was staged until the user selects
	// the file it was started with.
	ActionAwaitReselect
)

func (a Action) String() string {
	if a == ActionResume {
		return "resume"
	}
	return "await-reselect"
}

// Decision is what the Reconciler concluded about a session and a selected file.
type Decision struct {
	Action  Action
	Session session.Session
	// FromIndex is where transmission restarts. Reconciliation always rescans
	// from the first chunk and relies on skipping stored ones.
	FromIndex int
	Uploaded  *session.ChunkSet
	// Progress is the share of the session already stored, for display.
	Progress int
	// ClearSelection asks the caller to drop the current file selection so the
	// user has to pick the session's file again.
	ClearSelection bool
}

// PendingResumeState is a session waiting for its file to be reselected.
type PendingResumeState struct {
	Session  session.Session
	Uploaded *session.ChunkSet
}

// Reconciler matches a previously known session with the selected file.
type Reconciler struct {
	oracle    Oracle
	chunkSize int64

	mu      sync.Mutex
	pending *PendingResumeState
}

// NewReconciler ...
func NewReconciler(oracle Oracle, chunkSize int64) *Reconciler {
	return &Reconciler{
		oracle:    oracle,
		chunkSize: chunkSize,
	}
}

// Reconcile fetches the stored chunks of s and decides whether selected can
// resume it. A mismatch stages s as the pending session, replacing any
// earlier one; a match drops any stale pending session.
func (r *Reconciler) Reconcile(ctx context.Context, s session.Session, selected chunk.Source) (Decision, error) {
	if s.TotalSize < 0 {
		return Decision{}, fmt.Errorf("session %s: invalid total size %d", s.ID, s.TotalSize)
	}

	indices, err := r.oracle.UploadedChunks(ctx, s.ID)
	if err != nil {
		return Decision{}, fmt.Errorf("%w: session %s: %w", session.ErrOracleQuery, s.ID, err)
	}
	uploaded, err := session.NewChunkSet(indices...)
	if err != nil {
		return Decision{}, fmt.Errorf("%w: session %s: %w", session.ErrOracleQuery, s.ID, err)
	}

	decision := Decision{
		Session:  s,
		Uploaded: uploaded,
		Progress: progress.Percent(uploaded.Len(), chunk.Count(s.TotalSize, r.chunkSize)),
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if selected != nil && selected.Name() == s.FileName {
		r.pending = nil
		decision.Action = ActionResume
		decision.FromIndex = 0
		return decision, nil
	}

	r.pending = &PendingResumeState{Session: s, Uploaded: uploaded.Clone()}
	decision.Action = ActionAwaitReselect
	decision.ClearSelection = true
	return decision, nil
}

// Claim hands out the pending session if selected is the file it waits for.
// A claimed state is cleared, so it is handed out at most once.
func (r *Reconciler) Claim(selected chunk.Source) (PendingResumeState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.pending == nil || selected == nil || selected.Name() != r.pending.Session.FileName {
		return PendingResumeState{}, false
	}

	state := *r.pending
	r.pending = nil
	return state, true
}

// Pending returns the staged session without consuming it.
func (r *Reconciler) Pending() (PendingResumeState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.pending == nil {
		return PendingResumeState{}, false
	}
	return PendingResumeState{Session: r.pending.Session, Uploaded: r.pending.Uploaded.Clone()}, true
}

// Reset drops the staged session.
func (r *Reconciler) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = nil
}
