package upload

import (
	"time"

	"github.com/bitrise-io/go-resumable-upload/session"
	"github.com/bitrise-io/go-utils/v2/analytics"
)

type uploadTracker struct {
	tracker analytics.Tracker
}

func newUploadTracker(tracker analytics.Tracker) uploadTracker {
	return uploadTracker{tracker: tracker}
}

func (t uploadTracker) enqueue(event string, properties analytics.Properties) {
	if t.tracker == nil {
		return
	}
	t.tracker.Enqueue(event, properties)
}

func (t uploadTracker) logSessionStarted(s session.Session, totalChunks int, chunkSize int64) {
	t.enqueue("upload_session_started", analytics.Properties{
		"session_id":   s.ID,
		"total_size":   s.TotalSize,
		"total_chunks": totalChunks,
		"chunk_size":   chunkSize,
	})
}

func (t uploadTracker) logPaused(sessionID string, nextIndex, totalChunks int) {
	t.enqueue("upload_session_paused", analytics.Properties{
		"session_id":   sessionID,
		"next_index":   nextIndex,
		"total_chunks": totalChunks,
	})
}

func (t uploadTracker) logCompleted(sessionID string, totalChunks, transmitted, skipped int, took time.Duration) {
	t.enqueue("upload_session_completed", analytics.Properties{
		"session_id":         sessionID,
		"total_chunks":       totalChunks,
		"transmitted_chunks": transmitted,
		"skipped_chunks":     skipped,
		"upload_time_s":      took.Truncate(time.Second).Seconds(),
	})
}

func (t uploadTracker) logFailed(sessionID string, reason error) {
	t.enqueue("upload_session_failed", analytics.Properties{
		"session_id": sessionID,
		"error":      reason.Error(),
	})
}

func (t uploadTracker) logReselectRequired(sessionID string) {
	t.enqueue("upload_session_reselect_required", analytics.Properties{
		"session_id": sessionID,
	})
}
