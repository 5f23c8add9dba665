package session

import (
	"errors"
	"fmt"
)

// Failure kinds of an upload attempt. Each one is terminal for the attempt;
// test for them with errors.Is.
var (
	ErrInitialization    = errors.New("session initialization failed")
	ErrOracleQuery       = errors.New("uploaded chunks query failed")
	ErrChunkTransmission = errors.New("chunk transmission failed")
	ErrCompletion        = errors.New("session completion failed")
)

// ChunkError reports a failed chunk transmission. It matches
// ErrChunkTransmission and the transport error it wraps.
type ChunkError struct {
	SessionID string
	Index     int
	Err       error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("%s: session %s, chunk %d: %s", ErrChunkTransmission, e.SessionID, e.Index, e.Err)
}

// Unwrap ...
func (e *ChunkError) Unwrap() []error {
	return []error{ErrChunkTransmission, e.Err}
}
