package upload

import (
	"context"

	"github.com/bitrise-io/go-resumable-upload/session"
)

// Initializer opens a new upload session for a file.
type Initializer interface {
	InitSession(ctx context.Context, fileName string, totalSize int64) (session.Session, error)
}

// Oracle answers which chunk indices the backend already stored for a session.
type Oracle interface {
	UploadedChunks(ctx context.Context, sessionID string) ([]int, error)
}

// ChunkPutter stores one chunk. Storing the same index twice must be safe.
type ChunkPutter interface {
	PutChunk(ctx context.Context, sessionID string, index int, data []byte) error
}

// Completer finalizes a session once every chunk is stored. Completing an
// already completed session must be safe.
type Completer interface {
	CompleteSession(ctx context.Context, sessionID string) error
}

// Backend is everything the Controller needs from the remote store.
//
//go:generate mockery --name Backend --output ./mocks
type Backend interface {
	Initializer
	Oracle
	ChunkPutter
	Completer
}

// Catalog lists sessions for display and for picking one to resume.
type Catalog interface {
	ListFinished(ctx context.Context) ([]session.View, error)
	ListUnfinished(ctx context.Context) ([]session.View, error)
}
