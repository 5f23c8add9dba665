package upload

import (
	"context"
	"io"

	"github.com/bitrise-io/go-resumable-upload/chunk"
	"github.com/bitrise-io/go-resumable-upload/session"
	"github.com/bitrise-io/go-utils/v2/analytics"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/stretchr/testify/mock"
)

var testLogger = log.NewLogger()

// zeroSource is a Source of the given size made of zero bytes, without
// allocating the whole file.
type zeroSource struct {
	name string
	size int64
}

func (s zeroSource) Name() string { return s.name }
func (s zeroSource) Size() int64  { return s.size }

func (s zeroSource) ReadAt(p []byte, off int64) (int, error) {
	if off >= s.size {
		return 0, io.EOF
	}
	n := len(p)
	if remaining := s.size - off; int64(n) > remaining {
		n = int(remaining)
	}
	for i := 0; i < n; i++ {
		p[i] = 0
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func bytesSource(name string, size int) chunk.Source {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i)
	}
	return chunk.NewBytesSource(name, data)
}

func chunkSet(indices ...int) *session.ChunkSet {
	set, err := session.NewChunkSet(indices...)
	if err != nil {
		panic(err)
	}
	return set
}

// putRecorder collects the chunk indices passed to PutChunk, in call order.
type putRecorder struct {
	indices []int
	data    map[int][]byte
}

func newPutRecorder() *putRecorder {
	return &putRecorder{data: map[int][]byte{}}
}

func (r *putRecorder) record(args mock.Arguments) {
	index := args.Int(2)
	r.indices = append(r.indices, index)
	r.data[index] = args.Get(3).([]byte)
}

type fakeTracker struct {
	events []string
}

func (t *fakeTracker) Enqueue(eventName string, properties ...analytics.Properties) {
	t.events = append(t.events, eventName)
}

func (t *fakeTracker) Wait() {}

func eventKinds(events []Event) []EventKind {
	kinds := make([]EventKind, 0, len(events))
	for _, e := range events {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}

var anyCtx = mock.MatchedBy(func(context.Context) bool { return true })
