// Package chunk splits a source file into fixed-size, contiguous byte ranges
// and reads those ranges back for transmission.
package chunk

import (
	"fmt"
	"strings"

	"github.com/docker/go-units"
)

// DefaultSize is the chunk size used when none is configured (100 MiB).
const DefaultSize int64 = 100 * 1024 * 1024

// Count returns the number of chunks needed to cover totalSize bytes:
// ceil(totalSize / chunkSize). An empty file has zero chunks.
func Count(totalSize, chunkSize int64) int {
	if chunkSize <= 0 {
		panic(fmt.Sprintf("chunk size must be positive, got %d", chunkSize))
	}
	if totalSize < 0 {
		panic(fmt.Sprintf("total size must not be negative, got %d", totalSize))
	}
	return int((totalSize + chunkSize - 1) / chunkSize)
}

// Plan describes how a file of TotalSize bytes is cut into chunks.
type Plan struct {
	TotalSize   int64
	ChunkSize   int64
	TotalChunks int
}

// NewPlan ...
func NewPlan(totalSize, chunkSize int64) Plan {
	return Plan{
		TotalSize:   totalSize,
		ChunkSize:   chunkSize,
		TotalChunks: Count(totalSize, chunkSize),
	}
}

// Range returns the half-open byte range [start, end) of the chunk at index.
func (p Plan) Range(index int) (int64, int64) {
	if index < 0 || index >= p.TotalChunks {
		panic(fmt.Sprintf("chunk index %d out of range [0, %d)", index, p.TotalChunks))
	}
	start := int64(index) * p.ChunkSize
	end := start + p.ChunkSize
	if end > p.TotalSize {
		end = p.TotalSize
	}
	return start, end
}

// Size returns the length of the chunk at index. Only the last chunk may be
// shorter than ChunkSize.
func (p Plan) Size(index int) int64 {
	start, end := p.Range(index)
	return end - start
}

// ByteRange ...
type ByteRange struct {
	Index int
	Start int64
	End   int64
}

// Ranges lists every chunk range in index order.
func (p Plan) Ranges() []ByteRange {
	ranges := make([]ByteRange, 0, p.TotalChunks)
	for i := 0; i < p.TotalChunks; i++ {
		start, end := p.Range(i)
		ranges = append(ranges, ByteRange{Index: i, Start: start, End: end})
	}
	return ranges
}

// ParseSize parses a human readable chunk size like "100MiB", "8m" or "5242880".
// Units are binary (1 MiB = 1024 KiB).
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultSize, nil
	}

	size, err := units.RAMInBytes(s)
	if err != nil {
		return 0, fmt.Errorf("parse chunk size %q: %w", s, err)
	}
	if size <= 0 {
		return 0, fmt.Errorf("chunk size must be positive, got %q", s)
	}
	return size, nil
}

// HumanSize formats a byte count for log output.
func HumanSize(size int64) string {
	return units.BytesSize(float64(size))
}
