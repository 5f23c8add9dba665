package chunk

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Source is a file selected for upload. Chunks are read with ReadAt so a
// Source never has to be consumed sequentially.
type Source interface {
	io.ReaderAt
	// Name identifies the file to the backend and during reconciliation.
	Name() string
	// Size is the total number of bytes to upload.
	Size() int64
}

// FileSource reads chunks from a file on disk.
type FileSource struct {
	file *os.File
	name string
	size int64
}

// OpenFile opens path as a Source. The Source name is the base name of path.
func OpenFile(path string) (*FileSource, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if info.IsDir() {
		_ = file.Close()
		return nil, fmt.Errorf("%s is a directory", path)
	}

	return &FileSource{
		file: file,
		name: filepath.Base(path),
		size: info.Size(),
	}, nil
}

// Name ...
func (s *FileSource) Name() string {
	return s.name
}

// Size ...
func (s *FileSource) Size() int64 {
	return s.size
}

// ReadAt ...
func (s *FileSource) ReadAt(p []byte, off int64) (int, error) {
	return s.file.ReadAt(p, off)
}

// Close closes the underlying file.
func (s *FileSource) Close() error {
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}

// BytesSource serves chunks from memory.
type BytesSource struct {
	*bytes.Reader
	name string
}

// NewBytesSource ...
func NewBytesSource(name string, data []byte) *BytesSource {
	return &BytesSource{
		Reader: bytes.NewReader(data),
		name:   name,
	}
}

// Name ...
func (s *BytesSource) Name() string {
	return s.name
}

// Read returns exactly the bytes of the chunk at index. The data is read into
// memory so the transport can replay it on retries.
func Read(src Source, plan Plan, index int) ([]byte, error) {
	if index < 0 || index >= plan.TotalChunks {
		return nil, fmt.Errorf("chunk index %d out of range [0, %d)", index, plan.TotalChunks)
	}

	start, end := plan.Range(index)
	data := make([]byte, end-start)
	n, err := io.ReadFull(io.NewSectionReader(src, start, end-start), data)
	if err != nil {
		return nil, fmt.Errorf("read chunk %d (bytes %d-%d, got %d): %w", index+1, start, end, n, err)
	}

	return data, nil
}
