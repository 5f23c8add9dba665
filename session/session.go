// Package session holds the records shared by the upload controller and the
// backends: upload sessions, their listing projections and the set of chunk
// indices a backend reports as stored.
package session

import (
	"errors"
	"fmt"
	"sort"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
)

// Session identifies one upload attempt. The backend assigns the ID and
// remains the system of record.
type Session struct {
	ID        string `json:"id"`
	FileName  string `json:"fileName"`
	TotalSize int64  `json:"totalSize"`
}

// New validates and builds a Session.
func New(id, fileName string, totalSize int64) (Session, error) {
	if id == "" {
		return Session{}, errors.New("session id must not be empty")
	}
	if totalSize < 0 {
		return Session{}, fmt.Errorf("session %s: total size must not be negative, got %d", id, totalSize)
	}
	return Session{ID: id, FileName: fileName, TotalSize: totalSize}, nil
}

// View is the read-only listing projection of a finished or unfinished session.
type View struct {
	ID             string     `json:"id"`
	FileName       string     `json:"fileName"`
	TotalSize      int64      `json:"totalSize"`
	UploadedChunks []int      `json:"uploadedChunks,omitempty"`
	CreatedAt      *time.Time `json:"createdAt,omitempty"`
}

// Session returns the identity part of the view.
func (v View) Session() Session {
	return Session{ID: v.ID, FileName: v.FileName, TotalSize: v.TotalSize}
}

// ChunkSet is the set of chunk indices known to be durably stored for a
// session. Indices can only be added, never removed.
type ChunkSet struct {
	set mapset.Set[int]
}

// NewChunkSet builds a set from backend-reported indices. Duplicates are
// folded; negative indices are rejected.
func NewChunkSet(indices ...int) (*ChunkSet, error) {
	for _, i := range indices {
		if i < 0 {
			return nil, fmt.Errorf("invalid chunk index: %d", i)
		}
	}
	return &ChunkSet{set: mapset.NewThreadUnsafeSet[int](indices...)}, nil
}

// Add marks index as stored. It reports whether the index was new.
func (s *ChunkSet) Add(index int) bool {
	if index < 0 {
		return false
	}
	return s.set.Add(index)
}

// Contains ...
func (s *ChunkSet) Contains(index int) bool {
	if s == nil {
		return false
	}
	return s.set.Contains(index)
}

// Len ...
func (s *ChunkSet) Len() int {
	if s == nil {
		return 0
	}
	return s.set.Cardinality()
}

// CountBelow returns how many stored indices are lower than n.
func (s *ChunkSet) CountBelow(n int) int {
	if s == nil {
		return 0
	}
	count := 0
	s.set.Each(func(i int) bool {
		if i < n {
			count++
		}
		return false
	})
	return count
}

// Indices returns the stored indices in increasing order.
func (s *ChunkSet) Indices() []int {
	if s == nil {
		return []int{}
	}
	indices := s.set.ToSlice()
	sort.Ints(indices)
	return indices
}

// Clone returns an independent copy.
func (s *ChunkSet) Clone() *ChunkSet {
	if s == nil {
		return &ChunkSet{set: mapset.NewThreadUnsafeSet[int]()}
	}
	return &ChunkSet{set: s.set.Clone()}
}

// String ...
func (s *ChunkSet) String() string {
	return fmt.Sprint(s.Indices())
}
