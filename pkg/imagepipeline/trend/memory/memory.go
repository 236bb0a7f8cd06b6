// Package memory provides an in-memory implementation of the
// imagepipeline.TrendStore interface, used in tests and local development.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/tripshare/image-pipeline/pkg/imagepipeline"
)

// Store is an in-memory implementation of the imagepipeline.TrendStore interface
type Store struct {
	mu      sync.Mutex
	records map[string]imagepipeline.TrendRecord
	now     func() time.Time
}

// New creates a new in-memory trend store
func New() *Store {
	return &Store{
		records: make(map[string]imagepipeline.TrendRecord),
		now:     time.Now,
	}
}

// Bump increments the tag's photo count and overwrites its cover image.
func (s *Store) Bump(ctx context.Context, tag, coverKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record := s.records[tag]
	record.TagName = tag
	record.Count++
	record.CoverImage = coverKey
	record.LastUpdated = s.now().UTC()
	s.records[tag] = record
	return nil
}

// Record returns one tag's aggregate. A tag never bumped returns a zero
// record.
func (s *Store) Record(tag string) imagepipeline.TrendRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	record := s.records[tag]
	record.TagName = tag
	return record
}
