// Package memory is an in-process RecordRepository. Nothing survives a
// restart; it backs tests and throwaway demos.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/lalith-99/capyboard/internal/models"
	"github.com/lalith-99/capyboard/internal/slot"
)

type Store struct {
	mu      sync.RWMutex
	records map[string]models.MessageRecord
}

func NewStore(records ...models.MessageRecord) *Store {
	s := &Store{records: make(map[string]models.MessageRecord, len(records))}
	for _, rec := range records {
		s.records[rec.Key] = rec
	}
	return s
}

func (s *Store) List(_ context.Context) ([]models.MessageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.MessageRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *Store) Put(_ context.Context, rec models.MessageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.Key] = rec
	return nil
}

func (s *Store) Create(_ context.Context, rec models.MessageRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[rec.Key]; exists {
		return false, nil
	}
	s.records[rec.Key] = rec
	return true, nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	if !slot.Valid(key) {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
	return nil
}
