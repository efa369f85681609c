package storage

import (
	"context"
	"sort"
	"sync"

	"monay-hq/authz/pkg/audit"
)

// MemoryStorage keeps audit records in insertion order.
type MemoryStorage struct {
	mu      sync.RWMutex
	records []*audit.Record
	ids     map[string]struct{}
}

// NewMemoryStorage creates an empty in-memory backend.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{ids: make(map[string]struct{})}
}

// Store appends a copy of record.
func (s *MemoryStorage) Store(ctx context.Context, record *audit.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.ids[record.ID]; ok {
		return audit.NewStorageError("memory", "store", audit.ErrDuplicateRecord)
	}
	s.ids[record.ID] = struct{}{}
	s.records = append(s.records, record.Clone())
	return nil
}

// Query returns copies of the matching records.
func (s *MemoryStorage) Query(ctx context.Context, query *audit.Query) ([]*audit.Record, error) {
	if err := audit.ValidateQuery(query); err != nil {
		return nil, err
	}

	s.mu.RLock()
	matched := s.match(query)
	s.mu.RUnlock()

	desc := query.Descending()
	sort.SliceStable(matched, func(i, j int) bool {
		if desc {
			return matched[i].Timestamp.After(matched[j].Timestamp)
		}
		return matched[i].Timestamp.Before(matched[j].Timestamp)
	})

	offset := 0
	if query != nil {
		offset = query.Offset
	}
	if offset >= len(matched) {
		return []*audit.Record{}, nil
	}
	end := offset + query.EffectiveLimit()
	if end > len(matched) {
		end = len(matched)
	}

	out := make([]*audit.Record, 0, end-offset)
	for _, r := range matched[offset:end] {
		out = append(out, r.Clone())
	}
	return out, nil
}

// Count returns the number of matching records.
func (s *MemoryStorage) Count(ctx context.Context, query *audit.Query) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.match(query))), nil
}

// Delete removes matching records.
func (s *MemoryStorage) Delete(ctx context.Context, query *audit.Query) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.records[:0]
	var deleted int64
	for _, r := range s.records {
		if query.Matches(r) {
			delete(s.ids, r.ID)
			deleted++
			continue
		}
		kept = append(kept, r)
	}
	for i := len(kept); i < len(s.records); i++ {
		s.records[i] = nil
	}
	s.records = kept
	return deleted, nil
}

// Close is a no-op.
func (s *MemoryStorage) Close() error {
	return nil
}

func (s *MemoryStorage) match(query *audit.Query) []*audit.Record {
	var out []*audit.Record
	for _, r := range s.records {
		if query.Matches(r) {
			out = append(out, r)
		}
	}
	return out
}
