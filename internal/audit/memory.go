package audit

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kodex-auth/go-core/pkg/types"
)

// MemoryStore holds audit records in memory. Safe for concurrent use.
type MemoryStore struct {
	mu      sync.Mutex
	records []types.AuditRecord
}

// NewMemoryStore creates an empty in-memory audit store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Insert appends one record.
func (s *MemoryStore) Insert(_ context.Context, rec *types.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, *rec)
	return nil
}

// Query retrieves records matching the filter, newest first.
func (s *MemoryStore) Query(_ context.Context, f Filter) ([]*types.AuditRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*types.AuditRecord
	for i := range s.records {
		rec := s.records[i]
		if f.RealmID != "" && rec.RealmID != f.RealmID {
			continue
		}
		if f.EventType != "" && rec.EventType != f.EventType {
			continue
		}
		if f.ActorID != "" && (rec.ActorID == nil || *rec.ActorID != f.ActorID) {
			continue
		}
		if f.TargetID != "" && (rec.TargetID == nil || *rec.TargetID != f.TargetID) {
			continue
		}
		if !f.From.IsZero() && rec.Timestamp.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && !rec.Timestamp.Before(f.To) {
			continue
		}
		copied := rec
		matched = append(matched, &copied)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})

	if f.Offset > 0 {
		if f.Offset >= len(matched) {
			return nil, nil
		}
		matched = matched[f.Offset:]
	}
	if f.Limit > 0 && len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	return matched, nil
}

// DeleteOlderThan removes records timestamped before the cutoff.
func (s *MemoryStore) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.records[:0]
	var n int64
	for _, rec := range s.records {
		if rec.Timestamp.Before(cutoff) {
			n++
		} else {
			kept = append(kept, rec)
		}
	}
	s.records = kept
	return n, nil
}
