// Package audit consumes domain events and persists one audit record per
// event, with metadata sanitization and a retention sweep.
package audit

import (
	"context"
	"time"

	"github.com/kodex-auth/go-core/pkg/types"
)

// Filter narrows an audit query. Zero fields match everything.
type Filter struct {
	RealmID   string
	EventType string
	ActorID   string
	TargetID  string
	From      time.Time
	To        time.Time
	Limit     int
	Offset    int
}

// Store persists audit records.
type Store interface {
	Insert(ctx context.Context, rec *types.AuditRecord) error
	Query(ctx context.Context, f Filter) ([]*types.AuditRecord, error)
	// DeleteOlderThan removes records with a timestamp before the cutoff
	// and returns how many were removed.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
