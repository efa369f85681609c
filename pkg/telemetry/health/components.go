package health

import (
	"context"
	"errors"
	"fmt"
	"time"

	"monay-hq/authz/pkg/audit"
	"monay-hq/authz/pkg/limits/storage"
	"monay-hq/authz/pkg/policy/model"
	"monay-hq/authz/pkg/policy/store"
)

// probeEntityID is looked up in the limits backend by LimitsCheck. It is
// never written.
const probeEntityID = "__health_probe__"

// SnapshotSource exposes the active rule snapshot.
type SnapshotSource interface {
	Snapshot() *store.Snapshot
}

// RulesCheck fails until a rule snapshot has been published. When maxAge is
// positive it also fails if the snapshot is older than maxAge.
func RulesCheck(src SnapshotSource, maxAge time.Duration) CheckFunc {
	return func(ctx context.Context) error {
		snap := src.Snapshot()
		if snap == nil || snap.Version == 0 {
			return errors.New("no rule snapshot loaded")
		}
		if maxAge > 0 {
			if age := time.Since(snap.LoadedAt); age > maxAge {
				return fmt.Errorf("rule snapshot v%d is %s old", snap.Version, age.Round(time.Second))
			}
		}
		return nil
	}
}

// LimitsCheck verifies the spend limit backend answers reads.
func LimitsCheck(backend storage.Backend) CheckFunc {
	return func(ctx context.Context) error {
		if _, err := backend.Load(ctx, probeEntityID, model.ScopeDaily); err != nil {
			return fmt.Errorf("limits backend: %w", err)
		}
		return nil
	}
}

// AuditCheck verifies the audit storage answers queries.
func AuditCheck(s audit.Storage) CheckFunc {
	return func(ctx context.Context) error {
		epoch := time.Unix(0, 0)
		q := &audit.Query{EndTime: &epoch}
		if _, err := s.Count(ctx, q); err != nil {
			return fmt.Errorf("audit storage: %w", err)
		}
		return nil
	}
}
