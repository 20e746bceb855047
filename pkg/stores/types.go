package stores

import (
	"context"
	"time"

	"github.com/frkl/viva/pkg/engine"
)

// SyncRun is one recorded sync attempt.
type SyncRun struct {
	ID          string    `json:"id"`
	EnvID       string    `json:"env_id"`
	EnvPath     string    `json:"env_path"`
	SpecHash    string    `json:"spec_hash"`
	Spec        string    `json:"spec"` // JSON blob
	Changed     bool      `json:"changed"`
	Error       *string   `json:"error,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
}

// Succeeded reports whether the attempt finished without error.
func (r *SyncRun) Succeeded() bool {
	return r.Error == nil || *r.Error == ""
}

// AuditEntry represents an audit trail entry
type AuditEntry struct {
	ID        int64     `json:"id"`
	Action    string    `json:"action"` // e.g. "env.added", "env.synced", "app.removed"
	Actor     string    `json:"actor"`
	TargetID  *string   `json:"target_id,omitempty"`
	Details   *string   `json:"details,omitempty"` // JSON blob
	Timestamp time.Time `json:"timestamp"`
}

// JournalStore is the persistence interface of the sync journal.
type JournalStore interface {
	engine.Journal

	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Sync history
	ListSyncRuns(ctx context.Context, envID *string, limit, offset int) ([]*SyncRun, error)
	LatestSyncRun(ctx context.Context, envID string) (*SyncRun, error)
	DeleteSyncRuns(ctx context.Context, envID string) (int64, error)

	// Audit operations
	ListAuditEntries(ctx context.Context, action *string, limit, offset int) ([]*AuditEntry, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
