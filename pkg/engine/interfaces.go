package engine

import "context"

// Collection is a named source of entity declarations of one kind.
// Registries depend only on this interface, never on a concrete backend.
type Collection[T any] interface {
	// ID returns the collection id, recorded on every entity it provides.
	ID() string

	// ListIDs returns every id held by the collection.
	ListIDs(ctx context.Context) ([]string, error)

	// Get returns the spec for id, or a NotFound error.
	Get(ctx context.Context, id string) (T, error)

	// Set stores the spec for id, replacing any previous value.
	Set(ctx context.Context, id string, spec T) error

	// Delete removes id. Deleting an unknown id is not an error.
	Delete(ctx context.Context, id string) error

	// Flush persists any pending changes.
	Flush(ctx context.Context) error
}

// EnvironmentCollection is a collection of environment specs.
type EnvironmentCollection = Collection[EnvironmentSpec]

// AppCollection is a collection of app specs.
type AppCollection = Collection[AppSpec]

// Materializer turns a desired spec into a usable environment at path.
// It must be idempotent; failures are surfaced to the caller unchanged.
type Materializer interface {
	Materialize(ctx context.Context, path string, spec EnvironmentSpec) error
}

// Journal records sync attempts and registry mutations.
type Journal interface {
	RecordSync(ctx context.Context, rec SyncRecord) error
	RecordAudit(ctx context.Context, rec AuditRecord) error
}
