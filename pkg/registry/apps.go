package registry

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/frkl/viva/pkg/engine"
	"github.com/frkl/viva/pkg/telemetry"
)

// EnvMerger folds a spec into an environment. *Environments implements it.
type EnvMerger interface {
	Merge(ctx context.Context, id string, spec engine.EnvironmentSpec, createIfMissing bool) (bool, error)
}

// AppsConfig configures an app registry.
type AppsConfig struct {
	// Placement is the strategy used when none is given explicitly.
	Placement engine.PlacementStrategy

	// Journal, if set, records mutations.
	Journal engine.Journal

	// Telemetry provides logging and metrics. Defaults to telemetry.Nop().
	Telemetry *telemetry.Telemetry

	// EnvIDs maps app ids to environment ids resolved by an earlier registry.
	// Listed apps keep that environment when their collection is added.
	EnvIDs map[string]string
}

// Apps is the authoritative set of apps.
type Apps struct {
	placement engine.PlacementStrategy
	pinned    map[string]string
	journal   engine.Journal
	tel       *telemetry.Telemetry
	logger    zerolog.Logger

	mu               sync.Mutex
	apps             map[string]*engine.App
	collections      map[string]engine.AppCollection
	collectionsOrder []string
}

// NewApps creates an empty app registry.
func NewApps(cfg AppsConfig) *Apps {
	tel := cfg.Telemetry
	if tel == nil {
		tel = telemetry.Nop()
	}
	return &Apps{
		placement:   cfg.Placement,
		pinned:      maps.Clone(cfg.EnvIDs),
		journal:     cfg.Journal,
		tel:         tel,
		logger:      tel.Logger.NewComponentLogger("apps").Zerolog(),
		apps:        make(map[string]*engine.App),
		collections: make(map[string]engine.AppCollection),
	}
}

// Placement returns the default placement strategy.
func (r *Apps) Placement() engine.PlacementStrategy {
	return r.placement
}

// AddCollection registers a collection and every app it holds, placed with the default strategy
// unless the app's environment was pinned. Ids already registered from an earlier collection are
// skipped. On error nothing of the collection stays registered.
func (r *Apps) AddCollection(ctx context.Context, coll engine.AppCollection) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	collID := coll.ID()
	if _, ok := r.collections[collID]; ok {
		return engine.NewDuplicateIDError(fmt.Sprintf("app collection '%s' already registered", collID)).WithID(collID)
	}

	ids, err := coll.ListIDs(ctx)
	if err != nil {
		return fmt.Errorf("failed to list apps of collection '%s': %w", collID, err)
	}

	specs := make([]engine.AppSpec, len(ids))
	for i, id := range ids {
		if err := engine.ValidateID(id); err != nil {
			return err
		}
		spec, err := coll.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to read app '%s': %w", id, err)
		}
		specs[i] = spec
	}

	for i, id := range ids {
		envID, ok := r.pinned[id]
		if !ok {
			envID = engine.ResolveEnvID(id, collID, r.placement)
		}
		// ids were validated above, so only duplicates are skipped here.
		_, _ = r.register(id, specs[i], collID, envID, true)
	}

	r.collections[collID] = coll
	r.collectionsOrder = append(r.collectionsOrder, collID)

	r.tel.Metrics.SetAppCount(len(r.apps))
	r.logger.Debug().Str("collection", collID).Int("apps", len(ids)).Msg("Added app collection")
	return nil
}

// EnvIDs returns the resolved environment id of every registered app.
func (r *Apps) EnvIDs() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]string, len(r.apps))
	for id, app := range r.apps {
		out[id] = app.EnvID
	}
	return out
}

// Collections returns the registered collection ids in registration order.
func (r *Apps) Collections() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.collectionsOrder)
}

// Register adds an app without persisting it. Its environment id is resolved here, once.
// With allowDuplicate an existing id is left alone and false is returned.
func (r *Apps) Register(id string, spec engine.AppSpec, collectionID string, strategy engine.PlacementStrategy, allowDuplicate bool) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	added, err := r.register(id, spec, collectionID, engine.ResolveEnvID(id, collectionID, strategy), allowDuplicate)
	r.tel.Metrics.SetAppCount(len(r.apps))
	return added, err
}

func (r *Apps) register(id string, spec engine.AppSpec, collectionID, envID string, allowDuplicate bool) (bool, error) {
	if err := engine.ValidateID(id); err != nil {
		return false, err
	}

	if existing, ok := r.apps[id]; ok {
		if allowDuplicate {
			r.logger.Debug().
				Str("app_id", id).
				Str("collection", collectionID).
				Str("registered_in", existing.CollectionID).
				Msg("Skipping duplicate app")
			return false, nil
		}
		return false, engine.NewDuplicateIDError(fmt.Sprintf("app '%s' already registered", id)).WithID(id)
	}

	app := &engine.App{
		ID:           id,
		Spec:         spec.Clone(),
		CollectionID: collectionID,
		EnvID:        envID,
	}
	r.apps[id] = app

	r.logger.Debug().
		Str("app_id", id).
		Str("collection", collectionID).
		Str("env_id", app.EnvID).
		Msg("Registered app")
	return true, nil
}

// Add persists a new app to a collection and registers it. An empty collection id selects the
// default collection. The app's requirements are not merged into any environment.
func (r *Apps) Add(ctx context.Context, id string, spec engine.AppSpec, collectionID string, strategy engine.PlacementStrategy) (*engine.App, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := engine.ValidateID(id); err != nil {
		return nil, err
	}
	if _, ok := r.apps[id]; ok {
		return nil, engine.NewDuplicateIDError(fmt.Sprintf("app '%s' already registered", id)).WithID(id)
	}

	coll, err := r.collection(collectionID)
	if err != nil {
		return nil, err
	}
	if err := coll.Set(ctx, id, spec); err != nil {
		return nil, fmt.Errorf("failed to persist app '%s': %w", id, err)
	}
	if _, err := r.register(id, spec, coll.ID(), engine.ResolveEnvID(id, coll.ID(), strategy), false); err != nil {
		return nil, err
	}

	r.tel.Metrics.SetAppCount(len(r.apps))
	app := r.apps[id]
	r.audit(ctx, engine.AuditAppAdded, id, map[string]interface{}{
		"collection": coll.ID(),
		"env_id":     app.EnvID,
		"placement":  strategy.String(),
	})
	return app.Clone(), nil
}

func (r *Apps) collection(id string) (engine.AppCollection, error) {
	if id == "" {
		id = engine.DefaultCollectionID
		if _, ok := r.collections[id]; !ok && len(r.collectionsOrder) > 0 {
			id = r.collectionsOrder[0]
		}
	}
	coll, ok := r.collections[id]
	if !ok {
		return nil, engine.NewNotFoundError(fmt.Sprintf("no app collection '%s'", id)).WithID(id)
	}
	return coll, nil
}

// Get returns a copy of app id.
func (r *Apps) Get(id string) (*engine.App, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	app, ok := r.apps[id]
	if !ok {
		return nil, engine.NewNotFoundError(fmt.Sprintf("app '%s' not found", id)).WithID(id)
	}
	return app.Clone(), nil
}

// ListIDs returns all app ids in sorted order.
func (r *Apps) ListIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sortedIDs()
}

func (r *Apps) sortedIDs() []string {
	ids := make([]string, 0, len(r.apps))
	for id := range r.apps {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// List returns copies of all apps, sorted by id.
func (r *Apps) List() []*engine.App {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*engine.App, 0, len(r.apps))
	for _, id := range r.sortedIDs() {
		out = append(out, r.apps[id].Clone())
	}
	return out
}

// Remove deletes app id from its collection and the registry.
// Requirements already merged into its environment stay there.
func (r *Apps) Remove(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	app, ok := r.apps[id]
	if !ok {
		return engine.NewNotFoundError(fmt.Sprintf("app '%s' not found", id)).WithID(id)
	}
	if coll, ok := r.collections[app.CollectionID]; ok {
		if err := coll.Delete(ctx, id); err != nil {
			return fmt.Errorf("failed to delete app '%s': %w", id, err)
		}
	}
	delete(r.apps, id)
	delete(r.pinned, id)

	r.tel.Metrics.SetAppCount(len(r.apps))
	r.logger.Info().Str("app_id", id).Msg("Removed app")
	r.audit(ctx, engine.AuditAppRemoved, id, map[string]interface{}{"env_id": app.EnvID})
	return nil
}

// MergeAll folds every app's environment spec into its resolved environment, creating missing
// environments. Apps are processed in sorted order and the first failure aborts the batch.
// It returns the ids of environments whose desired spec changed.
func (r *Apps) MergeAll(ctx context.Context, envs EnvMerger) ([]string, error) {
	r.mu.Lock()
	apps := make([]*engine.App, 0, len(r.apps))
	for _, id := range r.sortedIDs() {
		apps = append(apps, r.apps[id].Clone())
	}
	r.mu.Unlock()

	var changed []string
	for _, app := range apps {
		logger := r.tel.Logger.NewComponentLogger("apps").WithAppID(app.ID).WithEnvID(app.EnvID).Zerolog()

		mctx, span := r.tel.Tracer.StartMergeSpan(ctx, app.ID, app.EnvID)
		ok, err := envs.Merge(mctx, app.EnvID, app.Spec.EnvSpec, true)
		telemetry.EndSpan(span, err)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to merge app requirements")
			return changed, fmt.Errorf("failed to merge app '%s' into environment '%s': %w", app.ID, app.EnvID, err)
		}
		if ok && !slices.Contains(changed, app.EnvID) {
			changed = append(changed, app.EnvID)
		}
		logger.Debug().Bool("changed", ok).Msg("Merged app requirements")
	}
	return changed, nil
}

// Flush writes pending changes of every collection.
func (r *Apps) Flush(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range r.collectionsOrder {
		if err := r.collections[id].Flush(ctx); err != nil {
			return fmt.Errorf("failed to flush app collection '%s': %w", id, err)
		}
	}
	return nil
}

func (r *Apps) audit(ctx context.Context, action, id string, details map[string]interface{}) {
	if r.journal == nil {
		return
	}
	err := r.journal.RecordAudit(ctx, engine.AuditRecord{
		Action:    action,
		TargetID:  id,
		Details:   details,
		Timestamp: time.Now(),
	})
	if err != nil {
		r.logger.Warn().Err(err).Str("action", action).Str("app_id", id).Msg("Failed to record audit entry")
	}
}

var _ EnvMerger = (*Environments)(nil)
