package registry

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/frkl/viva/pkg/engine"
	"github.com/frkl/viva/pkg/telemetry"
)

// EnvironmentsConfig configures an environment registry.
type EnvironmentsConfig struct {
	// EnvsDir is the directory holding materialized environments, one subdirectory per id.
	EnvsDir string

	// Materializer builds environments on Sync.
	Materializer engine.Materializer

	// Journal, if set, records sync attempts and mutations.
	Journal engine.Journal

	// Telemetry provides logging, tracing and metrics. Defaults to telemetry.Nop().
	Telemetry *telemetry.Telemetry
}

// Environments is the authoritative set of environments.
// All methods take the registry lock for their whole duration, including materializer calls.
type Environments struct {
	envsDir      string
	materializer engine.Materializer
	journal      engine.Journal
	tel          *telemetry.Telemetry
	logger       zerolog.Logger

	mu               sync.Mutex
	envs             map[string]*engine.Environment
	collections      map[string]engine.EnvironmentCollection
	collectionsOrder []string
}

// NewEnvironments creates an empty environment registry.
func NewEnvironments(cfg EnvironmentsConfig) (*Environments, error) {
	if cfg.EnvsDir == "" {
		return nil, fmt.Errorf("environments directory is required")
	}
	tel := cfg.Telemetry
	if tel == nil {
		tel = telemetry.Nop()
	}

	return &Environments{
		envsDir:      cfg.EnvsDir,
		materializer: cfg.Materializer,
		journal:      cfg.Journal,
		tel:          tel,
		logger:       tel.Logger.NewComponentLogger("environments").Zerolog(),
		envs:         make(map[string]*engine.Environment),
		collections:  make(map[string]engine.EnvironmentCollection),
	}, nil
}

// EnvPath returns where environment id is materialized.
func (r *Environments) EnvPath(id string) string {
	return filepath.Join(r.envsDir, id)
}

// AddCollection registers a collection and every environment it holds.
// Ids already registered from an earlier collection are skipped.
func (r *Environments) AddCollection(ctx context.Context, coll engine.EnvironmentCollection) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	collID := coll.ID()
	if _, ok := r.collections[collID]; ok {
		return engine.NewDuplicateIDError(fmt.Sprintf("environment collection '%s' already registered", collID)).WithID(collID)
	}

	ids, err := coll.ListIDs(ctx)
	if err != nil {
		return fmt.Errorf("failed to list environments of collection '%s': %w", collID, err)
	}

	specs := make([]engine.EnvironmentSpec, len(ids))
	for i, id := range ids {
		if err := engine.ValidateID(id); err != nil {
			return err
		}
		spec, err := coll.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to read environment '%s': %w", id, err)
		}
		specs[i] = spec
	}

	var added []string
	for i, id := range ids {
		ok, err := r.register(id, specs[i], collID, true)
		if err != nil {
			for _, a := range added {
				delete(r.envs, a)
			}
			return err
		}
		if ok {
			added = append(added, id)
		}
	}

	r.collections[collID] = coll
	r.collectionsOrder = append(r.collectionsOrder, collID)

	r.updateGauges()
	r.logger.Debug().Str("collection", collID).Int("environments", len(ids)).Msg("Added environment collection")
	return nil
}

// Collections returns the registered collection ids in registration order.
func (r *Environments) Collections() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.collectionsOrder)
}

// Register adds an environment to the registry without persisting it.
// The status is computed right away against the actual spec on disk.
// With allowDuplicate an existing id is left alone and false is returned.
func (r *Environments) Register(id string, spec engine.EnvironmentSpec, collectionID string, allowDuplicate bool) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	added, err := r.register(id, spec, collectionID, allowDuplicate)
	r.updateGauges()
	return added, err
}

func (r *Environments) register(id string, spec engine.EnvironmentSpec, collectionID string, allowDuplicate bool) (bool, error) {
	if err := engine.ValidateID(id); err != nil {
		return false, err
	}

	if existing, ok := r.envs[id]; ok {
		if allowDuplicate {
			r.logger.Debug().
				Str("env_id", id).
				Str("collection", collectionID).
				Str("registered_in", existing.CollectionID).
				Msg("Skipping duplicate environment")
			return false, nil
		}
		return false, engine.NewDuplicateIDError(fmt.Sprintf("environment '%s' already registered", id)).WithID(id)
	}

	envPath := r.EnvPath(id)
	actual, materialized, err := ReadActualSpec(envPath)
	if err != nil {
		return false, fmt.Errorf("failed to read actual spec of '%s': %w", id, err)
	}

	env := &engine.Environment{
		ID:           id,
		CollectionID: collectionID,
		EnvPath:      envPath,
		Spec:         spec.Clone(),
		Actual:       actual,
		Materialized: materialized,
	}
	env.CheckSyncStatus()
	r.envs[id] = env

	r.logger.Debug().
		Str("env_id", id).
		Str("collection", collectionID).
		Str("status", string(env.SyncStatus)).
		Msg("Registered environment")
	return true, nil
}

// Add persists a new environment to a collection and registers it.
// An empty collection id selects the default collection.
func (r *Environments) Add(ctx context.Context, id string, spec engine.EnvironmentSpec, collectionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.add(ctx, id, spec, collectionID)
}

func (r *Environments) add(ctx context.Context, id string, spec engine.EnvironmentSpec, collectionID string) error {
	if err := engine.ValidateID(id); err != nil {
		return err
	}
	if _, ok := r.envs[id]; ok {
		return engine.NewDuplicateIDError(fmt.Sprintf("environment '%s' already registered", id)).WithID(id)
	}

	coll, err := r.collection(collectionID)
	if err != nil {
		return err
	}
	if err := coll.Set(ctx, id, spec); err != nil {
		return fmt.Errorf("failed to persist environment '%s': %w", id, err)
	}
	if _, err := r.register(id, spec, coll.ID(), false); err != nil {
		return err
	}

	r.updateGauges()
	r.audit(ctx, engine.AuditEnvAdded, id, map[string]interface{}{"collection": coll.ID()})
	return nil
}

// collection resolves a collection id, falling back to the default collection, then the first one.
func (r *Environments) collection(id string) (engine.EnvironmentCollection, error) {
	if id == "" {
		id = engine.DefaultCollectionID
		if _, ok := r.collections[id]; !ok && len(r.collectionsOrder) > 0 {
			id = r.collectionsOrder[0]
		}
	}
	coll, ok := r.collections[id]
	if !ok {
		return nil, engine.NewNotFoundError(fmt.Sprintf("no environment collection '%s'", id)).WithID(id)
	}
	return coll, nil
}

// Get returns a copy of environment id.
func (r *Environments) Get(id string) (*engine.Environment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	env, err := r.get(id)
	if err != nil {
		return nil, err
	}
	return env.Clone(), nil
}

func (r *Environments) get(id string) (*engine.Environment, error) {
	env, ok := r.envs[id]
	if !ok {
		return nil, engine.NewNotFoundError(fmt.Sprintf("environment '%s' not found", id)).WithID(id)
	}
	return env, nil
}

// Has reports whether id is registered.
func (r *Environments) Has(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.envs[id]
	return ok
}

// ListIDs returns all environment ids in sorted order.
func (r *Environments) ListIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sortedIDs()
}

func (r *Environments) sortedIDs() []string {
	ids := make([]string, 0, len(r.envs))
	for id := range r.envs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// List returns copies of all environments, sorted by id.
func (r *Environments) List() []*engine.Environment {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*engine.Environment, 0, len(r.envs))
	for _, id := range r.sortedIDs() {
		out = append(out, r.envs[id].Clone())
	}
	return out
}

// Merge folds spec into environment id and persists the result if anything changed.
// With createIfMissing an unknown id is added to the default collection with spec.
func (r *Environments) Merge(ctx context.Context, id string, spec engine.EnvironmentSpec, createIfMissing bool) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	env, ok := r.envs[id]
	if !ok {
		if !createIfMissing {
			return false, engine.NewNotFoundError(fmt.Sprintf("environment '%s' not found", id)).WithID(id)
		}
		if err := r.add(ctx, id, spec, ""); err != nil {
			return false, err
		}
		r.tel.Metrics.RecordMerge(true)
		return true, nil
	}

	before := env.Spec.Clone()
	changed := env.MergeSpec(spec)
	r.tel.Metrics.RecordMerge(changed)
	if !changed {
		return false, nil
	}

	if err := r.persist(ctx, env); err != nil {
		env.Spec = before
		env.CheckSyncStatus()
		return false, err
	}

	r.updateGauges()
	r.logger.Debug().
		Str("env_id", id).
		Strs("channels", env.Spec.Channels).
		Strs("pkg_specs", env.Spec.PkgSpecs).
		Str("status", string(env.SyncStatus)).
		Msg("Merged spec into environment")
	r.audit(ctx, engine.AuditEnvMerged, id, map[string]interface{}{
		"channels":  spec.Channels,
		"pkg_specs": spec.PkgSpecs,
	})
	return true, nil
}

// RemoveChannels drops channels from environment id's desired spec and persists the result.
func (r *Environments) RemoveChannels(ctx context.Context, id string, channels []string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	env, err := r.get(id)
	if err != nil {
		return false, err
	}

	before := env.Spec.Clone()
	if !env.RemoveChannels(channels) {
		return false, nil
	}
	if err := r.persist(ctx, env); err != nil {
		env.Spec = before
		env.CheckSyncStatus()
		return false, err
	}

	r.updateGauges()
	r.audit(ctx, engine.AuditChannelsDrop, id, map[string]interface{}{"channels": channels})
	return true, nil
}

func (r *Environments) persist(ctx context.Context, env *engine.Environment) error {
	coll, ok := r.collections[env.CollectionID]
	if !ok {
		return engine.NewNotFoundError(fmt.Sprintf("no environment collection '%s'", env.CollectionID)).WithID(env.ID)
	}
	if err := coll.Set(ctx, env.ID, env.Spec); err != nil {
		return fmt.Errorf("failed to persist environment '%s': %w", env.ID, err)
	}
	return nil
}

// Remove deletes the environment's materialized directory and spec, then drops it from the registry.
func (r *Environments) Remove(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	env, err := r.get(id)
	if err != nil {
		return err
	}

	if err := removeEnvDir(env.EnvPath); err != nil {
		return err
	}
	if coll, ok := r.collections[env.CollectionID]; ok {
		if err := coll.Delete(ctx, id); err != nil {
			return fmt.Errorf("failed to delete environment '%s': %w", id, err)
		}
	}
	delete(r.envs, id)

	r.updateGauges()
	r.logger.Info().Str("env_id", id).Str("path", env.EnvPath).Msg("Removed environment")
	r.audit(ctx, engine.AuditEnvRemoved, id, map[string]interface{}{"path": env.EnvPath})
	return nil
}

// CheckSyncStatus recomputes the status of environment id.
func (r *Environments) CheckSyncStatus(id string) (engine.SyncStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	env, err := r.get(id)
	if err != nil {
		return engine.SyncStatusUnknown, err
	}
	status := env.CheckSyncStatus()
	r.updateGauges()
	return status, nil
}

// CheckSyncStatusAll recomputes the status of every environment.
func (r *Environments) CheckSyncStatusAll() map[string]engine.SyncStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	statuses := make(map[string]engine.SyncStatus, len(r.envs))
	for id, env := range r.envs {
		statuses[id] = env.CheckSyncStatus()
	}
	r.updateGauges()
	return statuses
}

// Refresh re-reads every actual spec from disk and recomputes statuses. An environment whose
// actual spec file disappeared becomes NotSynced.
// It stops at the first unreadable actual spec.
func (r *Environments) Refresh(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range r.sortedIDs() {
		if err := ctx.Err(); err != nil {
			return err
		}
		env := r.envs[id]
		actual, materialized, err := ReadActualSpec(env.EnvPath)
		if err != nil {
			return fmt.Errorf("failed to read actual spec of '%s': %w", id, err)
		}
		previous := env.SyncStatus
		env.Actual = actual
		env.Materialized = materialized
		if env.CheckSyncStatus() != previous {
			r.logger.Info().
				Str("env_id", id).
				Str("from", string(previous)).
				Str("to", string(env.SyncStatus)).
				Msg("Environment status changed on disk")
		}
	}
	r.updateGauges()
	return nil
}

// Sync materializes environment id if its desired spec is not satisfied.
// It returns true if the materializer ran and succeeded, false if the environment was already synced.
func (r *Environments) Sync(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sync(ctx, id)
}

func (r *Environments) sync(ctx context.Context, id string) (changed bool, err error) {
	env, err := r.get(id)
	if err != nil {
		return false, err
	}

	if env.SyncStatus == engine.SyncStatusUnknown {
		env.CheckSyncStatus()
	}

	timer := telemetry.NewTimer()
	started := time.Now()
	spec := env.Spec.Clone()
	logger := r.tel.Logger.NewComponentLogger("environments").WithEnvID(id).Zerolog()

	ctx, span := r.tel.Tracer.StartSyncSpan(ctx, id, env.EnvPath)
	defer func() {
		span.SetAttributes(telemetry.AttrEnvStatus.String(string(env.SyncStatus)))
		if err != nil {
			span.SetAttributes(telemetry.AttrErrorKind.String(string(engine.KindOf(err))))
		}
		telemetry.EndSpan(span, err)
		result := telemetry.SyncResultUnchanged
		switch {
		case err != nil:
			result = telemetry.SyncResultFailed
			r.tel.Metrics.RecordError(string(engine.KindOf(err)))
		case changed:
			result = telemetry.SyncResultChanged
		}
		r.tel.Metrics.RecordSync(result, timer.Duration())
		r.updateGauges()

		rec := engine.SyncRecord{
			EnvID:       id,
			EnvPath:     env.EnvPath,
			SpecHash:    spec.Hash(),
			Spec:        spec,
			Changed:     changed,
			StartedAt:   started,
			CompletedAt: time.Now(),
		}
		if err != nil {
			rec.Error = err.Error()
		}
		r.recordSync(ctx, rec)
	}()

	if env.SyncStatus == engine.SyncStatusSynced {
		logger.Debug().Msg("Environment already synced")
		return false, nil
	}

	if r.materializer == nil {
		return false, engine.NewMaterializationError("no materializer configured", nil).WithID(id).WithPath(env.EnvPath)
	}

	logger.Info().
		Str("path", env.EnvPath).
		Strs("pkg_specs", spec.PkgSpecs).
		Str("trace_id", telemetry.TraceID(ctx)).
		Msg("Syncing environment")

	mctx, mspan := r.tel.Tracer.StartMaterializeSpan(ctx, id, len(spec.PkgSpecs))
	merr := r.materializer.Materialize(mctx, env.EnvPath, spec)
	telemetry.EndSpan(mspan, merr)
	if merr != nil {
		r.tel.Metrics.RecordMaterializerError(id)
		return false, engine.NewMaterializationError("failed to materialize environment", merr).WithID(id).WithPath(env.EnvPath)
	}

	if err := WriteActualSpec(env.EnvPath, spec); err != nil {
		return false, err
	}

	env.Actual = spec
	env.Materialized = true
	env.SyncStatus = engine.SyncStatusSynced

	logger.Info().Dur("duration", timer.Duration()).Msg("Environment synced")
	r.audit(ctx, engine.AuditEnvSynced, id, map[string]interface{}{"spec_hash": spec.Hash()})
	return true, nil
}

// SyncAll syncs the given environments in order, or every environment in sorted order if ids is empty.
// Unknown ids are reported together before anything is materialized. The first failure aborts the batch.
// It returns the ids whose materializer ran.
func (r *Environments) SyncAll(ctx context.Context, ids []string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(ids) == 0 {
		ids = r.sortedIDs()
	}

	var missing []string
	for _, id := range ids {
		if _, ok := r.envs[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return nil, engine.NewNotFoundError(fmt.Sprintf("environments not found: %s", strings.Join(missing, ", "))).
			WithID(strings.Join(missing, ","))
	}

	var changed []string
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return changed, err
		}
		ok, err := r.sync(ctx, id)
		if err != nil {
			return changed, err
		}
		if ok {
			changed = append(changed, id)
		}
	}
	return changed, nil
}

// Flush writes pending changes of every collection.
func (r *Environments) Flush(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range r.collectionsOrder {
		if err := r.collections[id].Flush(ctx); err != nil {
			return fmt.Errorf("failed to flush environment collection '%s': %w", id, err)
		}
	}
	return nil
}

func (r *Environments) updateGauges() {
	counts := map[string]int{
		string(engine.SyncStatusSynced):    0,
		string(engine.SyncStatusNotSynced): 0,
		string(engine.SyncStatusUnknown):   0,
	}
	for _, env := range r.envs {
		counts[string(env.SyncStatus)]++
	}
	r.tel.Metrics.SetEnvironmentCounts(counts)
}

func (r *Environments) audit(ctx context.Context, action, id string, details map[string]interface{}) {
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
		r.logger.Warn().Err(err).Str("action", action).Str("env_id", id).Msg("Failed to record audit entry")
	}
}

func (r *Environments) recordSync(ctx context.Context, rec engine.SyncRecord) {
	if r.journal == nil {
		return
	}
	if err := r.journal.RecordSync(ctx, rec); err != nil {
		r.logger.Warn().Err(err).Str("env_id", rec.EnvID).Msg("Failed to record sync run")
	}
}
