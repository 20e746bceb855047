package viva

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/frkl/viva/pkg/config"
	"github.com/frkl/viva/pkg/engine"
	"github.com/frkl/viva/pkg/materializer"
	"github.com/frkl/viva/pkg/registry"
	"github.com/frkl/viva/pkg/stores"
	"github.com/frkl/viva/pkg/telemetry"
)

const (
	// EnvSpecsName is the consolidated file and per-id directory name for environment specs.
	EnvSpecsName = "envs"

	// AppSpecsName is the consolidated file and per-id directory name for app specs.
	AppSpecsName = "apps"
)

// Options configures a Context. Only Config is required.
type Options struct {
	Config *config.Config

	// Materializer replaces the command-line materializer built from Config.
	Materializer engine.Materializer

	// Telemetry replaces the telemetry built from Config. The Context does not shut it down.
	Telemetry *telemetry.Telemetry

	// Journal replaces the SQLite journal built from Config. The Context does not close it.
	Journal stores.JournalStore
}

// Context owns the spec stores and registries of one viva installation.
type Context struct {
	cfg          *config.Config
	tel          *telemetry.Telemetry
	materializer engine.Materializer
	journal      stores.JournalStore
	logger       zerolog.Logger

	ownsTelemetry bool
	ownsJournal   bool

	envStore *stores.FileStore[engine.EnvironmentSpec]
	appStore *stores.FileStore[engine.AppSpec]

	// loadMu serializes registry rebuilds with collection registration.
	loadMu   sync.Mutex
	envColls []engine.EnvironmentCollection
	appColls []engine.AppCollection

	mu   sync.RWMutex
	envs *registry.Environments
	apps *registry.Apps
}

// New opens the spec stores under the config directory and loads both registries.
func New(ctx context.Context, opts Options) (*Context, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Context{
		cfg:          cfg,
		tel:          opts.Telemetry,
		materializer: opts.Materializer,
		journal:      opts.Journal,
	}

	if c.tel == nil {
		tel, err := telemetry.NewTelemetry(&cfg.Telemetry)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
		}
		c.tel = tel
		c.ownsTelemetry = true
	}
	c.logger = c.tel.Logger.NewComponentLogger("context").Zerolog()

	if c.materializer == nil {
		c.materializer = materializer.NewExec(cfg.Materializer.Command, cfg.Materializer.ExtraArgs, c.tel.Logger.Zerolog())
	}

	if c.journal == nil && cfg.Journal.Enabled {
		journal, err := openJournal(ctx, cfg.JournalPath())
		if err != nil {
			_ = c.Close(ctx)
			return nil, err
		}
		c.journal = journal
		c.ownsJournal = true
	}

	storeLogger := c.tel.Logger.Zerolog()
	envStore, err := stores.NewFileStore[engine.EnvironmentSpec](ctx, stores.FileStoreConfig{
		ID:       engine.DefaultCollectionID,
		BasePath: cfg.ConfigDir,
		Name:     EnvSpecsName,
		Format:   cfg.Format(),
		Logger:   storeLogger,
	})
	if err != nil {
		_ = c.Close(ctx)
		return nil, fmt.Errorf("failed to open environment specs: %w", err)
	}
	appStore, err := stores.NewFileStore[engine.AppSpec](ctx, stores.FileStoreConfig{
		ID:       engine.DefaultCollectionID,
		BasePath: cfg.ConfigDir,
		Name:     AppSpecsName,
		Format:   cfg.Format(),
		Logger:   storeLogger,
	})
	if err != nil {
		_ = c.Close(ctx)
		return nil, fmt.Errorf("failed to open app specs: %w", err)
	}
	c.envStore = envStore
	c.appStore = appStore

	if err := c.load(ctx); err != nil {
		_ = c.Close(ctx)
		return nil, err
	}

	c.logger.Debug().
		Str("config_dir", cfg.ConfigDir).
		Str("envs_dir", cfg.EnvsDir()).
		Bool("journal", c.journal != nil).
		Msg("Context initialized")
	return c, nil
}

func openJournal(ctx context.Context, path string) (*stores.SQLiteStore, error) {
	store, err := stores.NewSQLiteStore(stores.Config{Path: path})
	if err != nil {
		return nil, fmt.Errorf("failed to create journal: %w", err)
	}
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to migrate journal: %w", err)
	}
	return store, nil
}

// load builds fresh registries from the current contents of the spec stores and of every
// collection added since. Apps that were already placed keep their environment.
func (c *Context) load(ctx context.Context) error {
	c.loadMu.Lock()
	defer c.loadMu.Unlock()

	var envIDs map[string]string
	if prev := c.Apps(); prev != nil {
		envIDs = prev.EnvIDs()
	}

	var journal engine.Journal
	if c.journal != nil {
		journal = c.journal
	}

	envs, err := registry.NewEnvironments(registry.EnvironmentsConfig{
		EnvsDir:      c.cfg.EnvsDir(),
		Materializer: c.materializer,
		Journal:      journal,
		Telemetry:    c.tel,
	})
	if err != nil {
		return err
	}
	for _, coll := range append([]engine.EnvironmentCollection{c.envStore}, c.envColls...) {
		if err := envs.AddCollection(ctx, coll); err != nil {
			return fmt.Errorf("failed to load environments: %w", err)
		}
	}

	apps := registry.NewApps(registry.AppsConfig{
		Placement: c.cfg.PlacementStrategy(),
		Journal:   journal,
		Telemetry: c.tel,
		EnvIDs:    envIDs,
	})
	for _, coll := range append([]engine.AppCollection{c.appStore}, c.appColls...) {
		if err := apps.AddCollection(ctx, coll); err != nil {
			return fmt.Errorf("failed to load apps: %w", err)
		}
	}

	c.mu.Lock()
	c.envs = envs
	c.apps = apps
	c.mu.Unlock()
	return nil
}

// Config returns the configuration the context was opened with.
func (c *Context) Config() *config.Config {
	return c.cfg
}

// Telemetry returns the telemetry bundle in use.
func (c *Context) Telemetry() *telemetry.Telemetry {
	return c.tel
}

// Journal returns the sync journal, or nil if journaling is disabled.
func (c *Context) Journal() stores.JournalStore {
	return c.journal
}

// Environments returns the current environment registry.
func (c *Context) Environments() *registry.Environments {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.envs
}

// Apps returns the current app registry.
func (c *Context) Apps() *registry.Apps {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.apps
}

// AddEnvCollection registers an additional environment collection. Its ids rank below every
// collection registered before it. The collection stays registered across reloads.
func (c *Context) AddEnvCollection(ctx context.Context, coll engine.EnvironmentCollection) error {
	c.loadMu.Lock()
	defer c.loadMu.Unlock()
	if err := c.Environments().AddCollection(ctx, coll); err != nil {
		return err
	}
	c.envColls = append(c.envColls, coll)
	return nil
}

// AddAppCollection registers an additional app collection. The collection stays registered
// across reloads.
func (c *Context) AddAppCollection(ctx context.Context, coll engine.AppCollection) error {
	c.loadMu.Lock()
	defer c.loadMu.Unlock()
	if err := c.Apps().AddCollection(ctx, coll); err != nil {
		return err
	}
	c.appColls = append(c.appColls, coll)
	return nil
}

// AddEnv persists and registers a new environment.
func (c *Context) AddEnv(ctx context.Context, id string, spec engine.EnvironmentSpec) error {
	return c.Environments().Add(ctx, id, spec, "")
}

// DefaultEnvSpec returns an empty spec using the configured default channels.
func (c *Context) DefaultEnvSpec() engine.EnvironmentSpec {
	return engine.EnvironmentSpec{Channels: append([]string(nil), c.cfg.DefaultChannels...)}
}

// AddApp persists and registers a new app. A zero strategy uses the configured placement.
func (c *Context) AddApp(ctx context.Context, id string, spec engine.AppSpec, strategy *engine.PlacementStrategy) (*engine.App, error) {
	apps := c.Apps()
	s := apps.Placement()
	if strategy != nil {
		s = *strategy
	}
	return apps.Add(ctx, id, spec, "", s)
}

// MergeAllApps folds every app's requirements into its environment, creating missing environments
// in the default collection. It returns the ids of environments whose desired spec changed.
func (c *Context) MergeAllApps(ctx context.Context) ([]string, error) {
	changed, err := c.Apps().MergeAll(ctx, c.Environments())
	if err != nil {
		return changed, err
	}
	if len(changed) > 0 {
		c.logger.Info().Strs("environments", changed).Msg("Merged app requirements")
	}
	return changed, nil
}

// SyncEnvs materializes the given environments, or all of them if ids is empty.
func (c *Context) SyncEnvs(ctx context.Context, ids ...string) ([]string, error) {
	return c.Environments().SyncAll(ctx, ids)
}

// Apply makes sure environment id exists and contains spec, then syncs it. A missing environment is
// created with the default channels. It returns the environment after the sync and whether the
// materializer ran.
func (c *Context) Apply(ctx context.Context, id string, spec engine.EnvironmentSpec) (*engine.Environment, bool, error) {
	envs := c.Environments()

	if !envs.Has(id) {
		if err := envs.Add(ctx, id, c.DefaultEnvSpec(), ""); err != nil {
			return nil, false, err
		}
	}
	if !spec.IsEmpty() {
		if _, err := envs.Merge(ctx, id, spec, false); err != nil {
			return nil, false, err
		}
	}

	changed, err := envs.Sync(ctx, id)
	if err != nil {
		return nil, false, err
	}
	env, err := envs.Get(id)
	if err != nil {
		return nil, false, err
	}
	return env, changed, nil
}

// History returns the most recent sync attempts of environment id, newest first.
func (c *Context) History(ctx context.Context, id string, limit int) ([]*stores.SyncRun, error) {
	if c.journal == nil {
		return nil, fmt.Errorf("journal is disabled")
	}
	return c.journal.ListSyncRuns(ctx, &id, limit, 0)
}

// Reload re-reads both spec stores, and any added collection that can reload, then rebuilds the
// registries.
func (c *Context) Reload(ctx context.Context) error {
	if err := c.envStore.Reload(ctx); err != nil {
		return fmt.Errorf("failed to reload environment specs: %w", err)
	}
	if err := c.appStore.Reload(ctx); err != nil {
		return fmt.Errorf("failed to reload app specs: %w", err)
	}

	c.loadMu.Lock()
	var extra []any
	for _, coll := range c.envColls {
		extra = append(extra, coll)
	}
	for _, coll := range c.appColls {
		extra = append(extra, coll)
	}
	c.loadMu.Unlock()
	for _, coll := range extra {
		if r, ok := coll.(reloader); ok {
			if err := r.Reload(ctx); err != nil {
				return fmt.Errorf("failed to reload collection: %w", err)
			}
		}
	}
	return c.load(ctx)
}

type reloader interface {
	Reload(ctx context.Context) error
}

// Watch rebuilds the registries whenever spec files change, until ctx is done.
// onReload, if set, is called after every rebuild attempt.
func (c *Context) Watch(ctx context.Context, onReload func(error)) (*stores.Watcher, error) {
	w := stores.NewWatcher(c.tel.Logger.Zerolog(), stores.DefaultDebounce, c.envStore, c.appStore)
	err := w.Watch(ctx, func(err error) {
		if err == nil {
			err = c.load(ctx)
		}
		if onReload != nil {
			onReload(err)
		}
	})
	if err != nil {
		return nil, err
	}
	return w, nil
}

// Flush writes pending spec changes back to disk.
func (c *Context) Flush(ctx context.Context) error {
	if err := c.Environments().Flush(ctx); err != nil {
		return err
	}
	return c.Apps().Flush(ctx)
}

// Close flushes pending changes and releases what the context opened.
func (c *Context) Close(ctx context.Context) error {
	var errs []error
	c.mu.RLock()
	loaded := c.envs != nil && c.apps != nil
	c.mu.RUnlock()
	if loaded {
		if err := c.Flush(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if c.ownsJournal && c.journal != nil {
		if err := c.journal.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close journal: %w", err))
		}
	}
	if c.ownsTelemetry && c.tel != nil {
		if err := c.tel.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shut down telemetry: %w", err))
		}
	}
	return errors.Join(errs...)
}
