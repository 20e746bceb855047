package stores

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/frkl/viva/pkg/codec"
	"github.com/frkl/viva/pkg/engine"
)

// FileStoreConfig configures a FileStore.
type FileStoreConfig struct {
	// ID is the collection id reported to registries.
	ID string

	// BasePath is the directory holding the consolidated document and the per-id directory.
	BasePath string

	// Name is the document stem, e.g. "envs" for envs.json and envs/<id>.json.
	Name string

	// Format is used for per-id files created by Set. Defaults to YAML.
	Format codec.Format

	// Logger receives load and write-back diagnostics.
	Logger zerolog.Logger
}

// FileStore is a file-backed collection that reconciles two on-disk layouts:
//
//	<base>/<name>.json|.yaml|.yml   consolidated map of id to spec
//	<base>/<name>/<id>.json|...     one document per id
//
// Per-id documents override consolidated entries. Writes always go to the per-id layout; ids that
// move out of the consolidated document are dropped from it on the next SyncConfig.
type FileStore[T any] struct {
	id       string
	basePath string
	name     string
	format   codec.Format
	logger   zerolog.Logger

	mu               sync.Mutex
	entries          map[string]T
	perID            map[string]string
	consolidated     map[string]T
	consolidatedPath string
	dirty            bool
}

// NewFileStore creates a store and loads its current contents.
func NewFileStore[T any](ctx context.Context, cfg FileStoreConfig) (*FileStore[T], error) {
	if cfg.BasePath == "" {
		return nil, fmt.Errorf("base path is required")
	}
	if cfg.Name == "" {
		return nil, fmt.Errorf("document name is required")
	}
	if cfg.ID == "" {
		cfg.ID = engine.DefaultCollectionID
	}
	if cfg.Format == codec.FormatAuto {
		cfg.Format = codec.FormatYAML
	}

	s := &FileStore[T]{
		id:       cfg.ID,
		basePath: cfg.BasePath,
		name:     cfg.Name,
		format:   cfg.Format,
		logger: cfg.Logger.With().
			Str("component", "file-store").
			Str("collection", cfg.ID).
			Str("name", cfg.Name).
			Logger(),
	}

	if err := s.Reload(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// ID returns the collection id.
func (s *FileStore[T]) ID() string {
	return s.id
}

// BasePath returns the directory the store reads from.
func (s *FileStore[T]) BasePath() string {
	return s.basePath
}

// Dir returns the per-id document directory.
func (s *FileStore[T]) Dir() string {
	return filepath.Join(s.basePath, s.name)
}

// Dirty reports whether the consolidated document has pending changes.
func (s *FileStore[T]) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

// Reload discards in-memory state and reads both layouts again.
// A malformed document aborts the whole load and leaves the previous state untouched.
func (s *FileStore[T]) Reload(ctx context.Context) error {
	entries, perID, consolidated, consolidatedPath, dirty, err := s.load(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.entries = entries
	s.perID = perID
	s.consolidated = consolidated
	s.consolidatedPath = consolidatedPath
	s.dirty = dirty
	s.mu.Unlock()

	s.logger.Debug().
		Int("entries", len(entries)).
		Int("per_id", len(perID)).
		Bool("dirty", dirty).
		Msg("Loaded spec store")
	return nil
}

func (s *FileStore[T]) load(ctx context.Context) (map[string]T, map[string]string, map[string]T, string, bool, error) {
	entries := make(map[string]T)
	perID := make(map[string]string)
	consolidated := make(map[string]T)
	dirty := false

	consolidatedPath := ""
	for _, ext := range codec.Extensions {
		candidate := filepath.Join(s.basePath, s.name+ext)
		if _, err := os.Stat(candidate); err == nil {
			if consolidatedPath != "" {
				s.logger.Warn().
					Str("used", consolidatedPath).
					Str("ignored", candidate).
					Msg("Multiple consolidated documents found")
				continue
			}
			consolidatedPath = candidate
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, nil, nil, "", false, engine.NewIOError("failed to stat consolidated document", err).WithPath(candidate)
		}
	}

	if consolidatedPath != "" {
		m, err := codec.ReadFile[map[string]T](consolidatedPath)
		if err != nil {
			return nil, nil, nil, "", false, err
		}
		for id, spec := range m {
			entries[id] = spec
			consolidated[id] = spec
		}
	}

	dir := s.Dir()
	files, err := os.ReadDir(dir)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, nil, nil, "", false, engine.NewIOError("failed to read spec directory", err).WithPath(dir)
	}

	for _, f := range files {
		if ctx.Err() != nil {
			return nil, nil, nil, "", false, ctx.Err()
		}
		if f.IsDir() || strings.HasPrefix(f.Name(), ".") {
			continue
		}

		path := filepath.Join(dir, f.Name())
		if _, err := codec.FormatForPath(path); err != nil {
			return nil, nil, nil, "", false, err
		}
		id := strings.TrimSuffix(f.Name(), filepath.Ext(f.Name()))

		if existing, ok := perID[id]; ok {
			if extRank(path) >= extRank(existing) {
				s.logger.Warn().
					Str("id", id).
					Str("used", existing).
					Str("ignored", path).
					Msg("Multiple spec files for one id")
				continue
			}
			s.logger.Warn().
				Str("id", id).
				Str("used", path).
				Str("ignored", existing).
				Msg("Multiple spec files for one id")
		}

		spec, err := codec.ReadFile[T](path)
		if err != nil {
			return nil, nil, nil, "", false, err
		}
		entries[id] = spec
		perID[id] = path

		if _, ok := consolidated[id]; ok {
			s.logger.Debug().
				Str("id", id).
				Str("override", path).
				Msg("Per-id document overrides consolidated entry")
			delete(consolidated, id)
			dirty = true
		}
	}

	return entries, perID, consolidated, consolidatedPath, dirty, nil
}

// ListIDs returns all ids in sorted order.
func (s *FileStore[T]) ListIDs(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

// Get returns the spec stored for id.
func (s *FileStore[T]) Get(_ context.Context, id string) (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	spec, ok := s.entries[id]
	if !ok {
		var zero T
		return zero, engine.NewNotFoundError(fmt.Sprintf("no spec for '%s' in collection '%s'", id, s.id)).WithID(id)
	}
	return spec, nil
}

// Set writes spec to the id's per-id document and drops the id from the consolidated document.
func (s *FileStore[T]) Set(_ context.Context, id string, spec T) error {
	if err := engine.ValidateID(id); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path, ok := s.perID[id]
	if !ok {
		path = filepath.Join(s.Dir(), id+s.format.Ext())
	}
	if err := codec.WriteFile(path, spec); err != nil {
		return err
	}

	s.entries[id] = spec
	s.perID[id] = path
	if _, ok := s.consolidated[id]; ok {
		delete(s.consolidated, id)
		s.dirty = true
	}

	s.logger.Debug().Str("id", id).Str("path", path).Msg("Wrote spec")
	return nil
}

// Delete removes id from both layouts. The consolidated document is rewritten on SyncConfig.
func (s *FileStore[T]) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if path, ok := s.perID[id]; ok {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return engine.NewIOError("failed to remove spec file", err).WithID(id).WithPath(path)
		}
		delete(s.perID, id)
	}
	if _, ok := s.consolidated[id]; ok {
		delete(s.consolidated, id)
		s.dirty = true
	}
	delete(s.entries, id)

	s.logger.Debug().Str("id", id).Msg("Deleted spec")
	return nil
}

// SyncConfig rewrites the consolidated document if it has pending changes.
// An emptied consolidated document is removed.
func (s *FileStore[T]) SyncConfig(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.dirty || s.consolidatedPath == "" {
		s.dirty = false
		return nil
	}

	if len(s.consolidated) == 0 {
		if err := os.Remove(s.consolidatedPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return engine.NewIOError("failed to remove consolidated document", err).WithPath(s.consolidatedPath)
		}
		s.logger.Info().Str("path", s.consolidatedPath).Msg("Removed empty consolidated document")
		s.consolidatedPath = ""
	} else {
		if err := codec.WriteFile(s.consolidatedPath, s.consolidated); err != nil {
			return err
		}
		s.logger.Info().
			Str("path", s.consolidatedPath).
			Int("entries", len(s.consolidated)).
			Msg("Rewrote consolidated document")
	}

	s.dirty = false
	return nil
}

// Flush implements engine.Collection.
func (s *FileStore[T]) Flush(ctx context.Context) error {
	return s.SyncConfig(ctx)
}

// extRank orders per-id document extensions: json, yaml, yml, then none.
func extRank(path string) int {
	ext := strings.ToLower(filepath.Ext(path))
	if i := slices.Index(codec.Extensions, ext); i >= 0 {
		return i
	}
	return len(codec.Extensions)
}

var _ engine.EnvironmentCollection = (*FileStore[engine.EnvironmentSpec])(nil)
var _ engine.AppCollection = (*FileStore[engine.AppSpec])(nil)
