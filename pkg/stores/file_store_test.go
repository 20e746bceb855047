package stores

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/rs/zerolog"

	"github.com/frkl/viva/pkg/codec"
	"github.com/frkl/viva/pkg/engine"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func newEnvStore(t *testing.T, base string) *FileStore[engine.EnvironmentSpec] {
	t.Helper()
	store, err := NewFileStore[engine.EnvironmentSpec](context.Background(), FileStoreConfig{
		BasePath: base,
		Name:     "envs",
		Logger:   zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store
}

func TestFileStore_EmptyBase(t *testing.T) {
	store := newEnvStore(t, t.TempDir())

	ids, err := store.ListIDs(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 0 {
		t.Errorf("expected no ids, got %v", ids)
	}
	if store.ID() != "default" {
		t.Errorf("expected default collection id, got %s", store.ID())
	}
}

func TestFileStore_OverridePrecedence(t *testing.T) {
	base := t.TempDir()
	writeFile(t, filepath.Join(base, "envs.json"), `{
		"x": {"channels": ["conda-forge"], "pkg_specs": ["s1"]},
		"y": {"channels": [], "pkg_specs": ["only-consolidated"]}
	}`)
	writeFile(t, filepath.Join(base, "envs", "x.yaml"), "channels: [conda-forge]\npkg_specs: [s2]\n")

	store := newEnvStore(t, base)
	ctx := context.Background()

	x, err := store.Get(ctx, "x")
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(x.PkgSpecs, []string{"s2"}) {
		t.Errorf("expected per-id spec to win, got %v", x.PkgSpecs)
	}

	ids, _ := store.ListIDs(ctx)
	if !slices.Equal(ids, []string{"x", "y"}) {
		t.Errorf("expected [x y], got %v", ids)
	}
	if !store.Dirty() {
		t.Fatal("expected consolidated document to be dirty after override")
	}

	if err := store.SyncConfig(ctx); err != nil {
		t.Fatalf("sync config failed: %v", err)
	}
	consolidated, err := codec.ReadFile[map[string]engine.EnvironmentSpec](filepath.Join(base, "envs.json"))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := consolidated["x"]; ok {
		t.Error("expected x to be dropped from consolidated document")
	}
	if _, ok := consolidated["y"]; !ok {
		t.Error("expected y to stay in consolidated document")
	}
	if store.Dirty() {
		t.Error("expected store to be clean after sync")
	}
}

func TestFileStore_SetWritesPerID(t *testing.T) {
	base := t.TempDir()
	writeFile(t, filepath.Join(base, "envs.yaml"), "e1:\n  channels: [conda-forge]\n  pkg_specs: []\n")

	store := newEnvStore(t, base)
	ctx := context.Background()

	spec := engine.EnvironmentSpec{Channels: []string{"conda-forge"}, PkgSpecs: []string{"numpy"}}
	if err := store.Set(ctx, "e1", spec); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	perID := filepath.Join(base, "envs", "e1.yaml")
	if _, err := os.Stat(perID); err != nil {
		t.Fatalf("expected per-id file: %v", err)
	}

	// Consolidated rewrite is deferred until SyncConfig.
	raw, _ := os.ReadFile(filepath.Join(base, "envs.yaml"))
	if len(raw) == 0 {
		t.Fatal("expected consolidated document to be untouched before sync")
	}

	if err := store.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(base, "envs.yaml")); !os.IsNotExist(err) {
		t.Errorf("expected emptied consolidated document to be removed, got %v", err)
	}

	reloaded := newEnvStore(t, base)
	got, err := reloaded.Get(ctx, "e1")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(spec) {
		t.Errorf("expected %+v, got %+v", spec, got)
	}
}

func TestFileStore_Delete(t *testing.T) {
	base := t.TempDir()
	writeFile(t, filepath.Join(base, "envs.json"), `{"a": {"channels": [], "pkg_specs": []}, "b": {"channels": [], "pkg_specs": []}}`)
	writeFile(t, filepath.Join(base, "envs", "c.json"), `{"channels": [], "pkg_specs": []}`)

	store := newEnvStore(t, base)
	ctx := context.Background()

	if err := store.Delete(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if err := store.Delete(ctx, "c"); err != nil {
		t.Fatal(err)
	}
	if err := store.Delete(ctx, "missing"); err != nil {
		t.Errorf("deleting unknown id should not fail: %v", err)
	}
	if _, err := os.Stat(filepath.Join(base, "envs", "c.json")); !os.IsNotExist(err) {
		t.Error("expected per-id file to be removed")
	}
	if _, err := store.Get(ctx, "a"); !engine.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}

	if err := store.SyncConfig(ctx); err != nil {
		t.Fatal(err)
	}
	reloaded := newEnvStore(t, base)
	ids, _ := reloaded.ListIDs(ctx)
	if !slices.Equal(ids, []string{"b"}) {
		t.Errorf("expected [b], got %v", ids)
	}
}

func TestFileStore_ParseErrorAbortsLoad(t *testing.T) {
	base := t.TempDir()
	writeFile(t, filepath.Join(base, "envs", "good.json"), `{"channels": [], "pkg_specs": []}`)
	bad := filepath.Join(base, "envs", "bad.yaml")
	writeFile(t, bad, "channels: [unterminated\n")

	_, err := NewFileStore[engine.EnvironmentSpec](context.Background(), FileStoreConfig{
		BasePath: base,
		Name:     "envs",
		Logger:   zerolog.Nop(),
	})
	if !engine.IsParseError(err) {
		t.Fatalf("expected parse error, got %v", err)
	}
	var e *engine.Error
	if !errors.As(err, &e) || e.Path != bad {
		t.Errorf("expected error to name %s, got %v", bad, err)
	}
}

func TestFileStore_UnsupportedExtension(t *testing.T) {
	base := t.TempDir()
	writeFile(t, filepath.Join(base, "envs", "x.toml"), "")

	_, err := NewFileStore[engine.EnvironmentSpec](context.Background(), FileStoreConfig{
		BasePath: base,
		Name:     "envs",
		Logger:   zerolog.Nop(),
	})
	if !engine.IsUnsupportedFormat(err) {
		t.Fatalf("expected unsupported format, got %v", err)
	}
}

func TestFileStore_ExtensionPriorityAndHiddenFiles(t *testing.T) {
	base := t.TempDir()
	writeFile(t, filepath.Join(base, "envs", "x.yml"), "pkg_specs: [from-yml]\n")
	writeFile(t, filepath.Join(base, "envs", "x.json"), `{"pkg_specs": ["from-json"]}`)
	writeFile(t, filepath.Join(base, "envs", ".x.json.tmp.123"), "garbage")

	store := newEnvStore(t, base)
	x, err := store.Get(context.Background(), "x")
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(x.PkgSpecs, []string{"from-json"}) {
		t.Errorf("expected json to win, got %v", x.PkgSpecs)
	}
}

func TestFileStore_SetRejectsInvalidID(t *testing.T) {
	store := newEnvStore(t, t.TempDir())
	err := store.Set(context.Background(), "../escape", engine.EnvironmentSpec{})
	if engine.KindOf(err) != engine.ErrorKindInvalidID {
		t.Fatalf("expected invalid id, got %v", err)
	}
}

func TestFileStore_AppSpecs(t *testing.T) {
	base := t.TempDir()
	writeFile(t, filepath.Join(base, "apps.yaml"), `
jupyter:
  executable: jupyter
  args: [lab]
  env_spec:
    channels: [conda-forge]
    pkg_specs: [jupyterlab]
`)

	store, err := NewFileStore[engine.AppSpec](context.Background(), FileStoreConfig{
		ID:       "tools",
		BasePath: base,
		Name:     "apps",
		Format:   codec.FormatJSON,
		Logger:   zerolog.Nop(),
	})
	if err != nil {
		t.Fatal(err)
	}

	app, err := store.Get(context.Background(), "jupyter")
	if err != nil {
		t.Fatal(err)
	}
	if app.Executable != "jupyter" || !slices.Equal(app.EnvSpec.PkgSpecs, []string{"jupyterlab"}) {
		t.Errorf("unexpected app spec %+v", app)
	}

	if err := store.Set(context.Background(), "python", engine.AppSpec{Executable: "python"}); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(base, "apps", "python.json")); err != nil {
		t.Errorf("expected json per-id file: %v", err)
	}
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore("mem", map[string]engine.EnvironmentSpec{
		"b": {}, "a": {PkgSpecs: []string{"numpy"}},
	})

	ids, _ := store.ListIDs(ctx)
	if !slices.Equal(ids, []string{"a", "b"}) {
		t.Errorf("expected sorted ids, got %v", ids)
	}
	if err := store.Set(ctx, "c", engine.EnvironmentSpec{}); err != nil {
		t.Fatal(err)
	}
	if err := store.Delete(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Get(ctx, "a"); !engine.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
}
