package viva

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"

	"github.com/frkl/viva/pkg/config"
	"github.com/frkl/viva/pkg/engine"
	"github.com/frkl/viva/pkg/stores"
	"github.com/frkl/viva/pkg/telemetry"
)

type fakeMaterializer struct {
	mu    sync.Mutex
	paths []string
}

func (m *fakeMaterializer) Materialize(_ context.Context, path string, _ engine.EnvironmentSpec) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paths = append(m.paths, path)
	return nil
}

func (m *fakeMaterializer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.paths)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.ConfigDir = t.TempDir()
	cfg.DataDir = t.TempDir()
	return cfg
}

func openContext(t *testing.T, cfg *config.Config, mat engine.Materializer) *Context {
	t.Helper()
	ctx := context.Background()
	vc, err := New(ctx, Options{
		Config:       cfg,
		Materializer: mat,
		Telemetry:    telemetry.Nop(),
	})
	if err != nil {
		t.Fatalf("failed to open context: %v", err)
	}
	t.Cleanup(func() { _ = vc.Close(ctx) })
	return vc
}

func writeSpecFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestNew_RequiresConfig(t *testing.T) {
	if _, err := New(context.Background(), Options{}); err == nil {
		t.Error("expected error without config")
	}
}

func TestNew_Empty(t *testing.T) {
	vc := openContext(t, testConfig(t), &fakeMaterializer{})

	if ids := vc.Environments().ListIDs(); len(ids) != 0 {
		t.Errorf("expected no environments, got %v", ids)
	}
	if ids := vc.Apps().ListIDs(); len(ids) != 0 {
		t.Errorf("expected no apps, got %v", ids)
	}
	if vc.Journal() == nil {
		t.Error("expected journal to be enabled by default")
	}
}

func TestNew_LoadsSpecFiles(t *testing.T) {
	cfg := testConfig(t)
	writeSpecFile(t, filepath.Join(cfg.ConfigDir, "envs.yaml"), `
base:
  channels: [conda-forge]
  pkg_specs: [python]
tools:
  channels: [conda-forge]
  pkg_specs: [jq]
`)
	writeSpecFile(t, filepath.Join(cfg.ConfigDir, "envs", "tools.json"), `{"channels": ["conda-forge"], "pkg_specs": ["jq", "ripgrep"]}`)
	writeSpecFile(t, filepath.Join(cfg.ConfigDir, "apps", "rg.yaml"), `
executable: rg
args: [--hidden]
env_spec:
  channels: [conda-forge]
  pkg_specs: [ripgrep]
`)

	vc := openContext(t, cfg, &fakeMaterializer{})

	if got := vc.Environments().ListIDs(); !slices.Equal(got, []string{"base", "tools"}) {
		t.Fatalf("unexpected environments %v", got)
	}
	tools, _ := vc.Environments().Get("tools")
	if !slices.Equal(tools.Spec.PkgSpecs, []string{"jq", "ripgrep"}) {
		t.Errorf("expected per-id file to override consolidated entry, got %v", tools.Spec.PkgSpecs)
	}
	if tools.EnvPath != filepath.Join(cfg.EnvsDir(), "tools") {
		t.Errorf("unexpected env path %s", tools.EnvPath)
	}

	app, err := vc.Apps().Get("rg")
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(app.Spec.FullCommand(), []string{"rg", "--hidden"}) {
		t.Errorf("unexpected command %v", app.Spec.FullCommand())
	}
	if app.EnvID != engine.DefaultEnvID {
		t.Errorf("expected default placement, got %s", app.EnvID)
	}
}

func TestContext_FirstEnvCollectionWins(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	writeSpecFile(t, filepath.Join(cfg.ConfigDir, "envs.yaml"), `
shared:
  channels: [conda-forge]
  pkg_specs: [from-file]
`)
	vc := openContext(t, cfg, &fakeMaterializer{})

	second := stores.NewMemoryStore("second", map[string]engine.EnvironmentSpec{
		"shared": {PkgSpecs: []string{"from-memory"}},
	})
	if err := vc.AddEnvCollection(ctx, second); err != nil {
		t.Fatal(err)
	}

	env, _ := vc.Environments().Get("shared")
	if env.CollectionID != engine.DefaultCollectionID || env.Spec.PkgSpecs[0] != "from-file" {
		t.Errorf("expected first collection to win, got %s %v", env.CollectionID, env.Spec.PkgSpecs)
	}
}

func TestContext_CollectionIDPlacement(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Placement = engine.PlaceCollectionID.String()
	mat := &fakeMaterializer{}
	vc := openContext(t, cfg, mat)

	tools := stores.NewMemoryStore("tools", map[string]engine.AppSpec{
		"jq": {Executable: "jq", EnvSpec: engine.EnvironmentSpec{Channels: []string{"conda-forge"}, PkgSpecs: []string{"jq"}}},
		"rg": {Executable: "rg", EnvSpec: engine.EnvironmentSpec{PkgSpecs: []string{"ripgrep"}}},
	})
	if err := vc.AddAppCollection(ctx, tools); err != nil {
		t.Fatal(err)
	}

	changed, err := vc.MergeAllApps(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(changed, []string{"tools"}) {
		t.Errorf("expected tools environment to change, got %v", changed)
	}

	env, err := vc.Environments().Get("tools")
	if err != nil {
		t.Fatalf("expected tools environment: %v", err)
	}
	if env.CollectionID != engine.DefaultCollectionID {
		t.Errorf("expected environment in default collection, got %s", env.CollectionID)
	}
	if !slices.Equal(env.Spec.PkgSpecs, []string{"jq", "ripgrep"}) {
		t.Errorf("unexpected pkg specs %v", env.Spec.PkgSpecs)
	}
	if _, err := os.Stat(filepath.Join(cfg.ConfigDir, "envs", "tools.yaml")); err != nil {
		t.Errorf("expected created environment to be written: %v", err)
	}

	synced, err := vc.SyncEnvs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(synced, []string{"tools"}) || mat.count() != 1 {
		t.Errorf("expected one sync of tools, got %v (%d calls)", synced, mat.count())
	}

	for _, snap := range vc.AppSnapshots() {
		if snap.EnvStatus != engine.SyncStatusSynced {
			t.Errorf("app %s: expected synced env, got %s", snap.ID, snap.EnvStatus)
		}
	}
}

func TestContext_Apply(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	mat := &fakeMaterializer{}
	vc := openContext(t, cfg, mat)

	env, changed, err := vc.Apply(ctx, "work", engine.EnvironmentSpec{PkgSpecs: []string{"python", "numpy"}})
	if err != nil {
		t.Fatal(err)
	}
	if !changed {
		t.Error("expected apply to materialize")
	}
	if !slices.Equal(env.Spec.Channels, []string{"conda-forge"}) {
		t.Errorf("expected default channels, got %v", env.Spec.Channels)
	}
	if env.SyncStatus != engine.SyncStatusSynced {
		t.Errorf("expected synced, got %s", env.SyncStatus)
	}

	_, changed, err = vc.Apply(ctx, "work", engine.EnvironmentSpec{PkgSpecs: []string{"numpy"}})
	if err != nil {
		t.Fatal(err)
	}
	if changed {
		t.Error("expected second apply to be a no-op")
	}
	if mat.count() != 1 {
		t.Errorf("expected one materializer call, got %d", mat.count())
	}

	runs, err := vc.History(ctx, "work", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 journal entries, got %d", len(runs))
	}
	for _, run := range runs {
		if !run.Succeeded() {
			t.Errorf("unexpected failed run %+v", run)
		}
	}
}

func TestContext_HistoryWithoutJournal(t *testing.T) {
	cfg := testConfig(t)
	cfg.Journal.Enabled = false
	vc := openContext(t, cfg, &fakeMaterializer{})

	if _, err := vc.History(context.Background(), "x", 5); err == nil {
		t.Error("expected error when journal is disabled")
	}
}

func TestContext_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	vc, err := New(ctx, Options{Config: cfg, Materializer: &fakeMaterializer{}, Telemetry: telemetry.Nop()})
	if err != nil {
		t.Fatal(err)
	}
	if err := vc.AddEnv(ctx, "data", vc.DefaultEnvSpec()); err != nil {
		t.Fatal(err)
	}
	if _, err := vc.AddApp(ctx, "jq", engine.AppSpec{Executable: "jq"}, &engine.PlaceAppID); err != nil {
		t.Fatal(err)
	}
	if err := vc.Close(ctx); err != nil {
		t.Fatal(err)
	}

	reopened := openContext(t, cfg, &fakeMaterializer{})
	if !reopened.Environments().Has("data") {
		t.Error("expected environment to survive reopen")
	}
	app, err := reopened.Apps().Get("jq")
	if err != nil {
		t.Fatal(err)
	}
	// a new process places apps again with the configured strategy
	if app.EnvID != engine.DefaultEnvID {
		t.Errorf("expected default placement after reopen, got %s", app.EnvID)
	}
}

func TestContext_ReloadKeepsAddedCollections(t *testing.T) {
	ctx := context.Background()
	vc := openContext(t, testConfig(t), &fakeMaterializer{})

	extraEnvs := stores.NewMemoryStore("extra", map[string]engine.EnvironmentSpec{
		"shared": {PkgSpecs: []string{"numpy"}},
	})
	extraApps := stores.NewMemoryStore("extra", map[string]engine.AppSpec{
		"ipython": {Executable: "ipython"},
	})
	if err := vc.AddEnvCollection(ctx, extraEnvs); err != nil {
		t.Fatal(err)
	}
	if err := vc.AddAppCollection(ctx, extraApps); err != nil {
		t.Fatal(err)
	}

	if err := vc.Reload(ctx); err != nil {
		t.Fatal(err)
	}

	if got := vc.Environments().Collections(); !slices.Equal(got, []string{engine.DefaultCollectionID, "extra"}) {
		t.Errorf("unexpected environment collections after reload: %v", got)
	}
	if got := vc.Environments().ListIDs(); !slices.Equal(got, []string{"shared"}) {
		t.Errorf("unexpected environments after reload: %v", got)
	}
	if got := vc.Apps().Collections(); !slices.Equal(got, []string{engine.DefaultCollectionID, "extra"}) {
		t.Errorf("unexpected app collections after reload: %v", got)
	}
	if _, err := vc.Apps().Get("ipython"); err != nil {
		t.Errorf("expected app from added collection after reload: %v", err)
	}
}

func TestContext_ReloadKeepsAppPlacement(t *testing.T) {
	ctx := context.Background()
	vc := openContext(t, testConfig(t), &fakeMaterializer{})

	spec := engine.AppSpec{
		Executable: "jupyter",
		Args:       []string{"lab"},
		EnvSpec:    engine.EnvironmentSpec{PkgSpecs: []string{"jupyterlab"}},
	}
	if _, err := vc.AddApp(ctx, "jupyter", spec, &engine.PlaceAppID); err != nil {
		t.Fatal(err)
	}
	if err := vc.Reload(ctx); err != nil {
		t.Fatal(err)
	}

	app, err := vc.Apps().Get("jupyter")
	if err != nil {
		t.Fatal(err)
	}
	if app.EnvID != "jupyter" {
		t.Fatalf("expected placement to survive reload, got %s", app.EnvID)
	}

	changed, err := vc.MergeAllApps(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(changed, []string{"jupyter"}) {
		t.Errorf("expected merge into jupyter, got %v", changed)
	}
	if vc.Environments().Has(engine.DefaultEnvID) {
		t.Error("expected default environment to stay untouched")
	}
}

func TestContext_Reload(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	vc := openContext(t, cfg, &fakeMaterializer{})

	writeSpecFile(t, filepath.Join(cfg.ConfigDir, "envs", "late.yaml"), "channels: [conda-forge]\npkg_specs: [jq]\n")
	if vc.Environments().Has("late") {
		t.Fatal("expected new file to be invisible before reload")
	}
	if err := vc.Reload(ctx); err != nil {
		t.Fatal(err)
	}
	if !vc.Environments().Has("late") {
		t.Error("expected reload to pick up new environment")
	}
}

func TestContext_Snapshot(t *testing.T) {
	ctx := context.Background()
	vc := openContext(t, testConfig(t), &fakeMaterializer{})

	if err := vc.AddEnv(ctx, "empty", engine.EnvironmentSpec{}); err != nil {
		t.Fatal(err)
	}
	if _, err := vc.AddApp(ctx, "jq", engine.AppSpec{Executable: "jq", Args: []string{"-r"}}, &engine.PlaceAppID); err != nil {
		t.Fatal(err)
	}

	snap := vc.Snapshot()
	if len(snap.Environments) != 1 || snap.Environments[0].Status != engine.SyncStatusNotSynced {
		t.Errorf("unexpected environments %+v", snap.Environments)
	}
	if snap.Environments[0].Channels == nil {
		t.Error("expected non-nil channels for listing")
	}
	if len(snap.Apps) != 1 {
		t.Fatalf("unexpected apps %+v", snap.Apps)
	}
	app := snap.Apps[0]
	if app.EnvID != "jq" || app.EnvStatus != engine.SyncStatusUnknown {
		t.Errorf("expected missing env to be unknown, got %+v", app)
	}
	if app.CommandLine() != "jq -r" {
		t.Errorf("unexpected command line %q", app.CommandLine())
	}
}
