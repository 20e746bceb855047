package viva

import (
	"strings"

	"github.com/frkl/viva/pkg/engine"
)

// EnvSnapshot is one row of the environment listing.
type EnvSnapshot struct {
	ID         string            `json:"id"`
	Collection string            `json:"collection"`
	Path       string            `json:"path"`
	Channels   []string          `json:"channels"`
	PkgSpecs   []string          `json:"pkg_specs"`
	Status     engine.SyncStatus `json:"status"`
}

// AppSnapshot is one row of the app listing.
type AppSnapshot struct {
	ID         string            `json:"id"`
	Collection string            `json:"collection"`
	Command    []string          `json:"command"`
	EnvID      string            `json:"env_id"`
	EnvStatus  engine.SyncStatus `json:"env_status"`
}

// CommandLine returns the app command joined with spaces.
func (s AppSnapshot) CommandLine() string {
	return strings.Join(s.Command, " ")
}

// Snapshot is the full listing of a context.
type Snapshot struct {
	Environments []EnvSnapshot `json:"environments"`
	Apps         []AppSnapshot `json:"apps"`
}

// EnvSnapshots lists all environments sorted by id.
func (c *Context) EnvSnapshots() []EnvSnapshot {
	envs := c.Environments().List()
	out := make([]EnvSnapshot, 0, len(envs))
	for _, env := range envs {
		out = append(out, EnvSnapshot{
			ID:         env.ID,
			Collection: env.CollectionID,
			Path:       env.EnvPath,
			Channels:   nonNil(env.Spec.Channels),
			PkgSpecs:   nonNil(env.Spec.PkgSpecs),
			Status:     env.SyncStatus,
		})
	}
	return out
}

// AppSnapshots lists all apps sorted by id. Apps whose environment does not exist yet report
// an unknown status.
func (c *Context) AppSnapshots() []AppSnapshot {
	envs := c.Environments()
	apps := c.Apps().List()
	out := make([]AppSnapshot, 0, len(apps))
	for _, app := range apps {
		status := engine.SyncStatusUnknown
		if env, err := envs.Get(app.EnvID); err == nil {
			status = env.SyncStatus
		}
		out = append(out, AppSnapshot{
			ID:         app.ID,
			Collection: app.CollectionID,
			Command:    app.Spec.FullCommand(),
			EnvID:      app.EnvID,
			EnvStatus:  status,
		})
	}
	return out
}

// Snapshot lists environments and apps.
func (c *Context) Snapshot() Snapshot {
	return Snapshot{
		Environments: c.EnvSnapshots(),
		Apps:         c.AppSnapshots(),
	}
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
