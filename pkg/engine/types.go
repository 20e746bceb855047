package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"slices"
	"time"
)

// EnvironmentSpec is the desired state of an environment: package channels plus package specifiers.
type EnvironmentSpec struct {
	// Channels are the package channels, e.g. "conda-forge". Order is not significant for equality.
	Channels []string `json:"channels" yaml:"channels"`

	// PkgSpecs are package specifiers, e.g. "python>=3.10". Order is significant for Equal.
	PkgSpecs []string `json:"pkg_specs" yaml:"pkg_specs"`
}

// Clone returns an independent copy of the spec.
func (s EnvironmentSpec) Clone() EnvironmentSpec {
	return EnvironmentSpec{
		Channels: cloneStrings(s.Channels),
		PkgSpecs: cloneStrings(s.PkgSpecs),
	}
}

// IsEmpty reports whether the spec declares nothing.
func (s EnvironmentSpec) IsEmpty() bool {
	return len(s.Channels) == 0 && len(s.PkgSpecs) == 0
}

// Equal compares channels ignoring order and package specs in order.
//
// The asymmetry is kept for compatibility with existing spec files; use EqualIgnoringOrder
// when both lists should be compared as sets.
func (s EnvironmentSpec) Equal(other EnvironmentSpec) bool {
	if !slices.Equal(nonNil(s.PkgSpecs), nonNil(other.PkgSpecs)) {
		return false
	}
	return sortedEqual(s.Channels, other.Channels)
}

// EqualIgnoringOrder compares both channels and package specs ignoring order.
func (s EnvironmentSpec) EqualIgnoringOrder(other EnvironmentSpec) bool {
	return sortedEqual(s.Channels, other.Channels) && sortedEqual(s.PkgSpecs, other.PkgSpecs)
}

// Hash returns a SHA256 of the spec's JSON encoding, used to identify journal entries.
func (s EnvironmentSpec) Hash() string {
	data, _ := json.Marshal(EnvironmentSpec{Channels: nonNil(s.Channels), PkgSpecs: nonNil(s.PkgSpecs)})
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// AppSpec declares an executable bound to an environment's requirements.
type AppSpec struct {
	// Executable is the program name, resolved inside the environment.
	Executable string `json:"executable" yaml:"executable"`

	// Args are passed to the executable in order.
	Args []string `json:"args" yaml:"args"`

	// EnvSpec holds the requirements the app needs from its environment.
	EnvSpec EnvironmentSpec `json:"env_spec" yaml:"env_spec"`
}

// Clone returns an independent copy of the app spec.
func (s AppSpec) Clone() AppSpec {
	return AppSpec{
		Executable: s.Executable,
		Args:       cloneStrings(s.Args),
		EnvSpec:    s.EnvSpec.Clone(),
	}
}

// Equal compares executable, args (in order) and env spec.
func (s AppSpec) Equal(other AppSpec) bool {
	return s.Executable == other.Executable &&
		slices.Equal(nonNil(s.Args), nonNil(other.Args)) &&
		s.EnvSpec.Equal(other.EnvSpec)
}

// FullCommand returns the executable followed by its arguments.
func (s AppSpec) FullCommand() []string {
	cmd := make([]string, 0, len(s.Args)+1)
	cmd = append(cmd, s.Executable)
	return append(cmd, s.Args...)
}

// Environment is a registered environment with its desired and last materialized state.
type Environment struct {
	ID           string          `json:"id"`
	CollectionID string          `json:"collection_id"`
	EnvPath      string          `json:"env_path"`
	Spec         EnvironmentSpec `json:"spec"`
	Actual       EnvironmentSpec `json:"actual"`
	SyncStatus   SyncStatus      `json:"sync_status"`

	// Materialized is set once an actual spec has been recorded for the environment.
	// Until then the environment is NotSynced whatever its spec.
	Materialized bool `json:"materialized"`
}

// Clone returns an independent copy of the environment.
func (e *Environment) Clone() *Environment {
	c := *e
	c.Spec = e.Spec.Clone()
	c.Actual = e.Actual.Clone()
	return &c
}

// CheckSyncStatus recomputes the status from the desired and actual specs.
func (e *Environment) CheckSyncStatus() SyncStatus {
	if !e.Materialized {
		e.SyncStatus = SyncStatusNotSynced
		return e.SyncStatus
	}
	e.SyncStatus = StatusFor(e.Spec, e.Actual)
	return e.SyncStatus
}

// AddChannels appends channels not yet present. It returns the channels that were added.
// Any addition moves the status to Unknown, which is then resolved against the actual spec.
func (e *Environment) AddChannels(channels []string) []string {
	added := DiffNew(e.Spec.Channels, dedupe(channels))
	if len(added) > 0 {
		e.Spec.Channels = append(cloneStrings(e.Spec.Channels), added...)
		e.SyncStatus = SyncStatusUnknown
	}
	e.CheckSyncStatus()
	return added
}

// AddPkgSpecs appends package specs not yet present. It returns the specs that were added.
func (e *Environment) AddPkgSpecs(pkgSpecs []string) []string {
	added := DiffNew(e.Spec.PkgSpecs, dedupe(pkgSpecs))
	if len(added) > 0 {
		e.Spec.PkgSpecs = append(cloneStrings(e.Spec.PkgSpecs), added...)
		e.SyncStatus = SyncStatusUnknown
	}
	e.CheckSyncStatus()
	return added
}

// MergeSpec folds spec into the desired spec and reports whether anything changed.
func (e *Environment) MergeSpec(spec EnvironmentSpec) bool {
	channels := e.AddChannels(spec.Channels)
	pkgSpecs := e.AddPkgSpecs(spec.PkgSpecs)
	return len(channels) > 0 || len(pkgSpecs) > 0
}

// RemoveChannels drops the given channels from the desired spec and reports whether anything changed.
func (e *Environment) RemoveChannels(channels []string) bool {
	kept := make([]string, 0, len(e.Spec.Channels))
	for _, c := range e.Spec.Channels {
		if !slices.Contains(channels, c) {
			kept = append(kept, c)
		}
	}
	changed := len(kept) != len(e.Spec.Channels)
	e.Spec.Channels = kept
	e.CheckSyncStatus()
	return changed
}

// App is a registered app. EnvID is resolved once at registration and never re-derived.
type App struct {
	ID           string  `json:"id"`
	Spec         AppSpec `json:"spec"`
	CollectionID string  `json:"collection_id"`
	EnvID        string  `json:"env_id"`
}

// Clone returns an independent copy of the app.
func (a *App) Clone() *App {
	c := *a
	c.Spec = a.Spec.Clone()
	return &c
}

// SyncRecord describes one sync attempt, as written to a Journal.
type SyncRecord struct {
	EnvID       string
	EnvPath     string
	SpecHash    string
	Spec        EnvironmentSpec
	Changed     bool
	Error       string
	StartedAt   time.Time
	CompletedAt time.Time
}

// AuditRecord describes one registry mutation, as written to a Journal.
type AuditRecord struct {
	Action    string
	TargetID  string
	Details   map[string]interface{}
	Timestamp time.Time
}

// Audit actions recorded by the registries.
const (
	AuditEnvAdded      = "env.added"
	AuditEnvMerged     = "env.merged"
	AuditEnvRemoved    = "env.removed"
	AuditEnvSynced     = "env.synced"
	AuditAppAdded      = "app.added"
	AuditAppRemoved    = "app.removed"
	AuditChannelsDrop  = "env.channels_removed"
	AuditEnvRegistered = "env.registered"
)

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string(nil), in...)
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

func sortedEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	sa := slices.Clone(a)
	sb := slices.Clone(b)
	slices.Sort(sa)
	slices.Sort(sb)
	return slices.Equal(sa, sb)
}
