package engine

import (
	"encoding/json"
	"fmt"
)

// SyncStatus represents whether a materialized environment still satisfies its desired spec.
type SyncStatus string

const (
	// SyncStatusUnknown indicates the status has not been computed against the actual spec yet.
	SyncStatusUnknown SyncStatus = "unknown"

	// SyncStatusSynced indicates the desired spec is satisfied by the actual spec.
	SyncStatusSynced SyncStatus = "synced"

	// SyncStatusNotSynced indicates the desired spec is not satisfied by the actual spec.
	SyncStatusNotSynced SyncStatus = "not_synced"
)

// StatusFor returns the status implied by comparing desired against actual.
func StatusFor(desired, actual EnvironmentSpec) SyncStatus {
	if IsSatisfiedBy(desired, actual) {
		return SyncStatusSynced
	}
	return SyncStatusNotSynced
}

// Display returns the label used in tables.
func (s SyncStatus) Display() string {
	switch s {
	case SyncStatusSynced:
		return "Synced"
	case SyncStatusNotSynced:
		return "Not Synced"
	default:
		return "Unknown"
	}
}

// Validate checks if the sync status is valid.
func (s SyncStatus) Validate() error {
	switch s {
	case SyncStatusUnknown, SyncStatusSynced, SyncStatusNotSynced:
		return nil
	default:
		return fmt.Errorf("invalid sync status: %s", s)
	}
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *SyncStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = SyncStatus(str)
	return s.Validate()
}
