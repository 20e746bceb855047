package engine

import "fmt"

// DefaultEnvID is the environment id used by PlacementDefault.
const DefaultEnvID = "default"

// DefaultCollectionID is the collection id used when none is given.
const DefaultCollectionID = "default"

// PlacementKind identifies a placement strategy variant.
type PlacementKind int

const (
	// PlacementDefault places every app into the "default" environment.
	PlacementDefault PlacementKind = iota
	// PlacementCollectionID places an app into the environment named after its collection.
	PlacementCollectionID
	// PlacementAppID places each app into its own environment.
	PlacementAppID
	// PlacementCustom places an app into an explicitly named environment.
	PlacementCustom
)

// Placement strategy names as accepted on the command line and in config files.
const (
	placementDefaultName      = "--default--"
	placementCollectionIDName = "--collection_id--"
	placementAppIDName        = "--app_id--"
)

// PlacementStrategy decides which environment an app's requirements fold into.
type PlacementStrategy struct {
	Kind  PlacementKind
	EnvID string // only for PlacementCustom
}

// Predefined strategies.
var (
	PlaceDefault      = PlacementStrategy{Kind: PlacementDefault}
	PlaceCollectionID = PlacementStrategy{Kind: PlacementCollectionID}
	PlaceAppID        = PlacementStrategy{Kind: PlacementAppID}
)

// PlaceCustom returns a strategy that always resolves to envID.
func PlaceCustom(envID string) PlacementStrategy {
	return PlacementStrategy{Kind: PlacementCustom, EnvID: envID}
}

// ParsePlacementStrategy parses a strategy name. Unrecognized names are custom environment ids;
// the empty string is the default strategy.
func ParsePlacementStrategy(s string) PlacementStrategy {
	switch s {
	case "", placementDefaultName:
		return PlaceDefault
	case placementCollectionIDName:
		return PlaceCollectionID
	case placementAppIDName:
		return PlaceAppID
	default:
		return PlaceCustom(s)
	}
}

// String returns the name ParsePlacementStrategy accepts for s.
func (s PlacementStrategy) String() string {
	switch s.Kind {
	case PlacementDefault:
		return placementDefaultName
	case PlacementCollectionID:
		return placementCollectionIDName
	case PlacementAppID:
		return placementAppIDName
	case PlacementCustom:
		return s.EnvID
	default:
		return fmt.Sprintf("PlacementKind(%d)", int(s.Kind))
	}
}

// ResolveEnvID maps an app to its target environment id. It never fails.
func ResolveEnvID(appID, collectionID string, strategy PlacementStrategy) string {
	switch strategy.Kind {
	case PlacementCollectionID:
		return collectionID
	case PlacementAppID:
		return appID
	case PlacementCustom:
		return strategy.EnvID
	default:
		return DefaultEnvID
	}
}
