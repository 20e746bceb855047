// Package engine holds the data model and the pure reconciliation logic.
//
// An EnvironmentSpec is a set of package channels plus package specifiers. An Environment carries the
// desired spec, the spec last materialized on disk (Actual) and a SyncStatus derived from the two:
//
//	Unknown   status not computed yet
//	Synced    desired spec is contained in the actual spec
//	NotSynced desired spec is not contained in the actual spec, or nothing was materialized yet
//
// UnionMerge, IsSatisfiedBy and DiffNew implement the set semantics used when folding new requirements
// into an environment. Merges only ever add entries; order of first appearance is kept.
//
// Apps bind an executable to an EnvironmentSpec. Which environment an app's requirements are folded
// into is decided once at registration by ResolveEnvID according to a PlacementStrategy.
//
// Storage and materialization are behind the Collection, Materializer and Journal interfaces, and all
// failures are reported as *Error values classified by ErrorKind:
//
//	if engine.IsNotFound(err) {
//	    // unknown id
//	}
package engine
