// Package registry holds the in-memory environment and app registries.
//
// Environments tracks each environment's desired spec, the spec last materialized on disk and the
// resulting sync status. Specs are persisted through engine.Collection values; materialization is
// delegated to an engine.Materializer and recorded in the file named by ActualSpecFile inside the
// environment directory.
//
// Apps tracks executables and the environment their requirements are placed into. Registering an
// app never changes an environment: MergeAll folds app requirements into environments explicitly.
package registry
