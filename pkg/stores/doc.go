// Package stores provides the collection backends and the sync journal.
//
// FileStore reads and writes spec documents in the consolidated and per-id layouts, MemoryStore keeps
// specs in memory, and Watcher reloads file stores when their documents change. SQLiteStore records
// every sync attempt and registry mutation in a SQLite database with embedded migrations.
package stores
