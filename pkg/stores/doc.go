// Package stores provides the persistence layer for kiln's build history.
// It includes SQLite-based storage with WAL mode, connection pooling,
// embedded schema migrations, an append-only build event log and
// age-based retention pruning.
package stores
