// Package outbox persists queued debriefs in SQLite and exposes helpers for
// driving their lifecycle.
//
// The Store manages database connections, schema initialization, stats
// queries, stuck-item recovery, and the status transitions the engine's
// dispatch loop relies on. Enqueue supersedes any outstanding item for the
// same meeting in a single transaction, and every attempt-result transition
// is guarded by id plus current status so a stale in-flight response against
// a superseded item is silently dropped.
//
// The database is transient storage for undelivered debriefs rather than a
// long-term archive: submitted rows are pruned after a retention window.
// Schema changes bump the version in schema.go; old databases are refused
// rather than migrated in place.
//
// Treat this package as the single source of truth for outbox semantics; when
// you add new statuses or fields, update schema.sql and bump schemaVersion.
package outbox
