// Package queue persists sessions and their pending jobs in SQLite and exposes
// helpers for driving the session lifecycle.
//
// The Store manages database connections, schema initialization, session
// CRUD, job admission and claiming, derived queue positions, and the guarded
// status transitions workers rely on. Sessions capture progress, analysis
// metadata, archive handles, and error details so the HTTP layer can answer
// polls without additional state.
//
// The database is treated as transient storage for in-flight work rather than
// a long-term archive. Schema changes bump the version in schema.go; users
// clear the database to adopt the new schema.
//
// Treat this package as the single source of truth for queue semantics; when
// you add new statuses or session fields, update schema.sql and bump
// schemaVersion.
package queue
