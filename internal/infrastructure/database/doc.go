// Package database opens the SQLite file the resource tree persists to
// and runs the embedded schema migrations against it.
//
// The handle embeds *sql.DB, so the store layer issues queries on it
// directly. WAL mode keeps RETRIEVE traffic flowing while a write is in
// progress, and the pool is capped at one connection because SQLite
// allows a single writer anyway. Migrations are plain SQL files named
// YYYYMMDD_HHMMSS_description.{up,down}.sql, embedded by the top-level
// migrations package and applied one transaction each at startup.
package database
