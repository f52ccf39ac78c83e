// Package records is the per-kind table layer of the local durable store.
//
// # Overview
//
// Every entity kind (animals, weighings, lots, ...) gets its own SQLite table
// named kind_<kind>, keyed by record id and indexed on the synced flag. Tables
// are created on first use and registered in the kinds table so reconciliation
// sweeps can find them after a restart.
//
// # Columns
//
//	id          TEXT PRIMARY KEY
//	owner_id    TEXT
//	created_at  INTEGER  epoch milliseconds, 0 = unknown, never overwritten once set
//	payload     TEXT     JSON object; null values are preserved
//	synced      INTEGER  0 = dirty, 1 = accepted by the remote store
//	rev         INTEGER  local revision, bumped on every write
//
// The repository works over dbx.DBTX so the same code runs on *sql.DB and
// inside a transaction. Kind names must match ^[a-z][a-z0-9_]{0,62}$ because
// they become part of table names.
package records
