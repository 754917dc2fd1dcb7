// Package stores keeps the history of synchronization passes in SQLite:
// pass summaries with their batches and executor reports, pass events,
// model snapshots and an audit trail. Schema changes are applied with
// golang-migrate from embedded SQL files.
package stores
