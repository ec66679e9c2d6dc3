// Package txlog provides durable, append-only persistence of transaction
// lifecycle state.
//
// A record is created only after a transaction has simulated successfully
// and passed its guardrail checks; unsimulated or rejected-before-persist
// attempts leave no trace. From then on the record's status moves
// monotonically (pending → simulated → approved → confirmed) with rejected
// and failed as terminal exits, and is never deleted. Reporting skills read
// the log; only the pipeline writes it.
//
// Uses SQLite with WAL mode for concurrent read access: a single-writer
// connection pool, pragmas applied at open, and an embedded schema.
package txlog
