// Package store persists the ledgerd state machine to SQLite.
//
// Each committed request becomes one Batch written in a single transaction:
// account rows are upserted with their current balances, transfers and
// historical balances are appended, and pending transfer status is upserted.
// Load replays the tables into a Snapshot on startup. 128-bit values are
// stored as 16-byte little-endian BLOBs.
package store
