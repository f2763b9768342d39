// Package ledger holds the wire-level domain types of the ledger protocol:
// accounts, transfers, filters, balances, result codes and 128-bit identifiers.
package ledger
