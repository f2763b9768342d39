// Package protocol is the ledger wire contract.
//
// Ownership boundary:
// - frame: fixed 64-byte header, checksum and payload limits
// - codec: fixed-layout event and result encodings per operation
// - session: hello handshake, transport config and request bookkeeping
package protocol
