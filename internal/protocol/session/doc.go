// Package session owns client<->replica session transport helpers.
//
// Ownership boundary:
// - hello/hello.ack control messages exchanged before binary frames
// - transport config, timeouts and TLS material
// - retry/backoff, address parsing and inflight request primitives
package session
