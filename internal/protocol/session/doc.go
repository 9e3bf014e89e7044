// Package session owns the per-account protocol state shared by the login
// flows and ordinary service calls.
//
// Ownership boundary:
// - signature state (sequence counter, keys, credentials, verification artifacts)
// - pending request table keyed by sequence number
// - registration request/response wire
// - timeouts and reconnect backoff
package session
