// Package network owns the single TCP connection to the gateway.
//
// Ownership boundary:
// - dialing a gateway chosen from the server directory or a pinned address
// - frame reassembly from the socket and whole-frame writes
// - connect/frame/error/close notifications to one Handler
//
// Reconnection policy belongs to the caller; Conn never redials on its own.
package network
