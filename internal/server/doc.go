// Package server implements the relay core: the fixed-capacity session
// registry, the per-connection state machine that authenticates clients and
// dispatches their frames, and the router that fans broadcasts and private
// messages out to live sessions.
//
// Clients reach the core over raw TCP or over a WebSocket endpoint served by
// the HTTP side-listener; both carry the same fixed-size frames defined in
// package protocol.
package server
