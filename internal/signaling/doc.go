// Package signaling implements the relay's core: a WebSocket endpoint that
// assigns identity to connecting clients, broadcasts presence, forwards
// call-negotiation envelopes between exactly the two clients of a call
// attempt, and tracks per-pair negotiation state for cleanup.
//
// The relay never inspects session descriptions or ICE candidates; those are
// opaque payloads owned by the clients' WebRTC engines.
package signaling
