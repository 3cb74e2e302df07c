// Package protocol defines the closed set of envelopes exchanged over a
// conversation socket and the JSON codec for them.
//
// Frames that are not envelopes (the bare "ping" heartbeat, JSON without a
// recognized type, malformed payloads) decode to nil and are expected to be
// dropped by the caller.
package protocol
