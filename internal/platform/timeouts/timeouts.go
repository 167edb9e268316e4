// Package timeouts defines shared timeout constants used across the runtime.
// Centralizing these values prevents drift between transport boundaries and
// makes the durations discoverable.
package timeouts

import "time"

// ReadHeader limits how long the HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long the HTTP server waits for in-flight requests
// during graceful shutdown.
const Shutdown = 5 * time.Second

// Generation caps a single facilitator call to the generation backend.
const Generation = 30 * time.Second

// Keepalive is the interval between keepalive events on a live connection.
const Keepalive = 25 * time.Second
