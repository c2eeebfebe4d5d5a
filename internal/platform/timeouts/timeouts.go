// Package timeouts defines shared timeout constants used across services.
package timeouts

import "time"

// GRPCDial caps the wait time when dialing the authority.
const GRPCDial = 5 * time.Second

// GRPCRequest caps a single fetch or submit call to the authority.
const GRPCRequest = 3 * time.Second

// PollInterval is the default sync loop period.
const PollInterval = 5 * time.Second

// ReadHeader limits how long an HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long a server waits for in-flight requests
// during graceful shutdown.
const Shutdown = 5 * time.Second
