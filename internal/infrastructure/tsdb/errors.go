package tsdb

import "errors"

// Domain-specific errors for the time-series sink.
var (
	// ErrDisabled is returned by Connect when the sink is disabled in config.
	ErrDisabled = errors.New("tsdb: sink disabled in configuration")

	// ErrNotConnected is returned when attempting operations on a closed client.
	ErrNotConnected = errors.New("tsdb: client not connected")

	// ErrConnectionFailed is returned when the initial connection attempt fails.
	ErrConnectionFailed = errors.New("tsdb: connection failed")
)
