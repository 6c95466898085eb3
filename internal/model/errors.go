package model

import "errors"

// Sentinel errors shared across engines. Callers classify with errors.Is;
// the HTTP layer maps them to status codes.
var (
	// ErrBadInterval is returned for any operation on an unrecognized interval.
	ErrBadInterval = errors.New("unknown interval")

	// ErrBadInput covers invalid ranges, unknown strategies and malformed params.
	ErrBadInput = errors.New("bad input")

	// ErrConflict signals a unique-key violation (e.g. duplicate signal config).
	ErrConflict = errors.New("conflict")

	// ErrNotFound signals a missing referenced id.
	ErrNotFound = errors.New("not found")

	// ErrUpstreamUnavailable is returned when the market-data client
	// exhausted its retries.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrDataUnavailable signals an empty or too-short candle frame.
	ErrDataUnavailable = errors.New("insufficient candle data")
)
