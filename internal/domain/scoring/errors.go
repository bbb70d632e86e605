package scoring

import "errors"

// Sentinel kinds for scoring errors.
var (
	ErrInvalidConfig   = errors.New("invalid scoring config")
	ErrNoSnapshots     = errors.New("no snapshots to score")
	ErrMalformedVolume = errors.New("malformed transaction volume")
)
