package signing

import "errors"

// Sentinel kinds for signing errors.
var (
	ErrEmptySecret       = errors.New("empty signing secret")
	ErrNilCalculation    = errors.New("nil calculation")
	ErrNegativeAmount    = errors.New("negative reward amount")
	ErrStaleCalculation  = errors.New("calculation outside freshness window")
	ErrSignatureMismatch = errors.New("signature mismatch")
)
