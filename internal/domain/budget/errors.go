package budget

import "errors"

// Sentinel kinds for allocation errors. Lock timeouts are typed so
// callers cannot mistake a failed-closed allocation for a zero-reward
// business outcome.
var (
	ErrNilStore        = errors.New("nil pool store")
	ErrInvalidBounds   = errors.New("invalid allocation bounds")
	ErrNegativeAmount  = errors.New("negative reward amount")
	ErrScoreOutOfRange = errors.New("score out of range")
	ErrLockTimeout     = errors.New("pool lock timeout")
	ErrPoolNotFound    = errors.New("pool not found")
)

// IsPoolNotFound reports whether err means the period's pool record does
// not exist yet.
func IsPoolNotFound(err error) bool {
	return errors.Is(err, ErrPoolNotFound)
}
