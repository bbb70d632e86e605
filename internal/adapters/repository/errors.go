package repository

import "errors"

// Sentinel kinds for reward store errors.
var (
	ErrNotFound     = errors.New("calculation not found")
	ErrInvalidLimit = errors.New("invalid history limit")
)
