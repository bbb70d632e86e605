package chain

import "errors"

// Sentinel kinds for indexer errors.
var (
	ErrEmptyAccount  = errors.New("empty account id")
	ErrIndexerStatus = errors.New("indexer request failed")
)
