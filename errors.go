package cozykost

import "errors"

// Transport level failures reported by document store implementations.
var (
	ErrUnavailable  = errors.New("remote unavailable")
	ErrRejected     = errors.New("remote rejected request")
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not found")
)
