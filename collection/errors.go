package collection

import (
	"errors"
	"fmt"

	"github.com/totegamma/cozykost"
)

var (
	ErrNotAuthenticated  = errors.New("not authenticated")
	ErrRemoteUnavailable = errors.New("remote unavailable")
	ErrWriteFailed       = errors.New("write failed")
	ErrInvalidArgument   = errors.New("invalid argument")
)

// OpError is returned by every Collection operation.
// errors.Is matches both its Kind and the underlying cause.
type OpError struct {
	Op    string
	Owner string
	Name  cozykost.CollectionName
	Kind  error
	Err   error
}

func (e *OpError) Error() string {
	msg := fmt.Sprintf("collection %s %s/%s: %v", e.Op, e.Owner, e.Name, e.Kind)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *OpError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func readKind(err error) error {
	if errors.Is(err, cozykost.ErrUnauthorized) {
		return ErrNotAuthenticated
	}
	return ErrRemoteUnavailable
}
