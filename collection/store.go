package collection

import (
	"context"

	"github.com/totegamma/cozykost"
)

// Store is the remote document store a Collection is backed by.
//
// Observe must deliver the current value at path first and then every later full value.
// The stream ends when ctx is cancelled. Transport problems are reported in-stream as
// events of type cozykost.EventTypeError and do not end the stream.
//
// Write and Delete return the collection as stored right after the change. A zero
// Revision means the store did not report one.
type Store interface {
	Read(ctx context.Context, path string) (cozykost.Snapshot, error)
	Write(ctx context.Context, path string, value any) (cozykost.Snapshot, error)
	Delete(ctx context.Context, path string) (cozykost.Snapshot, error)
	Observe(ctx context.Context, path string) (<-chan cozykost.Event, error)
}

// IdentityProvider reports the active session.
type IdentityProvider interface {
	CurrentUserID() (string, bool)
	OnAuthChange(fn func(userID string, ok bool)) (cancel func())
}
