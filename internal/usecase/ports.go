package usecase

import (
	"context"

	"github.com/totegamma/cozykost"
	"github.com/totegamma/cozykost/internal/domain"
)

// DocumentRepository stores user collections. Writes return the collection as it
// stands right after the write, with its revision.
type DocumentRepository interface {
	GetCollection(ctx context.Context, ref domain.CollectionRef) (cozykost.Snapshot, error)
	PutItem(ctx context.Context, ref domain.CollectionRef, item cozykost.Item) (domain.WriteResult, error)
	DeleteItem(ctx context.Context, ref domain.CollectionRef, id string) (domain.WriteResult, error)
}

// SignalPublisher fans change events out to realtime listeners.
type SignalPublisher interface {
	Publish(ctx context.Context, channel string, event cozykost.Event) error
}

// UserRepository defines persistence for accounts.
type UserRepository interface {
	Create(ctx context.Context, user domain.User) error
	Get(ctx context.Context, id string) (domain.User, error)
	GetByEmail(ctx context.Context, email string) (domain.User, error)
	Update(ctx context.Context, user domain.User) error
}

// KostRepository defines persistence for the listing catalog.
type KostRepository interface {
	List(ctx context.Context, query domain.KostQuery) ([]cozykost.Kost, error)
	Get(ctx context.Context, id string) (cozykost.Kost, error)
	Upsert(ctx context.Context, kost cozykost.Kost) error
}
