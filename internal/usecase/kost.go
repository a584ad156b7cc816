package usecase

import (
	"context"
	"time"

	"github.com/totegamma/cozykost"
	"github.com/totegamma/cozykost/internal/domain"
)

const (
	defaultKostLimit = 20
	maxKostLimit     = 100
)

type KostUsecase struct {
	repo      KostRepository
	documents *DocumentUsecase
	now       func() time.Time
}

func NewKostUsecase(repo KostRepository, documents *DocumentUsecase) *KostUsecase {
	return &KostUsecase{repo: repo, documents: documents, now: time.Now}
}

func (uc *KostUsecase) List(ctx context.Context, query domain.KostQuery) ([]cozykost.Kost, error) {
	ctx, span := tracer.Start(ctx, "Kost.Usecase.List")
	defer span.End()

	if query.Limit <= 0 {
		query.Limit = defaultKostLimit
	}
	if query.Limit > maxKostLimit {
		query.Limit = maxKostLimit
	}
	return uc.repo.List(ctx, query)
}

func (uc *KostUsecase) Get(ctx context.Context, id string) (cozykost.Kost, error) {
	ctx, span := tracer.Start(ctx, "Kost.Usecase.Get")
	defer span.End()

	return uc.repo.Get(ctx, id)
}

// Upsert adds or replaces a catalog listing. Any signed in user may publish.
func (uc *KostUsecase) Upsert(ctx context.Context, requester string, kost cozykost.Kost) (cozykost.Kost, error) {
	ctx, span := tracer.Start(ctx, "Kost.Usecase.Upsert")
	defer span.End()

	if requester == "" {
		return cozykost.Kost{}, domain.ErrUnauthenticated
	}
	if kost.ID == "" || kost.Name == "" || kost.Price < 0 {
		return cozykost.Kost{}, domain.ErrInvalidInput
	}

	if err := uc.repo.Upsert(ctx, kost); err != nil {
		span.RecordError(err)
		return cozykost.Kost{}, err
	}
	return kost, nil
}

// MarkViewed records the listing in the requester's saved collection, hydrated from the
// catalog and stamped with the current time.
func (uc *KostUsecase) MarkViewed(ctx context.Context, requester, id string) (cozykost.Snapshot, error) {
	ctx, span := tracer.Start(ctx, "Kost.Usecase.MarkViewed")
	defer span.End()

	if requester == "" {
		return cozykost.Snapshot{}, domain.ErrUnauthenticated
	}

	kost, err := uc.repo.Get(ctx, id)
	if err != nil {
		span.RecordError(err)
		return cozykost.Snapshot{}, err
	}

	ref := domain.CollectionRef{Owner: requester, Name: cozykost.Saved}
	return uc.documents.Put(ctx, requester, ref, kost.AsItem(uc.now()))
}
