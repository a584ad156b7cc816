package usecase

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/totegamma/cozykost"
	"github.com/totegamma/cozykost/internal/domain"
)

var tracer = otel.Tracer("usecase")

type DocumentUsecase struct {
	repo   DocumentRepository
	signal SignalPublisher
}

func NewDocumentUsecase(repo DocumentRepository, signal SignalPublisher) *DocumentUsecase {
	return &DocumentUsecase{repo: repo, signal: signal}
}

// authorizeOwner allows a requester to touch only its own documents.
func authorizeOwner(requester, owner string) error {
	if requester == "" {
		return domain.ErrUnauthenticated
	}
	if requester != owner {
		return domain.ErrForbidden
	}
	return nil
}

func validateRef(ref domain.CollectionRef) error {
	if ref.Owner == "" || !ref.Name.Valid() {
		return domain.NotFoundError{Resource: "collection"}
	}
	return nil
}

func (uc *DocumentUsecase) Get(ctx context.Context, requester string, ref domain.CollectionRef) (cozykost.Snapshot, error) {
	ctx, span := tracer.Start(ctx, "Document.Usecase.Get")
	defer span.End()
	span.SetAttributes(attribute.String("path", ref.Path()))

	if err := validateRef(ref); err != nil {
		return cozykost.Snapshot{}, err
	}
	if err := authorizeOwner(requester, ref.Owner); err != nil {
		span.RecordError(err)
		return cozykost.Snapshot{}, err
	}

	return uc.repo.GetCollection(ctx, ref)
}

// Put inserts or replaces item. A zero timestamp is stamped with the current time.
func (uc *DocumentUsecase) Put(ctx context.Context, requester string, ref domain.CollectionRef, item cozykost.Item) (cozykost.Snapshot, error) {
	ctx, span := tracer.Start(ctx, "Document.Usecase.Put")
	defer span.End()
	span.SetAttributes(attribute.String("path", ref.Path()))

	if err := validateRef(ref); err != nil {
		return cozykost.Snapshot{}, err
	}
	if err := authorizeOwner(requester, ref.Owner); err != nil {
		span.RecordError(err)
		return cozykost.Snapshot{}, err
	}
	if !cozykost.ValidItemID(item.ID) {
		return cozykost.Snapshot{}, domain.ErrInvalidInput
	}
	if item.Timestamp == 0 {
		item.Timestamp = time.Now().UnixMilli()
	}

	result, err := uc.repo.PutItem(ctx, ref, item)
	if err != nil {
		span.RecordError(err)
		return cozykost.Snapshot{}, err
	}

	uc.publish(ctx, result)
	return result.Snapshot, nil
}

// Delete removes id. Removing an absent id succeeds and publishes nothing.
func (uc *DocumentUsecase) Delete(ctx context.Context, requester string, ref domain.CollectionRef, id string) (cozykost.Snapshot, error) {
	ctx, span := tracer.Start(ctx, "Document.Usecase.Delete")
	defer span.End()
	span.SetAttributes(attribute.String("path", ref.Path()))

	if err := validateRef(ref); err != nil {
		return cozykost.Snapshot{}, err
	}
	if err := authorizeOwner(requester, ref.Owner); err != nil {
		span.RecordError(err)
		return cozykost.Snapshot{}, err
	}
	if !cozykost.ValidItemID(id) {
		return cozykost.Snapshot{}, domain.ErrInvalidInput
	}

	result, err := uc.repo.DeleteItem(ctx, ref, id)
	if err != nil {
		span.RecordError(err)
		return cozykost.Snapshot{}, err
	}

	uc.publish(ctx, result)
	return result.Snapshot, nil
}

// publish announces the post-write snapshot. The write already committed, so a
// publish failure is logged and listeners catch up on their next snapshot.
func (uc *DocumentUsecase) publish(ctx context.Context, result domain.WriteResult) {
	if !result.Changed {
		return
	}

	snapshot := result.Snapshot
	event := cozykost.Event{
		Type:     cozykost.EventTypeSnapshot,
		Path:     snapshot.Path,
		Snapshot: &snapshot,
	}
	if err := uc.signal.Publish(ctx, cozykost.SignalChannel(snapshot.Path), event); err != nil {
		slog.WarnContext(
			ctx, "failed to publish snapshot",
			slog.String("path", snapshot.Path),
			slog.String("error", err.Error()),
			slog.String("module", "document"),
		)
	}
}
