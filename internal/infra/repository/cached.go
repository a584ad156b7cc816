package repository

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/pkg/errors"

	"github.com/totegamma/cozykost"
	"github.com/totegamma/cozykost/internal/domain"
)

const (
	snapshotCacheTTL = 600 // seconds
	casAttempts      = 3
)

// Memcache is the subset of *memcache.Client used by the snapshot cache.
type Memcache interface {
	Get(key string) (*memcache.Item, error)
	Add(item *memcache.Item) error
	CompareAndSwap(item *memcache.Item) error
	Delete(key string) error
}

type documentStore interface {
	GetCollection(ctx context.Context, ref domain.CollectionRef) (cozykost.Snapshot, error)
	PutItem(ctx context.Context, ref domain.CollectionRef, item cozykost.Item) (domain.WriteResult, error)
	DeleteItem(ctx context.Context, ref domain.CollectionRef, id string) (domain.WriteResult, error)
}

// CachedDocumentRepository keeps the latest snapshot of each collection in memcache.
// A cached entry is only ever replaced by a snapshot with a higher revision.
// Cache failures fall through to the inner store.
type CachedDocumentRepository struct {
	inner documentStore
	mc    Memcache
}

func NewCachedDocumentRepository(inner documentStore, mc Memcache) *CachedDocumentRepository {
	return &CachedDocumentRepository{inner: inner, mc: mc}
}

func snapshotKey(ref domain.CollectionRef) string {
	return "snapshot:" + ref.Path()
}

func (r *CachedDocumentRepository) GetCollection(ctx context.Context, ref domain.CollectionRef) (cozykost.Snapshot, error) {
	key := snapshotKey(ref)

	item, err := r.mc.Get(key)
	if err == nil {
		var snapshot cozykost.Snapshot
		if err := json.Unmarshal(item.Value, &snapshot); err == nil {
			return snapshot, nil
		}
	} else if !errors.Is(err, memcache.ErrCacheMiss) {
		slog.WarnContext(
			ctx, "snapshot cache read failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
			slog.String("module", "repository"),
		)
	}

	snapshot, err := r.inner.GetCollection(ctx, ref)
	if err != nil {
		return cozykost.Snapshot{}, err
	}

	r.store(ctx, ref, snapshot)
	return snapshot, nil
}

func (r *CachedDocumentRepository) PutItem(ctx context.Context, ref domain.CollectionRef, item cozykost.Item) (domain.WriteResult, error) {
	result, err := r.inner.PutItem(ctx, ref, item)
	if err != nil {
		return domain.WriteResult{}, err
	}
	r.store(ctx, ref, result.Snapshot)
	return result, nil
}

func (r *CachedDocumentRepository) DeleteItem(ctx context.Context, ref domain.CollectionRef, id string) (domain.WriteResult, error) {
	result, err := r.inner.DeleteItem(ctx, ref, id)
	if err != nil {
		return domain.WriteResult{}, err
	}
	r.store(ctx, ref, result.Snapshot)
	return result, nil
}

// store writes snapshot unless the cache already holds the same or a newer revision.
// When the entry keeps changing underneath, it is dropped instead.
func (r *CachedDocumentRepository) store(ctx context.Context, ref domain.CollectionRef, snapshot cozykost.Snapshot) {
	key := snapshotKey(ref)
	value, err := json.Marshal(snapshot)
	if err != nil {
		return
	}

	for i := 0; i < casAttempts; i++ {
		current, err := r.mc.Get(key)
		if errors.Is(err, memcache.ErrCacheMiss) {
			err = r.mc.Add(&memcache.Item{Key: key, Value: value, Expiration: snapshotCacheTTL})
			if errors.Is(err, memcache.ErrNotStored) {
				continue
			}
			if err != nil {
				r.warn(ctx, key, err)
			}
			return
		}
		if err != nil {
			r.warn(ctx, key, err)
			return
		}

		var cached cozykost.Snapshot
		if json.Unmarshal(current.Value, &cached) == nil && cached.Revision >= snapshot.Revision {
			return
		}

		current.Value = value
		current.Expiration = snapshotCacheTTL
		err = r.mc.CompareAndSwap(current)
		if errors.Is(err, memcache.ErrCASConflict) || errors.Is(err, memcache.ErrNotStored) {
			continue
		}
		if err != nil {
			r.warn(ctx, key, err)
		}
		return
	}

	if err := r.mc.Delete(key); err != nil && !errors.Is(err, memcache.ErrCacheMiss) {
		r.warn(ctx, key, err)
	}
}

func (r *CachedDocumentRepository) warn(ctx context.Context, key string, err error) {
	slog.WarnContext(
		ctx, "snapshot cache write failed",
		slog.String("key", key),
		slog.String("error", err.Error()),
		slog.String("module", "repository"),
	)
}
