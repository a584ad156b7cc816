package repository

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/totegamma/cozykost"
	"github.com/totegamma/cozykost/internal/domain"
	"github.com/totegamma/cozykost/internal/infra/database/models"
)

type DocumentRepository struct {
	db *gorm.DB
}

func NewDocumentRepository(db *gorm.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

func (r *DocumentRepository) GetCollection(ctx context.Context, ref domain.CollectionRef) (cozykost.Snapshot, error) {
	var snapshot cozykost.Snapshot

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var head models.CollectionHead
		err := tx.Where("owner = ? AND collection = ?", ref.Owner, string(ref.Name)).
			Take(&head).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			snapshot = cozykost.Snapshot{Path: ref.Path()}
			return nil
		}
		if err != nil {
			return err
		}

		snapshot, err = loadSnapshot(tx, ref, head.Revision)
		return err
	}, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return cozykost.Snapshot{}, errors.Wrap(err, "failed to get collection")
	}

	return snapshot, nil
}

func (r *DocumentRepository) PutItem(ctx context.Context, ref domain.CollectionRef, item cozykost.Item) (domain.WriteResult, error) {
	value, err := json.Marshal(item)
	if err != nil {
		return domain.WriteResult{}, err
	}

	var result domain.WriteResult
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		head, err := lockHead(tx, ref)
		if err != nil {
			return err
		}

		var existing models.Document
		err = tx.Where("owner = ? AND collection = ? AND item_id = ?", ref.Owner, string(ref.Name), item.ID).
			Take(&existing).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err == nil {
			var current cozykost.Item
			if json.Unmarshal([]byte(existing.Value), &current) == nil && current == item {
				result.Snapshot, err = loadSnapshot(tx, ref, head.Revision)
				return err
			}
		}

		doc := models.Document{
			Owner:      ref.Owner,
			Collection: string(ref.Name),
			ItemID:     item.ID,
			Value:      string(value),
			Timestamp:  item.Timestamp,
		}
		err = tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "owner"}, {Name: "collection"}, {Name: "item_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "timestamp", "m_date"}),
		}).Create(&doc).Error
		if err != nil {
			return err
		}

		revision, err := bumpHead(tx, head)
		if err != nil {
			return err
		}

		result.Changed = true
		result.Snapshot, err = loadSnapshot(tx, ref, revision)
		return err
	})
	if err != nil {
		return domain.WriteResult{}, errors.Wrap(err, "failed to put item")
	}

	return result, nil
}

func (r *DocumentRepository) DeleteItem(ctx context.Context, ref domain.CollectionRef, id string) (domain.WriteResult, error) {
	var result domain.WriteResult

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		head, err := lockHead(tx, ref)
		if err != nil {
			return err
		}

		res := tx.Where("owner = ? AND collection = ? AND item_id = ?", ref.Owner, string(ref.Name), id).
			Delete(&models.Document{})
		if res.Error != nil {
			return res.Error
		}

		revision := head.Revision
		if res.RowsAffected > 0 {
			revision, err = bumpHead(tx, head)
			if err != nil {
				return err
			}
			result.Changed = true
		}

		result.Snapshot, err = loadSnapshot(tx, ref, revision)
		return err
	})
	if err != nil {
		return domain.WriteResult{}, errors.Wrap(err, "failed to delete item")
	}

	return result, nil
}

// lockHead creates the collection head on first use and locks it until the
// transaction ends, which serializes writers of one collection.
func lockHead(tx *gorm.DB, ref domain.CollectionRef) (models.CollectionHead, error) {
	head := models.CollectionHead{
		Owner:      ref.Owner,
		Collection: string(ref.Name),
	}
	err := tx.Clauses(clause.OnConflict{
		DoNothing: true,
	}).Create(&head).Error
	if err != nil {
		return models.CollectionHead{}, err
	}

	err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("owner = ? AND collection = ?", ref.Owner, string(ref.Name)).
		Take(&head).Error
	if err != nil {
		return models.CollectionHead{}, err
	}
	return head, nil
}

func bumpHead(tx *gorm.DB, head models.CollectionHead) (int64, error) {
	revision := head.Revision + 1
	err := tx.Model(&models.CollectionHead{}).
		Where("owner = ? AND collection = ?", head.Owner, head.Collection).
		Update("revision", revision).Error
	return revision, err
}

func loadSnapshot(tx *gorm.DB, ref domain.CollectionRef, revision int64) (cozykost.Snapshot, error) {
	var docs []models.Document
	err := tx.Where("owner = ? AND collection = ?", ref.Owner, string(ref.Name)).
		Order("timestamp asc").
		Find(&docs).Error
	if err != nil {
		return cozykost.Snapshot{}, err
	}

	return buildSnapshot(ref, revision, docs)
}

func buildSnapshot(ref domain.CollectionRef, revision int64, docs []models.Document) (cozykost.Snapshot, error) {
	snapshot := cozykost.Snapshot{Path: ref.Path(), Revision: revision}
	if len(docs) == 0 {
		return snapshot, nil
	}

	items := make(cozykost.Items, len(docs))
	for _, doc := range docs {
		var item cozykost.Item
		if err := json.Unmarshal([]byte(doc.Value), &item); err != nil {
			item = cozykost.Item{ID: doc.ItemID}
		}
		if item.ID == "" {
			item.ID = doc.ItemID
		}
		items[doc.ItemID] = item
	}

	value, err := json.Marshal(items)
	if err != nil {
		return cozykost.Snapshot{}, err
	}
	snapshot.Value = value
	return snapshot, nil
}
