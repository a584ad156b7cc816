package repository

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/totegamma/cozykost"
	"github.com/totegamma/cozykost/internal/domain"
	"github.com/totegamma/cozykost/internal/infra/database/models"
)

type KostRepository struct {
	db *gorm.DB
}

func NewKostRepository(db *gorm.DB) *KostRepository {
	return &KostRepository{db: db}
}

func (r *KostRepository) List(ctx context.Context, query domain.KostQuery) ([]cozykost.Kost, error) {
	q := r.db.WithContext(ctx).Model(&models.Kost{})
	if query.Location != "" {
		q = q.Where("location ILIKE ?", "%"+query.Location+"%")
	}
	if query.MaxPrice > 0 {
		q = q.Where("price <= ?", query.MaxPrice)
	}
	if query.Limit > 0 {
		q = q.Limit(query.Limit)
	}

	var rows []models.Kost
	if err := q.Order("c_date desc").Order("id").Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "failed to list kosts")
	}

	kosts := make([]cozykost.Kost, 0, len(rows))
	for _, row := range rows {
		kosts = append(kosts, fromKostModel(row))
	}
	return kosts, nil
}

func (r *KostRepository) Get(ctx context.Context, id string) (cozykost.Kost, error) {
	var row models.Kost
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return cozykost.Kost{}, domain.NotFoundError{Resource: "kost"}
	}
	if err != nil {
		return cozykost.Kost{}, errors.Wrap(err, "failed to get kost")
	}
	return fromKostModel(row), nil
}

func (r *KostRepository) Upsert(ctx context.Context, kost cozykost.Kost) error {
	row := models.Kost{
		ID:          kost.ID,
		Name:        kost.Name,
		Location:    kost.Location,
		Price:       kost.Price,
		Image:       kost.Image,
		Description: kost.Description,
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "location", "price", "image", "description"}),
	}).Create(&row).Error
	return errors.Wrap(err, "failed to upsert kost")
}

func fromKostModel(m models.Kost) cozykost.Kost {
	return cozykost.Kost{
		ID:          m.ID,
		Name:        m.Name,
		Location:    m.Location,
		Price:       m.Price,
		Image:       m.Image,
		Description: m.Description,
	}
}
