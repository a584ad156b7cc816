package repository

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/totegamma/cozykost"
	"github.com/totegamma/cozykost/internal/domain"
	"github.com/totegamma/cozykost/internal/infra/database/models"
)

type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Create(ctx context.Context, user domain.User) error {
	err := r.db.WithContext(ctx).Create(toUserModel(user)).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return domain.ErrConflict
	}
	return errors.Wrap(err, "failed to create user")
}

func (r *UserRepository) Get(ctx context.Context, id string) (domain.User, error) {
	return r.take(ctx, "id = ?", id)
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (domain.User, error) {
	return r.take(ctx, "email = ?", email)
}

func (r *UserRepository) take(ctx context.Context, query string, arg any) (domain.User, error) {
	var m models.User
	err := r.db.WithContext(ctx).Where(query, arg).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.User{}, domain.NotFoundError{Resource: "user"}
	}
	if err != nil {
		return domain.User{}, errors.Wrap(err, "failed to get user")
	}
	return fromUserModel(m), nil
}

func (r *UserRepository) Update(ctx context.Context, user domain.User) error {
	m := toUserModel(user)
	res := r.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", user.ID).
		Select("name", "phone", "gender", "birth_date", "city", "status", "education",
			"emergency_phone", "profile_image", "email_notification", "chat_notification", "m_date").
		Updates(m)
	if res.Error != nil {
		return errors.Wrap(res.Error, "failed to update user")
	}
	if res.RowsAffected == 0 {
		return domain.NotFoundError{Resource: "user"}
	}
	return nil
}

func toUserModel(u domain.User) *models.User {
	return &models.User{
		ID:                u.ID,
		Email:             u.Email,
		PasswordHash:      u.PasswordHash,
		Name:              u.Name,
		Phone:             u.Phone,
		Gender:            u.Gender,
		BirthDate:         u.BirthDate,
		City:              u.City,
		Status:            u.Status,
		Education:         u.Education,
		EmergencyPhone:    u.EmergencyPhone,
		ProfileImage:      u.ProfileImage,
		EmailNotification: u.Settings.EmailNotification,
		ChatNotification:  u.Settings.ChatNotification,
	}
}

func fromUserModel(m models.User) domain.User {
	return domain.User{
		ID:             m.ID,
		Email:          m.Email,
		PasswordHash:   m.PasswordHash,
		Name:           m.Name,
		Phone:          m.Phone,
		Gender:         m.Gender,
		BirthDate:      m.BirthDate,
		City:           m.City,
		Status:         m.Status,
		Education:      m.Education,
		EmergencyPhone: m.EmergencyPhone,
		ProfileImage:   m.ProfileImage,
		Settings: cozykost.Settings{
			EmailNotification: m.EmailNotification,
			ChatNotification:  m.ChatNotification,
		},
		CreatedAt: m.CDate,
	}
}
