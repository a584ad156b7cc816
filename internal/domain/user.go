package domain

import (
	"time"

	"github.com/totegamma/cozykost"
)

// User is an account with its profile. PasswordHash is empty for accounts created
// through an external identity provider.
type User struct {
	ID             string
	Email          string
	PasswordHash   string
	Name           string
	Phone          string
	Gender         string
	BirthDate      string
	City           string
	Status         string
	Education      string
	EmergencyPhone string
	ProfileImage   *string
	Settings       cozykost.Settings
	CreatedAt      time.Time
}

func (u User) Profile() cozykost.Profile {
	return cozykost.Profile{
		ID:             u.ID,
		Email:          u.Email,
		Name:           u.Name,
		Phone:          u.Phone,
		Gender:         u.Gender,
		BirthDate:      u.BirthDate,
		City:           u.City,
		Status:         u.Status,
		Education:      u.Education,
		EmergencyPhone: u.EmergencyPhone,
		ProfileImage:   u.ProfileImage,
		Settings:       u.Settings,
		CreatedAt:      u.CreatedAt,
	}
}

// Apply copies every non-nil field of patch onto u.
func (u *User) Apply(patch cozykost.ProfilePatch) {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	set(&u.Name, patch.Name)
	set(&u.Phone, patch.Phone)
	set(&u.Gender, patch.Gender)
	set(&u.BirthDate, patch.BirthDate)
	set(&u.City, patch.City)
	set(&u.Status, patch.Status)
	set(&u.Education, patch.Education)
	set(&u.EmergencyPhone, patch.EmergencyPhone)
	if patch.ProfileImage != nil {
		img := *patch.ProfileImage
		u.ProfileImage = &img
	}
	if patch.Settings != nil {
		u.Settings = *patch.Settings
	}
}
