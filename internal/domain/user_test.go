package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/totegamma/cozykost"
)

func TestUserApply(t *testing.T) {
	city := "Bandung"
	empty := ""
	image := "https://img.example.com/a.png"

	u := User{ID: "user-1", Name: "Sari", Phone: "0812", City: "Jakarta"}
	u.Apply(cozykost.ProfilePatch{
		City:         &city,
		Phone:        &empty,
		ProfileImage: &image,
		Settings:     &cozykost.Settings{EmailNotification: true},
	})

	assert.Equal(t, "Sari", u.Name)
	assert.Equal(t, "Bandung", u.City)
	assert.Equal(t, "", u.Phone)
	assert.Equal(t, image, *u.ProfileImage)
	assert.True(t, u.Settings.EmailNotification)
	assert.False(t, u.Settings.ChatNotification)

	image = "changed"
	assert.Equal(t, "https://img.example.com/a.png", *u.ProfileImage)

	p := u.Profile()
	assert.Equal(t, "user-1", p.ID)
	assert.Equal(t, "Bandung", p.City)
}

func TestNotFoundErrorIs(t *testing.T) {
	err := NotFoundError{Resource: "collection"}
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, ErrForbidden))
}
