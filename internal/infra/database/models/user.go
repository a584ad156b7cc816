package models

import (
	"time"
)

type User struct {
	ID                string    `json:"id" gorm:"primaryKey;type:text"`
	Email             string    `json:"email" gorm:"type:text;uniqueIndex"`
	PasswordHash      string    `json:"-" gorm:"type:text"`
	Name              string    `json:"name" gorm:"type:text"`
	Phone             string    `json:"phone" gorm:"type:text"`
	Gender            string    `json:"gender" gorm:"type:text"`
	BirthDate         string    `json:"birthDate" gorm:"type:text"`
	City              string    `json:"city" gorm:"type:text"`
	Status            string    `json:"status" gorm:"type:text"`
	Education         string    `json:"education" gorm:"type:text"`
	EmergencyPhone    string    `json:"emergencyPhone" gorm:"type:text"`
	ProfileImage      *string   `json:"profileImage" gorm:"type:text"`
	EmailNotification bool      `json:"emailNotification" gorm:"not null;default:true"`
	ChatNotification  bool      `json:"chatNotification" gorm:"not null;default:true"`
	CDate             time.Time `json:"cdate" gorm:"->;<-:create;type:timestamp with time zone;not null;default:clock_timestamp()"`
	MDate             time.Time `json:"mdate" gorm:"autoUpdateTime"`
}
