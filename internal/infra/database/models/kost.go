package models

import (
	"time"
)

type Kost struct {
	ID          string    `json:"id" gorm:"primaryKey;type:text"`
	Name        string    `json:"name" gorm:"type:text;not null"`
	Location    string    `json:"location" gorm:"type:text;index"`
	Price       int64     `json:"price" gorm:"not null;index"`
	Image       string    `json:"image" gorm:"type:text"`
	Description string    `json:"description" gorm:"type:text"`
	CDate       time.Time `json:"cdate" gorm:"->;<-:create;type:timestamp with time zone;not null;default:clock_timestamp()"`
}
