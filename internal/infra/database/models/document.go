package models

import (
	"time"
)

// CollectionHead tracks the revision of one user collection. Its row is locked for
// the duration of every write to the collection.
type CollectionHead struct {
	Owner      string    `json:"owner" gorm:"primaryKey;type:text"`
	Collection string    `json:"collection" gorm:"primaryKey;type:text"`
	Revision   int64     `json:"revision" gorm:"not null;default:0"`
	MDate      time.Time `json:"mdate" gorm:"autoUpdateTime"`
}

type Document struct {
	Owner      string    `json:"owner" gorm:"primaryKey;type:text"`
	Collection string    `json:"collection" gorm:"primaryKey;type:text"`
	ItemID     string    `json:"itemID" gorm:"primaryKey;type:text"`
	Value      string    `json:"value" gorm:"type:jsonb;not null"`
	Timestamp  int64     `json:"timestamp" gorm:"not null;index"`
	CDate      time.Time `json:"cdate" gorm:"->;<-:create;type:timestamp with time zone;not null;default:clock_timestamp()"`
	MDate      time.Time `json:"mdate" gorm:"autoUpdateTime"`
}
