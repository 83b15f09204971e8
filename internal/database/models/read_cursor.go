package models

import (
	"time"
)

// ReadCursor is one persisted read position, keyed by source identifier
type ReadCursor struct {
	SourceID  string `gorm:"primaryKey"`
	Position  int64  `gorm:"not null;default:0"` // Byte offset (files) or last row id (tables)
	UpdatedAt time.Time
}

func (ReadCursor) TableName() string {
	return "read_cursors"
}
