package models

import (
	"time"
)

// AuditEntry is a row of the audit table tailed by table sources. The table
// name is configurable per source, so queries name it explicitly.
type AuditEntry struct {
	ID      int64     `gorm:"primaryKey;autoIncrement"`
	LogTime time.Time `gorm:"column:log_time;not null"`
	Session string    `gorm:"column:session"`
	Source  string    `gorm:"column:source"`
	Type    string    `gorm:"column:type"`
	Message string    `gorm:"column:message"`
	Payload string    `gorm:"column:payload"`
}

func (AuditEntry) TableName() string {
	return "log"
}
