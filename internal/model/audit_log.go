package model

import (
	"time"

	"gorm.io/datatypes"
)

// AuditLog is an append-only record of a privileged mutation.
type AuditLog struct {
	ID        string            `gorm:"primaryKey;size:64" json:"id"`
	CreatedAt time.Time         `gorm:"index" json:"timestamp"`
	Action    string            `gorm:"size:64;not null;index" json:"action"`
	ActorID   string            `gorm:"size:128;not null" json:"actor"`
	TargetID  string            `gorm:"size:128" json:"target"`
	Details   datatypes.JSONMap `json:"details"`
}

func (AuditLog) TableName() string { return "audit_logs" }

// All lists every table for auto-migration.
func All() []any {
	return []any{&User{}, &AdminRole{}, &Order{}, &CleanupJob{}, &ReferralLink{}, &AuditLog{}}
}
