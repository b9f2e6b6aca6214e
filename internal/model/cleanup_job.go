package model

import (
	"time"

	"gorm.io/datatypes"
)

// CleanupStatus describes a file cleanup job.
type CleanupStatus string

const (
	CleanupPending   CleanupStatus = "pending"
	CleanupCompleted CleanupStatus = "completed"
)

// CleanupJob is the durable record of object-store files left behind by a deleted order.
// Jobs whose RetryCount reaches the cap stay pending and are no longer selected.
type CleanupJob struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	OrderID       string                       `gorm:"size:64;not null;index" json:"orderId"`
	StudentID     string                       `gorm:"size:128;not null;index" json:"studentId"`
	Folder        string                       `gorm:"size:255;not null" json:"cloudinaryFolder"`
	OriginalFiles datatypes.JSONSlice[FileRef] `json:"originalFiles"`

	Status      CleanupStatus `gorm:"size:16;not null;index" json:"status"`
	RetryCount  int           `gorm:"not null;default:0;index" json:"retryCount"`
	LastAttempt *time.Time    `json:"lastAttempt"`
	LastError   string        `gorm:"size:512" json:"lastError,omitempty"`
	CompletedAt *time.Time    `json:"completedAt"`
}

func (CleanupJob) TableName() string { return "cleanup_jobs" }
