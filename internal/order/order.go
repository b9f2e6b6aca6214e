// Package order implements the credit-backed order workflows: submission,
// deletion, status changes and the scheduled status promoter.
package order

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"assignly/internal/apperr"
	"assignly/internal/audit"
	"assignly/internal/model"
)

const (
	MinPages       = 1
	MaxPages       = 1000
	MaxDeletePages = 10000

	maxTitleLen   = 255
	maxOrderIDLen = 64
	maxFolderLen  = 255
	maxFiles      = 50
)

// Dispatcher hands a cleanup job to the asynchronous pipeline.
type Dispatcher interface {
	Dispatch(ctx context.Context, jobID string) error
}

// Service runs the order workflows.
type Service struct {
	db         *gorm.DB
	audit      *audit.Recorder
	dispatcher Dispatcher
	txAttempts int
	now        func() time.Time
}

func NewService(gdb *gorm.DB, recorder *audit.Recorder, dispatcher Dispatcher, txAttempts int) *Service {
	if txAttempts <= 0 {
		txAttempts = 5
	}
	return &Service{
		db:         gdb,
		audit:      recorder,
		dispatcher: dispatcher,
		txAttempts: txAttempts,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// UserStats is the ledger snapshot returned after a mutation.
type UserStats struct {
	CreditsRemaining int `json:"creditsRemaining"`
	TotalOrders      int `json:"totalOrders"`
	TotalPages       int `json:"totalPages"`
}

// ListOrders returns a student's orders, newest first.
func (s *Service) ListOrders(ctx context.Context, userID string) ([]model.Order, error) {
	var orders []model.Order
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC").Find(&orders).Error
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return orders, nil
}

// ListByStatus returns every order, optionally filtered by status, newest first.
func (s *Service) ListByStatus(ctx context.Context, status model.OrderStatus, limit int) ([]model.Order, error) {
	if status != "" && !status.Valid() {
		return nil, apperr.Validation("invalid status %q", status)
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var orders []model.Order
	if err := q.Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return orders, nil
}

func validateFiles(files []model.FileRef) error {
	if len(files) > maxFiles {
		return apperr.Validation("at most %d files per order", maxFiles)
	}
	for _, f := range files {
		if strings.TrimSpace(f.Name) == "" || strings.TrimSpace(f.URL) == "" {
			return apperr.Validation("every uploaded file needs a name and url")
		}
	}
	return nil
}
