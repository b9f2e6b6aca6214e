package order

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"assignly/internal/apperr"
	"assignly/internal/audit"
	"assignly/internal/db"
	"assignly/internal/model"
	"assignly/internal/storage"
)

const dispatchTimeout = 5 * time.Second

// DeleteInput is an admin deletion request. PageCount, OriginalFiles and
// Folder echo what the caller believes is stored; only the stored order is
// used for the restore and the cleanup job.
type DeleteInput struct {
	ActorID       string
	OrderID       string
	StudentID     string
	PageCount     int
	OriginalFiles []model.FileRef
	Folder        string
}

// DeleteResult is returned on success.
type DeleteResult struct {
	CreditsRestored int
	CleanupJobID    string
	User            UserStats
}

func (in DeleteInput) validate() error {
	if strings.TrimSpace(in.OrderID) == "" {
		return apperr.Validation("orderId is required")
	}
	if strings.TrimSpace(in.StudentID) == "" {
		return apperr.Validation("studentId is required")
	}
	if in.PageCount < 0 || in.PageCount > MaxDeletePages {
		return apperr.Validation("pageCount must be between 0 and %d", MaxDeletePages)
	}
	if in.Folder != "" && !storage.WithinFolder(in.Folder, storage.StudentFolder(in.StudentID)) {
		return apperr.Validation("cloudinaryFolder must be inside %s", storage.StudentFolder(in.StudentID))
	}
	return validateFiles(in.OriginalFiles)
}

// Delete removes the order, restores its credits and enqueues file cleanup
// in one transaction. After commit it writes the audit entry and dispatches
// the cleanup job without waiting for it.
func (s *Service) Delete(ctx context.Context, in DeleteInput) (*DeleteResult, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	if err := s.precheckDelete(ctx, in); err != nil {
		return nil, err
	}

	var result DeleteResult
	err := db.Transact(ctx, s.db, s.txAttempts, func(tx *gorm.DB) error {
		u, err := db.LoadUser(tx, in.StudentID)
		if db.IsNotFound(err) {
			return apperr.NotFound("user")
		}
		if err != nil {
			return err
		}
		var o model.Order
		if err := tx.First(&o, "user_id = ? AND id = ?", in.StudentID, in.OrderID).Error; err != nil {
			if db.IsNotFound(err) {
				return apperr.NotFound("order")
			}
			return err
		}

		restored := o.PageCount
		if in.PageCount != restored {
			slog.Warn("delete-order pageCount differs from stored order; using stored value",
				"order_id", o.ID, "student_id", o.UserID, "supplied", in.PageCount, "stored", restored, "actor", in.ActorID)
		}

		res := tx.Where("user_id = ? AND id = ?", in.StudentID, in.OrderID).Delete(&model.Order{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperr.NotFound("order")
		}

		u.SetCredits(u.Credits() + restored)
		u.TotalOrders = max(0, u.TotalOrders-1)
		u.TotalPages = max(0, u.TotalPages-restored)
		if err := db.SaveLedger(tx, u); err != nil {
			return err
		}

		files := []model.FileRef(o.OriginalFiles)
		if len(in.OriginalFiles) != len(files) {
			slog.Warn("delete-order originalFiles differ from stored order; using stored value",
				"order_id", o.ID, "supplied", len(in.OriginalFiles), "stored", len(files))
		}
		folder := o.Folder
		if !storage.WithinFolder(folder, storage.StudentFolder(in.StudentID)) {
			if folder != "" {
				slog.Warn("stored folder outside student area; using order folder",
					"order_id", o.ID, "student_id", in.StudentID, "folder", folder)
			}
			folder = storage.OrderFolder(in.StudentID, in.OrderID)
		}

		result = DeleteResult{
			CreditsRestored: restored,
			User: UserStats{
				CreditsRemaining: u.Credits(),
				TotalOrders:      u.TotalOrders,
				TotalPages:       u.TotalPages,
			},
		}
		if len(files) == 0 {
			return nil
		}
		job := model.CleanupJob{
			ID:            uuid.NewString(),
			OrderID:       in.OrderID,
			StudentID:     in.StudentID,
			Folder:        folder,
			OriginalFiles: files,
			Status:        model.CleanupPending,
			RetryCount:    0,
		}
		if err := tx.Create(&job).Error; err != nil {
			return fmt.Errorf("enqueue cleanup job: %w", err)
		}
		result.CleanupJobID = job.ID
		return nil
	})
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", apperr.ErrDeletionFailed, err)
	}

	s.audit.Record(ctx, audit.Entry{
		Action:  audit.ActionOrderDeleted,
		ActorID: in.ActorID,
		Target:  in.OrderID,
		Details: map[string]any{
			"studentId":       in.StudentID,
			"creditsRestored": result.CreditsRestored,
			"suppliedPages":   in.PageCount,
			"cleanupJobId":    result.CleanupJobID,
		},
	})
	if result.CleanupJobID != "" {
		s.dispatchCleanup(ctx, result.CleanupJobID)
	}
	return &result, nil
}

func (s *Service) precheckDelete(ctx context.Context, in DeleteInput) error {
	q := s.db.WithContext(ctx)
	var n int64
	if err := q.Model(&model.Order{}).Where("user_id = ? AND id = ?", in.StudentID, in.OrderID).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return apperr.NotFound("order")
	}
	if err := q.Model(&model.User{}).Where("id = ?", in.StudentID).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return apperr.NotFound("user")
	}
	return nil
}

// dispatchCleanup hands the job to the async pipeline. The request never
// waits for it; the durable job row is the fallback when this fails.
func (s *Service) dispatchCleanup(ctx context.Context, jobID string) {
	if s.dispatcher == nil {
		return
	}
	go func() {
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), dispatchTimeout)
		defer cancel()
		if err := s.dispatcher.Dispatch(dctx, jobID); err != nil {
			slog.Warn("cleanup dispatch failed; job stays queued", "job_id", jobID, "err", err)
		}
	}()
}
