package order

import (
	"context"
	"strings"

	"gorm.io/gorm"

	"assignly/internal/apperr"
	"assignly/internal/db"
	"assignly/internal/model"
	"assignly/internal/referral"
	"assignly/internal/storage"
)

// SubmitInput is a student's order request. Files must already be uploaded.
type SubmitInput struct {
	UserID          string
	OrderID         string
	AssignmentTitle string
	OrderType       model.OrderType
	PageCount       int
	UploadedFiles   []model.FileRef
	Folder          string
}

// SubmitResult is returned on success.
type SubmitResult struct {
	Order            *model.Order
	CreditsRemaining int
}

func (in *SubmitInput) normalize() {
	in.OrderID = strings.TrimSpace(in.OrderID)
	in.AssignmentTitle = strings.TrimSpace(in.AssignmentTitle)
	in.Folder = strings.Trim(strings.TrimSpace(in.Folder), "/")
	in.OrderType = model.OrderType(strings.ToLower(strings.TrimSpace(string(in.OrderType))))
}

func (in SubmitInput) validate() error {
	if in.UserID == "" {
		return apperr.Validation("user is required")
	}
	if in.OrderID == "" || len(in.OrderID) > maxOrderIDLen || strings.ContainsAny(in.OrderID, "/ ") {
		return apperr.Validation("orderId is invalid")
	}
	if in.AssignmentTitle == "" {
		return apperr.Validation("assignmentTitle is required")
	}
	if len(in.AssignmentTitle) > maxTitleLen {
		return apperr.Validation("assignmentTitle must be at most %d characters", maxTitleLen)
	}
	if !in.OrderType.Valid() {
		return apperr.Validation("orderType must be assignment or practical")
	}
	if in.PageCount < MinPages || in.PageCount > MaxPages {
		return apperr.Validation("pageCount must be between %d and %d", MinPages, MaxPages)
	}
	if len(in.Folder) > maxFolderLen {
		return apperr.Validation("cloudinaryFolder is too long")
	}
	if len(in.UploadedFiles) > 0 && in.Folder == "" {
		return apperr.Validation("cloudinaryFolder is required when files are uploaded")
	}
	if own := storage.OrderFolder(in.UserID, in.OrderID); in.Folder != "" && !storage.WithinFolder(in.Folder, own) {
		return apperr.Validation("cloudinaryFolder must be %s or a folder below it", own)
	}
	return validateFiles(in.UploadedFiles)
}

// Submit charges pageCount credits and creates the order atomically.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (*SubmitResult, error) {
	in.normalize()
	if err := in.validate(); err != nil {
		return nil, err
	}

	// Fast, non-authoritative precheck.
	pre, err := db.LoadUser(s.db.WithContext(ctx), in.UserID)
	if db.IsNotFound(err) {
		return nil, apperr.NotFound("user")
	}
	if err != nil {
		return nil, err
	}
	if pre.Credits() < in.PageCount {
		return nil, &apperr.InsufficientCreditsError{Required: in.PageCount, Available: pre.Credits()}
	}

	var result SubmitResult
	err = db.Transact(ctx, s.db, s.txAttempts, func(tx *gorm.DB) error {
		u, err := db.LoadUser(tx, in.UserID)
		if db.IsNotFound(err) {
			return apperr.NotFound("user")
		}
		if err != nil {
			return err
		}
		current := u.Credits()
		if current < in.PageCount {
			return &apperr.InsufficientCreditsError{Required: in.PageCount, Available: current}
		}

		now := s.now()
		o := &model.Order{
			ID:              in.OrderID,
			UserID:          in.UserID,
			AssignmentTitle: in.AssignmentTitle,
			OrderType:       in.OrderType,
			PageCount:       in.PageCount,
			Status:          model.OrderPending,
			OriginalFiles:   in.UploadedFiles,
			Folder:          in.Folder,
			CreatedAt:       now,
		}
		if err := tx.Create(o).Error; err != nil {
			if db.IsUniqueViolation(err) {
				return apperr.Validation("order %s already exists", in.OrderID)
			}
			return err
		}

		u.SetCredits(current - in.PageCount)
		u.TotalOrders++
		u.TotalPages += in.PageCount
		u.LastOrderAt = &now
		if err := db.SaveLedger(tx, u); err != nil {
			return err
		}

		if u.ReferralCode != "" {
			if err := referral.IncrementOrders(tx, u.ReferralCode); err != nil {
				return err
			}
		}

		result = SubmitResult{Order: o, CreditsRemaining: u.Credits()}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}
