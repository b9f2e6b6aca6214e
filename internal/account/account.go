// Package account owns user records: first-login creation, profile edits and
// admin credit adjustments.
package account

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"assignly/internal/apperr"
	"assignly/internal/audit"
	"assignly/internal/auth"
	"assignly/internal/db"
	"assignly/internal/model"
	"assignly/internal/referral"
)

// Service manages user records.
type Service struct {
	db             *gorm.DB
	audit          *audit.Recorder
	defaultCredits int
	txAttempts     int
}

func NewService(gdb *gorm.DB, recorder *audit.Recorder, defaultCredits, txAttempts int) *Service {
	return &Service{db: gdb, audit: recorder, defaultCredits: defaultCredits, txAttempts: txAttempts}
}

// Profile holds the onboarding fields.
type Profile struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Section string `json:"section"`
	Year    string `json:"year"`
	Branch  string `json:"branch"`
}

// EnsureUser returns the record for id, creating it on first login with the
// default balance plus the bonus of an active referral link.
func (s *Service) EnsureUser(ctx context.Context, id auth.Identity, referralCode string) (*model.User, bool, error) {
	if existing, err := db.LoadUser(s.db.WithContext(ctx), id.UserID); err == nil {
		return existing, false, nil
	} else if !db.IsNotFound(err) {
		return nil, false, fmt.Errorf("load user: %w", err)
	}

	var created *model.User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		u := &model.User{ID: id.UserID, Email: id.Email}
		credits := s.defaultCredits
		link, ok, err := referral.FindActive(tx, referralCode)
		if err != nil {
			return fmt.Errorf("find referral link: %w", err)
		}
		if ok {
			credits += link.Credits
			u.ReferralCode = link.Code
		}
		u.SetCredits(credits)
		if err := tx.Create(u).Error; err != nil {
			return err
		}
		if ok {
			if err := referral.IncrementSignups(tx, link.ID); err != nil {
				return fmt.Errorf("count referral signup: %w", err)
			}
		}
		created = u
		return nil
	})
	if db.IsUniqueViolation(err) {
		// A concurrent first login won the insert.
		u, loadErr := db.LoadUser(s.db.WithContext(ctx), id.UserID)
		if loadErr != nil {
			return nil, false, fmt.Errorf("load user: %w", loadErr)
		}
		return u, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("create user: %w", err)
	}

	s.audit.Record(ctx, audit.Entry{
		Action:  audit.ActionStudentCreated,
		ActorID: id.UserID,
		Target:  id.UserID,
		Details: map[string]any{"email": id.Email, "credits": created.Credits(), "referralCode": created.ReferralCode},
	})
	return created, true, nil
}

// Get returns the user or a not-found error.
func (s *Service) Get(ctx context.Context, userID string) (*model.User, error) {
	u, err := db.LoadUser(s.db.WithContext(ctx), userID)
	if db.IsNotFound(err) {
		return nil, apperr.NotFound("user")
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	return u, nil
}

// UpdateProfile replaces the onboarding fields.
func (s *Service) UpdateProfile(ctx context.Context, userID string, p Profile) (*model.User, error) {
	p = Profile{
		Name:    strings.TrimSpace(p.Name),
		Phone:   strings.TrimSpace(p.Phone),
		Section: strings.TrimSpace(p.Section),
		Year:    strings.TrimSpace(p.Year),
		Branch:  strings.TrimSpace(p.Branch),
	}
	if p.Name == "" {
		return nil, apperr.Validation("name is required")
	}
	res := s.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", userID).Updates(map[string]any{
		"name":    p.Name,
		"phone":   p.Phone,
		"section": p.Section,
		"year":    p.Year,
		"branch":  p.Branch,
	})
	if res.Error != nil {
		return nil, fmt.Errorf("update profile: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, apperr.NotFound("user")
	}
	return s.Get(ctx, userID)
}

// AdjustCredits adds delta (may be negative) to a student's balance. The
// result must not go below zero.
func (s *Service) AdjustCredits(ctx context.Context, actorID, studentID string, delta int, reason string) (int, error) {
	if strings.TrimSpace(studentID) == "" {
		return 0, apperr.Validation("studentId is required")
	}
	if delta == 0 {
		return 0, apperr.Validation("delta must not be zero")
	}

	var balance, before int
	err := db.Transact(ctx, s.db, s.txAttempts, func(tx *gorm.DB) error {
		u, err := db.LoadUser(tx, studentID)
		if db.IsNotFound(err) {
			return apperr.NotFound("user")
		}
		if err != nil {
			return err
		}
		before = u.Credits()
		if before+delta < 0 {
			return &apperr.InsufficientCreditsError{Required: -delta, Available: before}
		}
		u.SetCredits(before + delta)
		if err := db.SaveLedger(tx, u); err != nil {
			return err
		}
		balance = u.Credits()
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.audit.Record(ctx, audit.Entry{
		Action:  audit.ActionCreditsAdjusted,
		ActorID: actorID,
		Target:  studentID,
		Details: map[string]any{"delta": delta, "before": before, "after": balance, "reason": reason},
	})
	return balance, nil
}
