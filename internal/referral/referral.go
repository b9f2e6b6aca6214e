// Package referral manages referral links and their counters.
package referral

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"assignly/internal/apperr"
	"assignly/internal/audit"
	"assignly/internal/db"
	"assignly/internal/model"
)

const (
	MaxBonusCredits = 100
	maxNameLen      = 128
	codeLen         = 8
)

// Service creates and updates referral links.
type Service struct {
	db    *gorm.DB
	audit *audit.Recorder
}

func NewService(db *gorm.DB, recorder *audit.Recorder) *Service {
	return &Service{db: db, audit: recorder}
}

// UpdateInput carries the optional fields of an update.
type UpdateInput struct {
	LinkID  string
	Active  *bool
	Name    *string
	Credits *int
}

// Create stores a new active link with a generated code.
func (s *Service) Create(ctx context.Context, actorID, name string, credits int) (*model.ReferralLink, error) {
	name = strings.TrimSpace(name)
	if err := validateName(name); err != nil {
		return nil, err
	}
	if err := validateCredits(credits); err != nil {
		return nil, err
	}

	var link model.ReferralLink
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		link = model.ReferralLink{
			ID:        uuid.NewString(),
			Code:      newCode(),
			Name:      name,
			Credits:   credits,
			Active:    true,
			CreatedBy: actorID,
		}
		err = s.db.WithContext(ctx).Create(&link).Error
		if !db.IsUniqueViolation(err) {
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("create referral link: %w", err)
	}

	s.audit.Record(ctx, audit.Entry{
		Action:  audit.ActionReferralCreated,
		ActorID: actorID,
		Target:  link.ID,
		Details: map[string]any{"code": link.Code, "name": link.Name, "credits": link.Credits},
	})
	return &link, nil
}

// Update changes the provided fields of a link.
func (s *Service) Update(ctx context.Context, actorID string, in UpdateInput) error {
	if strings.TrimSpace(in.LinkID) == "" {
		return apperr.Validation("linkId is required")
	}
	updates := map[string]any{}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if err := validateName(name); err != nil {
			return err
		}
		updates["name"] = name
	}
	if in.Credits != nil {
		if err := validateCredits(*in.Credits); err != nil {
			return err
		}
		updates["credits"] = *in.Credits
	}
	if in.Active != nil {
		updates["active"] = *in.Active
	}
	if len(updates) == 0 {
		return apperr.Validation("nothing to update")
	}

	res := s.db.WithContext(ctx).Model(&model.ReferralLink{}).Where("id = ?", in.LinkID).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("update referral link: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("referral link")
	}

	s.audit.Record(ctx, audit.Entry{
		Action:  audit.ActionReferralUpdated,
		ActorID: actorID,
		Target:  in.LinkID,
		Details: updates,
	})
	return nil
}

// List returns every link, newest first.
func (s *Service) List(ctx context.Context) ([]model.ReferralLink, error) {
	var links []model.ReferralLink
	if err := s.db.WithContext(ctx).Order("created_at DESC").Find(&links).Error; err != nil {
		return nil, fmt.Errorf("list referral links: %w", err)
	}
	return links, nil
}

// TrackClick counts a visit through an active link.
func (s *Service) TrackClick(ctx context.Context, code string) error {
	code = NormalizeCode(code)
	if code == "" {
		return apperr.Validation("code is required")
	}
	res := s.db.WithContext(ctx).Model(&model.ReferralLink{}).
		Where("code = ? AND active = ?", code, true).
		UpdateColumn("clicks", gorm.Expr("clicks + 1"))
	if res.Error != nil {
		return fmt.Errorf("track click: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("referral link")
	}
	return nil
}

// FindActive looks up an active link by code inside tx. found=false when absent.
func FindActive(tx *gorm.DB, code string) (*model.ReferralLink, bool, error) {
	code = NormalizeCode(code)
	if code == "" {
		return nil, false, nil
	}
	var link model.ReferralLink
	err := tx.Where("code = ? AND active = ?", code, true).First(&link).Error
	if db.IsNotFound(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &link, true, nil
}

// IncrementSignups counts an account created through the link.
func IncrementSignups(tx *gorm.DB, linkID string) error {
	return tx.Model(&model.ReferralLink{}).Where("id = ?", linkID).
		UpdateColumn("signups", gorm.Expr("signups + 1")).Error
}

// IncrementOrders counts an order placed by a referred user. Unknown or
// inactive codes are ignored.
func IncrementOrders(tx *gorm.DB, code string) error {
	code = NormalizeCode(code)
	if code == "" {
		return nil
	}
	return tx.Model(&model.ReferralLink{}).Where("code = ? AND active = ?", code, true).
		UpdateColumn("orders", gorm.Expr("orders + 1")).Error
}

// NormalizeCode canonicalises user-supplied codes.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func newCode() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return strings.ToUpper(raw[:codeLen])
}

func validateName(name string) error {
	if name == "" {
		return apperr.Validation("name is required")
	}
	if len(name) > maxNameLen {
		return apperr.Validation("name must be at most %d characters", maxNameLen)
	}
	return nil
}

func validateCredits(credits int) error {
	if credits < 0 || credits > MaxBonusCredits {
		return apperr.Validation("credits must be between 0 and %d", MaxBonusCredits)
	}
	return nil
}
