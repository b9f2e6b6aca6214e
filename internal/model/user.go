package model

import "time"

// DefaultCredits is the balance granted to a new account.
const DefaultCredits = 40

// User is the account record. CreditsRemaining is nullable because rows
// imported from the old schema only carry PageQuota; see MigrateLegacy.
type User struct {
	ID        string    `gorm:"primaryKey;size:128" json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	Email   string `gorm:"size:255;index" json:"email"`
	Name    string `gorm:"size:128" json:"name"`
	Phone   string `gorm:"size:32" json:"phone"`
	Section string `gorm:"size:32" json:"section"`
	Year    string `gorm:"size:16" json:"year"`
	Branch  string `gorm:"size:64" json:"branch"`

	CreditsRemaining *int `json:"creditsRemaining"`
	PageQuota        *int `json:"-"`

	TotalOrders  int        `gorm:"not null;default:0" json:"totalOrders"`
	TotalPages   int        `gorm:"not null;default:0" json:"totalPages"`
	LastOrderAt  *time.Time `json:"lastOrderAt"`
	ReferralCode string     `gorm:"size:32;index" json:"referralCode,omitempty"`

	// Version is bumped by every ledger write; writers compare-and-swap on it.
	Version int64 `gorm:"not null;default:0" json:"-"`
}

func (User) TableName() string { return "users" }

// MigrateLegacy moves the old pageQuota field into CreditsRemaining.
// It reports whether the record changed and must be persisted.
func (u *User) MigrateLegacy() bool {
	if u.CreditsRemaining != nil {
		return false
	}
	credits := 0
	if u.PageQuota != nil {
		credits = *u.PageQuota
	}
	u.CreditsRemaining = &credits
	u.PageQuota = nil
	return true
}

// Credits returns the normalised balance.
func (u *User) Credits() int {
	u.MigrateLegacy()
	return *u.CreditsRemaining
}

// SetCredits replaces the balance.
func (u *User) SetCredits(v int) {
	u.CreditsRemaining = &v
	u.PageQuota = nil
}

// ProfileComplete reports whether onboarding fields are filled in.
func (u *User) ProfileComplete() bool {
	return u.Name != "" && u.Phone != "" && u.Section != "" && u.Year != "" && u.Branch != ""
}

// AdminRole marks a user as admin by its mere presence.
type AdminRole struct {
	UserID    string    `gorm:"primaryKey;size:128" json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
}

func (AdminRole) TableName() string { return "admin_roles" }
