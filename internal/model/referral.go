package model

import "time"

// ReferralLink is a trackable signup code granting bonus credits.
type ReferralLink struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	Code      string `gorm:"size:32;uniqueIndex;not null" json:"code"`
	Name      string `gorm:"size:128;not null" json:"name"`
	Credits   int    `gorm:"not null" json:"credits"` // bonus granted at signup
	Active    bool   `gorm:"not null" json:"active"`
	Clicks    int    `gorm:"not null;default:0" json:"clicks"`
	Signups   int    `gorm:"not null;default:0" json:"signups"`
	Orders    int    `gorm:"not null;default:0" json:"orders"`
	CreatedBy string `gorm:"size:128" json:"createdBy"`
}

func (ReferralLink) TableName() string { return "referral_links" }
