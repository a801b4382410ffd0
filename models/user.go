package models

import (
	"time"

	"gorm.io/gorm"
)

// User represents a user account in the system
type User struct {
	gorm.Model

	Email string `gorm:"uniqueIndex;not null" json:"email"`

	// Profile information
	Name     *string `json:"name,omitempty"`
	Company  *string `json:"company,omitempty"`
	Timezone string  `gorm:"default:'UTC'" json:"timezone"`

	// Account status
	IsActive bool `gorm:"default:true" json:"is_active"`

	// Plan information; the account creation timestamp (gorm.Model.CreatedAt)
	// drives the trial window for plans with TrialDays > 0.
	PlanID   *uint  `json:"plan_id,omitempty"`
	PlanName string `gorm:"default:'free'" json:"plan_name"` // free, starter, grow

	// Relations
	Senders  []Sender          `gorm:"foreignKey:UserID" json:"senders,omitempty"`
	Settings *CampaignSettings `gorm:"foreignKey:UserID" json:"settings,omitempty"`
	Contacts []Contact         `gorm:"foreignKey:UserID" json:"contacts,omitempty"`
}

// Plan represents the sending entitlements of a tier
type Plan struct {
	gorm.Model
	Name        string `gorm:"not null;uniqueIndex" json:"name"` // free, starter, grow
	Description string `json:"description"`

	// Plan-enforced daily cap; the effective cap for a user is the smaller of
	// this and the user's configured daily limit.
	DailySendLimit int `gorm:"default:500" json:"daily_send_limit"`

	// TrialDays > 0 means the plan stops sending entirely once this many days
	// have elapsed since account creation. 0 disables the trial window.
	TrialDays int `gorm:"default:0" json:"trial_days"`

	MaxSenders int `gorm:"default:1" json:"max_senders"`
}

// TrialExpired reports whether a trial-limited plan has run out for an
// account created at the given time.
func (p *Plan) TrialExpired(createdAt, now time.Time) bool {
	if p.TrialDays <= 0 {
		return false
	}
	return now.Sub(createdAt) >= time.Duration(p.TrialDays)*24*time.Hour
}

// CreateDefaultPlans seeds the plan table during migration
func CreateDefaultPlans(db *gorm.DB) error {
	defaultPlans := []Plan{
		{
			Name:           "free",
			Description:    "Free trial plan, 50 emails per day for 14 days",
			DailySendLimit: 50,
			TrialDays:      14,
			MaxSenders:     1,
		},
		{
			Name:           "starter",
			Description:    "Starter plan with 500 emails per day",
			DailySendLimit: 500,
			MaxSenders:     3,
		},
		{
			Name:           "grow",
			Description:    "Growth plan with 2,000 emails per day",
			DailySendLimit: 2000,
			MaxSenders:     10,
		},
	}
	for _, plan := range defaultPlans {
		if err := db.FirstOrCreate(&plan, "name = ?", plan.Name).Error; err != nil {
			return err
		}
	}
	return nil
}
