package models

import (
	"time"

	"gorm.io/gorm"
)

// DailyUsage tracks per-user send volume for one calendar day. The day key is
// computed in the user's configured timezone, the same zone the start-time
// gate uses, so quota accounting and eligibility never disagree near local
// midnight.
type DailyUsage struct {
	gorm.Model
	UserID uint   `gorm:"not null;index:idx_usage_user_day,unique" json:"user_id"`
	Day    string `gorm:"not null;index:idx_usage_user_day,unique" json:"day"` // YYYY-MM-DD

	EmailsSent      int `gorm:"default:0" json:"emails_sent"`
	FollowupsSent   int `gorm:"default:0" json:"followups_sent"`
	RepliesReceived int `gorm:"default:0" json:"replies_received"`
}

// Usage counter column names, for Store.IncrementUsage.
const (
	UsageEmailsSent      = "emails_sent"
	UsageFollowupsSent   = "followups_sent"
	UsageRepliesReceived = "replies_received"
)

// DayKey formats the usage day key for a moment in the given location.
func DayKey(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("2006-01-02")
}

// ActivityLog is the engine's free-text audit trail
type ActivityLog struct {
	gorm.Model
	UserID    uint   `gorm:"not null;index" json:"user_id"`
	ContactID *uint  `gorm:"index" json:"contact_id,omitempty"`
	Action    string `gorm:"not null" json:"action"`
	Detail    string `gorm:"type:text" json:"detail"`
}
