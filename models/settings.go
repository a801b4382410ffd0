package models

import (
	"encoding/json"
	"strconv"
	"strings"

	"gorm.io/gorm"
)

// Automation status values for CampaignSettings
const (
	AutomationRunning = "running"
	AutomationPaused  = "paused"
	AutomationStopped = "stopped"
)

// DefaultFollowupDelays is used when the stored delay sequence is absent or
// unparseable: 2 days to follow-up 1, then 4 more days to follow-up 2.
var DefaultFollowupDelays = []int{2, 4}

// CampaignSettings holds one user's outreach configuration
type CampaignSettings struct {
	gorm.Model
	UserID uint `gorm:"not null;uniqueIndex" json:"user_id"`

	DailyLimit    int `gorm:"default:50" json:"daily_limit" validate:"min=1,max=1000"`
	FollowupCount int `gorm:"default:2" json:"followup_count" validate:"min=0,max=2"`

	// FollowupDelays is written by the settings UI and has arrived historically
	// as a JSON array, a JSON-encoded string of an array, or comma-separated
	// text. It is never read directly; use ParsedDelays.
	FollowupDelays string `gorm:"type:text" json:"followup_delays"`

	AutomationStatus string `gorm:"default:'stopped'" json:"automation_status" validate:"omitempty,oneof=running paused stopped"` // running, paused, stopped
	StartTime        string `gorm:"default:'09:00'" json:"start_time"`          // HH:MM in Timezone
	Timezone         string `gorm:"default:'UTC'" json:"timezone"`              // IANA name

	AttachmentURL string `json:"attachment_url"` // optional resume/attachment to include

	// Relations
	User User `json:"-"`
}

// ParsedDelays converts the loosely-typed FollowupDelays column into an
// ordered sequence of whole-day delays. The untyped form never escapes this
// method: any shape it cannot make sense of falls back to
// DefaultFollowupDelays.
func (s *CampaignSettings) ParsedDelays() []int {
	raw := strings.TrimSpace(s.FollowupDelays)
	if raw == "" {
		return append([]int(nil), DefaultFollowupDelays...)
	}

	if delays, ok := parseDelayJSON(raw); ok {
		return delays
	}

	// Double-encoded: a JSON string whose content is itself an array.
	var inner string
	if err := json.Unmarshal([]byte(raw), &inner); err == nil {
		if delays, ok := parseDelayJSON(strings.TrimSpace(inner)); ok {
			return delays
		}
		raw = inner
	}

	// Comma-separated text, e.g. "2,4" or "[2, 4]" with stray brackets.
	cleaned := strings.Trim(raw, "[]")
	var delays []int
	for _, part := range strings.Split(cleaned, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n < 0 {
			return append([]int(nil), DefaultFollowupDelays...)
		}
		delays = append(delays, n)
	}
	if len(delays) == 0 {
		return append([]int(nil), DefaultFollowupDelays...)
	}
	return delays
}

func parseDelayJSON(raw string) ([]int, bool) {
	var delays []int
	if err := json.Unmarshal([]byte(raw), &delays); err != nil || len(delays) == 0 {
		return nil, false
	}
	for _, d := range delays {
		if d < 0 {
			return nil, false
		}
	}
	return delays, true
}
