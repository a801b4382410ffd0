package models

import (
	"time"

	"gorm.io/gorm"
)

// Contact status values. Automated transitions are monotonic along
// not_sent → sent → followup_1 → followup_2 → rejected, with replied able to
// interrupt any non-terminal stage. The sending_* values are transient claim
// markers held while a send is in flight.
const (
	StatusNotSent         = "not_sent"
	StatusSending         = "sending"
	StatusSent            = "sent"
	StatusSendingFollowup = "sending_followup"
	StatusFollowup1       = "followup_1"
	StatusFollowup2       = "followup_2"
	StatusReplied         = "replied"
	StatusBounced         = "bounced"
	StatusRejected        = "rejected"
	StatusStopped         = "stopped"
	StatusManualBreak     = "manual_break"
	StatusFailed          = "failed"
)

var terminalStatuses = map[string]bool{
	StatusReplied:     true,
	StatusBounced:     true,
	StatusRejected:    true,
	StatusStopped:     true,
	StatusManualBreak: true,
	StatusFailed:      true,
}

// IsTerminalStatus reports whether the engine will never again act on a
// contact in the given status.
func IsTerminalStatus(status string) bool {
	return terminalStatuses[status]
}

// Contact represents a tracked recipient moving through the outreach lifecycle
type Contact struct {
	gorm.Model
	UserID uint `gorm:"not null;index" json:"user_id"`

	Email    string `gorm:"not null;index" json:"email"`
	Name     string `json:"name"`
	Company  string `json:"company"`
	Position string `json:"position"`

	Status string `gorm:"default:'not_sent';index" json:"status"`

	// Each reference date is set exactly once, at its transition, and is the
	// only timestamp the next follow-up's delay is measured from.
	FirstEmailDate *time.Time `json:"first_email_date"`
	Followup1Date  *time.Time `json:"followup1_date"`
	Followup2Date  *time.Time `json:"followup2_date"`

	LastSentAt    *time.Time `json:"last_sent_at"`
	FollowupsSent int        `gorm:"default:0" json:"followups_sent"`

	// Relations
	EmailSends []EmailSend `gorm:"foreignKey:ContactID" json:"email_sends,omitempty"`
}

// IsTerminal reports whether the contact is permanently inert.
func (c *Contact) IsTerminal() bool {
	return IsTerminalStatus(c.Status)
}
