package models

import (
	"time"

	"gorm.io/gorm"
)

// EmailSend status values
const (
	SendQueued    = "queued"
	SendSent      = "sent"
	SendDelivered = "delivered"
	SendOpened    = "opened"
	SendReplied   = "replied"
	SendBounced   = "bounced"
	SendFailed    = "failed"
)

// EmailSend records one transport attempt for a contact
type EmailSend struct {
	gorm.Model
	UserID    uint `gorm:"not null;index" json:"user_id"`
	ContactID uint `gorm:"not null;index" json:"contact_id"`

	Status         string `gorm:"not null" json:"status"`
	FollowupNumber int    `gorm:"default:0" json:"followup_number"` // 0 = first touch

	SentAt    *time.Time `json:"sent_at"`
	MessageID string     `gorm:"index" json:"message_id"`
	ThreadID  string     `gorm:"index" json:"thread_id"`

	ErrorMessage *string `json:"error_message,omitempty"`

	// Relations
	Contact Contact `json:"-"`
}

// ThreadRef identifies one conversation thread for reply scanning: the
// contact, the thread, and the timestamp of our own first outbound message
// in that thread.
type ThreadRef struct {
	ContactID    uint
	ContactEmail string
	ThreadID     string
	SentAt       time.Time
}
