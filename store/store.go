package store

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"outreachly/models"
)

// Store is the gorm-backed persistence layer for the automation engine.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// RunningUsers returns every active user whose automation is currently enabled.
func (s *Store) RunningUsers() ([]models.User, error) {
	var users []models.User
	err := s.db.
		Joins("JOIN campaign_settings ON campaign_settings.user_id = users.id").
		Where("campaign_settings.automation_status = ?", models.AutomationRunning).
		Where("users.is_active = ?", true).
		Find(&users).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list running users: %w", err)
	}
	return users, nil
}

func (s *Store) SettingsFor(userID uint) (*models.CampaignSettings, error) {
	var settings models.CampaignSettings
	if err := s.db.Where("user_id = ?", userID).First(&settings).Error; err != nil {
		return nil, err
	}
	return &settings, nil
}

func (s *Store) PlanFor(user *models.User) (*models.Plan, error) {
	var plan models.Plan
	if err := s.db.Where("name = ?", user.PlanName).First(&plan).Error; err != nil {
		return nil, err
	}
	return &plan, nil
}

// ActiveSender returns the user's connected outbound transport account, or
// gorm.ErrRecordNotFound when none is configured.
func (s *Store) ActiveSender(userID uint) (*models.Sender, error) {
	var sender models.Sender
	err := s.db.Where("user_id = ? AND is_active = ?", userID, true).
		Order("id").First(&sender).Error
	if err != nil {
		return nil, err
	}
	return &sender, nil
}

// SendableContacts lists a user's non-terminal contacts in processing
// priority order: contacts awaiting follow-up 2 first, then follow-up 1, then
// first-touch sends, so a backlog of new contacts never starves follow-ups.
func (s *Store) SendableContacts(userID uint) ([]models.Contact, error) {
	var contacts []models.Contact
	err := s.db.
		Where("user_id = ? AND status IN ?", userID, []string{
			models.StatusFollowup1, models.StatusSent, models.StatusNotSent, models.StatusFollowup2,
		}).
		Order(`CASE status
			WHEN 'followup_2' THEN 0
			WHEN 'followup_1' THEN 1
			WHEN 'sent' THEN 2
			ELSE 3
		END, id`).
		Find(&contacts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list sendable contacts: %w", err)
	}
	return contacts, nil
}

// ClaimContact is the atomic claim primitive: a conditional update that only
// succeeds when the contact is still in the expected status. Exactly one
// concurrent caller can win; everyone else sees zero rows updated.
func (s *Store) ClaimContact(contactID uint, expected, next string) (bool, error) {
	res := s.db.Model(&models.Contact{}).
		Where("id = ? AND status = ?", contactID, expected).
		Update("status", next)
	if res.Error != nil {
		return false, fmt.Errorf("failed to claim contact %d: %w", contactID, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// MarkReplied moves a contact to the terminal replied status unless it is
// already terminal. Returns whether this call performed the transition.
func (s *Store) MarkReplied(contactID uint) (bool, error) {
	res := s.db.Model(&models.Contact{}).
		Where("id = ? AND status NOT IN ?", contactID, []string{
			models.StatusReplied, models.StatusBounced, models.StatusRejected,
			models.StatusStopped, models.StatusManualBreak, models.StatusFailed,
		}).
		Update("status", models.StatusReplied)
	if res.Error != nil {
		return false, fmt.Errorf("failed to mark contact %d replied: %w", contactID, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *Store) GetContact(contactID uint) (*models.Contact, error) {
	var contact models.Contact
	if err := s.db.First(&contact, contactID).Error; err != nil {
		return nil, err
	}
	return &contact, nil
}

// UpdateContactIf applies updates only while the contact still holds the
// expected status, in one conditional write like ClaimContact. Zero rows
// means another process transitioned the contact first and the caller's
// claim is gone.
func (s *Store) UpdateContactIf(contactID uint, expected string, updates map[string]interface{}) (bool, error) {
	res := s.db.Model(&models.Contact{}).
		Where("id = ? AND status = ?", contactID, expected).
		Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("failed to update contact %d: %w", contactID, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *Store) CreateEmailSend(rec *models.EmailSend) error {
	return s.db.Create(rec).Error
}

// LatestEmailSend returns the most recent successful send for a contact, used
// to resolve thread and message identifiers for follow-up threading.
func (s *Store) LatestEmailSend(contactID uint) (*models.EmailSend, error) {
	var rec models.EmailSend
	err := s.db.Where("contact_id = ? AND status = ?", contactID, models.SendSent).
		Order("sent_at DESC").First(&rec).Error
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) UsageFor(userID uint, day string) (*models.DailyUsage, error) {
	var usage models.DailyUsage
	err := s.db.Where("user_id = ? AND day = ?", userID, day).First(&usage).Error
	if err == gorm.ErrRecordNotFound {
		return &models.DailyUsage{UserID: userID, Day: day}, nil
	}
	if err != nil {
		return nil, err
	}
	return &usage, nil
}

// IncrementUsage bumps one usage counter for the given day. The increment is
// applied as a SQL expression against the current row value rather than a
// value read earlier in the cycle, so concurrent cycles cannot lose updates.
func (s *Store) IncrementUsage(userID uint, day, field string, n int) error {
	switch field {
	case models.UsageEmailsSent, models.UsageFollowupsSent, models.UsageRepliesReceived:
	default:
		return fmt.Errorf("unknown usage field %q", field)
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		usage := models.DailyUsage{UserID: userID, Day: day}
		if err := tx.Where("user_id = ? AND day = ?", userID, day).
			FirstOrCreate(&usage).Error; err != nil {
			return err
		}
		return tx.Model(&models.DailyUsage{}).
			Where("id = ?", usage.ID).
			Update(field, gorm.Expr(field+" + ?", n)).Error
	})
}

func (s *Store) LogActivity(userID uint, contactID *uint, action, detail string) error {
	entry := models.ActivityLog{
		UserID:    userID,
		ContactID: contactID,
		Action:    action,
		Detail:    detail,
	}
	return s.db.Create(&entry).Error
}

// ContactsWithThreads returns one ThreadRef per contacted, still-awaiting
// contact: the thread of the earliest successful send plus its timestamp.
// The earliest send anchors the reply window so that a reply arriving
// between the first touch and a later follow-up still counts. Only these
// threads are scanned for replies; the general inbox never is.
func (s *Store) ContactsWithThreads(userID uint) ([]models.ThreadRef, error) {
	var refs []models.ThreadRef
	err := s.db.Raw(`
		SELECT c.id AS contact_id, c.email AS contact_email,
		       es.thread_id AS thread_id, es.sent_at AS sent_at
		FROM contacts c
		JOIN email_sends es ON es.id = (
			SELECT es2.id FROM email_sends es2
			WHERE es2.contact_id = c.id AND es2.status = ? AND es2.thread_id <> ''
			ORDER BY es2.sent_at ASC LIMIT 1
		)
		WHERE c.user_id = ?
		  AND c.status IN ?
		  AND c.deleted_at IS NULL
	`, models.SendSent, userID, []string{
		models.StatusSent, models.StatusFollowup1, models.StatusFollowup2,
	}).Scan(&refs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list contact threads: %w", err)
	}
	return refs, nil
}

// TouchSenderError updates a sender's last error bookkeeping after a
// transport failure. Best-effort; callers have already logged the failure.
func (s *Store) TouchSenderError(senderID uint, errMsg string) {
	now := time.Now()
	s.db.Model(&models.Sender{}).Where("id = ?", senderID).
		Updates(map[string]interface{}{
			"last_error":     errMsg,
			"last_tested_at": now,
		})
}
