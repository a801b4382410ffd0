package worker

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/badoux/checkmail"

	"outreachly/composer"
	"outreachly/mailer"
	"outreachly/models"
	"outreachly/statussync"
)

const maxAttachmentBytes = 10 << 20

// runSendCycle processes every user with automation enabled. One user's
// failure never aborts another user's cycle.
func (s *Scheduler) runSendCycle(ctx context.Context) {
	users, err := s.store.RunningUsers()
	if err != nil {
		s.log.WithError(err).Error("failed to list users for send cycle")
		return
	}

	for i := range users {
		if ctx.Err() != nil {
			return
		}
		s.processUser(ctx, &users[i])
	}
}

func (s *Scheduler) processUser(ctx context.Context, user *models.User) {
	defer s.recoverCycle(fmt.Sprintf("send (user %d)", user.ID))

	gate, ok := s.gateUser(user)
	if !ok {
		return
	}

	contacts, err := s.store.SendableContacts(user.ID)
	if err != nil {
		s.log.WithError(err).WithField("user_id", user.ID).Error("failed to list contacts")
		return
	}

	delays := gate.Settings.ParsedDelays()
	processed := 0
	followups := 0

	for i := range contacts {
		if processed >= gate.Remaining {
			s.log.WithField("user_id", user.ID).Info("daily quota reached, stopping user batch")
			break
		}
		if ctx.Err() != nil {
			break
		}

		contact := &contacts[i]
		log := s.log.WithFields(map[string]interface{}{
			"user_id":    user.ID,
			"contact_id": contact.ID,
			"status":     contact.Status,
		})

		step, exhausted, err := nextStep(contact, delays, gate.Settings.FollowupCount, s.now())
		if err != nil {
			log.WithError(err).Warn("data integrity fault, skipping contact")
			s.logActivity(user.ID, contact.ID, "integrity_fault", err.Error())
			continue
		}
		if exhausted {
			done, err := s.store.ClaimContact(contact.ID, contact.Status, models.StatusRejected)
			if err != nil {
				log.WithError(err).Error("failed to close out completed sequence")
			} else if done {
				s.logActivity(user.ID, contact.ID, "sequence_complete", "all configured follow-ups sent, no reply")
			}
			continue
		}
		if step == nil {
			continue
		}

		claimed, err := s.store.ClaimContact(contact.ID, contact.Status, step.LockStatus)
		if err != nil {
			log.WithError(err).Error("claim failed")
			continue
		}
		if !claimed {
			// Another cycle or a manual trigger got here first. Not an error.
			log.Debug("contact already claimed, skipping")
			continue
		}

		if s.sendToContact(ctx, user, gate, contact, step) {
			processed++
			if step.FollowupNumber > 0 {
				followups++
			}
			// Deliverability throttle: pause between successful sends only.
			s.sleep(ctx, s.cfg.SendDelay)
		}
	}

	if processed > 0 {
		if err := s.store.IncrementUsage(user.ID, gate.Day, models.UsageEmailsSent, processed); err != nil {
			s.log.WithError(err).WithField("user_id", user.ID).Error("failed to record sent count")
		}
		if followups > 0 {
			if err := s.store.IncrementUsage(user.ID, gate.Day, models.UsageFollowupsSent, followups); err != nil {
				s.log.WithError(err).WithField("user_id", user.ID).Error("failed to record follow-up count")
			}
		}
	}
}

// sendToContact orchestrates one send for a claimed contact: content
// generation, thread resolution, optional attachment, transport with retry,
// then commit. State is committed only after the transport confirms the send.
func (s *Scheduler) sendToContact(ctx context.Context, user *models.User, gate *gateResult, contact *models.Contact, step *sendStep) bool {
	log := s.log.WithFields(map[string]interface{}{
		"user_id":    user.ID,
		"contact_id": contact.ID,
		"followup":   step.FollowupNumber,
	})

	if err := checkmail.ValidateFormat(contact.Email); err != nil {
		log.WithError(err).Warn("contact email is not a valid address")
		s.failContact(user, contact, step, fmt.Errorf("invalid recipient address %q: %w", contact.Email, err))
		return false
	}

	content, err := s.composer.Generate(ctx, composer.GenerateRequest{
		UserID:         user.ID,
		ContactID:      contact.ID,
		Name:           contact.Name,
		Email:          contact.Email,
		Company:        contact.Company,
		Position:       contact.Position,
		IsFollowup:     step.FollowupNumber > 0,
		FollowupNumber: step.FollowupNumber,
		AttachmentURL:  gate.Settings.AttachmentURL,
	})
	if err != nil {
		log.WithError(err).Error("content generation failed")
		s.failContact(user, contact, step, fmt.Errorf("content generation failed: %w", err))
		return false
	}

	var threadID, inReplyTo string
	if step.FollowupNumber > 0 {
		if prev, err := s.store.LatestEmailSend(contact.ID); err != nil {
			log.WithError(err).Warn("no prior send record, follow-up will start a new thread")
		} else {
			threadID = prev.ThreadID
			inReplyTo = prev.MessageID
		}
	}

	var attachments []mailer.Attachment
	if gate.Settings.AttachmentURL != "" {
		att, err := fetchAttachment(ctx, gate.Settings.AttachmentURL)
		if err != nil {
			// Non-fatal: send without the attachment.
			log.WithError(err).Warn("attachment fetch failed, sending without it")
		} else {
			attachments = append(attachments, att)
		}
	}

	result, err := s.sendWithRetry(ctx, log, func() (mailer.SendResult, error) {
		return s.mailer.Send(ctx, mailer.SendRequest{
			Sender:      gate.Sender,
			To:          contact.Email,
			Subject:     content.Subject,
			Body:        content.Body,
			ThreadID:    threadID,
			InReplyTo:   inReplyTo,
			Attachments: attachments,
		})
	})
	if err != nil {
		log.WithError(err).Error("transport send failed")
		s.store.TouchSenderError(gate.Sender.ID, err.Error())
		s.failContact(user, contact, step, err)
		return false
	}

	return s.commitSend(ctx, user, contact, step, result)
}

// commitSend records a confirmed send. The status transition is conditional
// on the claim still being held, so a terminal transition that landed while
// the message was in flight (a reply, a manual stop) always stands. Re-running
// the commit for a contact already in the target status is a logged no-op: no
// date field is overwritten and no duplicate send record is created.
func (s *Scheduler) commitSend(ctx context.Context, user *models.User, contact *models.Contact, step *sendStep, result mailer.SendResult) bool {
	log := s.log.WithFields(map[string]interface{}{
		"user_id":    user.ID,
		"contact_id": contact.ID,
	})

	fresh, err := s.store.GetContact(contact.ID)
	if err != nil {
		log.WithError(err).Error("failed to re-read contact for commit")
		return false
	}
	if fresh.Status == step.TargetStatus {
		log.Info("skip duplicate: contact already committed to target status")
		return false
	}

	now := s.now()
	updates := map[string]interface{}{
		"status":       step.TargetStatus,
		"last_sent_at": now,
	}
	switch step.DateField {
	case "first_email_date":
		if fresh.FirstEmailDate == nil {
			updates["first_email_date"] = now
		}
	case "followup1_date":
		if fresh.Followup1Date == nil {
			updates["followup1_date"] = now
		}
		updates["followups_sent"] = fresh.FollowupsSent + 1
	case "followup2_date":
		if fresh.Followup2Date == nil {
			updates["followup2_date"] = now
		}
		updates["followups_sent"] = fresh.FollowupsSent + 1
	}

	committed, err := s.store.UpdateContactIf(contact.ID, step.LockStatus, updates)
	if err != nil {
		log.WithError(err).Error("failed to commit contact transition")
		return false
	}
	if !committed {
		// Another cycle took the contact while the message was in flight,
		// typically the reply detector marking it replied. Its transition wins.
		log.Info("contact left the claim mid-send, leaving its state untouched")
		return false
	}

	record := &models.EmailSend{
		UserID:         user.ID,
		ContactID:      contact.ID,
		Status:         models.SendSent,
		FollowupNumber: step.FollowupNumber,
		SentAt:         &now,
		MessageID:      result.MessageID,
		ThreadID:       result.ThreadID,
	}
	if err := s.store.CreateEmailSend(record); err != nil {
		log.WithError(err).Error("failed to record email send")
	}

	s.logActivity(user.ID, contact.ID, "email_sent",
		fmt.Sprintf("followup=%d to=%s message_id=%s", step.FollowupNumber, contact.Email, result.MessageID))

	note := statussync.Notification{
		UserID:    user.ID,
		ContactID: contact.ID,
		Status:    step.TargetStatus,
	}
	note.FirstEmailDate = fresh.FirstEmailDate
	note.Followup1Date = fresh.Followup1Date
	note.Followup2Date = fresh.Followup2Date
	switch step.DateField {
	case "first_email_date":
		if note.FirstEmailDate == nil {
			note.FirstEmailDate = &now
		}
	case "followup1_date":
		if note.Followup1Date == nil {
			note.Followup1Date = &now
		}
	case "followup2_date":
		if note.Followup2Date == nil {
			note.Followup2Date = &now
		}
	}
	if err := s.sync.Notify(ctx, note); err != nil {
		// Best-effort only: never rolls back the commit above.
		log.WithError(err).Warn("status sync notification failed")
	}

	log.Infof("sent followup %d, contact now %s", step.FollowupNumber, step.TargetStatus)
	return true
}

// failContact moves a contact to the terminal failed status after a fatal
// attempt. Recovery requires a manual reset. Like commitSend, the transition
// only applies while the claim is still held; a terminal status that landed
// mid-attempt is never overwritten, though the failed attempt itself is still
// recorded for the audit trail.
func (s *Scheduler) failContact(user *models.User, contact *models.Contact, step *sendStep, sendErr error) {
	msg := sendErr.Error()
	marked, err := s.store.UpdateContactIf(contact.ID, step.LockStatus, map[string]interface{}{
		"status": models.StatusFailed,
	})
	if err != nil {
		s.log.WithError(err).WithField("contact_id", contact.ID).Error("failed to mark contact failed")
	} else if !marked {
		s.log.WithField("contact_id", contact.ID).Info("contact left the claim during the failed attempt, leaving its state untouched")
	}
	if err := s.store.CreateEmailSend(&models.EmailSend{
		UserID:         user.ID,
		ContactID:      contact.ID,
		Status:         models.SendFailed,
		FollowupNumber: step.FollowupNumber,
		ErrorMessage:   &msg,
	}); err != nil {
		s.log.WithError(err).WithField("contact_id", contact.ID).Error("failed to record failed send")
	}
	s.logActivity(user.ID, contact.ID, "send_failed", msg)
}

func (s *Scheduler) logActivity(userID, contactID uint, action, detail string) {
	if err := s.store.LogActivity(userID, &contactID, action, detail); err != nil {
		s.log.WithError(err).Warn("failed to append activity log")
	}
}

func fetchAttachment(ctx context.Context, rawURL string) (mailer.Attachment, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return mailer.Attachment{}, fmt.Errorf("failed to build attachment request: %w", err)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return mailer.Attachment{}, fmt.Errorf("attachment download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return mailer.Attachment{}, fmt.Errorf("attachment download returned %d", resp.StatusCode)
	}

	content, err := io.ReadAll(io.LimitReader(resp.Body, maxAttachmentBytes))
	if err != nil {
		return mailer.Attachment{}, fmt.Errorf("failed to read attachment body: %w", err)
	}

	filename := "attachment"
	if u, err := url.Parse(rawURL); err == nil {
		if base := path.Base(u.Path); base != "" && base != "." && base != "/" {
			filename = base
		}
	}
	return mailer.Attachment{Filename: filename, Content: content}, nil
}
