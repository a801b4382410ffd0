package worker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"outreachly/mailer"
	"outreachly/models"
	"outreachly/statussync"
)

// runReplyCycle scans each running user's mailbox for replies to threads the
// engine started. A reply is terminal: the contact leaves the sequence and
// receives nothing further.
func (s *Scheduler) runReplyCycle(ctx context.Context) {
	users, err := s.store.RunningUsers()
	if err != nil {
		s.log.WithError(err).Error("failed to list users for reply cycle")
		return
	}

	for i := range users {
		if ctx.Err() != nil {
			return
		}
		s.checkRepliesForUser(ctx, &users[i])
	}
}

func (s *Scheduler) checkRepliesForUser(ctx context.Context, user *models.User) {
	defer s.recoverCycle(fmt.Sprintf("reply (user %d)", user.ID))

	log := s.log.WithField("user_id", user.ID)

	sender, err := s.store.ActiveSender(user.ID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			log.Info("no connected sender, skipping reply scan")
		} else {
			log.WithError(err).Error("failed to load sender")
		}
		return
	}
	if !sender.HasIMAP() {
		log.Info("sender has no inbox access configured, skipping reply scan")
		return
	}

	settings, err := s.store.SettingsFor(user.ID)
	if err != nil {
		log.WithError(err).Error("failed to load settings for reply scan")
		return
	}
	loc := s.locationFor(settings)
	day := models.DayKey(s.now(), loc)

	refs, err := s.store.ContactsWithThreads(user.ID)
	if err != nil {
		log.WithError(err).Error("failed to list awaiting threads")
		return
	}
	if len(refs) == 0 {
		return
	}

	replies := 0
	for _, ref := range refs {
		if ctx.Err() != nil {
			break
		}
		if ref.ThreadID == "" {
			continue
		}

		msgs, err := s.mailer.ListThreadMessages(ctx, sender, ref.ThreadID)
		if err != nil {
			log.WithError(err).WithField("contact_id", ref.ContactID).Warn("thread fetch failed")
			s.store.TouchSenderError(sender.ID, err.Error())
			continue
		}

		reply := firstReply(msgs, sender.FromEmail, ref.SentAt)
		if reply == nil {
			continue
		}

		marked, err := s.store.MarkReplied(ref.ContactID)
		if err != nil {
			log.WithError(err).WithField("contact_id", ref.ContactID).Error("failed to mark contact replied")
			continue
		}
		if !marked {
			// Already terminal, nothing to count.
			continue
		}
		replies++

		log.WithFields(map[string]interface{}{
			"contact_id": ref.ContactID,
			"from":       reply.From,
			"replied_at": reply.Date,
		}).Info("reply detected, sequence stopped")
		s.logActivity(user.ID, ref.ContactID, "reply_detected",
			fmt.Sprintf("from=%s at=%s", reply.From, reply.Date.Format(time.RFC3339)))

		s.notifyReplied(ctx, user.ID, ref.ContactID, log)
	}

	if replies > 0 {
		if err := s.store.IncrementUsage(user.ID, day, models.UsageRepliesReceived, replies); err != nil {
			log.WithError(err).Error("failed to record reply count")
		}
	}
}

func (s *Scheduler) notifyReplied(ctx context.Context, userID, contactID uint, log *logrus.Entry) {
	note := statussync.Notification{
		UserID:    userID,
		ContactID: contactID,
		Status:    models.StatusReplied,
	}
	if fresh, err := s.store.GetContact(contactID); err == nil {
		note.FirstEmailDate = fresh.FirstEmailDate
		note.Followup1Date = fresh.Followup1Date
		note.Followup2Date = fresh.Followup2Date
	}
	if err := s.sync.Notify(ctx, note); err != nil {
		log.WithError(err).Warn("status sync notification failed")
	}
}

// firstReply returns the earliest message in the thread that was not sent by
// the owner and arrived strictly after our own outbound message. Messages
// already in the thread at send time, and the owner's own follow-ups, are
// never replies.
func firstReply(msgs []mailer.ThreadMessage, ownerEmail string, sentAt time.Time) *mailer.ThreadMessage {
	owner := strings.ToLower(strings.TrimSpace(ownerEmail))
	for i := range msgs {
		m := &msgs[i]
		if strings.ToLower(strings.TrimSpace(m.From)) == owner {
			continue
		}
		if !m.Date.After(sentAt) {
			continue
		}
		return m
	}
	return nil
}
