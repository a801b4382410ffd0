package worker

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"outreachly/composer"
	"outreachly/mailer"
	"outreachly/models"
	"outreachly/statussync"
)

// fakeStore is an in-memory Store with the same claim semantics as the
// gorm-backed one: conditional transitions under a single lock.
type fakeStore struct {
	mu sync.Mutex

	users    []models.User
	settings map[uint]*models.CampaignSettings
	plans    map[string]*models.Plan
	senders  map[uint]*models.Sender
	contacts map[uint]*models.Contact
	sends    []*models.EmailSend
	usage    map[string]*models.DailyUsage
	threads  map[uint][]models.ThreadRef

	activities []string
	senderErrs []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		settings: make(map[uint]*models.CampaignSettings),
		plans:    make(map[string]*models.Plan),
		senders:  make(map[uint]*models.Sender),
		contacts: make(map[uint]*models.Contact),
		usage:    make(map[string]*models.DailyUsage),
		threads:  make(map[uint][]models.ThreadRef),
	}
}

func (f *fakeStore) RunningUsers() ([]models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.User(nil), f.users...), nil
}

func (f *fakeStore) SettingsFor(userID uint) (*models.CampaignSettings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.settings[userID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *s
	return &cp, nil
}

func (f *fakeStore) PlanFor(user *models.User) (*models.Plan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.plans[user.PlanName]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeStore) ActiveSender(userID uint) (*models.Sender, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.senders[userID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *s
	return &cp, nil
}

var sendablePriority = map[string]int{
	models.StatusFollowup2: 0,
	models.StatusFollowup1: 1,
	models.StatusSent:      2,
	models.StatusNotSent:   3,
}

func (f *fakeStore) SendableContacts(userID uint) ([]models.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Contact
	for _, c := range f.contacts {
		if _, sendable := sendablePriority[c.Status]; !sendable || c.UserID != userID {
			continue
		}
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		pi, pj := sendablePriority[out[i].Status], sendablePriority[out[j].Status]
		if pi != pj {
			return pi < pj
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (f *fakeStore) ClaimContact(contactID uint, expected, next string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.contacts[contactID]
	if !ok || c.Status != expected {
		return false, nil
	}
	c.Status = next
	return true, nil
}

func (f *fakeStore) MarkReplied(contactID uint) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.contacts[contactID]
	if !ok || models.IsTerminalStatus(c.Status) {
		return false, nil
	}
	c.Status = models.StatusReplied
	return true, nil
}

func (f *fakeStore) GetContact(contactID uint) (*models.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.contacts[contactID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *c
	return &cp, nil
}

func (f *fakeStore) UpdateContactIf(contactID uint, expected string, updates map[string]interface{}) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.contacts[contactID]
	if !ok || c.Status != expected {
		return false, nil
	}
	for k, v := range updates {
		switch k {
		case "status":
			c.Status = v.(string)
		case "last_sent_at":
			t := v.(time.Time)
			c.LastSentAt = &t
		case "first_email_date":
			t := v.(time.Time)
			c.FirstEmailDate = &t
		case "followup1_date":
			t := v.(time.Time)
			c.Followup1Date = &t
		case "followup2_date":
			t := v.(time.Time)
			c.Followup2Date = &t
		case "followups_sent":
			c.FollowupsSent = v.(int)
		default:
			return false, fmt.Errorf("fakeStore: unexpected update column %q", k)
		}
	}
	return true, nil
}

func (f *fakeStore) CreateEmailSend(rec *models.EmailSend) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *rec
	cp.ID = uint(len(f.sends) + 1)
	f.sends = append(f.sends, &cp)
	return nil
}

func (f *fakeStore) LatestEmailSend(contactID uint) (*models.EmailSend, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var latest *models.EmailSend
	for _, rec := range f.sends {
		if rec.ContactID != contactID || rec.Status != models.SendSent || rec.SentAt == nil {
			continue
		}
		if latest == nil || rec.SentAt.After(*latest.SentAt) {
			latest = rec
		}
	}
	if latest == nil {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *latest
	return &cp, nil
}

func (f *fakeStore) UsageFor(userID uint, day string) (*models.DailyUsage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.usage[usageKey(userID, day)]; ok {
		cp := *u
		return &cp, nil
	}
	return &models.DailyUsage{UserID: userID, Day: day}, nil
}

func (f *fakeStore) IncrementUsage(userID uint, day, field string, n int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := usageKey(userID, day)
	u, ok := f.usage[key]
	if !ok {
		u = &models.DailyUsage{UserID: userID, Day: day}
		f.usage[key] = u
	}
	switch field {
	case models.UsageEmailsSent:
		u.EmailsSent += n
	case models.UsageFollowupsSent:
		u.FollowupsSent += n
	case models.UsageRepliesReceived:
		u.RepliesReceived += n
	default:
		return fmt.Errorf("fakeStore: unexpected usage field %q", field)
	}
	return nil
}

func (f *fakeStore) LogActivity(userID uint, contactID *uint, action, detail string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activities = append(f.activities, action)
	return nil
}

func (f *fakeStore) ContactsWithThreads(userID uint) ([]models.ThreadRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.ThreadRef(nil), f.threads[userID]...), nil
}

func (f *fakeStore) TouchSenderError(senderID uint, errMsg string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.senderErrs = append(f.senderErrs, errMsg)
}

func (f *fakeStore) actionCount(action string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, a := range f.activities {
		if a == action {
			n++
		}
	}
	return n
}

func (f *fakeStore) sentRecords() []*models.EmailSend {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*models.EmailSend(nil), f.sends...)
}

func usageKey(userID uint, day string) string {
	return fmt.Sprintf("%d:%s", userID, day)
}

// fakeMailer records every send and can be programmed to fail. sendErrs is
// consumed one entry per Send call; a nil entry means success.
type fakeMailer struct {
	mu       sync.Mutex
	sent     []mailer.SendRequest
	sendErrs []error

	threadMsgs map[string][]mailer.ThreadMessage
	listErr    error
}

func (m *fakeMailer) Send(ctx context.Context, req mailer.SendRequest) (mailer.SendResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.sendErrs) > 0 {
		err := m.sendErrs[0]
		m.sendErrs = m.sendErrs[1:]
		if err != nil {
			return mailer.SendResult{}, err
		}
	}

	m.sent = append(m.sent, req)
	id := fmt.Sprintf("<msg-%d@test>", len(m.sent))
	threadID := req.ThreadID
	if threadID == "" {
		threadID = id
	}
	return mailer.SendResult{MessageID: id, ThreadID: threadID}, nil
}

func (m *fakeMailer) ListThreadMessages(ctx context.Context, sender *models.Sender, threadID string) ([]mailer.ThreadMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.threadMsgs[threadID], nil
}

func (m *fakeMailer) sentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

type fakeComposer struct {
	err error
}

func (c *fakeComposer) Generate(ctx context.Context, req composer.GenerateRequest) (composer.GenerateResult, error) {
	if c.err != nil {
		return composer.GenerateResult{}, c.err
	}
	return composer.GenerateResult{
		Subject: fmt.Sprintf("Hello %s", req.Name),
		Body:    "<p>body</p>",
	}, nil
}

type fakeSync struct {
	mu    sync.Mutex
	notes []statussync.Notification
	err   error
}

func (s *fakeSync) Notify(ctx context.Context, note statussync.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.notes = append(s.notes, note)
	return nil
}

func newTestScheduler(store Store, m Mailer) *Scheduler {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewScheduler(store, m, &fakeComposer{}, &fakeSync{}, logger, Config{
		SendDelay: time.Millisecond,
		RetryBase: time.Millisecond,
	})
}

// seedRunningUser installs one user with running automation, a connected
// sender, and the free plan, returning the user.
func seedRunningUser(f *fakeStore) *models.User {
	user := models.User{PlanName: "free", Email: "owner@example.com", Timezone: "UTC"}
	user.ID = 1
	user.CreatedAt = time.Now().Add(-24 * time.Hour)
	f.users = append(f.users, user)

	f.settings[user.ID] = &models.CampaignSettings{
		UserID:           user.ID,
		DailyLimit:       50,
		FollowupCount:    2,
		FollowupDelays:   "[2,4]",
		AutomationStatus: models.AutomationRunning,
		StartTime:        "00:00",
		Timezone:         "UTC",
	}
	f.plans["free"] = &models.Plan{Name: "free", DailySendLimit: 50, TrialDays: 14}

	sender := &models.Sender{
		UserID:    user.ID,
		FromEmail: "owner@example.com",
		IMAPHost:  "imap.example.com",
	}
	sender.ID = 10
	f.senders[user.ID] = sender
	return &f.users[0]
}

func seedContact(f *fakeStore, id uint, userID uint, status string) *models.Contact {
	c := &models.Contact{
		UserID: userID,
		Email:  fmt.Sprintf("contact%d@example.com", id),
		Name:   fmt.Sprintf("Contact %d", id),
		Status: status,
	}
	c.ID = id
	f.contacts[id] = c
	return c
}
