package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"outreachly/composer"
	"outreachly/mailer"
	"outreachly/models"
	"outreachly/statussync"
)

// Store is the persistence surface the engine depends on. The gorm-backed
// implementation lives in the store package.
type Store interface {
	RunningUsers() ([]models.User, error)
	SettingsFor(userID uint) (*models.CampaignSettings, error)
	PlanFor(user *models.User) (*models.Plan, error)
	ActiveSender(userID uint) (*models.Sender, error)
	SendableContacts(userID uint) ([]models.Contact, error)
	ClaimContact(contactID uint, expected, next string) (bool, error)
	MarkReplied(contactID uint) (bool, error)
	GetContact(contactID uint) (*models.Contact, error)
	UpdateContactIf(contactID uint, expected string, updates map[string]interface{}) (bool, error)
	CreateEmailSend(rec *models.EmailSend) error
	LatestEmailSend(contactID uint) (*models.EmailSend, error)
	UsageFor(userID uint, day string) (*models.DailyUsage, error)
	IncrementUsage(userID uint, day, field string, n int) error
	LogActivity(userID uint, contactID *uint, action, detail string) error
	ContactsWithThreads(userID uint) ([]models.ThreadRef, error)
	TouchSenderError(senderID uint, errMsg string)
}

// Mailer is the outbound transport plus thread-scoped mailbox reads.
type Mailer interface {
	Send(ctx context.Context, req mailer.SendRequest) (mailer.SendResult, error)
	ListThreadMessages(ctx context.Context, sender *models.Sender, threadID string) ([]mailer.ThreadMessage, error)
}

// Composer generates email content. A generate failure is fatal for the
// attempt; the engine never falls back to generic copy.
type Composer interface {
	Generate(ctx context.Context, req composer.GenerateRequest) (composer.GenerateResult, error)
}

// StatusSync mirrors contact status to an external system, best-effort.
type StatusSync interface {
	Notify(ctx context.Context, note statussync.Notification) error
}

// Config holds the engine cadence and throttling knobs.
type Config struct {
	SendInterval  time.Duration // send cycle period
	ReplyInterval time.Duration // reply-check cycle period
	SendDelay     time.Duration // mandatory pause after each successful send
	RetryBase     time.Duration // first transport retry backoff, doubles per attempt
}

func (c *Config) applyDefaults() {
	if c.SendInterval <= 0 {
		c.SendInterval = 5 * time.Minute
	}
	if c.ReplyInterval <= 0 {
		c.ReplyInterval = 10 * time.Minute
	}
	if c.SendDelay <= 0 {
		c.SendDelay = 60 * time.Second
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 2 * time.Second
	}
}

// Scheduler owns the two periodic cycles (send, reply check) and their
// non-reentrancy guards. It is the only control surface the engine exposes
// to the host process.
type Scheduler struct {
	store    Store
	mailer   Mailer
	composer Composer
	sync     StatusSync
	log      *logrus.Entry
	cfg      Config

	sendInProgress  atomic.Bool
	replyInProgress atomic.Bool

	mu             sync.Mutex
	cancel         context.CancelFunc
	wg             sync.WaitGroup
	lastSendCycle  *time.Time
	lastReplyCycle *time.Time

	now func() time.Time
}

func NewScheduler(store Store, m Mailer, c Composer, sync StatusSync, logger *logrus.Logger, cfg Config) *Scheduler {
	cfg.applyDefaults()
	if logger == nil {
		logger = logrus.New()
	}
	return &Scheduler{
		store:    store,
		mailer:   m,
		composer: c,
		sync:     sync,
		log:      logger.WithField("component", "scheduler"),
		cfg:      cfg,
		now:      time.Now,
	}
}

// Status is a snapshot of the scheduler for the host's status endpoint.
type Status struct {
	SendCycleActive  bool       `json:"send_cycle_active"`
	ReplyCycleActive bool       `json:"reply_cycle_active"`
	LastSendCycle    *time.Time `json:"last_send_cycle,omitempty"`
	LastReplyCycle   *time.Time `json:"last_reply_cycle,omitempty"`
}

func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		SendCycleActive:  s.sendInProgress.Load(),
		ReplyCycleActive: s.replyInProgress.Load(),
		LastSendCycle:    s.lastSendCycle,
		LastReplyCycle:   s.lastReplyCycle,
	}
}
