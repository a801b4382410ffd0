package worker

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"outreachly/models"
	"outreachly/utils"
)

// gateResult carries everything the send loop needs once a user has passed
// the quota and eligibility gate.
type gateResult struct {
	Settings  *models.CampaignSettings
	Sender    *models.Sender
	Location  *time.Location
	Day       string
	Remaining int
}

// gateUser decides whether a user's cycle should run at all this tick, and
// how many sends remain inside the effective daily cap. Skips are re-evaluated
// on the next tick; they are never queued.
func (s *Scheduler) gateUser(user *models.User) (*gateResult, bool) {
	log := s.log.WithField("user_id", user.ID)

	settings, err := s.store.SettingsFor(user.ID)
	if err != nil {
		log.WithError(err).Warn("no campaign settings, skipping user")
		return nil, false
	}
	if settings.AutomationStatus != models.AutomationRunning {
		return nil, false
	}
	if err := utils.ValidateStruct(settings); err != nil {
		log.WithError(err).Warn("campaign settings failed validation, continuing with defaults")
	}

	loc := s.locationFor(settings)
	localNow := s.now().In(loc)

	if !startTimeReached(localNow, settings.StartTime) {
		log.Debugf("before daily start time %s (%s), skipping this tick", settings.StartTime, settings.Timezone)
		return nil, false
	}

	sender, err := s.store.ActiveSender(user.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Info("no connected sending account, skipping user")
		} else {
			log.WithError(err).Error("failed to look up sender")
		}
		return nil, false
	}

	plan, err := s.store.PlanFor(user)
	if err != nil {
		log.WithError(err).Warnf("plan %q not found, skipping user", user.PlanName)
		return nil, false
	}
	if plan.TrialExpired(user.CreatedAt, s.now()) {
		log.Infof("trial expired on plan %q, skipping user", plan.Name)
		return nil, false
	}

	// Quota day key and the start-time gate use the same timezone, so the two
	// can never disagree near local midnight.
	day := models.DayKey(s.now(), loc)
	usage, err := s.store.UsageFor(user.ID, day)
	if err != nil {
		log.WithError(err).Error("failed to read daily usage")
		return nil, false
	}

	limit := settings.DailyLimit
	if plan.DailySendLimit > 0 && plan.DailySendLimit < limit {
		limit = plan.DailySendLimit
	}
	remaining := limit - usage.EmailsSent
	if remaining <= 0 {
		log.Infof("daily quota exhausted (%d/%d), skipping user", usage.EmailsSent, limit)
		return nil, false
	}

	return &gateResult{
		Settings:  settings,
		Sender:    sender,
		Location:  loc,
		Day:       day,
		Remaining: remaining,
	}, true
}

func (s *Scheduler) locationFor(settings *models.CampaignSettings) *time.Location {
	loc, err := time.LoadLocation(settings.Timezone)
	if err != nil {
		s.log.WithField("user_id", settings.UserID).
			Warnf("invalid timezone %q, falling back to UTC", settings.Timezone)
		return time.UTC
	}
	return loc
}

// startTimeReached reports whether the local wall clock has passed the
// configured HH:MM daily start time. An unparseable value falls back to the
// model default of 09:00.
func startTimeReached(localNow time.Time, startTime string) bool {
	parsed, err := time.Parse("15:04", startTime)
	if err != nil {
		parsed, _ = time.Parse("15:04", "09:00")
	}
	nowMinutes := localNow.Hour()*60 + localNow.Minute()
	startMinutes := parsed.Hour()*60 + parsed.Minute()
	return nowMinutes >= startMinutes
}
