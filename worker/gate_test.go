package worker

import (
	"testing"
	"time"

	"outreachly/models"
)

func TestGateUserSkipsWhenNotRunning(t *testing.T) {
	f := newFakeStore()
	user := seedRunningUser(f)
	s := newTestScheduler(f, &fakeMailer{})

	for _, status := range []string{models.AutomationPaused, models.AutomationStopped} {
		f.settings[user.ID].AutomationStatus = status
		if _, ok := s.gateUser(user); ok {
			t.Errorf("user with %s automation passed the gate", status)
		}
	}
}

func TestGateUserRespectsDailyStartTime(t *testing.T) {
	f := newFakeStore()
	user := seedRunningUser(f)
	f.settings[user.ID].StartTime = "09:00"
	f.settings[user.ID].Timezone = "America/New_York"

	s := newTestScheduler(f, &fakeMailer{})

	// Late March is EDT, offset -4: 12:30 UTC is 08:30 local, 13:00 is 09:00.
	s.now = func() time.Time { return time.Date(2026, 3, 25, 12, 30, 0, 0, time.UTC) }
	if _, ok := s.gateUser(user); ok {
		t.Error("gate passed before local start time")
	}

	s.now = func() time.Time { return time.Date(2026, 3, 25, 13, 0, 0, 0, time.UTC) }
	if _, ok := s.gateUser(user); !ok {
		t.Error("gate blocked at local start time")
	}
}

func TestGateUserSkipsExpiredTrial(t *testing.T) {
	f := newFakeStore()
	user := seedRunningUser(f)
	s := newTestScheduler(f, &fakeMailer{})

	user.CreatedAt = time.Now().Add(-15 * 24 * time.Hour) // free plan trial is 14 days
	if _, ok := s.gateUser(user); ok {
		t.Error("expired trial passed the gate")
	}

	user.CreatedAt = time.Now().Add(-13 * 24 * time.Hour)
	if _, ok := s.gateUser(user); !ok {
		t.Error("active trial blocked")
	}
}

func TestGateUserQuotaIsMinOfUserAndPlanLimits(t *testing.T) {
	f := newFakeStore()
	user := seedRunningUser(f)
	f.settings[user.ID].DailyLimit = 100
	f.plans["free"].DailySendLimit = 50

	s := newTestScheduler(f, &fakeMailer{})

	gate, ok := s.gateUser(user)
	if !ok {
		t.Fatal("gate blocked")
	}
	if gate.Remaining != 50 {
		t.Errorf("remaining = %d, want plan cap 50", gate.Remaining)
	}

	day := models.DayKey(time.Now(), time.UTC)
	f.usage[usageKey(user.ID, day)] = &models.DailyUsage{UserID: user.ID, Day: day, EmailsSent: 47}
	gate, ok = s.gateUser(user)
	if !ok {
		t.Fatal("gate blocked with quota remaining")
	}
	if gate.Remaining != 3 {
		t.Errorf("remaining = %d, want 3", gate.Remaining)
	}

	f.usage[usageKey(user.ID, day)].EmailsSent = 50
	if _, ok := s.gateUser(user); ok {
		t.Error("exhausted quota passed the gate")
	}
}

func TestGateUserSkipsWithoutSender(t *testing.T) {
	f := newFakeStore()
	user := seedRunningUser(f)
	delete(f.senders, user.ID)

	s := newTestScheduler(f, &fakeMailer{})
	if _, ok := s.gateUser(user); ok {
		t.Error("user without a connected sender passed the gate")
	}
}

func TestStartTimeReached(t *testing.T) {
	noon := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		start string
		want  bool
	}{
		{"09:00", true},
		{"12:00", true},
		{"12:01", false},
		{"23:30", false},
		{"garbage", true}, // falls back to 09:00
	}
	for _, tc := range cases {
		if got := startTimeReached(noon, tc.start); got != tc.want {
			t.Errorf("startTimeReached(noon, %q) = %v, want %v", tc.start, got, tc.want)
		}
	}
}

func TestLocationForFallsBackToUTC(t *testing.T) {
	s := newTestScheduler(newFakeStore(), &fakeMailer{})
	loc := s.locationFor(&models.CampaignSettings{Timezone: "Not/AZone"})
	if loc != time.UTC {
		t.Errorf("expected UTC fallback, got %v", loc)
	}
}
