package worker

import (
	"errors"
	"fmt"
	"time"

	"outreachly/models"
)

// ErrMissingReference marks a data-integrity fault: a contact whose status
// implies a reference date that is absent. Such a contact is skipped and
// logged, never repaired, so a missing date can never be mistaken for
// "due now".
var ErrMissingReference = errors.New("required reference date is missing")

// sendStep describes the one send a contact is due for.
type sendStep struct {
	FollowupNumber int    // 0 = first touch
	LockStatus     string // transient status held while the send is in flight
	TargetStatus   string // status committed after transport success
	DateField      string // the single reference-date column set on commit
}

// nextStep decides whether and what to send for a contact right now.
//
// Returns (step, false, nil) when a send is due, (nil, false, nil) when
// nothing is due yet, (nil, true, nil) when the sequence is exhausted and the
// contact should move to rejected, and a non-nil error on a data-integrity
// fault. Each follow-up delay is measured in whole days from its own
// reference date and no other timestamp.
func nextStep(c *models.Contact, delays []int, maxFollowups int, now time.Time) (*sendStep, bool, error) {
	switch c.Status {
	case models.StatusNotSent:
		return &sendStep{
			FollowupNumber: 0,
			LockStatus:     models.StatusSending,
			TargetStatus:   models.StatusSent,
			DateField:      "first_email_date",
		}, false, nil

	case models.StatusSent:
		if maxFollowups < 1 {
			return nil, true, nil
		}
		if c.FirstEmailDate == nil {
			return nil, false, fmt.Errorf("%w: contact %d is %q with no first email date",
				ErrMissingReference, c.ID, c.Status)
		}
		if daysSince(*c.FirstEmailDate, now) < delayAt(delays, 0) {
			return nil, false, nil
		}
		return &sendStep{
			FollowupNumber: 1,
			LockStatus:     models.StatusSendingFollowup,
			TargetStatus:   models.StatusFollowup1,
			DateField:      "followup1_date",
		}, false, nil

	case models.StatusFollowup1:
		if maxFollowups < 2 {
			return nil, true, nil
		}
		if c.Followup1Date == nil {
			return nil, false, fmt.Errorf("%w: contact %d is %q with no followup 1 date",
				ErrMissingReference, c.ID, c.Status)
		}
		if daysSince(*c.Followup1Date, now) < delayAt(delays, 1) {
			return nil, false, nil
		}
		return &sendStep{
			FollowupNumber: 2,
			LockStatus:     models.StatusSendingFollowup,
			TargetStatus:   models.StatusFollowup2,
			DateField:      "followup2_date",
		}, false, nil

	case models.StatusFollowup2:
		// Nothing configured beyond follow-up 2.
		return nil, true, nil

	default:
		// Terminal or mid-send statuses: never act.
		return nil, false, nil
	}
}

func daysSince(ref, now time.Time) int {
	return int(now.Sub(ref).Hours() / 24)
}

func delayAt(delays []int, i int) int {
	if i < len(delays) {
		return delays[i]
	}
	if i < len(models.DefaultFollowupDelays) {
		return models.DefaultFollowupDelays[i]
	}
	return models.DefaultFollowupDelays[len(models.DefaultFollowupDelays)-1]
}
