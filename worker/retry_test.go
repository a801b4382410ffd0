package worker

import (
	"context"
	"errors"
	"testing"

	"outreachly/mailer"
)

type timeoutError struct{}

func (timeoutError) Error() string   { return "dial tcp: i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func TestIsRetryableSendError(t *testing.T) {
	retryable := []error{
		errors.New("450 4.2.1 mailbox busy"),
		errors.New("421 service not available"),
		errors.New("rate limit exceeded for sender"),
		errors.New("read: connection reset by peer"),
		errors.New("unexpected EOF"),
		timeoutError{},
	}
	for _, err := range retryable {
		if !isRetryableSendError(err) {
			t.Errorf("expected retryable: %v", err)
		}
	}

	permanent := []error{
		nil,
		errors.New("550 5.1.1 user unknown"),
		errors.New("535 authentication credentials invalid"),
		errors.New("553 relaying denied"),
	}
	for _, err := range permanent {
		if isRetryableSendError(err) {
			t.Errorf("expected permanent: %v", err)
		}
	}
}

func TestSendWithRetryRecoversFromTransientFailures(t *testing.T) {
	s := newTestScheduler(newFakeStore(), &fakeMailer{})

	calls := 0
	result, err := s.sendWithRetry(context.Background(), s.log, func() (mailer.SendResult, error) {
		calls++
		if calls < 3 {
			return mailer.SendResult{}, errors.New("451 try again later")
		}
		return mailer.SendResult{MessageID: "<ok@test>"}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
	if result.MessageID != "<ok@test>" {
		t.Errorf("unexpected result %+v", result)
	}
}

func TestSendWithRetryStopsOnPermanentError(t *testing.T) {
	s := newTestScheduler(newFakeStore(), &fakeMailer{})

	calls := 0
	_, err := s.sendWithRetry(context.Background(), s.log, func() (mailer.SendResult, error) {
		calls++
		return mailer.SendResult{}, errors.New("550 user unknown")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("permanent error should not be retried, got %d attempts", calls)
	}
}

func TestSendWithRetryGivesUpAfterMaxAttempts(t *testing.T) {
	s := newTestScheduler(newFakeStore(), &fakeMailer{})

	calls := 0
	_, err := s.sendWithRetry(context.Background(), s.log, func() (mailer.SendResult, error) {
		calls++
		return mailer.SendResult{}, errors.New("421 too many connections")
	})
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if calls != maxSendAttempts {
		t.Errorf("expected %d attempts, got %d", maxSendAttempts, calls)
	}
}

func TestSendWithRetryReturnsTransportErrorVerbatim(t *testing.T) {
	s := newTestScheduler(newFakeStore(), &fakeMailer{})

	permanent := errors.New("550 5.1.1 user unknown")
	_, err := s.sendWithRetry(context.Background(), s.log, func() (mailer.SendResult, error) {
		return mailer.SendResult{}, permanent
	})
	if err != permanent {
		t.Errorf("permanent error was wrapped: %v", err)
	}

	transient := errors.New("451 try again later")
	_, err = s.sendWithRetry(context.Background(), s.log, func() (mailer.SendResult, error) {
		return mailer.SendResult{}, transient
	})
	if err != transient {
		t.Errorf("exhaustion error was wrapped: %v", err)
	}
}

func TestSendWithRetryHonorsCancellation(t *testing.T) {
	s := newTestScheduler(newFakeStore(), &fakeMailer{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	_, err := s.sendWithRetry(ctx, s.log, func() (mailer.SendResult, error) {
		calls++
		return mailer.SendResult{}, errors.New("451 try again")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 attempt before cancellation, got %d", calls)
	}
}
