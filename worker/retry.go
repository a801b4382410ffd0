package worker

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"outreachly/mailer"
)

const maxSendAttempts = 3

// sendWithRetry runs fn up to maxSendAttempts times, backing off between
// attempts. Only errors that look transient are retried; a permanent SMTP
// rejection fails immediately. Either way the transport's error is returned
// unchanged, so the failure record carries it verbatim.
func (s *Scheduler) sendWithRetry(ctx context.Context, log *logrus.Entry, fn func() (mailer.SendResult, error)) (mailer.SendResult, error) {
	var lastErr error
	backoff := s.cfg.RetryBase

	for attempt := 1; attempt <= maxSendAttempts; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !isRetryableSendError(err) {
			return mailer.SendResult{}, err
		}
		if attempt == maxSendAttempts {
			break
		}

		log.WithError(err).Warnf("transient send failure, retrying in %s (attempt %d/%d)", backoff, attempt, maxSendAttempts)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return mailer.SendResult{}, ctx.Err()
		}
		backoff *= 2
	}

	log.Warnf("giving up after %d attempts", maxSendAttempts)
	return mailer.SendResult{}, lastErr
}

// isRetryableSendError reports whether an SMTP or network error is worth
// another attempt. 4xx SMTP codes are transient by definition; 5xx codes and
// authentication failures are not.
func isRetryableSendError(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	transient := []string{
		"421", "450", "451", "452",
		"rate limit",
		"too many",
		"try again",
		"temporar",
		"connection reset",
		"connection refused",
		"broken pipe",
		"timeout",
		"no such host",
		"eof",
	}
	for _, marker := range transient {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
