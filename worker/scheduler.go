package worker

import (
	"context"
	"time"

	"github.com/getsentry/sentry-go"
)

// Start launches both cycles. It returns immediately; Stop shuts them down.
func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		cancel()
		s.log.Warn("scheduler already started")
		return
	}
	s.cancel = cancel
	s.mu.Unlock()

	s.log.Infof("scheduler starting (send every %s, reply check every %s)",
		s.cfg.SendInterval, s.cfg.ReplyInterval)

	s.wg.Add(2)
	go s.runLoop(ctx, "send", s.cfg.SendInterval, s.RunSendCycleNow)
	go s.runLoop(ctx, "reply", s.cfg.ReplyInterval, s.RunReplyCycleNow)
}

// Stop cancels both cycles and waits for in-flight work to finish its
// current step. A contact mid-send is allowed to complete and commit; it is
// never hard-aborted between transmission and commit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
	s.log.Info("scheduler stopped")
}

func (s *Scheduler) runLoop(ctx context.Context, name string, interval time.Duration, run func(context.Context) bool) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Infof("%s cycle loop shutting down", name)
			return
		case <-ticker.C:
			run(ctx)
		}
	}
}

// RunSendCycleNow runs one send cycle unless one is already in progress, in
// which case the tick is skipped outright rather than queued. A single cycle
// can legitimately outlast its own period because of the mandatory inter-send
// delay. Returns whether the cycle actually ran.
func (s *Scheduler) RunSendCycleNow(ctx context.Context) bool {
	if !s.sendInProgress.CompareAndSwap(false, true) {
		s.log.Info("send cycle still in progress, skipping tick")
		return false
	}
	defer s.sendInProgress.Store(false)
	defer s.recoverCycle("send")

	s.runSendCycle(ctx)

	finished := s.now()
	s.mu.Lock()
	s.lastSendCycle = &finished
	s.mu.Unlock()
	return true
}

// RunReplyCycleNow is the reply-check counterpart of RunSendCycleNow, with
// its own independent guard.
func (s *Scheduler) RunReplyCycleNow(ctx context.Context) bool {
	if !s.replyInProgress.CompareAndSwap(false, true) {
		s.log.Info("reply cycle still in progress, skipping tick")
		return false
	}
	defer s.replyInProgress.Store(false)
	defer s.recoverCycle("reply")

	s.runReplyCycle(ctx)

	finished := s.now()
	s.mu.Lock()
	s.lastReplyCycle = &finished
	s.mu.Unlock()
	return true
}

// recoverCycle keeps a panicking cycle from taking down the host process.
func (s *Scheduler) recoverCycle(name string) {
	if r := recover(); r != nil {
		sentry.CurrentHub().Recover(r)
		s.log.Errorf("%s cycle panicked: %v", name, r)
	}
}

// sleep pauses for d unless the context is cancelled first.
func (s *Scheduler) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
