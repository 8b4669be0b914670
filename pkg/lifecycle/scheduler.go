package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/platinummonkey/ledmatrix/pkg/observability"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// DefaultUpdateSchedule checks for updates daily at 04:00
const DefaultUpdateSchedule = "0 4 * * *"

// Scheduler runs UpdateAll on a cron schedule
type Scheduler struct {
	orchestrator *Orchestrator
	cron         *cron.Cron
	schedule     string
	timeout      time.Duration
	log          *logrus.Logger

	mu          sync.Mutex
	running     bool
	lastRun     time.Time
	lastResults []UpdateResult
}

// NewScheduler creates a scheduler for a standard five-field cron schedule.
// timeout bounds one whole run.
func NewScheduler(orchestrator *Orchestrator, schedule string, timeout time.Duration, log *logrus.Logger) (*Scheduler, error) {
	if log == nil {
		log = logrus.New()
	}
	if schedule == "" {
		schedule = DefaultUpdateSchedule
	}
	if timeout <= 0 {
		timeout = time.Hour
	}

	s := &Scheduler{
		orchestrator: orchestrator,
		cron:         cron.New(),
		schedule:     schedule,
		timeout:      timeout,
		log:          log,
	}

	if _, err := s.cron.AddFunc(schedule, func() {
		defer observability.RecoverPanic(s.log, "scheduled plugin update")
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		s.RunNow(ctx)
	}); err != nil {
		return nil, fmt.Errorf("invalid update schedule %q: %w", schedule, err)
	}

	return s, nil
}

// Start begins running on schedule
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Infof("Plugin update schedule: %s", s.schedule)
}

// Stop stops the schedule and waits for a running update pass
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunNow runs one update pass. A pass already in progress is not repeated;
// its caller gets nil.
func (s *Scheduler) RunNow(ctx context.Context) []UpdateResult {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.log.Warn("Update pass already running, skipping")
		return nil
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	s.log.Info("Checking installed plugins for updates")
	results, err := s.orchestrator.UpdateAll(ctx)
	if err != nil {
		s.log.Errorf("Update pass failed: %v", err)
		return nil
	}

	counts := map[Outcome]int{}
	for _, r := range results {
		counts[r.Outcome]++
	}
	s.log.WithFields(logrus.Fields{
		"updated":    counts[OutcomeUpdated],
		"up_to_date": counts[OutcomeUpToDate],
		"failed":     counts[OutcomeFailed],
	}).Info("Update pass complete")

	s.mu.Lock()
	s.lastRun = time.Now()
	s.lastResults = results
	s.mu.Unlock()

	return results
}

// LastRun returns when the last pass finished and what it did
func (s *Scheduler) LastRun() (time.Time, []UpdateResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun, s.lastResults
}
