// Package scheduler fires the daily fetch-aggregate cycle at a fixed local time.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/example/latency-dashboard/internal/apperror"
	"github.com/example/latency-dashboard/internal/usecase"
)

// DailyRunner runs one daily cycle.
type DailyRunner interface {
	RunDaily(ctx context.Context) (*usecase.DateResult, error)
}

// Run describes the most recent scheduled cycle.
type Run struct {
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt time.Time          `json:"finished_at"`
	Date       string             `json:"date,omitempty"`
	Status     string             `json:"status"`
	Error      *usecase.ErrorInfo `json:"error,omitempty"`
}

// Status is the scheduler's externally visible state.
type Status struct {
	Enabled  bool       `json:"enabled"`
	Schedule string     `json:"schedule"`
	NextRun  *time.Time `json:"next_run,omitempty"`
	LastRun  *Run       `json:"last_run,omitempty"`
}

// Scheduler triggers the daily cycle. A failed cycle is logged and the next one still fires.
type Scheduler struct {
	cron     *cron.Cron
	entry    cron.EntryID
	runner   DailyRunner
	schedule string
	timeout  time.Duration
	clock    func() time.Time
	logger   *zap.Logger

	mu      sync.Mutex
	lastRun *Run
	ctx     context.Context
	cancel  context.CancelFunc
}

// New builds a scheduler that runs at hour:minute in loc every day.
// timeout bounds a single cycle.
func New(runner DailyRunner, hour, minute int, loc *time.Location, timeout time.Duration, logger *zap.Logger) (*Scheduler, error) {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return nil, apperror.New(apperror.KindConfig, "invalid schedule time %02d:%02d", hour, minute)
	}
	if loc == nil {
		loc = time.Local
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron:     cron.New(cron.WithLocation(loc)),
		runner:   runner,
		schedule: fmt.Sprintf("%d %d * * *", minute, hour),
		timeout:  timeout,
		clock:    time.Now,
		logger:   logger.Named("scheduler"),
		ctx:      ctx,
		cancel:   cancel,
	}
	entry, err := s.cron.AddFunc(s.schedule, s.trigger)
	if err != nil {
		cancel()
		return nil, apperror.Wrap(apperror.KindConfig, err, "register daily schedule")
	}
	s.entry = entry
	return s, nil
}

// Start begins firing in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", zap.String("schedule", s.schedule), zap.Time("next_run", s.cron.Entry(s.entry).Next))
}

// Stop halts future triggers, cancels a running cycle and waits for it or ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	s.cancel()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn("scheduler stop timed out with a cycle still running")
	}
}

// Status reports the schedule and the last run.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	status := Status{Enabled: true, Schedule: s.schedule}
	// Next stays zero until the cron loop has started.
	if next := s.cron.Entry(s.entry).Next; !next.IsZero() {
		status.NextRun = &next
	}
	if s.lastRun != nil {
		last := *s.lastRun
		status.LastRun = &last
	}
	return status
}

func (s *Scheduler) trigger() {
	ctx := s.ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	s.RunOnce(ctx)
}

// RunOnce runs a daily cycle now and records its outcome.
func (s *Scheduler) RunOnce(ctx context.Context) *Run {
	run := &Run{StartedAt: s.clock().UTC()}
	result, err := s.runner.RunDaily(ctx)
	run.FinishedAt = s.clock().UTC()
	if result != nil {
		run.Date = result.Date
		run.Status = result.Status
		run.Error = result.Error
	}
	if err != nil {
		run.Status = usecase.StatusFailed
		if run.Error == nil {
			run.Error = &usecase.ErrorInfo{Kind: apperror.KindOf(err), Message: apperror.MessageOf(err)}
		}
		s.logger.Error("daily cycle failed", zap.String("date", run.Date), zap.Error(err))
	} else {
		s.logger.Info("daily cycle finished", zap.String("date", run.Date), zap.String("status", run.Status))
	}

	s.mu.Lock()
	s.lastRun = run
	s.mu.Unlock()
	return run
}
