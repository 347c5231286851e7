package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"launchledger/internal/domain"
	"launchledger/internal/engine"
)

// Cycler runs the daily cycle for a calendar day.
type Cycler interface {
	RunDailyCycle(ctx context.Context, today string) engine.CycleResult
}

// Scheduler fires the daily cycle on a cron schedule evaluated in UTC.
type Scheduler struct {
	cron     *cron.Cron
	schedule cron.Schedule
	cycler   Cycler
	log      logrus.FieldLogger
	now      func() time.Time
	timeout  time.Duration
}

// New parses a standard five-field cron spec.
func New(spec string, c Cycler, log logrus.FieldLogger) (*Scheduler, error) {
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", spec, err)
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Scheduler{
		cron:     cron.New(cron.WithLocation(time.UTC)),
		schedule: schedule,
		cycler:   c,
		log:      log.WithField("component", "scheduler"),
		now:      time.Now,
		timeout:  10 * time.Minute,
	}
	s.cron.Schedule(schedule, cron.FuncJob(s.RunOnce))
	return s, nil
}

// Next reports the first fire time after t.
func (s *Scheduler) Next(t time.Time) time.Time {
	return s.schedule.Next(t.UTC())
}

// RunOnce runs the cycle for the current UTC day.
func (s *Scheduler) RunOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	today := domain.DayOf(s.now())
	res := s.cycler.RunDailyCycle(ctx, today)
	entry := s.log.WithFields(logrus.Fields{
		"date":           today,
		"cycle_complete": res.CycleComplete,
		"next_cycle":     res.NextCycle,
	})
	if !res.CycleComplete {
		entry.WithFields(logrus.Fields{
			"flush_error":  res.FlushPrevious.Error,
			"create_error": res.CreateNew.Error,
		}).Error("scheduled daily cycle incomplete")
		return
	}
	entry.Info("scheduled daily cycle complete")
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.WithField("next", s.Next(s.now())).Info("scheduler started")
}

// Stop waits for a running cycle to finish or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

// CycleFunc adapts a function to Cycler.
type CycleFunc func(ctx context.Context, today string) engine.CycleResult

func (f CycleFunc) RunDailyCycle(ctx context.Context, today string) engine.CycleResult {
	return f(ctx, today)
}
