package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"launchledger/internal/domain"
	"launchledger/internal/events"
	"launchledger/internal/metrics"
)

// StepResult is the outcome of one daily-cycle step. Steps never return
// errors; failures are reported here.
type StepResult struct {
	Success    bool             `json:"success"`
	Message    string           `json:"message"`
	Error      string           `json:"error,omitempty"`
	Date       string           `json:"date,omitempty"`
	VoteCounts map[string]int64 `json:"voteCounts,omitempty"`
	AppIDs     []string         `json:"appIds,omitempty"`
	Skipped    bool             `json:"skipped,omitempty"`
}

func stepFailed(msg string, err error) StepResult {
	return StepResult{Message: msg, Error: err.Error()}
}

type CycleResult struct {
	Today         string     `json:"today"`
	FlushPrevious StepResult `json:"flushPrevious"`
	CreateNew     StepResult `json:"createNew"`
	CycleComplete bool       `json:"cycleComplete"`
	NextCycle     string     `json:"nextCycle"`
}

const cycleJob = "daily-cycle"

// RunDailyCycle flushes the previous day's launch and opens today's. The two
// steps run independently and both outcomes are reported. Re-running it for
// the same day is safe.
func (e Engine) RunDailyCycle(ctx context.Context, today string) CycleResult {
	start := e.now()
	log := e.log("daily_cycle").WithField("date", today)
	e.Audit.Cron(ctx, cycleJob, domain.AuditStart, "daily cycle started", events.Payload{"today": today})

	res := CycleResult{Today: today, NextCycle: e.nextRun(start).UTC().Format(time.RFC3339)}
	if err := domain.ValidateDate(today); err != nil {
		res.FlushPrevious = stepFailed("invalid date", err)
		res.CreateNew = stepFailed("invalid date", err)
	} else {
		res.FlushPrevious = e.flushPrevious(ctx, today)
		res.CreateNew = e.createToday(ctx, today)
	}
	res.CycleComplete = res.FlushPrevious.Success && res.CreateNew.Success

	metrics.RecordCycle(res.CycleComplete, e.now().Sub(start))
	status := domain.AuditEnd
	if !res.CycleComplete {
		status = domain.AuditError
	}
	e.Audit.Cron(ctx, cycleJob, status, "daily cycle finished", events.Payload{
		"today":          today,
		"cycle_complete": res.CycleComplete,
		"flush_previous": res.FlushPrevious.Message,
		"create_new":     res.CreateNew.Message,
	})
	log.WithField("complete", res.CycleComplete).Info("daily cycle finished")
	return res
}

func (e Engine) flushPrevious(ctx context.Context, today string) StepResult {
	if r, ok := e.resumeInterrupted(ctx); !ok {
		return r
	}
	active, err := e.GetActiveLaunch(ctx)
	if err != nil {
		return stepFailed("could not read active launch", err)
	}
	if active == nil {
		return StepResult{Success: true, Message: "no active launch to flush", Skipped: true}
	}
	if active.Date == today {
		return StepResult{Success: true, Message: "active launch is today's; not flushing", Date: today, Skipped: true}
	}
	flushed, err := e.FlushLaunch(ctx, active.Date)
	if err != nil {
		r := stepFailed(fmt.Sprintf("flush of %s failed", active.Date), err)
		r.Date = active.Date
		return r
	}
	e.revalidate(ctx)
	return StepResult{Success: true, Message: flushed.Message, Date: active.Date, VoteCounts: flushed.VoteCounts}
}

// resumeInterrupted finishes flushes a crashed run left in flushing. A flush
// still running elsewhere is left to its holder.
func (e Engine) resumeInterrupted(ctx context.Context) (StepResult, bool) {
	stuck, err := e.Repo.ListLaunchesByStatus(ctx, domain.LaunchFlushing, 10)
	if err != nil {
		return stepFailed("could not read interrupted flushes", err), false
	}
	for _, l := range stuck {
		if _, err := e.FlushLaunch(ctx, l.Date); err != nil && !errors.Is(err, ErrFlushInProgress) {
			r := stepFailed(fmt.Sprintf("resume flush of %s failed", l.Date), err)
			r.Date = l.Date
			return r, false
		}
	}
	return StepResult{}, true
}

func (e Engine) createToday(ctx context.Context, today string) StepResult {
	appIDs, err := e.Repo.AppsScheduledFor(ctx, today)
	if err != nil {
		return stepFailed("could not read scheduled apps", err)
	}
	if len(appIDs) == 0 {
		return StepResult{Success: true, Message: "no apps scheduled for today", Date: today, Skipped: true}
	}
	l, err := e.CreateLaunch(ctx, CreateLaunchOptions{
		Date:      today,
		AppIDs:    appIDs,
		Name:      "Launch " + today,
		CreatedBy: "cron",
	})
	if errors.Is(err, ErrAlreadyExists) {
		return StepResult{Success: true, Message: "launch already exists for today", Date: today, Skipped: true}
	}
	if err != nil {
		r := stepFailed("create launch failed", err)
		r.Date = today
		return r
	}
	e.revalidate(ctx)
	return StepResult{Success: true, Message: "launch created", Date: today, AppIDs: l.Apps}
}

// ScheduleApp sets the day an app enters the daily cycle.
func (e Engine) ScheduleApp(ctx context.Context, appID, date string) error {
	if err := domain.ValidateAppID(appID); err != nil {
		return err
	}
	if date != "" {
		if err := domain.ValidateDate(date); err != nil {
			return err
		}
	}
	return e.Repo.SetAppLaunchDate(ctx, appID, date)
}
