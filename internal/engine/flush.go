package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"launchledger/internal/counter"
	"launchledger/internal/domain"
	"launchledger/internal/events"
	"launchledger/internal/metrics"
	"launchledger/internal/repo"
)

type FlushResult struct {
	Success    bool             `json:"success"`
	Message    string           `json:"message"`
	VoteCounts map[string]int64 `json:"voteCounts"`
	Launch     *domain.Launch   `json:"launch,omitempty"`
}

func alreadyFlushed(l domain.Launch) FlushResult {
	return FlushResult{Success: true, Message: "launch already flushed", VoteCounts: map[string]int64{}, Launch: &l}
}

// FlushLaunch moves the launch's live counters into durable totals, clears
// its fast-store state and marks it flushed. Flushing an already flushed
// launch succeeds without touching totals. A launch left in flushing by an
// interrupted run is resumed by the next caller that gets the flush lock.
// Any other failure after voting closes reverts the launch to active so the
// flush can be retried.
func (e Engine) FlushLaunch(ctx context.Context, date string) (FlushResult, error) {
	log := e.log("flush").WithField("date", date)
	if err := domain.ValidateDate(date); err != nil {
		return FlushResult{}, err
	}
	l, err := e.Repo.GetLaunchByDate(ctx, date)
	if err != nil {
		return FlushResult{}, err
	}
	switch l.Status {
	case domain.LaunchFlushed:
		log.Info("launch already flushed")
		return alreadyFlushed(l), nil
	case domain.LaunchActive, domain.LaunchFlushing:
	default:
		return FlushResult{}, ErrLaunchNotActive
	}

	lockKey := e.Counter.Keys().FlushLock(date)
	token, err := e.Counter.AcquireLock(ctx, lockKey, e.Options.FlushLockTTL)
	if errors.Is(err, counter.ErrLockHeld) {
		return FlushResult{}, ErrFlushInProgress
	}
	if err != nil {
		return FlushResult{}, err
	}
	defer func() {
		if err := e.Counter.ReleaseLock(context.WithoutCancel(ctx), lockKey, token); err != nil {
			log.WithError(err).Warn("release flush lock failed")
		}
	}()

	// Another holder may have finished between the first read and the lock.
	if l, err = e.Repo.GetLaunchByDate(ctx, date); err != nil {
		return FlushResult{}, err
	}
	switch l.Status {
	case domain.LaunchFlushed:
		return alreadyFlushed(l), nil
	case domain.LaunchFlushing:
		log.Warn("resuming interrupted flush")
	case domain.LaunchActive:
		if err := e.Repo.TransitionLaunch(ctx, date, domain.LaunchActive, domain.LaunchFlushing, nil); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return FlushResult{}, ErrFlushInProgress
			}
			return FlushResult{}, fmt.Errorf("close voting: %w", err)
		}
	default:
		return FlushResult{}, ErrLaunchNotActive
	}

	if err := e.reconcile(ctx, log, l); err != nil {
		e.reopen(context.WithoutCancel(ctx), log, date)
		log.WithError(err).Error("flush failed")
		metrics.RecordFlush(false, 0)
		e.Audit.Maintenance(ctx, "launch.flush", err, events.Payload{"date": date})
		return FlushResult{}, err
	}

	counts, err := e.recordedCounts(ctx, l.ID)
	if err != nil {
		return FlushResult{}, err
	}
	var total int64
	for _, n := range counts {
		total += n
	}
	flushed, err := e.Repo.GetLaunchByDate(ctx, date)
	if err != nil {
		return FlushResult{}, err
	}
	metrics.RecordFlush(true, total)
	e.Audit.Maintenance(ctx, "launch.flush", nil, events.Payload{"date": date, "vote_counts": counts})
	log.WithFields(logrus.Fields{"apps": len(counts), "votes": total}).Info("launch flushed")
	return FlushResult{
		Success:    true,
		Message:    fmt.Sprintf("flushed launch %s", date),
		VoteCounts: counts,
		Launch:     &flushed,
	}, nil
}

// reconcile runs the flush steps that happen while voting is closed. Counters
// are drained before the durable write and restored if that write fails.
func (e Engine) reconcile(ctx context.Context, log logrus.FieldLogger, l domain.Launch) error {
	apps, owner, err := e.windowApps(ctx, log, l)
	if err != nil {
		return err
	}
	drained, err := e.Counter.DrainCounters(ctx, apps, owner)
	if err != nil {
		return err
	}
	counts := make(map[string]int64, len(drained))
	for appID, n := range drained {
		if n > 0 {
			counts[appID] = n
		}
	}
	if err := e.Repo.RecordLaunchResults(ctx, l.ID, l.Date, counts, e.now()); err != nil {
		if rerr := e.Counter.RestoreCounters(context.WithoutCancel(ctx), counts, e.Options.WindowTTL); rerr != nil {
			log.WithError(rerr).WithField("vote_counts", counts).Error("restore drained counters failed")
		}
		return fmt.Errorf("record totals: %w", err)
	}

	for _, appID := range apps {
		n, err := e.Counter.DeleteVoterMarkers(ctx, appID, e.Options.MarkerScanBatch)
		if err != nil {
			return err
		}
		log.WithFields(logrus.Fields{"app_id": appID, "markers": n}).Debug("voter markers removed")
	}

	flushedAt := e.now().UTC()
	if err := e.Repo.TransitionLaunch(ctx, l.Date, domain.LaunchFlushing, domain.LaunchFlushed, &flushedAt); err != nil {
		return fmt.Errorf("mark flushed: %w", err)
	}
	return nil
}

// windowApps returns the apps whose fast-store state belongs to l. When a
// later launch is already active, l no longer owns the window: its
// eligibility set is kept and apps shared with it are left alone.
func (e Engine) windowApps(ctx context.Context, log logrus.FieldLogger, l domain.Launch) ([]string, bool, error) {
	active, err := e.Repo.GetActiveLaunch(ctx)
	if errors.Is(err, repo.ErrNotFound) {
		return l.Apps, true, nil
	}
	if err != nil {
		return nil, false, err
	}
	if active.ID == l.ID {
		return l.Apps, true, nil
	}
	shared := make(map[string]bool, len(active.Apps))
	for _, id := range active.Apps {
		shared[id] = true
	}
	var apps []string
	for _, id := range l.Apps {
		if shared[id] {
			log.WithFields(logrus.Fields{"app_id": id, "active_date": active.Date}).Warn("app counter belongs to the active launch; skipped")
			continue
		}
		apps = append(apps, id)
	}
	return apps, false, nil
}

// reopen puts a failed flush back to active. If another launch became active
// meanwhile the launch stays in flushing and the next flush resumes it.
func (e Engine) reopen(ctx context.Context, log logrus.FieldLogger, date string) {
	err := e.Repo.TransitionLaunch(ctx, date, domain.LaunchFlushing, domain.LaunchActive, nil)
	switch {
	case err == nil:
		log.Warn("launch reverted to active")
	case errors.Is(err, repo.ErrDuplicateActive):
		log.Warn("another launch is active; launch left flushing for a later retry")
	default:
		log.WithError(err).Error("revert to active failed")
	}
}

// recordedCounts returns the votes every attempt has recorded for a launch.
func (e Engine) recordedCounts(ctx context.Context, launchID string) (map[string]int64, error) {
	results, err := e.Repo.LaunchResults(ctx, launchID)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64, len(results))
	for _, r := range results {
		counts[r.AppID] = r.Votes
	}
	return counts, nil
}
