package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"launchledger/internal/counter"
	"launchledger/internal/domain"
	"launchledger/internal/events"
	"launchledger/internal/repo"
)

var (
	ErrNotFound                = repo.ErrNotFound
	ErrAlreadyExists           = errors.New("a launch already exists for this date")
	ErrConflictingActiveLaunch = errors.New("another launch is already active")
	ErrAlreadyVoted            = errors.New("already voted")
	ErrNotVoted                = errors.New("not voted")
	ErrNoActiveLaunch          = errors.New("no active launch")
	ErrVotingClosed            = errors.New("voting is closed while the launch is flushing")
	ErrAppNotEligible          = errors.New("app is not eligible for voting")
	ErrLaunchNotActive         = errors.New("launch is not active")
	ErrFlushInProgress         = errors.New("flush already in progress")
)

// VoteConflictError carries the counter value alongside ErrAlreadyVoted or
// ErrNotVoted so callers can render the current count.
type VoteConflictError struct {
	Err   error
	Count int64
}

func (e VoteConflictError) Error() string {
	return fmt.Sprintf("%v (count %d)", e.Err, e.Count)
}

func (e VoteConflictError) Unwrap() error {
	return e.Err
}

// Counter is the fast-store surface the engine needs.
type Counter interface {
	Keys() counter.Keys
	Ping(ctx context.Context) error
	Counts(ctx context.Context, appIDs []string) (map[string]int64, error)
	Count(ctx context.Context, appID string) (int64, error)
	Incr(ctx context.Context, appID string, ttl time.Duration) (int64, error)
	DecrFloor(ctx context.Context, appID string) (int64, error)
	MarkVoted(ctx context.Context, voterID, appID string, ttl time.Duration) (bool, error)
	Unmark(ctx context.Context, voterID, appID string) (bool, error)
	VotedFor(ctx context.Context, voterID string, appIDs []string) ([]string, error)
	IsEligible(ctx context.Context, appID string) (bool, error)
	EligibleApps(ctx context.Context) ([]string, error)
	InitWindow(ctx context.Context, appIDs []string, ttl time.Duration, preserveCounts bool) error
	DrainCounters(ctx context.Context, appIDs []string, closeWindow bool) (map[string]int64, error)
	RestoreCounters(ctx context.Context, counts map[string]int64, ttl time.Duration) error
	DeleteVoterMarkers(ctx context.Context, appID string, batch int64) (int64, error)
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, error)
	ReleaseLock(ctx context.Context, key, token string) error
}

// Notifier invalidates cached pages on the public site.
type Notifier interface {
	Revalidate(ctx context.Context, path string) error
}

type Options struct {
	// WindowTTL bounds the eligibility set, the counters and the voter
	// markers so an unflushed launch eventually expires.
	WindowTTL       time.Duration
	FlushLockTTL    time.Duration
	MarkerScanBatch int64
	RevalidatePath  string
}

func DefaultOptions() Options {
	return Options{
		WindowTTL:       25 * time.Hour,
		FlushLockTTL:    5 * time.Minute,
		MarkerScanBatch: 500,
		RevalidatePath:  "/launch",
	}
}

type Engine struct {
	Repo     repo.Repo
	Counter  Counter
	Audit    events.Writer
	Notifier Notifier
	Options  Options
	Log      logrus.FieldLogger
	Now      func() time.Time
	// NextRun reports when the daily cycle fires next after t.
	NextRun func(t time.Time) time.Time
	NewID   func() string
}

func New(r repo.Repo, c Counter, opts Options) Engine {
	defaults := DefaultOptions()
	if opts.WindowTTL <= 0 {
		opts.WindowTTL = defaults.WindowTTL
	}
	if opts.FlushLockTTL <= 0 {
		opts.FlushLockTTL = defaults.FlushLockTTL
	}
	if opts.MarkerScanBatch <= 0 {
		opts.MarkerScanBatch = defaults.MarkerScanBatch
	}
	if opts.RevalidatePath == "" {
		opts.RevalidatePath = defaults.RevalidatePath
	}
	return Engine{
		Repo:    r,
		Counter: c,
		Audit:   events.Writer{Store: r},
		Options: opts,
		Log:     logrus.StandardLogger(),
		Now:     time.Now,
		NewID:   uuid.NewString,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) log(op string) logrus.FieldLogger {
	l := e.Log
	if l == nil {
		l = logrus.StandardLogger()
	}
	return l.WithField("op", op)
}

func (e Engine) newID() string {
	if e.NewID != nil {
		return e.NewID()
	}
	return uuid.NewString()
}

func (e Engine) nextRun(t time.Time) time.Time {
	if e.NextRun != nil {
		return e.NextRun(t)
	}
	day := t.UTC().Truncate(24 * time.Hour)
	return day.Add(24 * time.Hour)
}

// revalidate fires the cache-invalidation notification. It never fails the caller.
func (e Engine) revalidate(ctx context.Context) {
	if e.Notifier == nil {
		return
	}
	if err := e.Notifier.Revalidate(ctx, e.Options.RevalidatePath); err != nil {
		e.log("revalidate").WithError(err).Debug("revalidation skipped")
	}
}

// CurrentDay is today's UTC calendar day on the engine clock.
func (e Engine) CurrentDay() string {
	return domain.DayOf(e.now())
}

// Health pings both stores.
func (e Engine) Health(ctx context.Context) map[string]error {
	out := map[string]error{"database": nil, "redis": nil}
	if e.Repo.DB == nil {
		out["database"] = errors.New("database not configured")
	} else {
		out["database"] = e.Repo.DB.PingContext(ctx)
	}
	if e.Counter == nil {
		out["redis"] = errors.New("redis not configured")
	} else {
		out["redis"] = e.Counter.Ping(ctx)
	}
	return out
}
