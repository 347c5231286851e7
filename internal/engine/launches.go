package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"launchledger/internal/domain"
	"launchledger/internal/events"
	"launchledger/internal/repo"
)

// CreateLaunchOptions are parameters for opening a launch.
type CreateLaunchOptions struct {
	ID        string
	Date      string
	AppIDs    []string
	Name      string
	CreatedBy string
	Manual    bool
	Options   map[string]any
}

// CreateLaunch records an active launch for opts.Date and opens its voting
// window in the fast store. The durable insert is the commit point: if the
// window batch fails afterwards the launch stays active and
// RepairActiveLaunchRedis restores the window.
func (e Engine) CreateLaunch(ctx context.Context, opts CreateLaunchOptions) (domain.Launch, error) {
	log := e.log("create_launch").WithField("date", opts.Date)
	id := opts.ID
	if id == "" {
		id = e.newID()
	}
	l, err := domain.NewLaunch(id, opts.Date, opts.AppIDs, domain.LaunchMetadata{
		Name:      opts.Name,
		CreatedBy: opts.CreatedBy,
		Manual:    opts.Manual,
		Options:   opts.Options,
	}, e.now())
	if err != nil {
		return domain.Launch{}, err
	}

	if _, err := e.Repo.GetLaunchByDate(ctx, l.Date); err == nil {
		return domain.Launch{}, ErrAlreadyExists
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Launch{}, fmt.Errorf("lookup launch: %w", err)
	}
	if active, err := e.Repo.GetActiveLaunch(ctx); err == nil {
		log.WithField("active_date", active.Date).Info("create rejected: launch already active")
		return domain.Launch{}, ErrConflictingActiveLaunch
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Launch{}, fmt.Errorf("lookup active launch: %w", err)
	}

	if err := e.Repo.InsertLaunch(ctx, l); err != nil {
		switch {
		case errors.Is(err, repo.ErrDuplicateDate):
			return domain.Launch{}, ErrAlreadyExists
		case errors.Is(err, repo.ErrDuplicateActive):
			return domain.Launch{}, ErrConflictingActiveLaunch
		}
		return domain.Launch{}, err
	}

	winErr := e.Counter.InitWindow(ctx, l.Apps, e.Options.WindowTTL, false)
	if winErr != nil {
		log.WithError(winErr).Error("launch stored but voting window init failed; run repair")
	} else {
		log.WithField("apps", len(l.Apps)).Info("launch created")
	}
	e.Audit.Maintenance(ctx, "launch.create", winErr, events.Payload{
		"date":      l.Date,
		"launch_id": l.ID,
		"apps":      l.Apps,
		"manual":    l.Manual,
	})
	return l, nil
}

// GetActiveLaunch returns nil when no launch is active.
func (e Engine) GetActiveLaunch(ctx context.Context) (*domain.Launch, error) {
	l, err := e.Repo.GetActiveLaunch(ctx)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// GetLaunchStatus reports whether voting is open. A launch mid-flush still
// counts as the active launch but with voting closed.
func (e Engine) GetLaunchStatus(ctx context.Context) (domain.LaunchStatus, error) {
	l, err := e.Repo.GetCurrentLaunch(ctx)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.LaunchStatus{}, nil
	}
	if err != nil {
		return domain.LaunchStatus{}, err
	}
	return domain.LaunchStatus{
		HasActiveLaunch:      true,
		IsFlushingInProgress: l.Status == domain.LaunchFlushing,
		ActiveDate:           l.Date,
	}, nil
}

// GetLaunchByDate returns nil when no launch exists for date.
func (e Engine) GetLaunchByDate(ctx context.Context, date string) (*domain.Launch, error) {
	if err := domain.ValidateDate(date); err != nil {
		return nil, err
	}
	l, err := e.Repo.GetLaunchByDate(ctx, date)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (e Engine) ListFlushedLaunches(ctx context.Context, limit int) ([]domain.Launch, error) {
	if limit <= 0 {
		limit = 10
	}
	launches, err := e.Repo.ListLaunchesByStatus(ctx, domain.LaunchFlushed, limit)
	if err != nil {
		return nil, err
	}
	if launches == nil {
		launches = []domain.Launch{}
	}
	return launches, nil
}

// LaunchHistory is a launch with the per-app counts its flush recorded.
type LaunchHistory struct {
	Launch  domain.Launch         `json:"launch"`
	Results []domain.LaunchResult `json:"results"`
}

func (e Engine) GetLaunchHistory(ctx context.Context, date string) (LaunchHistory, error) {
	l, err := e.GetLaunchByDate(ctx, date)
	if err != nil {
		return LaunchHistory{}, err
	}
	if l == nil {
		return LaunchHistory{}, ErrNotFound
	}
	results, err := e.Repo.LaunchResults(ctx, l.ID)
	if err != nil {
		return LaunchHistory{}, err
	}
	if results == nil {
		results = []domain.LaunchResult{}
	}
	return LaunchHistory{Launch: *l, Results: results}, nil
}

// TodayView is the public snapshot of the current voting window.
type TodayView struct {
	Date        string           `json:"date"`
	Premium     []domain.App     `json:"premium"`
	NonPremium  []domain.App     `json:"nonPremium"`
	Votes       map[string]int64 `json:"votes"`
	VotedAppIDs []string         `json:"votedAppIds"`
}

// Today lists the active launch's apps split by premium flag with live counts.
// voterID may be empty.
func (e Engine) Today(ctx context.Context, voterID string) (TodayView, error) {
	view := TodayView{
		Premium:     []domain.App{},
		NonPremium:  []domain.App{},
		Votes:       map[string]int64{},
		VotedAppIDs: []string{},
	}
	l, err := e.GetActiveLaunch(ctx)
	if err != nil || l == nil {
		return view, err
	}
	view.Date = l.Date
	apps, err := e.Repo.GetApps(ctx, l.Apps)
	if err != nil {
		return view, fmt.Errorf("load apps: %w", err)
	}
	ids := make([]string, 0, len(apps))
	for _, a := range apps {
		ids = append(ids, a.ID)
		if a.IsPremium {
			view.Premium = append(view.Premium, a)
		} else {
			view.NonPremium = append(view.NonPremium, a)
		}
	}
	if view.Votes, err = e.GetCurrentVoteCounts(ctx, ids); err != nil {
		return view, err
	}
	if voterID != "" {
		if view.VotedAppIDs, err = e.HasVoted(ctx, voterID, ids); err != nil {
			return view, err
		}
	}
	e.log("today").WithFields(logrus.Fields{"date": l.Date, "apps": len(ids)}).Debug("today view")
	return view, nil
}
