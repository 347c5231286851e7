package repo_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"launchledger/internal/db"
	"launchledger/internal/domain"
	"launchledger/internal/migrate"
	"launchledger/internal/repo"
)

func newRepo(t *testing.T) repo.Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Path: filepath.Join(t.TempDir(), "ledger.db")})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_, err = migrate.Migrate(context.Background(), conn)
	require.NoError(t, err)
	return repo.Repo{DB: conn}
}

var now = time.Date(2024, 5, 1, 6, 0, 0, 0, time.UTC)

func mustLaunch(t *testing.T, id, date string, apps ...string) domain.Launch {
	t.Helper()
	l, err := domain.NewLaunch(id, date, apps, domain.LaunchMetadata{Name: "daily", Options: map[string]any{"featured": true}}, now)
	require.NoError(t, err)
	return l
}

func TestInsertAndGetLaunch(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	require.NoError(t, r.InsertLaunch(ctx, mustLaunch(t, "l1", "2024-05-01", "appB", "appA")))

	got, err := r.GetLaunchByDate(ctx, "2024-05-01")
	require.NoError(t, err)
	assert.Equal(t, []string{"appB", "appA"}, got.Apps)
	assert.Equal(t, domain.LaunchActive, got.Status)
	assert.Equal(t, "daily", got.Name)
	assert.Equal(t, true, got.Options["featured"])
	assert.True(t, got.CreatedAt.Equal(now))

	active, err := r.GetActiveLaunch(ctx)
	require.NoError(t, err)
	assert.Equal(t, "l1", active.ID)

	_, err = r.GetLaunchByDate(ctx, "2024-05-02")
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestUniqueIndexesGuardLaunches(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	require.NoError(t, r.InsertLaunch(ctx, mustLaunch(t, "l1", "2024-05-01", "appA")))

	err := r.InsertLaunch(ctx, mustLaunch(t, "l3", "2024-05-02", "appA"))
	assert.ErrorIs(t, err, repo.ErrDuplicateActive)

	require.NoError(t, r.TransitionLaunch(ctx, "2024-05-01", domain.LaunchActive, domain.LaunchFlushed, &now))
	err = r.InsertLaunch(ctx, mustLaunch(t, "l2", "2024-05-01", "appA"))
	assert.ErrorIs(t, err, repo.ErrDuplicateDate)

	// a failed insert leaves no orphan app rows behind
	_, err = r.GetLaunchByDate(ctx, "2024-05-02")
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestTransitionLaunchIsFiltered(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	require.NoError(t, r.InsertLaunch(ctx, mustLaunch(t, "l1", "2024-05-01", "appA")))

	require.NoError(t, r.TransitionLaunch(ctx, "2024-05-01", domain.LaunchActive, domain.LaunchFlushing, nil))
	err := r.TransitionLaunch(ctx, "2024-05-01", domain.LaunchActive, domain.LaunchFlushing, nil)
	assert.True(t, errors.Is(err, repo.ErrNotFound))

	cur, err := r.GetCurrentLaunch(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.LaunchFlushing, cur.Status)

	flushedAt := now.Add(24 * time.Hour)
	require.NoError(t, r.TransitionLaunch(ctx, "2024-05-01", domain.LaunchFlushing, domain.LaunchFlushed, &flushedAt))
	got, err := r.GetLaunchByDate(ctx, "2024-05-01")
	require.NoError(t, err)
	require.NotNil(t, got.FlushedAt)
	assert.True(t, got.FlushedAt.Equal(flushedAt))

	_, err = r.GetCurrentLaunch(ctx)
	assert.ErrorIs(t, err, repo.ErrNotFound)

	flushed, err := r.ListLaunchesByStatus(ctx, domain.LaunchFlushed, 10)
	require.NoError(t, err)
	require.Len(t, flushed, 1)
	assert.Equal(t, []string{"appA"}, flushed[0].Apps)
}

func TestRecordLaunchResultsAccumulates(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	for _, id := range []string{"appA", "appB"} {
		require.NoError(t, r.UpsertApp(ctx, domain.App{ID: id, Name: id, LaunchDate: "2024-05-01"}))
	}
	require.NoError(t, r.InsertLaunch(ctx, mustLaunch(t, "l1", "2024-05-01", "appA", "appB")))

	require.NoError(t, r.RecordLaunchResults(ctx, "l1", "2024-05-01", map[string]int64{"appA": 0, "appB": 3}, now))
	require.NoError(t, r.RecordLaunchResults(ctx, "l1", "2024-05-01", map[string]int64{"appB": 2}, now.Add(time.Minute)))

	b, err := r.GetApp(ctx, "appB")
	require.NoError(t, err)
	assert.Equal(t, int64(5), b.TotalVotes)
	assert.Equal(t, "2024-05-01", b.LastLaunchedDate)

	a, err := r.GetApp(ctx, "appA")
	require.NoError(t, err)
	assert.Equal(t, int64(0), a.TotalVotes)
	assert.Empty(t, a.LastLaunchedDate)

	results, err := r.LaunchResults(ctx, "l1")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, int64(5), results[0].Votes)
	assert.True(t, results[0].RecordedAt.Equal(now.Add(time.Minute)))
}

func TestCurrentLaunchPrefersActiveOverStaleFlush(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	require.NoError(t, r.InsertLaunch(ctx, mustLaunch(t, "l1", "2024-04-30", "appA")))
	require.NoError(t, r.TransitionLaunch(ctx, "2024-04-30", domain.LaunchActive, domain.LaunchFlushing, nil))
	require.NoError(t, r.InsertLaunch(ctx, mustLaunch(t, "l2", "2024-05-01", "appB")))

	cur, err := r.GetCurrentLaunch(ctx)
	require.NoError(t, err)
	assert.Equal(t, "l2", cur.ID)
	assert.Equal(t, domain.LaunchActive, cur.Status)

	err = r.TransitionLaunch(ctx, "2024-04-30", domain.LaunchFlushing, domain.LaunchActive, nil)
	assert.ErrorIs(t, err, repo.ErrDuplicateActive)
}

func TestAppsScheduledAndListed(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	require.NoError(t, r.UpsertApp(ctx, domain.App{ID: "a1", Name: "One", LaunchDate: "2024-05-01", CreatedAt: now}))
	require.NoError(t, r.UpsertApp(ctx, domain.App{ID: "a2", Name: "Two", LaunchDate: "2024-05-01", IsPremium: true, CreatedAt: now.Add(time.Minute)}))
	require.NoError(t, r.UpsertApp(ctx, domain.App{ID: "a3", Name: "Three", LaunchDate: "2024-05-02", Status: "draft", CreatedAt: now}))

	ids, err := r.AppsScheduledFor(ctx, "2024-05-01")
	require.NoError(t, err)
	assert.Equal(t, []string{"a1", "a2"}, ids)

	require.NoError(t, r.SetAppLaunchDate(ctx, "a3", "2024-05-01"))
	assert.ErrorIs(t, r.SetAppLaunchDate(ctx, "missing", "2024-05-01"), repo.ErrNotFound)

	apps, err := r.GetApps(ctx, []string{"a1", "a2", "a3"})
	require.NoError(t, err)
	require.Len(t, apps, 2)
	assert.Equal(t, "a2", apps[0].ID)
	assert.True(t, apps[0].IsPremium)
}

func TestAuditRoundTrip(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	require.NoError(t, r.InsertAudit(ctx, domain.AuditLog{Type: domain.AuditCron, Name: "daily-cycle", Status: domain.AuditStart, CreatedAt: now}))
	require.NoError(t, r.InsertAudit(ctx, domain.AuditLog{Type: domain.AuditRevalidation, Path: "/launch", Status: domain.AuditError, Error: "boom", Payload: map[string]any{"status": 502.0}, CreatedAt: now.Add(time.Second)}))

	all, err := r.ListAudit(ctx, "", 50)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, domain.AuditRevalidation, all[0].Type)
	assert.Equal(t, 502.0, all[0].Payload["status"])

	cron, err := r.ListAudit(ctx, domain.AuditCron, 50)
	require.NoError(t, err)
	require.Len(t, cron, 1)
	assert.Equal(t, "daily-cycle", cron[0].Name)
}
