package engine_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"launchledger/internal/counter"
	"launchledger/internal/db"
	"launchledger/internal/domain"
	"launchledger/internal/engine"
	"launchledger/internal/migrate"
	"launchledger/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Store  *counter.Store
	Redis  *miniredis.Miniredis
	Notes  *fakeNotifier
	Ctx    context.Context
}

type fakeNotifier struct {
	mu    sync.Mutex
	paths []string
}

func (f *fakeNotifier) Revalidate(_ context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paths = append(f.paths, path)
	return nil
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Path: filepath.Join(t.TempDir(), "ledger.db")})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_, err = migrate.Migrate(context.Background(), conn)
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	store := counter.New(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "vote")
	t.Cleanup(func() { store.Close() })

	eng := engine.New(repo.Repo{DB: conn}, store, engine.Options{})
	eng.Now = func() time.Time { return time.Date(2024, 5, 1, 6, 0, 0, 0, time.UTC) }
	logger, _ := test.NewNullLogger()
	eng.Log = logger
	notes := &fakeNotifier{}
	eng.Notifier = notes
	return testEnv{Engine: eng, Store: store, Redis: mr, Notes: notes, Ctx: context.Background()}
}

func (env testEnv) seedApps(t *testing.T, date string, ids ...string) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, env.Engine.Repo.UpsertApp(env.Ctx, domain.App{ID: id, Name: id, LaunchDate: date}))
	}
}

func (env testEnv) createLaunch(t *testing.T, date string, apps ...string) domain.Launch {
	t.Helper()
	l, err := env.Engine.CreateLaunch(env.Ctx, engine.CreateLaunchOptions{Date: date, AppIDs: apps})
	require.NoError(t, err)
	return l
}

func TestCreateLaunchOpensVotingWindow(t *testing.T) {
	env := newTestEnv(t)
	l := env.createLaunch(t, "2024-05-01", "appA", "appB")
	assert.Equal(t, domain.LaunchActive, l.Status)
	assert.NotEmpty(t, l.ID)

	members, err := env.Store.EligibleApps(env.Ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"appA", "appB"}, members)
	counts, err := env.Engine.GetCurrentVoteCounts(env.Ctx, []string{"appA", "appB"})
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"appA": 0, "appB": 0}, counts)
	assert.Equal(t, 25*time.Hour, env.Redis.TTL("vote:tool:appA:total"))

	active, err := env.Engine.GetActiveLaunch(env.Ctx)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, l.ID, active.ID)
	status, err := env.Engine.GetLaunchStatus(env.Ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.LaunchStatus{HasActiveLaunch: true, ActiveDate: "2024-05-01"}, status)
}

func TestCreateLaunchRejectsDuplicates(t *testing.T) {
	env := newTestEnv(t)
	env.createLaunch(t, "2024-05-01", "appA")

	_, err := env.Engine.CreateLaunch(env.Ctx, engine.CreateLaunchOptions{Date: "2024-05-01", AppIDs: []string{"appB"}})
	assert.ErrorIs(t, err, engine.ErrAlreadyExists)

	_, err = env.Engine.CreateLaunch(env.Ctx, engine.CreateLaunchOptions{Date: "2024-05-02", AppIDs: []string{"appB"}})
	assert.ErrorIs(t, err, engine.ErrConflictingActiveLaunch)

	_, err = env.Engine.CreateLaunch(env.Ctx, engine.CreateLaunchOptions{Date: "05/01/2024"})
	var ve domain.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestVoteAndUnvote(t *testing.T) {
	env := newTestEnv(t)
	env.createLaunch(t, "2024-05-01", "appA", "appB")

	n, err := env.Engine.Vote(env.Ctx, "u1", "appA")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = env.Engine.Vote(env.Ctx, "u1", "appA")
	require.ErrorIs(t, err, engine.ErrAlreadyVoted)
	var conflict engine.VoteConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, int64(1), conflict.Count)

	voted, err := env.Engine.HasVoted(env.Ctx, "u1", []string{"appA", "appB"})
	require.NoError(t, err)
	assert.Equal(t, []string{"appA"}, voted)

	n, err = env.Engine.Unvote(env.Ctx, "u1", "appA")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
	assert.False(t, env.Redis.Exists("vote:user:u1:tool:appA"))

	_, err = env.Engine.Unvote(env.Ctx, "u1", "appA")
	require.ErrorIs(t, err, engine.ErrNotVoted)
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, int64(0), conflict.Count)
}

func TestUnvoteClampsAtZero(t *testing.T) {
	env := newTestEnv(t)
	env.createLaunch(t, "2024-05-01", "appA")
	_, err := env.Engine.Vote(env.Ctx, "u1", "appA")
	require.NoError(t, err)
	require.NoError(t, env.Redis.Set("vote:tool:appA:total", "0"))

	n, err := env.Engine.Unvote(env.Ctx, "u1", "appA")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestVoteRecreatesMissingCounterWithTTL(t *testing.T) {
	env := newTestEnv(t)
	env.createLaunch(t, "2024-05-01", "appA")
	env.Redis.Del("vote:tool:appA:total")

	n, err := env.Engine.Vote(env.Ctx, "u1", "appA")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 25*time.Hour, env.Redis.TTL("vote:tool:appA:total"))
}

func TestVoteAdmission(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.Vote(env.Ctx, "u1", "appA")
	assert.ErrorIs(t, err, engine.ErrNoActiveLaunch)

	env.createLaunch(t, "2024-05-01", "appA")
	_, err = env.Engine.Vote(env.Ctx, "u1", "appZ")
	assert.ErrorIs(t, err, engine.ErrAppNotEligible)

	_, err = env.Engine.Vote(env.Ctx, "", "appA")
	var ve domain.ValidationError
	assert.ErrorAs(t, err, &ve)

	require.NoError(t, env.Engine.Repo.TransitionLaunch(env.Ctx, "2024-05-01", domain.LaunchActive, domain.LaunchFlushing, nil))
	status, err := env.Engine.GetLaunchStatus(env.Ctx)
	require.NoError(t, err)
	assert.True(t, status.IsFlushingInProgress)
	_, err = env.Engine.Vote(env.Ctx, "u1", "appA")
	assert.ErrorIs(t, err, engine.ErrVotingClosed)
	_, err = env.Engine.Unvote(env.Ctx, "u1", "appA")
	assert.ErrorIs(t, err, engine.ErrVotingClosed)
}

func TestConcurrentVotesFromOneVoterCountOnce(t *testing.T) {
	env := newTestEnv(t)
	env.createLaunch(t, "2024-05-01", "appA")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			env.Engine.Vote(env.Ctx, "u1", "appA")
		}()
	}
	wg.Wait()
	n, err := env.Store.Count(env.Ctx, "appA")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestFlushLaunchMovesCountsIntoTotals(t *testing.T) {
	env := newTestEnv(t)
	env.seedApps(t, "2024-05-01", "appA", "appB")
	env.createLaunch(t, "2024-05-01", "appA", "appB")
	for _, voter := range []string{"u1", "u2", "u3"} {
		_, err := env.Engine.Vote(env.Ctx, voter, "appB")
		require.NoError(t, err)
	}

	res, err := env.Engine.FlushLaunch(env.Ctx, "2024-05-01")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, map[string]int64{"appB": 3}, res.VoteCounts)
	require.NotNil(t, res.Launch)
	assert.Equal(t, domain.LaunchFlushed, res.Launch.Status)
	assert.NotNil(t, res.Launch.FlushedAt)

	appB, err := env.Engine.Repo.GetApp(env.Ctx, "appB")
	require.NoError(t, err)
	assert.Equal(t, int64(3), appB.TotalVotes)
	assert.Equal(t, "2024-05-01", appB.LastLaunchedDate)

	assert.False(t, env.Redis.Exists("vote:launch:apps"))
	assert.False(t, env.Redis.Exists("vote:tool:appB:total"))
	assert.False(t, env.Redis.Exists("vote:user:u2:tool:appB"))
	assert.False(t, env.Redis.Exists("vote:lock:flush:2024-05-01"))

	again, err := env.Engine.FlushLaunch(env.Ctx, "2024-05-01")
	require.NoError(t, err)
	assert.True(t, again.Success)
	assert.Empty(t, again.VoteCounts)
	appB, err = env.Engine.Repo.GetApp(env.Ctx, "appB")
	require.NoError(t, err)
	assert.Equal(t, int64(3), appB.TotalVotes)

	flushed, err := env.Engine.ListFlushedLaunches(env.Ctx, 5)
	require.NoError(t, err)
	require.Len(t, flushed, 1)

	history, err := env.Engine.GetLaunchHistory(env.Ctx, "2024-05-01")
	require.NoError(t, err)
	require.Len(t, history.Results, 1)
	assert.Equal(t, "appB", history.Results[0].AppID)
}

func TestFlushLaunchErrors(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.FlushLaunch(env.Ctx, "2024-05-01")
	assert.ErrorIs(t, err, engine.ErrNotFound)

	env.createLaunch(t, "2024-05-01", "appA")
	token, err := env.Store.AcquireLock(env.Ctx, env.Store.Keys().FlushLock("2024-05-01"), time.Minute)
	require.NoError(t, err)
	_, err = env.Engine.FlushLaunch(env.Ctx, "2024-05-01")
	assert.ErrorIs(t, err, engine.ErrFlushInProgress)
	require.NoError(t, env.Store.ReleaseLock(env.Ctx, env.Store.Keys().FlushLock("2024-05-01"), token))

	l, err := env.Engine.GetLaunchByDate(env.Ctx, "2024-05-01")
	require.NoError(t, err)
	assert.Equal(t, domain.LaunchActive, l.Status)
}

type failingCounter struct {
	engine.Counter
	failMarkers bool
	failInit    bool
}

func (f *failingCounter) DeleteVoterMarkers(ctx context.Context, appID string, batch int64) (int64, error) {
	if f.failMarkers {
		return 0, errors.New("scan interrupted")
	}
	return f.Counter.DeleteVoterMarkers(ctx, appID, batch)
}

func (f *failingCounter) InitWindow(ctx context.Context, appIDs []string, ttl time.Duration, preserve bool) error {
	if f.failInit {
		return errors.New("connection reset")
	}
	return f.Counter.InitWindow(ctx, appIDs, ttl, preserve)
}

func TestFlushFailureRevertsAndRetryAddsOnce(t *testing.T) {
	env := newTestEnv(t)
	env.seedApps(t, "2024-05-01", "appA")
	env.createLaunch(t, "2024-05-01", "appA")
	for _, voter := range []string{"u1", "u2"} {
		_, err := env.Engine.Vote(env.Ctx, voter, "appA")
		require.NoError(t, err)
	}

	broken := env.Engine
	broken.Counter = &failingCounter{Counter: env.Store, failMarkers: true}
	_, err := broken.FlushLaunch(env.Ctx, "2024-05-01")
	require.ErrorContains(t, err, "scan interrupted")

	l, err := env.Engine.GetLaunchByDate(env.Ctx, "2024-05-01")
	require.NoError(t, err)
	assert.Equal(t, domain.LaunchActive, l.Status)
	assert.False(t, env.Redis.Exists("vote:launch:apps"))

	// voting resumes on the reopened launch
	n, err := env.Engine.Vote(env.Ctx, "u3", "appA")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 25*time.Hour, env.Redis.TTL("vote:tool:appA:total"))
	_, err = env.Engine.Vote(env.Ctx, "u1", "appA")
	assert.ErrorIs(t, err, engine.ErrAlreadyVoted)

	res, err := env.Engine.FlushLaunch(env.Ctx, "2024-05-01")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, map[string]int64{"appA": 3}, res.VoteCounts)
	app, err := env.Engine.Repo.GetApp(env.Ctx, "appA")
	require.NoError(t, err)
	assert.Equal(t, int64(3), app.TotalVotes)
	assert.False(t, env.Redis.Exists("vote:user:u1:tool:appA"))
}

func TestInterruptedFlushIsResumed(t *testing.T) {
	env := newTestEnv(t)
	env.seedApps(t, "2024-04-30", "appA")
	env.seedApps(t, "2024-05-01", "appB")
	env.createLaunch(t, "2024-04-30", "appA")
	_, err := env.Engine.Vote(env.Ctx, "u1", "appA")
	require.NoError(t, err)

	// a run that died after closing voting leaves the launch flushing with no lock held
	require.NoError(t, env.Engine.Repo.TransitionLaunch(env.Ctx, "2024-04-30", domain.LaunchActive, domain.LaunchFlushing, nil))
	_, err = env.Engine.Vote(env.Ctx, "u2", "appA")
	assert.ErrorIs(t, err, engine.ErrVotingClosed)

	env.createLaunch(t, "2024-05-01", "appB")
	n, err := env.Engine.Vote(env.Ctx, "u2", "appB")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	status, err := env.Engine.GetLaunchStatus(env.Ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.LaunchStatus{HasActiveLaunch: true, ActiveDate: "2024-05-01"}, status)

	res, err := env.Engine.FlushLaunch(env.Ctx, "2024-04-30")
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"appA": 1}, res.VoteCounts)
	assert.Equal(t, domain.LaunchFlushed, res.Launch.Status)
	appA, err := env.Engine.Repo.GetApp(env.Ctx, "appA")
	require.NoError(t, err)
	assert.Equal(t, int64(1), appA.TotalVotes)

	// the active launch's window is untouched
	ok, err := env.Store.IsEligible(env.Ctx, "appB")
	require.NoError(t, err)
	assert.True(t, ok)
	n, err = env.Engine.Vote(env.Ctx, "u3", "appB")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestInterruptedFlushLeftWhileLockHeld(t *testing.T) {
	env := newTestEnv(t)
	env.createLaunch(t, "2024-04-30", "appA")
	require.NoError(t, env.Engine.Repo.TransitionLaunch(env.Ctx, "2024-04-30", domain.LaunchActive, domain.LaunchFlushing, nil))
	_, err := env.Store.AcquireLock(env.Ctx, env.Store.Keys().FlushLock("2024-04-30"), time.Minute)
	require.NoError(t, err)

	_, err = env.Engine.FlushLaunch(env.Ctx, "2024-04-30")
	assert.ErrorIs(t, err, engine.ErrFlushInProgress)

	env.Redis.FastForward(2 * time.Minute)
	res, err := env.Engine.FlushLaunch(env.Ctx, "2024-04-30")
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestDailyCycleResumesInterruptedFlush(t *testing.T) {
	env := newTestEnv(t)
	env.seedApps(t, "2024-04-30", "appA")
	env.seedApps(t, "2024-05-01", "appC")
	env.createLaunch(t, "2024-04-30", "appA")
	_, err := env.Engine.Vote(env.Ctx, "u1", "appA")
	require.NoError(t, err)
	require.NoError(t, env.Engine.Repo.TransitionLaunch(env.Ctx, "2024-04-30", domain.LaunchActive, domain.LaunchFlushing, nil))

	res := env.Engine.RunDailyCycle(env.Ctx, "2024-05-01")
	require.True(t, res.CycleComplete, "%+v", res)
	assert.Equal(t, "launch created", res.CreateNew.Message)

	l, err := env.Engine.GetLaunchByDate(env.Ctx, "2024-04-30")
	require.NoError(t, err)
	assert.Equal(t, domain.LaunchFlushed, l.Status)
	appA, err := env.Engine.Repo.GetApp(env.Ctx, "appA")
	require.NoError(t, err)
	assert.Equal(t, int64(1), appA.TotalVotes)

	_, err = env.Engine.Vote(env.Ctx, "u1", "appC")
	require.NoError(t, err)
}

func TestVoteSelfRepairsEmptyEligibilitySet(t *testing.T) {
	env := newTestEnv(t)
	env.createLaunch(t, "2024-05-01", "appA", "appB")
	env.Redis.Del("vote:launch:apps")

	n, err := env.Engine.Vote(env.Ctx, "u1", "appA")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	members, err := env.Store.EligibleApps(env.Ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"appA", "appB"}, members)
}

func TestRepairPreservesCountsAndIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	res := env.Engine.RepairActiveLaunchRedis(env.Ctx)
	assert.True(t, res.Success)
	assert.False(t, res.Details.Repaired)

	env.createLaunch(t, "2024-05-01", "appA", "appB")
	_, err := env.Engine.Vote(env.Ctx, "u1", "appA")
	require.NoError(t, err)
	env.Redis.Del("vote:launch:apps")
	env.Redis.Del("vote:tool:appB:total")
	env.Redis.SAdd("vote:launch:apps", "stale")

	res = env.Engine.RepairActiveLaunchRedis(env.Ctx)
	require.True(t, res.Success, res.Message)
	assert.True(t, res.Details.Repaired)
	assert.Equal(t, 1, res.Details.BeforeCount)
	assert.Equal(t, 2, res.Details.AfterCount)
	counts, err := env.Store.Counts(env.Ctx, []string{"appA", "appB"})
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"appA": 1, "appB": 0}, counts)
	assert.True(t, env.Redis.Exists("vote:tool:appB:total"))

	res = env.Engine.RepairActiveLaunchRedis(env.Ctx)
	assert.True(t, res.Success)
	assert.False(t, res.Details.Repaired)
}

func TestCreateLaunchCommitsWhenWindowInitFails(t *testing.T) {
	env := newTestEnv(t)
	broken := env.Engine
	broken.Counter = &failingCounter{Counter: env.Store, failInit: true}

	l, err := broken.CreateLaunch(env.Ctx, engine.CreateLaunchOptions{Date: "2024-05-01", AppIDs: []string{"appA"}})
	require.NoError(t, err)
	assert.Equal(t, domain.LaunchActive, l.Status)
	assert.False(t, env.Redis.Exists("vote:launch:apps"))

	res := env.Engine.RepairActiveLaunchRedis(env.Ctx)
	require.True(t, res.Success)
	ok, err := env.Store.IsEligible(env.Ctx, "appA")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDailyCycleIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	env.seedApps(t, "2024-05-01", "appA", "appB")

	first := env.Engine.RunDailyCycle(env.Ctx, "2024-05-01")
	assert.True(t, first.CycleComplete)
	assert.True(t, first.FlushPrevious.Skipped)
	assert.Equal(t, "launch created", first.CreateNew.Message)
	assert.Equal(t, "2024-05-02T00:00:00Z", first.NextCycle)

	second := env.Engine.RunDailyCycle(env.Ctx, "2024-05-01")
	assert.True(t, second.CycleComplete)
	assert.True(t, second.CreateNew.Skipped)
	assert.Equal(t, "launch already exists for today", second.CreateNew.Message)
	assert.Equal(t, "active launch is today's; not flushing", second.FlushPrevious.Message)

	flushed, err := env.Engine.ListFlushedLaunches(env.Ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, flushed)
	assert.Equal(t, []string{"/launch"}, env.Notes.paths)
}

func TestDailyCycleFlushesPreviousAndOpensToday(t *testing.T) {
	env := newTestEnv(t)
	env.seedApps(t, "2024-05-01", "appA")
	env.seedApps(t, "2024-05-02", "appC")
	env.createLaunch(t, "2024-05-01", "appA")
	_, err := env.Engine.Vote(env.Ctx, "u1", "appA")
	require.NoError(t, err)

	res := env.Engine.RunDailyCycle(env.Ctx, "2024-05-02")
	require.True(t, res.CycleComplete, "%+v", res)
	assert.Equal(t, "2024-05-01", res.FlushPrevious.Date)
	assert.Equal(t, map[string]int64{"appA": 1}, res.FlushPrevious.VoteCounts)
	assert.Equal(t, []string{"appC"}, res.CreateNew.AppIDs)

	active, err := env.Engine.GetActiveLaunch(env.Ctx)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, "2024-05-02", active.Date)
	assert.Len(t, env.Notes.paths, 2)

	audit, err := env.Engine.Repo.ListAudit(env.Ctx, domain.AuditCron, 10)
	require.NoError(t, err)
	assert.Len(t, audit, 2)
}

func TestDailyCycleReportsStepsIndependently(t *testing.T) {
	env := newTestEnv(t)
	env.seedApps(t, "2024-05-02", "appC")
	env.createLaunch(t, "2024-05-01", "appA")

	broken := env.Engine
	broken.Counter = &failingCounter{Counter: env.Store, failMarkers: true}
	res := broken.RunDailyCycle(env.Ctx, "2024-05-02")
	assert.False(t, res.FlushPrevious.Success)
	assert.False(t, res.CreateNew.Success)
	assert.Contains(t, res.CreateNew.Error, "already active")
	assert.False(t, res.CycleComplete)

	invalid := env.Engine.RunDailyCycle(env.Ctx, "tomorrow")
	assert.False(t, invalid.CycleComplete)
}

func TestTodayView(t *testing.T) {
	env := newTestEnv(t)
	view, err := env.Engine.Today(env.Ctx, "")
	require.NoError(t, err)
	assert.Empty(t, view.Date)

	require.NoError(t, env.Engine.Repo.UpsertApp(env.Ctx, domain.App{ID: "appA", Name: "A", LaunchDate: "2024-05-01"}))
	require.NoError(t, env.Engine.Repo.UpsertApp(env.Ctx, domain.App{ID: "appB", Name: "B", LaunchDate: "2024-05-01", IsPremium: true}))
	env.createLaunch(t, "2024-05-01", "appA", "appB")
	_, err = env.Engine.Vote(env.Ctx, "u1", "appB")
	require.NoError(t, err)

	view, err = env.Engine.Today(env.Ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "2024-05-01", view.Date)
	require.Len(t, view.Premium, 1)
	assert.Equal(t, "appB", view.Premium[0].ID)
	require.Len(t, view.NonPremium, 1)
	assert.Equal(t, map[string]int64{"appA": 0, "appB": 1}, view.Votes)
	assert.Equal(t, []string{"appB"}, view.VotedAppIDs)
}

func TestScheduleApp(t *testing.T) {
	env := newTestEnv(t)
	env.seedApps(t, "", "appA")
	require.NoError(t, env.Engine.ScheduleApp(env.Ctx, "appA", "2024-05-03"))
	ids, err := env.Engine.Repo.AppsScheduledFor(env.Ctx, "2024-05-03")
	require.NoError(t, err)
	assert.Equal(t, []string{"appA"}, ids)
	assert.ErrorIs(t, env.Engine.ScheduleApp(env.Ctx, "ghost", "2024-05-03"), repo.ErrNotFound)
}
