package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"launchledger/internal/domain"
)

// Repo is the durable store adapter.
type Repo struct {
	DB *sql.DB
}

var (
	ErrNotFound = errors.New("not found")
	// ErrDuplicateDate and ErrDuplicateActive surface unique-index violations on launches.
	ErrDuplicateDate   = errors.New("launch date already exists")
	ErrDuplicateActive = errors.New("another launch is already active")
)

const timeLayout = time.RFC3339Nano

const launchColumns = `id,date,status,created_at,flushed_at,COALESCE(name,''),COALESCE(created_by,''),manual,COALESCE(options_json,'')`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLaunch(row rowScanner) (domain.Launch, error) {
	var (
		l         domain.Launch
		status    string
		createdAt string
		flushedAt sql.NullString
		manual    int
		options   string
	)
	if err := row.Scan(&l.ID, &l.Date, &status, &createdAt, &flushedAt, &l.Name, &l.CreatedBy, &manual, &options); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return l, ErrNotFound
		}
		return l, err
	}
	l.Status = domain.LaunchState(status)
	l.Manual = manual != 0
	var err error
	if l.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return l, fmt.Errorf("parse created_at: %w", err)
	}
	if flushedAt.Valid {
		ts, err := time.Parse(timeLayout, flushedAt.String)
		if err != nil {
			return l, fmt.Errorf("parse flushed_at: %w", err)
		}
		l.FlushedAt = &ts
	}
	if options != "" {
		if err := json.Unmarshal([]byte(options), &l.Options); err != nil {
			return l, fmt.Errorf("decode options: %w", err)
		}
	}
	return l, nil
}

// InsertLaunch stores a launch and its app list in one transaction.
func (r Repo) InsertLaunch(ctx context.Context, l domain.Launch) error {
	var options any
	if len(l.Options) > 0 {
		b, err := json.Marshal(l.Options)
		if err != nil {
			return fmt.Errorf("encode options: %w", err)
		}
		options = string(b)
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	_, err = tx.ExecContext(ctx, `INSERT INTO launches(id,date,status,created_at,name,created_by,manual,options_json) VALUES (?,?,?,?,?,?,?,?)`,
		l.ID, l.Date, string(l.Status), l.CreatedAt.UTC().Format(timeLayout), nullable(l.Name), nullable(l.CreatedBy), boolInt(l.Manual), options)
	if err != nil {
		return classifyLaunchInsert(err)
	}
	for i, appID := range l.Apps {
		if _, err := tx.ExecContext(ctx, `INSERT INTO launch_apps(launch_id,app_id,position) VALUES (?,?,?)`, l.ID, appID, i); err != nil {
			return fmt.Errorf("insert launch app %s: %w", appID, err)
		}
	}
	return tx.Commit()
}

func classifyLaunchInsert(err error) error {
	msg := err.Error()
	if !strings.Contains(msg, "UNIQUE constraint failed") {
		return fmt.Errorf("insert launch: %w", err)
	}
	if strings.Contains(msg, "launches.date") {
		return ErrDuplicateDate
	}
	return ErrDuplicateActive
}

func (r Repo) launchApps(ctx context.Context, l *domain.Launch) error {
	rows, err := r.DB.QueryContext(ctx, `SELECT app_id FROM launch_apps WHERE launch_id=? ORDER BY position`, l.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	l.Apps = []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return err
		}
		l.Apps = append(l.Apps, id)
	}
	return rows.Err()
}

func (r Repo) getLaunch(ctx context.Context, where string, args ...any) (domain.Launch, error) {
	l, err := scanLaunch(r.DB.QueryRowContext(ctx, `SELECT `+launchColumns+` FROM launches WHERE `+where+` LIMIT 1`, args...))
	if err != nil {
		return l, err
	}
	if err := r.launchApps(ctx, &l); err != nil {
		return l, fmt.Errorf("load launch apps: %w", err)
	}
	return l, nil
}

func (r Repo) GetLaunchByDate(ctx context.Context, date string) (domain.Launch, error) {
	return r.getLaunch(ctx, `date=?`, date)
}

func (r Repo) GetActiveLaunch(ctx context.Context) (domain.Launch, error) {
	return r.getLaunch(ctx, `status=?`, string(domain.LaunchActive))
}

// GetCurrentLaunch returns the launch that owns the voting window: the active
// one, or else the newest one that is mid-flush.
func (r Repo) GetCurrentLaunch(ctx context.Context) (domain.Launch, error) {
	return r.getLaunch(ctx, `status IN (?,?) ORDER BY CASE status WHEN 'active' THEN 0 ELSE 1 END, date DESC`,
		string(domain.LaunchActive), string(domain.LaunchFlushing))
}

// ListLaunchesByStatus returns launches newest date first.
func (r Repo) ListLaunchesByStatus(ctx context.Context, status domain.LaunchState, limit int) ([]domain.Launch, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+launchColumns+` FROM launches WHERE status=? ORDER BY date DESC LIMIT ?`, string(status), limit)
	if err != nil {
		return nil, err
	}
	var res []domain.Launch
	for rows.Next() {
		l, err := scanLaunch(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		res = append(res, l)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range res {
		if err := r.launchApps(ctx, &res[i]); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// TransitionLaunch moves a launch from one status to another with a filtered
// update. It returns ErrNotFound when no launch for date is in status from.
func (r Repo) TransitionLaunch(ctx context.Context, date string, from, to domain.LaunchState, flushedAt *time.Time) error {
	var (
		res sql.Result
		err error
	)
	if flushedAt != nil {
		res, err = r.DB.ExecContext(ctx, `UPDATE launches SET status=?, flushed_at=? WHERE date=? AND status=?`,
			string(to), flushedAt.UTC().Format(timeLayout), date, string(from))
	} else {
		res, err = r.DB.ExecContext(ctx, `UPDATE launches SET status=? WHERE date=? AND status=?`, string(to), date, string(from))
	}
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDuplicateActive
		}
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordLaunchResults adds drained per-app counts to a launch's result rows
// and to each app's all-time total in one transaction. A retried flush only
// ever passes counts drained since the previous attempt, so rows accumulate.
func (r Repo) RecordLaunchResults(ctx context.Context, launchID, date string, counts map[string]int64, now time.Time) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	recordedAt := now.UTC().Format(timeLayout)
	for appID, votes := range counts {
		if votes <= 0 {
			continue
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO launch_results(launch_id,app_id,votes,recorded_at) VALUES (?,?,?,?)
ON CONFLICT(launch_id,app_id) DO UPDATE SET votes = votes + excluded.votes, recorded_at = excluded.recorded_at`,
			launchID, appID, votes, recordedAt); err != nil {
			return fmt.Errorf("record result %s: %w", appID, err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE apps SET total_votes = total_votes + ?, last_launched_date=? WHERE id=?`, votes, date, appID); err != nil {
			return fmt.Errorf("increment total votes %s: %w", appID, err)
		}
	}
	return tx.Commit()
}

func (r Repo) LaunchResults(ctx context.Context, launchID string) ([]domain.LaunchResult, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT launch_id,app_id,votes,recorded_at FROM launch_results WHERE launch_id=? ORDER BY votes DESC, app_id`, launchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.LaunchResult
	for rows.Next() {
		var (
			lr domain.LaunchResult
			ts string
		)
		if err := rows.Scan(&lr.LaunchID, &lr.AppID, &lr.Votes, &ts); err != nil {
			return nil, err
		}
		if lr.RecordedAt, err = time.Parse(timeLayout, ts); err != nil {
			return nil, err
		}
		res = append(res, lr)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
