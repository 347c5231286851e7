package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"launchledger/internal/domain"
)

const appColumns = `id,name,status,is_premium,COALESCE(launch_date,''),total_votes,COALESCE(last_launched_date,''),created_at`

func scanApp(row rowScanner) (domain.App, error) {
	var (
		a         domain.App
		premium   int
		createdAt string
	)
	if err := row.Scan(&a.ID, &a.Name, &a.Status, &premium, &a.LaunchDate, &a.TotalVotes, &a.LastLaunchedDate, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return a, ErrNotFound
		}
		return a, err
	}
	a.IsPremium = premium != 0
	ts, err := time.Parse(timeLayout, createdAt)
	if err != nil {
		return a, fmt.Errorf("parse app created_at: %w", err)
	}
	a.CreatedAt = ts
	return a, nil
}

// UpsertApp inserts or updates catalog display fields. Totals are never
// touched here.
func (r Repo) UpsertApp(ctx context.Context, a domain.App) error {
	if a.ID == "" {
		return errors.New("app id required")
	}
	if a.Status == "" {
		a.Status = "approved"
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	_, err := r.DB.ExecContext(ctx, `
INSERT INTO apps(id,name,status,is_premium,launch_date,created_at) VALUES (?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name, status=excluded.status, is_premium=excluded.is_premium, launch_date=excluded.launch_date`,
		a.ID, a.Name, a.Status, boolInt(a.IsPremium), nullable(a.LaunchDate), a.CreatedAt.UTC().Format(timeLayout))
	return err
}

func (r Repo) SetAppLaunchDate(ctx context.Context, appID, date string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE apps SET launch_date=? WHERE id=?`, nullable(date), appID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetApp(ctx context.Context, id string) (domain.App, error) {
	return scanApp(r.DB.QueryRowContext(ctx, `SELECT `+appColumns+` FROM apps WHERE id=?`, id))
}

// AppsScheduledFor returns the ids of apps whose launch date is date.
func (r Repo) AppsScheduledFor(ctx context.Context, date string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id FROM apps WHERE launch_date=? ORDER BY created_at, id`, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetApps returns approved apps among ids, premium first then newest.
func (r Repo) GetApps(ctx context.Context, ids []string) ([]domain.App, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids))
	for _, id := range ids {
		args = append(args, id)
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+appColumns+` FROM apps WHERE status='approved' AND id IN (`+placeholders+`) ORDER BY is_premium DESC, created_at DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.App
	for rows.Next() {
		a, err := scanApp(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}
