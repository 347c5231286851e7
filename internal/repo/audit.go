package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"launchledger/internal/domain"
)

func (r Repo) InsertAudit(ctx context.Context, entry domain.AuditLog) error {
	var payload any
	if entry.Payload != nil {
		b, err := json.Marshal(entry.Payload)
		if err != nil {
			return fmt.Errorf("marshal audit payload: %w", err)
		}
		payload = string(b)
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO audit_logs(type,name,path,route,request_id,status,message,payload_json,error,created_at) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		string(entry.Type), nullable(entry.Name), nullable(entry.Path), nullable(entry.Route), nullable(entry.RequestID),
		string(entry.Status), nullable(entry.Message), payload, nullable(entry.Error), entry.CreatedAt.UTC().Format(timeLayout))
	return err
}

// ListAudit returns the newest entries first, optionally filtered by type.
func (r Repo) ListAudit(ctx context.Context, typ domain.AuditType, limit int) ([]domain.AuditLog, error) {
	query := `SELECT id,type,COALESCE(name,''),COALESCE(path,''),COALESCE(route,''),COALESCE(request_id,''),status,COALESCE(message,''),COALESCE(payload_json,''),COALESCE(error,''),created_at FROM audit_logs`
	var args []any
	if typ != "" {
		query += ` WHERE type=?`
		args = append(args, string(typ))
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AuditLog
	for rows.Next() {
		var (
			e            domain.AuditLog
			kind, status string
			payload, ts  string
		)
		if err := rows.Scan(&e.ID, &kind, &e.Name, &e.Path, &e.Route, &e.RequestID, &status, &e.Message, &payload, &e.Error, &ts); err != nil {
			return nil, err
		}
		e.Type = domain.AuditType(kind)
		e.Status = domain.AuditStatus(status)
		if payload != "" {
			if err := json.Unmarshal([]byte(payload), &e.Payload); err != nil {
				return nil, fmt.Errorf("decode audit payload: %w", err)
			}
		}
		if e.CreatedAt, err = time.Parse(timeLayout, ts); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
