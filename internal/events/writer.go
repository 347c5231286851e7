package events

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"launchledger/internal/domain"
)

// Store persists audit entries.
type Store interface {
	InsertAudit(ctx context.Context, entry domain.AuditLog) error
}

// Writer records audit entries as a side channel. Failures are logged and
// never returned to the caller.
type Writer struct {
	Store Store
	Now   func() time.Time
	Log   logrus.FieldLogger
}

type Payload map[string]any

func (w Writer) log() logrus.FieldLogger {
	if w.Log == nil {
		return logrus.StandardLogger()
	}
	return w.Log
}

func (w Writer) Record(ctx context.Context, entry domain.AuditLog) {
	if w.Store == nil {
		return
	}
	if entry.CreatedAt.IsZero() {
		now := time.Now
		if w.Now != nil {
			now = w.Now
		}
		entry.CreatedAt = now().UTC()
	}
	if entry.Type == "" {
		entry.Type = domain.AuditOther
	}
	if err := w.Store.InsertAudit(ctx, entry); err != nil {
		w.log().WithError(err).WithFields(logrus.Fields{
			"audit_type": entry.Type,
			"audit_name": entry.Name,
		}).Warn("audit write failed")
	}
}

// Cron records a lifecycle entry for a scheduled job.
func (w Writer) Cron(ctx context.Context, name string, status domain.AuditStatus, message string, payload Payload) {
	w.Record(ctx, domain.AuditLog{Type: domain.AuditCron, Name: name, Status: status, Message: message, Payload: payload})
}

// Maintenance records an operator or engine action such as a flush or repair.
func (w Writer) Maintenance(ctx context.Context, name string, err error, payload Payload) {
	entry := domain.AuditLog{Type: domain.AuditMaintenance, Name: name, Status: domain.AuditSuccess, Payload: payload}
	if err != nil {
		entry.Status = domain.AuditError
		entry.Error = err.Error()
	}
	w.Record(ctx, entry)
}
