package domain

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the calendar-day format used as the natural key of a launch.
const DateLayout = "2006-01-02"

type LaunchState string

const (
	LaunchPending  LaunchState = "pending"
	LaunchActive   LaunchState = "active"
	LaunchFlushing LaunchState = "flushing"
	LaunchFlushed  LaunchState = "flushed"
)

func (s LaunchState) Valid() bool {
	switch s {
	case LaunchPending, LaunchActive, LaunchFlushing, LaunchFlushed:
		return true
	}
	return false
}

// ValidationError reports a malformed field at the boundary.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

type Launch struct {
	ID        string         `json:"id"`
	Date      string         `json:"date" format:"date"`
	Status    LaunchState    `json:"status" enum:"pending,active,flushing,flushed"`
	Apps      []string       `json:"apps"`
	CreatedAt time.Time      `json:"createdAt"`
	FlushedAt *time.Time     `json:"flushedAt,omitempty"`
	Name      string         `json:"name,omitempty"`
	CreatedBy string         `json:"createdBy,omitempty"`
	Manual    bool           `json:"manual,omitempty"`
	Options   map[string]any `json:"options,omitempty"`
}

// LaunchMetadata is free-form launch data the ledger stores but never interprets.
type LaunchMetadata struct {
	Name      string
	CreatedBy string
	Manual    bool
	Options   map[string]any
}

// NewLaunch validates the date and app ids and returns an active launch.
// Duplicate app ids are collapsed keeping first-seen order.
func NewLaunch(id, date string, appIDs []string, meta LaunchMetadata, now time.Time) (Launch, error) {
	if strings.TrimSpace(id) == "" {
		return Launch{}, ValidationError{Field: "id", Reason: "required"}
	}
	if err := ValidateDate(date); err != nil {
		return Launch{}, err
	}
	apps, err := NormalizeAppIDs(appIDs)
	if err != nil {
		return Launch{}, err
	}
	return Launch{
		ID:        id,
		Date:      date,
		Status:    LaunchActive,
		Apps:      apps,
		CreatedAt: now.UTC(),
		Name:      meta.Name,
		CreatedBy: meta.CreatedBy,
		Manual:    meta.Manual,
		Options:   meta.Options,
	}, nil
}

// ValidateDate checks a YYYY-MM-DD calendar day.
func ValidateDate(date string) error {
	if date == "" {
		return ValidationError{Field: "date", Reason: "required"}
	}
	t, err := time.Parse(DateLayout, date)
	if err != nil || t.Format(DateLayout) != date {
		return ValidationError{Field: "date", Reason: "must be YYYY-MM-DD"}
	}
	return nil
}

// ValidateAppID rejects blank app ids.
func ValidateAppID(appID string) error {
	if strings.TrimSpace(appID) == "" {
		return ValidationError{Field: "appId", Reason: "required"}
	}
	if strings.ContainsAny(appID, "*?[]: ") {
		return ValidationError{Field: "appId", Reason: "contains reserved characters"}
	}
	return nil
}

func NormalizeAppIDs(appIDs []string) ([]string, error) {
	seen := make(map[string]struct{}, len(appIDs))
	out := make([]string, 0, len(appIDs))
	for _, id := range appIDs {
		if err := ValidateAppID(id); err != nil {
			return nil, err
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, nil
}

// DayOf returns the UTC calendar day of t.
func DayOf(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// LaunchStatus is the admission view the vote ledger consults.
type LaunchStatus struct {
	HasActiveLaunch      bool   `json:"hasActiveLaunch"`
	IsFlushingInProgress bool   `json:"isFlushingInProgress"`
	ActiveDate           string `json:"activeDate,omitempty"`
}

type LaunchResult struct {
	LaunchID   string    `json:"launchId"`
	AppID      string    `json:"appId"`
	Votes      int64     `json:"votes"`
	RecordedAt time.Time `json:"recordedAt"`
}

// App carries only the catalog fields the ledger reads or writes.
type App struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Status           string    `json:"status"`
	IsPremium        bool      `json:"isPremium"`
	LaunchDate       string    `json:"launchDate,omitempty"`
	TotalVotes       int64     `json:"totalVotes"`
	LastLaunchedDate string    `json:"lastLaunchedDate,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
}

type AuditType string

const (
	AuditCron         AuditType = "cron"
	AuditRevalidation AuditType = "revalidation"
	AuditMaintenance  AuditType = "maintenance"
	AuditOther        AuditType = "other"
)

type AuditStatus string

const (
	AuditSuccess AuditStatus = "success"
	AuditError   AuditStatus = "error"
	AuditInfo    AuditStatus = "info"
	AuditStart   AuditStatus = "start"
	AuditEnd     AuditStatus = "end"
)

type AuditLog struct {
	ID        int64          `json:"id"`
	Type      AuditType      `json:"type"`
	Name      string         `json:"name,omitempty"`
	Path      string         `json:"path,omitempty"`
	Route     string         `json:"route,omitempty"`
	RequestID string         `json:"requestId,omitempty"`
	Status    AuditStatus    `json:"status"`
	Message   string         `json:"message,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	Error     string         `json:"error,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}
