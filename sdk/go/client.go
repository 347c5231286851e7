package launchsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal Launch Ledger HTTP API client.
type Client struct {
	BaseURL string
	// BearerToken is an operator JWT, sent on admin routes.
	BearerToken string
	// CronSecret is sent instead of BearerToken on the cron trigger.
	CronSecret string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 30 * time.Second,
	}
}

// Launch represents the API launch model.
type Launch struct {
	ID        string     `json:"id"`
	Date      string     `json:"date"`
	Status    string     `json:"status"`
	Apps      []string   `json:"apps"`
	CreatedAt time.Time  `json:"createdAt"`
	FlushedAt *time.Time `json:"flushedAt,omitempty"`
	Name      string     `json:"name,omitempty"`
	CreatedBy string     `json:"createdBy,omitempty"`
}

// LaunchResult is one app's reconciled count for a flushed launch.
type LaunchResult struct {
	AppID string `json:"appId"`
	Votes int64  `json:"votes"`
}

type LaunchHistory struct {
	Launch  Launch         `json:"launch"`
	Results []LaunchResult `json:"results"`
}

// App is the public catalog entry shown on the today view.
type App struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	IsPremium  bool   `json:"isPremium"`
	TotalVotes int64  `json:"totalVotes"`
}

type Today struct {
	Date        string           `json:"date"`
	Premium     []App            `json:"premium"`
	NonPremium  []App            `json:"nonPremium"`
	Votes       map[string]int64 `json:"votes"`
	VotedAppIDs []string         `json:"votedAppIds"`
}

type FlushResult struct {
	Message    string           `json:"message"`
	VoteCounts map[string]int64 `json:"voteCounts"`
	Launch     *Launch          `json:"launch,omitempty"`
}

type StepResult struct {
	Success    bool             `json:"success"`
	Message    string           `json:"message"`
	Error      string           `json:"error,omitempty"`
	Date       string           `json:"date,omitempty"`
	VoteCounts map[string]int64 `json:"voteCounts,omitempty"`
	AppIDs     []string         `json:"appIds,omitempty"`
	Skipped    bool             `json:"skipped,omitempty"`
}

type CycleResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Results struct {
		Today         string     `json:"today"`
		FlushPrevious StepResult `json:"flushPrevious"`
		CreateNew     StepResult `json:"createNew"`
		CycleComplete bool       `json:"cycleComplete"`
	} `json:"results"`
	NextCycle string `json:"nextCycle"`
}

type RepairResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Details struct {
		Date        string   `json:"date"`
		Before      []string `json:"before"`
		After       []string `json:"after"`
		BeforeCount int      `json:"beforeCount"`
		AfterCount  int      `json:"afterCount"`
		Repaired    bool     `json:"repaired"`
	} `json:"details"`
}

// AuditEntry represents an audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Type      string         `json:"type"`
	Name      string         `json:"name"`
	Path      string         `json:"path"`
	Status    string         `json:"status"`
	Message   string         `json:"message"`
	Payload   map[string]any `json:"payload"`
	Error     string         `json:"error"`
	CreatedAt time.Time      `json:"createdAt"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	// Count is set on vote conflicts.
	Count *int64
	Body  string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

func newAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status, Body: string(body)}
	var env struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
		Count *int64 `json:"count"`
	}
	if json.Unmarshal(body, &env) == nil {
		apiErr.Code = env.Error.Code
		apiErr.Message = env.Error.Message
		apiErr.Count = env.Count
	}
	return apiErr
}

// CreateLaunch opens the active launch for date.
func (c *Client) CreateLaunch(ctx context.Context, date string, appIDs []string, name string) (Launch, error) {
	body := map[string]any{
		"date":   date,
		"appIds": appIDs,
	}
	if name != "" {
		body["name"] = name
	}
	var resp struct {
		Launch Launch `json:"launch"`
	}
	err := c.do(ctx, http.MethodPost, "launches", body, &resp, false)
	return resp.Launch, err
}

// ActiveLaunch returns nil when no launch is active.
func (c *Client) ActiveLaunch(ctx context.Context) (*Launch, error) {
	var resp struct {
		Launch *Launch `json:"launch"`
	}
	err := c.do(ctx, http.MethodGet, "launches/active", nil, &resp, false)
	return resp.Launch, err
}

// Launches lists flushed launches, newest first.
func (c *Client) Launches(ctx context.Context, limit int) ([]Launch, error) {
	endpoint := "launches"
	if limit > 0 {
		endpoint += "?limit=" + strconv.Itoa(limit)
	}
	var resp struct {
		Items []Launch `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp, false)
	return resp.Items, err
}

func (c *Client) LaunchHistory(ctx context.Context, date string) (LaunchHistory, error) {
	var resp LaunchHistory
	err := c.do(ctx, http.MethodGet, "launches/"+url.PathEscape(date), nil, &resp, false)
	return resp, err
}

func (c *Client) Flush(ctx context.Context, date string) (FlushResult, error) {
	var resp FlushResult
	err := c.do(ctx, http.MethodPost, "launches/"+url.PathEscape(date)+"/flush", nil, &resp, false)
	return resp, err
}

// Today returns the public view. voterToken may be empty.
func (c *Client) Today(ctx context.Context, voterToken string) (Today, error) {
	endpoint := "launches/today"
	if voterToken != "" {
		endpoint += "?token=" + url.QueryEscape(voterToken)
	}
	var resp Today
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp, false)
	return resp, err
}

// Vote casts a vote and returns the new count. A conflict is returned as
// *APIError with Count set.
func (c *Client) Vote(ctx context.Context, voterToken, appID string) (int64, error) {
	return c.vote(ctx, voterToken, appID, false)
}

func (c *Client) Unvote(ctx context.Context, voterToken, appID string) (int64, error) {
	return c.vote(ctx, voterToken, appID, true)
}

func (c *Client) vote(ctx context.Context, voterToken, appID string, unvote bool) (int64, error) {
	q := url.Values{}
	q.Set("toolId", appID)
	q.Set("token", voterToken)
	if unvote {
		q.Set("action", "unvote")
	}
	var resp struct {
		Count int64 `json:"count"`
	}
	err := c.do(ctx, http.MethodPost, "vote?"+q.Encode(), nil, &resp, false)
	return resp.Count, err
}

// Repair rebuilds the eligibility set. The result is decoded on failure too.
func (c *Client) Repair(ctx context.Context) (RepairResult, error) {
	var resp RepairResult
	err := c.do(ctx, http.MethodPost, "admin/repair", nil, &resp, true)
	return resp, err
}

// TriggerCycle runs the daily cycle through the admin route.
func (c *Client) TriggerCycle(ctx context.Context) (CycleResult, error) {
	var resp CycleResult
	err := c.do(ctx, http.MethodPost, "admin/cycle", nil, &resp, true)
	return resp, err
}

// CronCycle runs the daily cycle through the cron route using CronSecret.
func (c *Client) CronCycle(ctx context.Context) (CycleResult, error) {
	cron := *c
	cron.BearerToken = c.CronSecret
	var resp CycleResult
	err := cron.do(ctx, http.MethodGet, "cron/daily-cycle", nil, &resp, true)
	return resp, err
}

func (c *Client) Audit(ctx context.Context, auditType string, limit int) ([]AuditEntry, error) {
	q := url.Values{}
	if auditType != "" {
		q.Set("type", auditType)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	endpoint := "admin/audit"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp struct {
		Items []AuditEntry `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp, false)
	return resp.Items, err
}

// ScheduleApp sets the day an app enters the daily cycle.
func (c *Client) ScheduleApp(ctx context.Context, appID, date string) error {
	body := map[string]any{"launchDate": date}
	return c.do(ctx, http.MethodPut, "apps/"+url.PathEscape(appID)+"/launch-date", body, nil, false)
}

// do sends the request. With decodeOnError the body is decoded into out even
// for non-2xx responses that carry a result document.
func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any, decodeOnError bool) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		apiErr := newAPIError(resp.StatusCode, data)
		if decodeOnError && out != nil && apiErr.Code == "" {
			_ = json.Unmarshal(data, out)
		}
		return apiErr
	}
	if out != nil && len(data) > 0 {
		return json.Unmarshal(data, out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
