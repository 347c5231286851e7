package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"launchledger/internal/domain"
	"launchledger/internal/events"
)

const (
	revalidateSuffix      = "/api/revalidate"
	defaultRevalidateWait = 10 * time.Second
)

// ErrDisabled is returned when no revalidation endpoint is configured.
var ErrDisabled = errors.New("revalidation endpoint not configured")

// Revalidator asks the public site to drop its cached copy of a path.
type Revalidator struct {
	endpoint string
	client   *http.Client
	audit    events.Writer
	log      logrus.FieldLogger
}

func NewRevalidator(endpoint string, timeout time.Duration, audit events.Writer, log logrus.FieldLogger) *Revalidator {
	if timeout <= 0 {
		timeout = defaultRevalidateWait
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Revalidator{
		endpoint: RevalidateURL(endpoint),
		client:   &http.Client{Timeout: timeout},
		audit:    audit,
		log:      log.WithField("component", "revalidate"),
	}
}

// RevalidateURL normalizes a configured endpoint to the revalidate route.
func RevalidateURL(endpoint string) string {
	endpoint = strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if endpoint == "" || strings.HasSuffix(endpoint, revalidateSuffix) {
		return endpoint
	}
	return endpoint + revalidateSuffix
}

type revalidateRequest struct {
	Path string `json:"path"`
}

// Revalidate posts {"path": path} to the endpoint. Every attempt is audited.
func (r *Revalidator) Revalidate(ctx context.Context, path string) error {
	if r == nil || r.endpoint == "" {
		return ErrDisabled
	}
	err := r.post(ctx, path)
	entry := domain.AuditLog{Type: domain.AuditRevalidation, Name: "revalidate", Path: path, Status: domain.AuditSuccess}
	if err != nil {
		entry.Status = domain.AuditError
		entry.Error = err.Error()
		r.log.WithError(err).WithField("path", path).Warn("revalidation failed")
	} else {
		r.log.WithField("path", path).Info("revalidated")
	}
	r.audit.Record(ctx, entry)
	return err
}

func (r *Revalidator) post(ctx context.Context, path string) error {
	data, err := json.Marshal(revalidateRequest{Path: path})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
