package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"launchledger/internal/domain"
	"launchledger/internal/events"
)

type auditSink struct{ entries []domain.AuditLog }

func (a *auditSink) InsertAudit(_ context.Context, e domain.AuditLog) error {
	a.entries = append(a.entries, e)
	return nil
}

func TestRevalidateURL(t *testing.T) {
	assert.Equal(t, "", RevalidateURL("  "))
	assert.Equal(t, "https://site.test/api/revalidate", RevalidateURL("https://site.test/"))
	assert.Equal(t, "https://site.test/api/revalidate", RevalidateURL("https://site.test/api/revalidate"))
}

func TestRevalidatePostsPath(t *testing.T) {
	var got revalidateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/revalidate", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"revalidated":true}`))
	}))
	defer srv.Close()

	sink := &auditSink{}
	logger, _ := test.NewNullLogger()
	r := NewRevalidator(srv.URL, time.Second, events.Writer{Store: sink}, logger)

	require.NoError(t, r.Revalidate(context.Background(), "/launch"))
	assert.Equal(t, "/launch", got.Path)
	require.Len(t, sink.entries, 1)
	assert.Equal(t, domain.AuditSuccess, sink.entries[0].Status)
	assert.Equal(t, "/launch", sink.entries[0].Path)
}

func TestRevalidateReportsFailureAndAudits(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	sink := &auditSink{}
	logger, hook := test.NewNullLogger()
	r := NewRevalidator(srv.URL, time.Second, events.Writer{Store: sink}, logger)

	err := r.Revalidate(context.Background(), "/launch")
	require.ErrorContains(t, err, "status 502")
	require.Len(t, sink.entries, 1)
	assert.Equal(t, domain.AuditError, sink.entries[0].Status)
	assert.NotEmpty(t, hook.Entries)
}

func TestRevalidateDisabledWithoutEndpoint(t *testing.T) {
	r := NewRevalidator("", 0, events.Writer{}, nil)
	assert.ErrorIs(t, r.Revalidate(context.Background(), "/launch"), ErrDisabled)
}
