package hunter_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shpitdev/outreach-contact-pipeline/internal/contact"
	"github.com/shpitdev/outreach-contact-pipeline/internal/fetch"
	"github.com/shpitdev/outreach-contact-pipeline/internal/provider"
	"github.com/shpitdev/outreach-contact-pipeline/internal/provider/hunter"
)

func newClient(t *testing.T, h http.HandlerFunc) *hunter.Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return hunter.New(hunter.Config{APIKey: "k3y", BaseURL: srv.URL},
		fetch.New(fetch.Options{RequestTimeout: time.Second, BackoffInitial: time.Millisecond}))
}

func TestDisabledWithoutKey(t *testing.T) {
	c := hunter.New(hunter.Config{}, fetch.New(fetch.Options{}))
	assert.False(t, c.Enabled())

	_, err := c.DomainSearch(context.Background(), "acme.com")
	assert.ErrorIs(t, err, provider.ErrDisabled)
	_, err = c.FindEmail(context.Background(), "acme.com", "Jane Doe")
	assert.ErrorIs(t, err, provider.ErrDisabled)
	_, err = c.Verify(context.Background(), "jane@acme.com")
	assert.ErrorIs(t, err, provider.ErrDisabled)
}

func TestDomainSearch(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/domain-search", r.URL.Path)
		assert.Equal(t, "acme.com", r.URL.Query().Get("domain"))
		assert.Equal(t, "k3y", r.URL.Query().Get("api_key"))
		_, _ = w.Write([]byte(`{"data":{"domain":"acme.com","emails":[
			{"value":"Jane.Doe@acme.com","type":"personal","confidence":91,"first_name":"Jane","last_name":"Doe","position":"Editor in Chief","linkedin":"https://linkedin.com/in/janedoe"},
			{"value":"info@acme.com","type":"generic","confidence":80}
		]}}`))
	})

	got, err := c.DomainSearch(context.Background(), "acme.com")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, contact.Candidate{
		Email:       "jane.doe@acme.com",
		Name:        "Jane Doe",
		Title:       "Editor in Chief",
		LinkedInURL: "https://linkedin.com/in/janedoe",
		Source:      contact.SourceDomainSearch,
		SourceMetadata: map[string]any{
			"provider":   "hunter",
			"confidence": 91,
			"type":       "personal",
		},
	}, got[0])
	assert.Equal(t, "", got[1].Name)
}

func TestFindEmail(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Jane Doe", r.URL.Query().Get("full_name"))
			_, _ = w.Write([]byte(`{"data":{"email":"jane@acme.com","score":88,"position":"Editor"}}`))
		})
		got, err := c.FindEmail(context.Background(), "acme.com", "Jane Doe")
		require.NoError(t, err)
		assert.Equal(t, provider.FoundEmail{Email: "jane@acme.com", Score: 88, Title: "Editor"}, got)
	})

	t.Run("not found", func(t *testing.T) {
		c := newClient(t, func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"data":{"email":null,"score":0}}`))
		})
		got, err := c.FindEmail(context.Background(), "acme.com", "Nobody Here")
		require.NoError(t, err)
		assert.Empty(t, got.Email)
	})

	t.Run("404 is not found", func(t *testing.T) {
		c := newClient(t, func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, `{"errors":[{"id":"not_found"}]}`, http.StatusNotFound)
		})
		got, err := c.FindEmail(context.Background(), "acme.com", "Nobody Here")
		require.NoError(t, err)
		assert.Empty(t, got.Email)
	})
}

func TestVerify(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"status":"accept_all","result":"risky","score":60}}`))
	})
	got, err := c.Verify(context.Background(), "jane@acme.com")
	require.NoError(t, err)
	assert.Equal(t, provider.Verification{Status: contact.StatusRisky, Score: 50, Raw: "accept_all"}, got)
}

func TestVerify_UnauthorizedIsTerminalAndRedacted(t *testing.T) {
	var calls atomic.Int32
	c := newClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "bad key", http.StatusUnauthorized)
	})
	_, err := c.Verify(context.Background(), "jane@acme.com")
	require.Error(t, err)
	assert.False(t, fetch.IsTransient(err))
	assert.NotContains(t, err.Error(), "k3y")
	assert.Equal(t, int32(1), calls.Load())
}

func TestMapStatus(t *testing.T) {
	tests := []struct {
		raw   string
		want  contact.VerificationStatus
		score int
	}{
		{"valid", contact.StatusValid, 95},
		{"invalid", contact.StatusInvalid, 0},
		{"disposable", contact.StatusInvalid, 0},
		{"accept_all", contact.StatusRisky, 50},
		{"webmail", contact.StatusRisky, 50},
		{"unknown", contact.StatusUnknown, 30},
		{"", contact.StatusUnknown, 30},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			status, score := hunter.MapStatus(tt.raw)
			assert.Equal(t, tt.want, status)
			assert.Equal(t, tt.score, score)
		})
	}
}
