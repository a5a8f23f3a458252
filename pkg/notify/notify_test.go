package notify

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhook_publishes(t *testing.T) {
	var got *http.Request
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Clone(context.Background())
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(200)
	}))
	defer srv.Close()

	wh, err := NewWebhook(WebhookOpts{URL: srv.URL + "/edgecache", Token: "secret"})
	require.NoError(t, err)

	err = wh.Notify(context.Background(), Notification{
		Title:    "Submission delivered",
		Body:     "2 queued contact-forms submission(s) reached the server.",
		Tag:      "outbox-contact-forms",
		ClickURL: "https://example.com/contact",
	})
	require.NoError(t, err)

	require.NotNil(t, got)
	assert.Equal(t, "Submission delivered", got.Header.Get("Title"))
	assert.Equal(t, "outbox-contact-forms", got.Header.Get("Tags"))
	assert.Equal(t, "https://example.com/contact", got.Header.Get("Click"))
	assert.Equal(t, "Bearer secret", got.Header.Get("Authorization"))
	assert.Empty(t, got.Header.Get("Priority"))
	assert.Contains(t, string(body), "reached the server")
}

func TestWebhook_silentLowersPriority(t *testing.T) {
	var priority string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		priority = r.Header.Get("Priority")
		w.WriteHeader(200)
	}))
	defer srv.Close()

	wh, err := NewWebhook(WebhookOpts{URL: srv.URL})
	require.NoError(t, err)
	require.NoError(t, wh.Notify(context.Background(), Notification{Body: "quiet", Silent: true}))
	assert.Equal(t, "min", priority)
}

func TestWebhook_relayErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	wh, err := NewWebhook(WebhookOpts{URL: srv.URL})
	require.NoError(t, err)
	assert.Error(t, wh.Notify(context.Background(), Notification{Body: "x"}))
}

func TestNewWebhook_requiresURL(t *testing.T) {
	_, err := NewWebhook(WebhookOpts{})
	assert.Error(t, err)
}
