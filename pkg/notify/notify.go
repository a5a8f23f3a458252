// Package notify delivers local notifications: outbox delivery
// confirmations and forwarded push payloads. The concrete publisher speaks
// the ntfy HTTP convention, a plain POST with metadata headers, which most
// self-hosted notification relays accept.
package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Notification is one user-visible message.
type Notification struct {
	Title    string
	Body     string
	Tag      string
	ClickURL string
	Silent   bool
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Nop discards notifications. Used when no relay is configured.
type Nop struct{}

func (Nop) Notify(context.Context, Notification) error { return nil }

var nopLogger = zap.NewNop()

type WebhookOpts struct {
	// URL is the full topic URL of the relay, e.g.
	// "https://ntfy.example.com/edgecache". Required.
	URL string

	// Token is an optional bearer token.
	Token string

	// Client defaults to a client with a 10 second timeout.
	Client *http.Client

	Logger *zap.Logger
}

func (opts *WebhookOpts) Init() error {
	if strings.TrimSpace(opts.URL) == "" {
		return errors.New("empty notify url")
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 10 * time.Second}
	}
	if opts.Logger == nil {
		opts.Logger = nopLogger
	}
	return nil
}

// Webhook publishes notifications to an ntfy-compatible relay.
type Webhook struct {
	opts WebhookOpts
}

func NewWebhook(opts WebhookOpts) (*Webhook, error) {
	if err := opts.Init(); err != nil {
		return nil, err
	}
	return &Webhook{opts: opts}, nil
}

func (w *Webhook) Notify(ctx context.Context, n Notification) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.opts.URL, bytes.NewReader([]byte(n.Body)))
	if err != nil {
		return fmt.Errorf("build notify request: %w", err)
	}

	if n.Title != "" {
		req.Header.Set("Title", n.Title)
	}
	if n.Tag != "" {
		req.Header.Set("Tags", n.Tag)
	}
	if n.ClickURL != "" {
		req.Header.Set("Click", n.ClickURL)
	}
	if n.Silent {
		req.Header.Set("Priority", "min")
	}
	if w.opts.Token != "" {
		req.Header.Set("Authorization", "Bearer "+w.opts.Token)
	}

	resp, err := w.opts.Client.Do(req)
	if err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("notification relay answered %d", resp.StatusCode)
	}

	w.opts.Logger.Debug("notification published", zap.String("title", n.Title))
	return nil
}
