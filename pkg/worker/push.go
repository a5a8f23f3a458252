package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/stefanjohn16/edgecache/pkg/notify"
)

// PushPayload is the JSON body accepted by the push intake endpoint. It
// mirrors what the origin's backend sends; unknown fields are ignored.
type PushPayload struct {
	Title              string `json:"title"`
	Body               string `json:"body"`
	Icon               string `json:"icon"`
	Badge              string `json:"badge"`
	Tag                string `json:"tag"`
	RequireInteraction bool   `json:"requireInteraction"`
	Silent             bool   `json:"silent"`
	URL                string `json:"url"`
	AIGenerated        bool   `json:"aiGenerated"`
}

const (
	defaultPushTitle = "Update available"
	defaultPushTag   = "site-notification"
	defaultPushURL   = "/"
)

func (p *PushPayload) applyDefaults() {
	if p.Title == "" {
		p.Title = defaultPushTitle
	}
	if p.Tag == "" {
		p.Tag = defaultPushTag
	}
	if p.URL == "" {
		p.URL = defaultPushURL
	}
}

// HandlePush parses a raw push message and forwards it to the notifier.
// Malformed JSON falls back to a generic notification rather than dropping
// the wake-up entirely.
func (w *Worker) HandlePush(ctx context.Context, raw []byte) error {
	p := new(PushPayload)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, p); err != nil {
			w.opts.Logger.Warn("push payload is not json, using defaults")
			*p = PushPayload{}
		}
	}
	p.applyDefaults()

	body := p.Body
	if p.AIGenerated {
		body = "[AI] " + body
	}

	n := notify.Notification{
		Title:    p.Title,
		Body:     body,
		Tag:      p.Tag,
		ClickURL: p.URL,
		Silent:   p.Silent,
	}
	if err := w.opts.Notifier.Notify(ctx, n); err != nil {
		return fmt.Errorf("forward push: %w", err)
	}
	return nil
}
