package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"hybrid_monitor/internal/alert"
)

const systemName = "Hybrid Backdoor Detection System"

func post(ctx context.Context, client *http.Client, url, token string, body interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s: http status %d", url, resp.StatusCode)
	}
	return nil
}

// Webhook posts the alert as JSON, with a bearer token when one is set.
type Webhook struct {
	url    string
	token  string
	client *http.Client
}

func NewWebhook(url, token string, timeout time.Duration) *Webhook {
	return &Webhook{url: url, token: token, client: &http.Client{Timeout: timeout}}
}

func (w *Webhook) Name() string { return "webhook" }

type webhookBody struct {
	alert.Record
	System string `json:"system"`
}

func (w *Webhook) Send(ctx context.Context, rec alert.Record) error {
	return post(ctx, w.client, w.url, w.token, webhookBody{Record: rec, System: systemName})
}

// Slack posts a human readable message to an incoming webhook.
type Slack struct {
	url    string
	client *http.Client
}

func NewSlack(url string, timeout time.Duration) *Slack {
	return &Slack{url: url, client: &http.Client{Timeout: timeout}}
}

func (s *Slack) Name() string { return "slack" }

type slackBody struct {
	Text      string `json:"text"`
	Username  string `json:"username"`
	IconEmoji string `json:"icon_emoji"`
}

func (s *Slack) Send(ctx context.Context, rec alert.Record) error {
	return post(ctx, s.client, s.url, "", slackBody{
		Text:      Message(rec),
		Username:  systemName,
		IconEmoji: ":shield:",
	})
}

// Message is the plain-text rendering used by chat transports.
func Message(rec alert.Record) string {
	msg := fmt.Sprintf("SECURITY ALERT\n\nSeverity: %s\nConfidence Score: %.2f%%\nAttack Type: %s\nSource IP: %s\nTimestamp: %s",
		rec.Severity, rec.Score*100, rec.AttackType, rec.SourceIdentity, rec.Timestamp.Format(time.RFC3339))
	if rec.Details != "" {
		msg += "\nDetails: " + rec.Details
	}
	return msg
}
