package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// WebhookDispatcher posts {"text": message} to an incoming-webhook URL.
type WebhookDispatcher struct {
	url     string
	client  *http.Client
	backup  *FileBackup
	retries int
	backoff time.Duration
	log     *slog.Logger
}

// NewWebhookDispatcher creates a dispatcher for cfg.WebhookURL.
func NewWebhookDispatcher(cfg Config) (*WebhookDispatcher, error) {
	backup, err := NewFileBackup(cfg.BackupDir)
	if err != nil {
		return nil, fmt.Errorf("create file backup: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	retries := cfg.Retries
	if retries <= 0 {
		retries = 3
	}

	return &WebhookDispatcher{
		url:     cfg.WebhookURL,
		client:  &http.Client{Timeout: timeout},
		backup:  backup,
		retries: retries,
		backoff: time.Second,
		log:     slog.With("component", "alert"),
	}, nil
}

// Notify backs the message up locally, then posts it with retries.
func (d *WebhookDispatcher) Notify(ctx context.Context, message string) bool {
	msg := newMessage(message)

	// Backup first so a failed post still leaves a record.
	if _, err := d.backup.Save(msg); err != nil {
		d.log.Warn("alert backup failed", "error", err)
	}

	if err := d.postWithRetry(ctx, msg); err != nil {
		d.log.Warn("alert delivery failed", "id", msg.ID, "error", err)
		return false
	}
	return true
}

func (d *WebhookDispatcher) postWithRetry(ctx context.Context, msg *Message) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = d.backoff
	eb.MaxElapsedTime = 0
	eb.Reset()
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(d.retries-1)), ctx)

	attempt := 0
	op := func() error {
		attempt++
		return d.post(ctx, msg)
	}
	notify := func(err error, wait time.Duration) {
		d.log.Warn("alert post failed, retrying", "attempt", attempt, "retries", d.retries, "error", err, "backoff", wait.String())
	}

	if err := backoff.RetryNotify(op, b, notify); err != nil {
		return fmt.Errorf("all %d attempts failed: %w", attempt, err)
	}
	return nil
}

type webhookPayload struct {
	Text string `json:"text"`
}

// post sends a single request. 4xx responses other than 429 are permanent.
func (d *WebhookDispatcher) post(ctx context.Context, msg *Message) error {
	body, err := json.Marshal(webhookPayload{Text: msg.Text})
	if err != nil {
		return backoff.Permanent(fmt.Errorf("marshal message: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		d.log.Debug("alert posted", "id", msg.ID, "status", resp.StatusCode)
		return nil
	}

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	err = fmt.Errorf("http %d: %s", resp.StatusCode, string(respBody))
	if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
		return backoff.Permanent(err)
	}
	return err
}
