// Package alert delivers end-of-run messages to an operator channel.
package alert

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Dispatcher delivers a message. Delivery is best effort: a false return is
// logged by the caller and never fails the job.
type Dispatcher interface {
	Notify(ctx context.Context, message string) bool
}

// Config configures alert delivery.
type Config struct {
	WebhookURL string
	BackupDir  string
	Retries    int
	Timeout    time.Duration
}

// Message is the payload written to the backup directory.
type Message struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

func newMessage(text string) *Message {
	return &Message{
		ID:        uuid.NewString(),
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}
}

// New creates the dispatcher matching cfg: a webhook when a URL is set,
// otherwise one that only logs.
func New(cfg Config) Dispatcher {
	log := slog.With("component", "alert")

	if cfg.WebhookURL == "" {
		log.Info("no webhook configured, alerts are logged only")
		return LogDispatcher{log: log}
	}

	d, err := NewWebhookDispatcher(cfg)
	if err != nil {
		log.Warn("failed to create webhook dispatcher, alerts are logged only", "error", err)
		return LogDispatcher{log: log}
	}
	log.Info("using webhook dispatcher", "backup_dir", d.backup.dir)
	return d
}

// LogDispatcher writes messages to the structured log.
type LogDispatcher struct {
	log *slog.Logger
}

// Notify logs message and always succeeds.
func (d LogDispatcher) Notify(ctx context.Context, message string) bool {
	log := d.log
	if log == nil {
		log = slog.Default()
	}
	log.Info("alert", "message", message)
	return true
}
