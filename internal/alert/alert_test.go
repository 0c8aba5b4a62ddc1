package alert

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/withObsrvr/obsrvr-table-sync/internal/tablesync"
)

func newTestDispatcher(t *testing.T, url string) *WebhookDispatcher {
	t.Helper()
	d, err := NewWebhookDispatcher(Config{WebhookURL: url, BackupDir: t.TempDir(), Retries: 3})
	if err != nil {
		t.Fatalf("NewWebhookDispatcher failed: %v", err)
	}
	d.backoff = time.Millisecond
	return d
}

func TestWebhookPostsText(t *testing.T) {
	var got webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := newTestDispatcher(t, srv.URL)
	if !d.Notify(context.Background(), "run ok") {
		t.Fatal("Notify returned false")
	}
	if got.Text != "run ok" {
		t.Errorf("posted text %q", got.Text)
	}

	entries, err := os.ReadDir(d.backup.dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || !strings.HasSuffix(entries[0].Name(), ".json") {
		t.Errorf("backup dir contains %v", entries)
	}
}

func TestWebhookRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := newTestDispatcher(t, srv.URL)
	if !d.Notify(context.Background(), "hello") {
		t.Fatal("Notify should succeed on the third attempt")
	}
	if calls.Load() != 3 {
		t.Errorf("server called %d times, want 3", calls.Load())
	}
}

func TestWebhookGivesUp(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantCalls int32
	}{
		{"client error is permanent", http.StatusBadRequest, 1},
		{"server error exhausts retries", http.StatusInternalServerError, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				http.Error(w, "nope", tt.status)
			}))
			defer srv.Close()

			d := newTestDispatcher(t, srv.URL)
			if d.Notify(context.Background(), "hello") {
				t.Fatal("Notify should report failure")
			}
			if calls.Load() != tt.wantCalls {
				t.Errorf("server called %d times, want %d", calls.Load(), tt.wantCalls)
			}
		})
	}
}

func TestNewFallsBackToLog(t *testing.T) {
	d := New(Config{})
	if _, ok := d.(LogDispatcher); !ok {
		t.Fatalf("New without URL returned %T", d)
	}
	if !d.Notify(context.Background(), "logged") {
		t.Error("LogDispatcher.Notify should always succeed")
	}
}

func sampleSummary() *tablesync.JobSummary {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return &tablesync.JobSummary{
		RunID:      "run-42",
		StartedAt:  start,
		FinishedAt: start.Add(1500 * time.Millisecond),
		Succeeded:  true,
		Outcomes: []tablesync.Outcome{
			{Table: "orders", Status: tablesync.Created, RowCount: 3},
			{Table: "users", Status: tablesync.Appended, RowCount: 1},
			{Table: "logs", Status: tablesync.SkippedNoKey},
			{Table: "tools", Status: tablesync.FetchFailed, Err: errors.New("access denied")},
		},
	}
}

func TestFormatSummary(t *testing.T) {
	msg := FormatSummary(sampleSummary())
	lines := strings.Split(msg, "\n")

	if len(lines) != 5 {
		t.Fatalf("got %d lines, want header + 4:\n%s", len(lines), msg)
	}
	header := "table-sync run run-42 completed in 1.5s: 4 tables, 1 created, 1 appended, 1 failed, 4 rows loaded"
	if lines[0] != header {
		t.Errorf("header = %q", lines[0])
	}
	want := []string{
		"- orders: created (3 rows)",
		"- users: appended (1 rows)",
		"- logs: skipped_no_key",
		"- tools: fetch_failed: access denied",
	}
	for i, w := range want {
		if lines[i+1] != w {
			t.Errorf("line %d = %q, want %q", i+1, lines[i+1], w)
		}
	}
}

func TestFormatFailure(t *testing.T) {
	err := fmt.Errorf("%w: destination: dial tcp: timeout", tablesync.ErrConnection)
	got := FormatFailure("run-7", err)
	want := "table-sync run run-7 failed: connection failed: destination: dial tcp: timeout"
	if got != want {
		t.Errorf("FormatFailure = %q, want %q", got, want)
	}
}

type captureDispatcher struct {
	messages []string
	ok       bool
}

func (c *captureDispatcher) Notify(ctx context.Context, message string) bool {
	c.messages = append(c.messages, message)
	return c.ok
}

func TestReporter(t *testing.T) {
	ctx := context.Background()

	d := &captureDispatcher{ok: true}
	r := Reporter{Dispatcher: d}

	if err := r.Report(ctx, "run-42", sampleSummary(), nil); err != nil {
		t.Fatalf("Report(summary) failed: %v", err)
	}
	if err := r.Report(ctx, "run-43", nil, errors.New("boom")); err != nil {
		t.Fatalf("Report(failure) failed: %v", err)
	}
	if len(d.messages) != 2 {
		t.Fatalf("got %d messages", len(d.messages))
	}
	if !strings.HasPrefix(d.messages[0], "table-sync run run-42 completed") {
		t.Errorf("summary message = %q", d.messages[0])
	}
	if d.messages[1] != "table-sync run run-43 failed: boom" {
		t.Errorf("failure message = %q", d.messages[1])
	}

	d.ok = false
	if err := r.Report(ctx, "run-44", nil, errors.New("boom")); err == nil {
		t.Error("undelivered alert should return an error")
	}
}
