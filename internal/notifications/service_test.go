package notifications_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"chromdm/internal/config"
	"chromdm/internal/notifications"
)

type captured struct {
	title    string
	tags     string
	priority string
	body     string
}

func newNtfyServer(t *testing.T, status int) (*httptest.Server, *[]captured) {
	t.Helper()
	var got []captured
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got = append(got, captured{
			title:    r.Header.Get("Title"),
			tags:     r.Header.Get("Tags"),
			priority: r.Header.Get("Priority"),
			body:     string(body),
		})
		if status >= 300 {
			http.Error(w, "topic closed", status)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &got
}

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	svc := notifications.NewService(&cfg)
	if err := svc.NotifyJobFinished(context.Background(), "abcd1234", "done", 1, 0, time.Second); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
	if err := notifications.NewService(nil).TestNotification(context.Background()); err != nil {
		t.Fatalf("expected noop for nil config, got %v", err)
	}
}

func TestNtfyServiceFormatsPayloads(t *testing.T) {
	srv, got := newNtfyServer(t, http.StatusOK)
	cfg := config.Default()
	cfg.Notify.NtfyTopic = srv.URL + "/chromdm"
	svc := notifications.NewService(&cfg)
	ctx := context.Background()

	if err := svc.NotifyJobFinished(ctx, "abcd1234", "done", 3, 1, 90*time.Second+400*time.Millisecond); err != nil {
		t.Fatalf("NotifyJobFinished: %v", err)
	}
	if err := svc.NotifyDownloadsCompleted(ctx, 4, 0, 2*time.Minute); err != nil {
		t.Fatalf("NotifyDownloadsCompleted: %v", err)
	}

	if len(*got) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(*got))
	}
	job := (*got)[0]
	if job.title != "chromdm - Job abcd1234 done" || job.body != "3 succeeded, 1 failed in 1m30s" {
		t.Fatalf("unexpected job payload %+v", job)
	}
	if job.tags != "chromdm,job,done" || job.priority != "high" {
		t.Fatalf("unexpected job headers %+v", job)
	}
	dl := (*got)[1]
	if dl.title != "chromdm - Downloads Complete" || !strings.HasPrefix(dl.body, "4 files downloaded") || dl.priority != "" {
		t.Fatalf("unexpected download payload %+v", dl)
	}
}

func TestNtfyServiceReportsHTTPErrors(t *testing.T) {
	srv, _ := newNtfyServer(t, http.StatusForbidden)
	cfg := config.Default()
	cfg.Notify.NtfyTopic = srv.URL
	err := notifications.NewService(&cfg).TestNotification(context.Background())
	if err == nil || !strings.Contains(err.Error(), "403") || !strings.Contains(err.Error(), "topic closed") {
		t.Fatalf("expected 403 error with body, got %v", err)
	}
}
