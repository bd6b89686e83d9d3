package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"chromdm/internal/config"
)

const userAgent = "chromdm/0.1"

// Service is the notification surface used by the CLI and background jobs.
type Service interface {
	NotifyDownloadsCompleted(ctx context.Context, succeeded, failed int, elapsed time.Duration) error
	NotifyJobFinished(ctx context.Context, jobID, status string, completed, failed int, elapsed time.Duration) error
	TestNotification(ctx context.Context) error
}

// NewService builds an ntfy-backed service, or a no-op when no topic is set.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notify.NtfyTopic)
	if topic == "" {
		return noopService{}
	}
	timeout := cfg.NotifyTimeout()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
}

func (n *ntfyService) NotifyDownloadsCompleted(ctx context.Context, succeeded, failed int, elapsed time.Duration) error {
	data := payload{
		title:   "chromdm - Downloads Complete",
		message: fmt.Sprintf("%d files downloaded in %s", succeeded, durationText(elapsed)),
		tags:    []string{"chromdm", "download", "completed"},
	}
	if failed > 0 {
		data.title = "chromdm - Downloads Complete (with errors)"
		data.message = fmt.Sprintf("%d succeeded, %d failed in %s", succeeded, failed, durationText(elapsed))
		data.tags = []string{"chromdm", "download", "warning"}
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyJobFinished(ctx context.Context, jobID, status string, completed, failed int, elapsed time.Duration) error {
	data := payload{
		title:   fmt.Sprintf("chromdm - Job %s %s", jobID, status),
		message: fmt.Sprintf("%d succeeded, %d failed in %s", completed, failed, durationText(elapsed)),
		tags:    []string{"chromdm", "job", status},
	}
	if failed > 0 {
		data.priority = "high"
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	return n.send(ctx, payload{
		title:    "chromdm - Test",
		message:  "Notification system test",
		tags:     []string{"chromdm", "test"},
		priority: "low",
	})
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func durationText(d time.Duration) string {
	d = d.Round(time.Second)
	if d <= 0 {
		return "0s"
	}
	return d.String()
}

type noopService struct{}

func (noopService) NotifyDownloadsCompleted(context.Context, int, int, time.Duration) error { return nil }
func (noopService) NotifyJobFinished(context.Context, string, string, int, int, time.Duration) error {
	return nil
}
func (noopService) TestNotification(context.Context) error { return nil }
