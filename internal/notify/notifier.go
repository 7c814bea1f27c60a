// Package notify fans operator alerts out to the configured channels
// (Telegram, Discord). Subjects act as event types: when a subject filter
// is configured, only matching alerts are delivered.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// Sender is one delivery channel.
type Sender interface {
	Send(ctx context.Context, subject, body string) error
	Name() string
}

// Notifier dispatches alerts to every registered sender. A failing sender
// never blocks delivery to the others.
type Notifier struct {
	senders  []Sender
	subjects map[string]bool
	logger   *slog.Logger
}

// NewNotifier creates a Notifier. When subjects is non-empty, only alerts
// whose subject appears in it are delivered.
func NewNotifier(senders []Sender, subjects []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(subjects))
	for _, s := range subjects {
		allowed[strings.TrimSpace(s)] = true
	}
	return &Notifier{
		senders:  senders,
		subjects: allowed,
		logger:   logger.With(slog.String("component", "notifier")),
	}
}

// Notify delivers an alert to every sender, honoring the subject filter.
func (n *Notifier) Notify(ctx context.Context, subject, body string) error {
	if len(n.subjects) > 0 && !n.subjects[subject] {
		return nil
	}
	if len(n.senders) == 0 {
		return nil
	}

	var failures []string
	for _, s := range n.senders {
		if err := s.Send(ctx, subject, body); err != nil {
			n.logger.Error("sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			failures = append(failures, fmt.Sprintf("%s: %v", s.Name(), err))
		}
	}
	if len(failures) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(failures), strings.Join(failures, "; "))
	}
	return nil
}

// postJSON is the shared webhook POST used by the HTTP-based senders.
func postJSON(ctx context.Context, client *http.Client, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}
