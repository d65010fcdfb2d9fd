// Package notify delivers subject-facing decision notifications. Delivery is
// fire-and-forget: failures are logged and counted but never returned to the
// decision path.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/mbd888/riskcore/internal/idgen"
	"github.com/mbd888/riskcore/internal/metrics"
	"github.com/mbd888/riskcore/internal/retry"
)

// EventType classifies a notification.
type EventType string

const (
	EventTransactionDeclined EventType = "transaction.declined"
	EventTransactionReview   EventType = "transaction.review"
	EventCreditDecision      EventType = "credit.decision"
	EventLimitReduced        EventType = "credit.limit_reduced"
)

// Event is one outbound notification.
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	SubjectID string                 `json:"subjectId"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Notifier delivers events. Implementations must not block the caller beyond
// their own timeout and must not return errors.
type Notifier interface {
	Notify(ctx context.Context, ev *Event)
}

// LogNotifier writes events to the log. Default in development mode.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a log-only notifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, ev *Event) {
	metrics.NotificationsTotal.WithLabelValues("ok").Inc()
	n.logger.Info("notification",
		"event", ev.Type, "subject_id", ev.SubjectID, "data", ev.Data)
}

// WebhookNotifier POSTs events to a configured endpoint.
type WebhookNotifier struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// Webhook delivery retry budget. 4xx responses are not retried; the endpoint
// has seen the event and rejected it.
const (
	webhookAttempts   = 3
	webhookRetryDelay = 500 * time.Millisecond
)

// NewWebhookNotifier creates a webhook notifier with a bounded delivery timeout.
func NewWebhookNotifier(url string, logger *slog.Logger) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}
}

func (n *WebhookNotifier) Notify(ctx context.Context, ev *Event) {
	body, err := json.Marshal(ev)
	if err != nil {
		metrics.NotificationsTotal.WithLabelValues("error").Inc()
		n.logger.Warn("notification marshal failed", "event", ev.Type, "error", err)
		return
	}

	err = retry.Do(ctx, webhookAttempts, webhookRetryDelay, func() error {
		return n.deliver(ctx, body)
	})
	if err != nil {
		metrics.NotificationsTotal.WithLabelValues("error").Inc()
		n.logger.Warn("notification delivery failed",
			"event", ev.Type, "subject_id", ev.SubjectID, "error", err)
		return
	}
	metrics.NotificationsTotal.WithLabelValues("ok").Inc()
}

func (n *WebhookNotifier) deliver(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return retry.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode <= 299:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode <= 499:
		return retry.Permanent(fmt.Errorf("webhook rejected event: status %d", resp.StatusCode))
	default:
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
}

// NewEvent builds an event with an assigned ID and timestamp.
func NewEvent(t EventType, subjectID string, data map[string]interface{}) *Event {
	return &Event{
		ID:        idgen.WithPrefix("evt_"),
		Type:      t,
		SubjectID: subjectID,
		Timestamp: time.Now(),
		Data:      data,
	}
}
