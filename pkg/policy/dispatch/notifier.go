package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"monay-hq/authz/pkg/policy/multisig"
)

// LogNotifier writes notifications to the log.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, note Notification) error {
	n.logger.Info("notification",
		"transaction_id", note.TransactionID,
		"entity_id", note.EntityID,
		"rule_id", note.RuleID,
		"outcome", note.Outcome,
		"recipients", note.Recipients,
		"channel", note.Channel,
		"template", note.Template,
	)
	return nil
}

// WebhookConfig configures a WebhookNotifier.
type WebhookConfig struct {
	URL     string
	Headers map[string]string
	Timeout time.Duration

	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int

	// Backoff is the wait before the first retry; attempt n waits n*Backoff.
	Backoff time.Duration
}

// WebhookNotifier POSTs notifications as JSON.
type WebhookNotifier struct {
	config WebhookConfig
	client *http.Client
	logger *slog.Logger
}

// NewWebhookNotifier creates a WebhookNotifier.
func NewWebhookNotifier(cfg WebhookConfig, logger *slog.Logger) (*WebhookNotifier, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("webhook url cannot be empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookNotifier{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.With("component", "policy.dispatch.webhook"),
	}, nil
}

// Notify delivers the notification, retrying on transport errors and 5xx responses.
func (w *WebhookNotifier) Notify(ctx context.Context, note Notification) error {
	body, err := json.Marshal(note)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	return w.post(ctx, body)
}

func (w *WebhookNotifier) post(ctx context.Context, body []byte) error {
	var lastErr error
	for attempt := 0; attempt <= w.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt) * w.config.Backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		retry, err := w.send(ctx, body)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retry {
			break
		}
		w.logger.Warn("webhook delivery failed, retrying",
			"attempt", attempt+1,
			"error", err,
		)
	}
	return fmt.Errorf("webhook delivery failed: %w", lastErr)
}

// send performs one request and reports whether a failure is retryable.
func (w *WebhookNotifier) send(ctx context.Context, body []byte) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.config.URL, bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return true, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode < 300:
		return false, nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return true, fmt.Errorf("webhook returned status %d", resp.StatusCode)
	default:
		return false, fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
}

// LogApprovalWorkflow logs approval requests and always accepts them.
type LogApprovalWorkflow struct {
	logger *slog.Logger
}

// NewLogApprovalWorkflow creates a LogApprovalWorkflow.
func NewLogApprovalWorkflow(logger *slog.Logger) *LogApprovalWorkflow {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogApprovalWorkflow{logger: logger}
}

func (a *LogApprovalWorkflow) RequestApproval(ctx context.Context, transactionID string, req multisig.Requirement) error {
	a.logger.Info("approval request opened",
		"transaction_id", transactionID,
		"required_signatures", req.RequiredSignatures,
		"time_delay_seconds", req.TimeDelaySeconds,
		"approver_roles", req.ApproverRoles,
		"governing_policy_id", req.GoverningPolicyID,
	)
	return nil
}
