// Package webhook delivers the deployment-ready payload to the caller's
// webhook URL: up to maxRetries attempts with 2^attempt backoff between
// them, and a non-fatal false return on exhaustion rather than an error
// the caller must handle specially.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/visgate-ai/deploy-orchestrator/pkg/telemetry"
)

// Notifier posts JSON payloads to user-supplied webhook URLs.
type Notifier struct {
	httpClient *http.Client
	logger     *zap.Logger
}

func New(logger *zap.Logger) *Notifier {
	return &Notifier{
		httpClient: &http.Client{},
		logger:     logger,
	}
}

// Notify posts payload to url with retries, returning whether delivery
// ultimately succeeded. A false return is final (every attempt is spent);
// the orchestration engine records it as the deployment's error and leaves
// the status at ready, never moving it to webhook_failed.
func (n *Notifier) Notify(ctx context.Context, url string, payload any, timeout time.Duration, maxRetries int, deploymentID string) bool {
	ctx, end := telemetry.Span(ctx, "webhook.notify", map[string]string{"deployment_id": deploymentID})
	defer end()

	body, err := json.Marshal(payload)
	if err != nil {
		n.logger.Error("failed to marshal webhook payload", zap.String("deployment_id", deploymentID), zap.Error(err))
		return false
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		reqCtx, cancel := context.WithTimeout(ctx, timeout)
		req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			cancel()
			lastErr = err
			break
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := n.httpClient.Do(req)
		cancel()
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				n.logger.Info("webhook delivered",
					zap.String("deployment_id", deploymentID),
					zap.Int("status", resp.StatusCode),
				)
				return true
			}
			lastErr = fmt.Errorf("webhook returned status %d", resp.StatusCode)
		} else {
			lastErr = err
		}

		if attempt < maxRetries-1 {
			delay := time.Duration(1<<attempt) * time.Second
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				lastErr = ctx.Err()
				attempt = maxRetries
			}
		}
	}

	telemetry.RecordWebhookFailure()
	n.logger.Warn("webhook delivery failed after retries",
		zap.String("deployment_id", deploymentID),
		zap.Int("retries", maxRetries),
		zap.Error(lastErr),
	)
	return false
}
