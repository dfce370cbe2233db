// Package alertclient forwards alert envelopes to the alert-rule
// evaluation service as authenticated internal calls.
package alertclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/storepulse-systems/storepulse/common/envelope"
)

// Forwarder hands alert envelopes to the rule evaluation collaborator.
type Forwarder interface {
	Forward(ctx context.Context, e *envelope.Envelope) error
}

type Client struct {
	baseURL     string
	serviceAuth string
	httpClient  *http.Client
}

// New creates an alert forwarding client. A nil client is valid and
// drops alerts, for deployments without the alerting service.
func New(baseURL, serviceAuth string, timeout time.Duration) *Client {
	return &Client{
		baseURL:     baseURL,
		serviceAuth: serviceAuth,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Forward posts the alert envelope to the evaluation endpoint.
func (c *Client) Forward(ctx context.Context, e *envelope.Envelope) error {
	if c == nil {
		return nil
	}

	bodyBytes, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/alerts/evaluate", bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	if c.serviceAuth != "" {
		request.Header.Set("Authorization", "Bearer "+c.serviceAuth)
	}

	resp, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("send alert: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("alert service returned status %d", resp.StatusCode)
	}

	return nil
}
