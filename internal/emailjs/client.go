// Package emailjs sends template emails through the EmailJS REST endpoint.
package emailjs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"secretfriend/internal/models"
)

// DefaultEndpoint is the public EmailJS send endpoint.
const DefaultEndpoint = "https://api.emailjs.com/api/v1.0/email/send"

// HTTPDoer is the interface for executing HTTP requests. *http.Client satisfies it.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// APIError is returned when the endpoint answers with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("emailjs: status %d: %s", e.StatusCode, e.Body)
}

type sendRequest struct {
	ServiceID      string         `json:"service_id"`
	TemplateID     string         `json:"template_id"`
	UserID         string         `json:"user_id"`
	TemplateParams templateParams `json:"template_params"`
}

type templateParams struct {
	ToName       string `json:"to_name"`
	ToEmail      string `json:"to_email"`
	SecretFriend string `json:"secret_friend"`
}

// Client is an EmailJS API client. Requests are never retried.
type Client struct {
	endpoint   string
	httpClient HTTPDoer
}

// NewClient creates a Client. An empty endpoint uses DefaultEndpoint and a nil
// doer uses an *http.Client with the given timeout.
func NewClient(endpoint string, timeout time.Duration, doer HTTPDoer) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if doer == nil {
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		doer = &http.Client{Timeout: timeout}
	}
	return &Client{endpoint: endpoint, httpClient: doer}
}

// Notify sends one notification.
func (c *Client) Notify(ctx context.Context, cfg models.DeliveryConfig, n models.Notification) error {
	payload, err := json.Marshal(sendRequest{
		ServiceID:  cfg.ServiceID,
		TemplateID: cfg.TemplateID,
		UserID:     cfg.PublicKey,
		TemplateParams: templateParams{
			ToName:       n.ToName,
			ToEmail:      n.ToEmail,
			SecretFriend: n.SecretFriend,
		},
	})
	if err != nil {
		return fmt.Errorf("marshaling request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
