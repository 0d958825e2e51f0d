package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"cdnmon/internal/models"
)

// Webhook POSTs the alert as JSON to a configured URL, retrying transient
// failures a few times with bounded waits.
type Webhook struct {
	url    string
	client *retryablehttp.Client
}

func NewWebhook(url string) *Webhook {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.RetryWaitMin = 300 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.HTTPClient.Timeout = 10 * time.Second
	client.Logger = nil
	return &Webhook{url: url, client: client}
}

func (w *Webhook) Name() string { return "webhook" }

type webhookPayload struct {
	Hostname  string    `json:"hostname"`
	IPAddress string    `json:"ip_address"`
	Role      string    `json:"role"`
	AlertType string    `json:"alert_type"`
	Severity  string    `json:"severity"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

func (w *Webhook) Send(ctx context.Context, alert models.Alert, server models.Server) error {
	body, err := json.Marshal(webhookPayload{
		Hostname:  server.Hostname,
		IPAddress: server.IPAddress,
		Role:      server.Role,
		AlertType: alert.AlertType,
		Severity:  alert.Severity,
		Message:   alert.Message,
		CreatedAt: alert.CreatedAt,
	})
	if err != nil {
		return err
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, w.url, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 2048))
		return fmt.Errorf("webhook status %d: %s", res.StatusCode, string(msg))
	}
	return nil
}
