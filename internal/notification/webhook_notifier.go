package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stanstork/stratum-identity/internal/config"
	"github.com/stanstork/stratum-identity/internal/models"
)

// WebhookNotifier posts every notification as JSON to a fixed URL.
type WebhookNotifier struct {
	enabled bool
	url     string
	client  *http.Client
	logger  zerolog.Logger
}

func NewWebhookNotifier(cfg config.NotificationConfig, logger zerolog.Logger) *WebhookNotifier {
	url := strings.TrimSpace(cfg.WebhookURL)
	timeout := cfg.WebhookTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{
		enabled: url != "",
		url:     url,
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With().Str("notifier", "webhook").Logger(),
	}
}

func (n *WebhookNotifier) Notify(ctx context.Context, notif models.Notification) error {
	if !n.enabled {
		return nil
	}
	payload, err := json.Marshal(notif)
	if err != nil {
		return errors.Wrap(err, "marshal webhook payload")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "build webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "post webhook")
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.Errorf("webhook responded with status %d", resp.StatusCode)
	}

	n.logger.Debug().
		Str("notification_id", notif.ID).
		Str("event_type", string(notif.EventType)).
		Msg("webhook notification delivered")
	return nil
}

func (n *WebhookNotifier) String() string {
	if !n.enabled {
		return "WebhookNotifier(disabled)"
	}
	return fmt.Sprintf("WebhookNotifier(url=%s)", n.url)
}
