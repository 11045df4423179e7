// Package notifications delivers automation notifications to registered
// webhook endpoints.
package notifications

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/windlass-io/windlass/internal/controlplane/events"
)

// WebhookConfig holds a registered webhook endpoint. Events are name
// patterns; "windlass.flow-run.*" subscribes to every run state change
// and an empty list subscribes to everything.
type WebhookConfig struct {
	ID      string   `json:"id"`
	URL     string   `json:"url"`
	Events  []string `json:"events"`
	Secret  string   `json:"secret,omitempty"`
	Enabled bool     `json:"enabled"`
}

// Payload is the JSON body posted to webhook endpoints.
type Payload struct {
	ID         string    `json:"id"`
	Event      string    `json:"event"`
	Timestamp  time.Time `json:"timestamp"`
	ResourceID string    `json:"resource_id,omitempty"`
	Summary    string    `json:"summary"`
	Detail     any       `json:"detail,omitempty"`
}

// Notifier manages webhook registrations and dispatch. Delivery is
// synchronous so callers learn whether their notification went out.
type Notifier struct {
	mu         sync.RWMutex
	items      map[string]WebhookConfig
	httpClient *http.Client
	logger     *zap.Logger
}

// NewNotifier creates a notifier with sane defaults.
func NewNotifier(logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{
		items:      make(map[string]WebhookConfig),
		httpClient: &http.Client{Timeout: 5 * time.Second},
		logger:     logger,
	}
}

// Register adds or updates a webhook configuration.
func (n *Notifier) Register(cfg WebhookConfig) WebhookConfig {
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.items[cfg.ID] = cfg
	return cfg
}

// Remove deletes a webhook configuration.
func (n *Notifier) Remove(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.items, id)
}

// List returns all registered webhook configurations.
func (n *Notifier) List() []WebhookConfig {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]WebhookConfig, 0, len(n.items))
	for _, cfg := range n.items {
		out = append(out, cfg)
	}
	return out
}

// Notify posts to every enabled webhook subscribed to the event. Each
// endpoint gets one retry; the joined delivery errors come back to the
// caller.
func (n *Notifier) Notify(event, resourceID, summary string, detail any) error {
	n.mu.RLock()
	webhooks := make([]WebhookConfig, 0, len(n.items))
	for _, cfg := range n.items {
		if !cfg.Enabled || !subscribed(cfg.Events, event) {
			continue
		}
		webhooks = append(webhooks, cfg)
	}
	n.mu.RUnlock()

	timestamp := time.Now().UTC()
	var errs []error
	for _, cfg := range webhooks {
		payload := Payload{
			ID:         cfg.ID,
			Event:      event,
			Timestamp:  timestamp,
			ResourceID: resourceID,
			Summary:    summary,
			Detail:     detail,
		}
		if err := n.send(cfg, payload); err != nil {
			n.logger.Warn("webhook delivery failed",
				zap.String("webhook_id", cfg.ID),
				zap.String("url", cfg.URL),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("webhook %s: %w", cfg.ID, err))
		}
	}
	return errors.Join(errs...)
}

// send posts a payload to one endpoint, retrying once on failure.
func (n *Notifier) send(cfg WebhookConfig, payload Payload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= 2; attempt++ {
		req, err := http.NewRequest(http.MethodPost, cfg.URL, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("webhook request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if cfg.Secret != "" {
			req.Header.Set("X-Windlass-Signature", signature(cfg.Secret, body))
		}

		resp, err := n.httpClient.Do(req)
		if err == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return nil
			}
			lastErr = fmt.Errorf("webhook returned status %d", resp.StatusCode)
		} else {
			lastErr = err
		}
	}
	return lastErr
}

// subscribed applies the event name wildcard grammar. An empty pattern
// list subscribes to everything.
func subscribed(patterns []string, event string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, p := range patterns {
		if events.NameMatches(p, event) {
			return true
		}
	}
	return false
}

func signature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
