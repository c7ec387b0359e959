package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/eddiefleurent/wheel_watcher/internal/models"
	"github.com/sirupsen/logrus"
)

// Payload is the channel-agnostic notification content for one eligible
// snapshot. Seq tags the message for dedup and audit.
type Payload struct {
	Key       models.RecommendationKey `json:"key"`
	Symbol    string                   `json:"symbol"`
	Account   string                   `json:"account"`
	Seq       int                      `json:"seq"`
	Action    models.Action            `json:"action"`
	Priority  models.Priority          `json:"priority"`
	Rationale string                   `json:"rationale"`
	NetCost   *float64                 `json:"net_cost,omitempty"`
	SentAt    time.Time                `json:"sent_at"`
}

// BuildPayload flattens a snapshot into its notification payload. This is the
// single place the action union is rendered for delivery.
func BuildPayload(snap *models.Snapshot, at time.Time) Payload {
	p := Payload{
		Key:       snap.Key,
		Symbol:    snap.Key.Symbol,
		Account:   snap.Key.Account,
		Seq:       snap.Seq,
		Action:    snap.Action,
		Priority:  snap.Priority,
		Rationale: snap.Action.Render(snap.Key.Symbol),
		SentAt:    at,
	}
	if net, ok := snap.Action.NetCost(); ok {
		p.NetCost = &net
	}
	return p
}

// Text renders the payload as a single human-readable message line.
func (p Payload) Text() string {
	return fmt.Sprintf("[%s] %s (acct %s, #%d)", p.Priority, p.Rationale, p.Account, p.Seq)
}

// Channel is one independent delivery target. Send failures are recorded per
// channel and never affect the others.
type Channel interface {
	Name() string
	Send(ctx context.Context, p Payload) error
}

const (
	telegramSendRetries = 3
	channelTimeout      = 15 * time.Second
)

// TelegramChannel posts payload text to a Telegram chat via the bot API.
type TelegramChannel struct {
	botToken string
	chatID   string
	client   *http.Client
}

// NewTelegramChannel builds a Telegram channel for the given bot and chat.
func NewTelegramChannel(botToken, chatID string) *TelegramChannel {
	return &TelegramChannel{
		botToken: botToken,
		chatID:   chatID,
		client:   &http.Client{Timeout: channelTimeout},
	}
}

func (t *TelegramChannel) Name() string { return "telegram" }

// Send posts the message with up to 3 attempts, backing off linearly.
func (t *TelegramChannel) Send(ctx context.Context, p Payload) error {
	if t.botToken == "" || t.chatID == "" {
		return fmt.Errorf("telegram channel not configured")
	}
	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.botToken)
	body, err := json.Marshal(map[string]any{
		"chat_id": t.chatID,
		"text":    p.Text(),
	})
	if err != nil {
		return fmt.Errorf("telegram payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < telegramSendRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("telegram request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := t.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if resp.StatusCode/100 == 2 {
			return nil
		}
		lastErr = fmt.Errorf("telegram status=%d", resp.StatusCode)
	}
	return lastErr
}

// WebhookChannel posts the full JSON payload to a configured URL.
type WebhookChannel struct {
	url    string
	client *http.Client
}

// NewWebhookChannel builds a webhook channel targeting url.
func NewWebhookChannel(url string) *WebhookChannel {
	return &WebhookChannel{url: url, client: &http.Client{Timeout: channelTimeout}}
}

func (w *WebhookChannel) Name() string { return "webhook" }

func (w *WebhookChannel) Send(ctx context.Context, p Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("webhook payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("webhook status=%d", resp.StatusCode)
	}
	return nil
}

// ConsoleChannel writes payloads to the structured log. Always succeeds; used
// as the default channel and in paper mode.
type ConsoleChannel struct {
	logger *logrus.Logger
}

// NewConsoleChannel builds a console channel over the given logger.
func NewConsoleChannel(logger *logrus.Logger) *ConsoleChannel {
	return &ConsoleChannel{logger: logger}
}

func (c *ConsoleChannel) Name() string { return "console" }

func (c *ConsoleChannel) Send(_ context.Context, p Payload) error {
	c.logger.WithFields(logrus.Fields{
		"key":      p.Key.Encode(),
		"seq":      p.Seq,
		"priority": p.Priority,
	}).Info(p.Rationale)
	return nil
}
