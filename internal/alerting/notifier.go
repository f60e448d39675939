// Package alerting delivers notifications about rejected trend updates.
package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Notification describes one rejected update.
type Notification struct {
	At             time.Time
	Reason         string
	Candidate      uint64
	ReferencePrice int64
	Confidence     uint64
	// Decimals is the fixed-point scale of Candidate, ReferencePrice and Confidence.
	Decimals int32
	Detail   string
}

// Notifier delivers a notification.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier posts messages through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier builds a Telegram notifier.
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify calls sendMessage with the rendered text.
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    RenderMessage(note),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram unexpected status: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram returned ok=false")
		}
	}

	n.logger.Info().Time("at", note.At).
		Str("reason", note.Reason).
		Msg("rejection alert sent (telegram)")
	return nil
}

// RenderMessage formats a notification as plain text.
func RenderMessage(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString("[Trend Oracle] update rejected\n")
	builder.WriteString(fmt.Sprintf("Time: %s UTC\n", note.At.UTC().Format(time.RFC3339)))
	builder.WriteString(fmt.Sprintf("Reason: %s\n", note.Reason))
	builder.WriteString(fmt.Sprintf("Candidate: %s\n", scaled(decimal.NewFromUint64(note.Candidate), note.Decimals)))
	if note.ReferencePrice != 0 || note.Confidence != 0 {
		builder.WriteString(fmt.Sprintf("Reference: %s ± %s\n",
			scaled(decimal.NewFromInt(note.ReferencePrice), note.Decimals),
			scaled(decimal.NewFromUint64(note.Confidence), note.Decimals)))
	}
	if note.Detail != "" {
		builder.WriteString(note.Detail)
	}
	return builder.String()
}

func scaled(v decimal.Decimal, decimals int32) string {
	return v.Shift(-decimals).StringFixed(decimals)
}

var _ Notifier = (*TelegramNotifier)(nil)
