// Package notify announces finished reports.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Notification summarises one written report.
type Notification struct {
	Report     string
	Path       string
	Network    string
	Highlights []string
	Partial    bool
	FinishedAt time.Time
}

// Notifier delivers report summaries.
type Notifier interface {
	Notify(ctx context.Context, note Notification) error
}

// TelegramNotifier posts summaries through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier constructs a Telegram notifier.
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
		logger:   logger.With().Str("component", "notify_telegram").Logger(),
	}
}

// Notify sends the rendered summary with sendMessage.
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	body, err := json.Marshal(map[string]string{
		"chat_id": n.chatID,
		"text":    Render(note),
	})
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
		return fmt.Errorf("telegram returned status %d", resp.StatusCode)
	}

	var result struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil && !result.OK {
		return fmt.Errorf("telegram rejected message: %s", result.Description)
	}

	n.logger.Info().Str("report", note.Report).Bool("partial", note.Partial).Msg("report summary sent (telegram)")
	return nil
}

// Render formats a notification as plain text.
func Render(note Notification) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[lava report] %s %s\n", note.Network, note.Report)
	if !note.FinishedAt.IsZero() {
		fmt.Fprintf(&b, "Finished: %s UTC\n", note.FinishedAt.UTC().Format(time.RFC3339))
	}
	if note.Partial {
		b.WriteString("Status: partial (batch timed out)\n")
	}
	for _, line := range note.Highlights {
		fmt.Fprintf(&b, "- %s\n", line)
	}
	if note.Path != "" {
		fmt.Fprintf(&b, "File: %s\n", note.Path)
	}
	return b.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
