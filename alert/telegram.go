package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"perpwatch/logger"
)

const telegramAPIBase = "https://api.telegram.org"

// Telegram delivers alert messages through the bot sendMessage API. A token
// bucket keeps bursts of findings under the Bot API rate limit.
type Telegram struct {
	apiBase    string
	botToken   string
	chatID     string
	httpClient *http.Client
	limiter    *rate.Limiter
	log        *logger.Entry
}

func NewTelegram(botToken, chatID string, requestsPerMinute int, timeout time.Duration) *Telegram {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 20
	}
	return &Telegram{
		apiBase:    telegramAPIBase,
		botToken:   botToken,
		chatID:     chatID,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), 1),
		log:        logger.GetLogger().WithComponent("alert_telegram"),
	}
}

func (t *Telegram) Send(ctx context.Context, text string) error {
	if t.botToken == "" || t.chatID == "" {
		return fmt.Errorf("telegram bot token or chat id is not configured")
	}

	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}

	payload, err := json.Marshal(map[string]any{
		"chat_id":                  t.chatID,
		"text":                     text,
		"parse_mode":               "Markdown",
		"disable_web_page_preview": true,
	})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("telegram responded %d: %s", resp.StatusCode, body)
	}
	return nil
}
