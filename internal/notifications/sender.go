package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kjannette/sniper-backend/internal/httputil"
	"github.com/kjannette/sniper-backend/internal/logger"
	"github.com/kjannette/sniper-backend/internal/metrics"
)

const (
	defaultBotName   = "MarketSniper"
	telegramAPIBase  = "https://api.telegram.org"
	marketItemPrefix = "https://skinport.com/item/730/"
)

type Options struct {
	TelegramToken  string
	TelegramChatID string
	WebhookURL     string
	BotName        string
}

// Sender delivers alert text to every configured channel. Delivery is best
// effort: failures are logged and counted, never returned.
type Sender struct {
	telegramToken  string
	telegramChatID string
	telegramBase   string
	webhookURL     string
	botName        string
	httpClient     *http.Client
	retry          httputil.RetryConfig
	log            *zap.Logger
}

func NewSender(opts Options) *Sender {
	if opts.BotName == "" {
		opts.BotName = defaultBotName
	}
	return &Sender{
		telegramToken:  opts.TelegramToken,
		telegramChatID: opts.TelegramChatID,
		telegramBase:   telegramAPIBase,
		webhookURL:     opts.WebhookURL,
		botName:        opts.BotName,
		httpClient:     &http.Client{Timeout: 10 * time.Second},
		retry:          httputil.Once,
		log:            logger.Log.Named("notify"),
	}
}

func (s *Sender) telegramEnabled() bool {
	return s.telegramToken != "" && s.telegramChatID != ""
}

// Enabled reports whether any outbound channel is configured. When false,
// Send only writes the message to the log.
func (s *Sender) Enabled() bool {
	return s.telegramEnabled() || s.webhookURL != ""
}

// Send never returns an error and never blocks longer than the client
// timeout per channel.
func (s *Sender) Send(msg string) {
	s.log.Info("alert", zap.String("bot", s.botName), zap.String("message", msg))

	if s.telegramEnabled() {
		payload := map[string]string{
			"chat_id": s.telegramChatID,
			"text":    msg,
		}
		url := fmt.Sprintf("%s/bot%s/sendMessage", s.telegramBase, s.telegramToken)
		if err := s.post(url, payload); err != nil {
			metrics.NotificationFailures.WithLabelValues("telegram").Inc()
			// the token is part of the URL, so only the chat id is logged
			s.log.Error("telegram delivery failed",
				zap.String("chat_id", s.telegramChatID),
				zap.Error(redact(err, s.telegramToken)),
			)
		}
	}

	if s.webhookURL != "" {
		if err := s.post(s.webhookURL, s.webhookPayload(msg)); err != nil {
			metrics.NotificationFailures.WithLabelValues("webhook").Inc()
			s.log.Error("webhook delivery failed", zap.Error(err))
		}
	}
}

func (s *Sender) post(url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	resp, err := httputil.Do(ctx, s.httpClient, s.retry, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return nil
}

func (s *Sender) webhookPayload(msg string) map[string]string {
	if strings.Contains(s.webhookURL, "discord") {
		return map[string]string{
			"content":  msg,
			"username": s.botName,
		}
	}
	return map[string]string{
		"text":     fmt.Sprintf("`%s`", msg),
		"username": s.botName,
	}
}

func redact(err error, secret string) error {
	if secret == "" || !strings.Contains(err.Error(), secret) {
		return err
	}
	return fmt.Errorf("%s", strings.ReplaceAll(err.Error(), secret, "<token>"))
}

// FormatAlert builds the message sent when an item drops to or below its
// target price.
func FormatAlert(name string, price, target float64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🎯 Sniper Alert\n\n")
	fmt.Fprintf(&b, "Item: %s\n", name)
	fmt.Fprintf(&b, "Price: $%.2f\n", price)
	fmt.Fprintf(&b, "Target: $%.2f\n", target)
	fmt.Fprintf(&b, "Buy: %s", MarketLink(name))
	return b.String()
}

// MarketLink returns the marketplace page for an item name.
func MarketLink(name string) string {
	return marketItemPrefix + strings.ReplaceAll(name, " ", "-")
}
