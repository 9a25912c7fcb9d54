package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	engineerrors "github.com/ducminhle1904/crypto-risk-engine/internal/errors"
	"github.com/ducminhle1904/crypto-risk-engine/internal/safety"
)

const (
	component       = "notifications"
	telegramBaseURL = "https://api.telegram.org"
)

// TelegramNotifier posts alerts through the bot sendMessage API.
type TelegramNotifier struct {
	token   string
	chatID  string
	baseURL string
	client  *http.Client
	backoff safety.Backoff
	logger  zerolog.Logger
}

// TelegramOption configures a TelegramNotifier
type TelegramOption func(*TelegramNotifier)

// WithHTTPClient replaces the default client (10s timeout)
func WithHTTPClient(c *http.Client) TelegramOption {
	return func(t *TelegramNotifier) { t.client = c }
}

// WithBaseURL points the notifier at another API host
func WithBaseURL(u string) TelegramOption {
	return func(t *TelegramNotifier) { t.baseURL = strings.TrimRight(u, "/") }
}

// WithRetry sets the backoff for 429 and 5xx responses
func WithRetry(b safety.Backoff) TelegramOption {
	return func(t *TelegramNotifier) { t.backoff = b }
}

// WithLogger sets the logger
func WithLogger(l zerolog.Logger) TelegramOption {
	return func(t *TelegramNotifier) { t.logger = l }
}

func NewTelegramNotifier(token, chatID string, opts ...TelegramOption) *TelegramNotifier {
	t := &TelegramNotifier{
		token:   token,
		chatID:  chatID,
		baseURL: telegramBaseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
		backoff: safety.DefaultBackoff(),
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// New returns a telegram notifier when cfg is enabled, otherwise Nop.
func New(cfg Config, logger zerolog.Logger) Notifier {
	if !cfg.Enabled() {
		return Nop{}
	}
	return NewTelegramNotifier(cfg.TelegramToken, cfg.TelegramChatID, WithLogger(logger))
}

func (t *TelegramNotifier) SendAlert(ctx context.Context, level Level, message string) error {
	const op = "SendAlert"

	emoji := "ℹ️"
	switch level {
	case LevelWarning:
		emoji = "⚠️"
	case LevelError:
		emoji = "🚨"
	case LevelSuccess:
		emoji = "✅"
	}

	form := url.Values{}
	form.Set("chat_id", t.chatID)
	form.Set("text", fmt.Sprintf("%s *Risk Engine*\n\n%s", emoji, message))
	form.Set("parse_mode", "Markdown")
	body := form.Encode()
	apiURL := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)

	err := safety.Retry(ctx, t.backoff, t.logger, "telegram.sendMessage", func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, strings.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := t.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			return safety.Transient(err)
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)

		switch {
		case resp.StatusCode == http.StatusOK:
			return nil
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return safety.Transient(fmt.Errorf("telegram API returned status %d", resp.StatusCode))
		default:
			return fmt.Errorf("telegram API returned status %d", resp.StatusCode)
		}
	})
	if err != nil {
		return engineerrors.New(engineerrors.ErrorCategoryInternal, nil, component, op, "alert not delivered").
			Wrap(err).
			WithContext("level", string(level))
	}
	t.logger.Debug().Str("level", string(level)).Msg("Alert sent")
	return nil
}
