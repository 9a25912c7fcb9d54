package notifications

import "context"

// Level is the severity of an alert
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notifier delivers alerts to an operator channel.
type Notifier interface {
	SendAlert(ctx context.Context, level Level, message string) error
}

// Config selects the alert channel. Alerts are disabled when the
// telegram token or chat id is empty.
type Config struct {
	TelegramToken  string `yaml:"telegram_token"`
	TelegramChatID string `yaml:"telegram_chat_id"`
	// risk level from which a backtest review raises a warning alert
	MinRiskLevel string `yaml:"min_risk_level" default:"HIGH" validate:"oneof=LOW MEDIUM HIGH"`
}

// Enabled reports whether a channel is configured
func (c Config) Enabled() bool {
	return c.TelegramToken != "" && c.TelegramChatID != ""
}

// Nop drops every alert
type Nop struct{}

func (Nop) SendAlert(context.Context, Level, string) error { return nil }
