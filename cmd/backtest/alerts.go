package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ducminhle1904/crypto-risk-engine/internal/backtest"
	"github.com/ducminhle1904/crypto-risk-engine/internal/notifications"
	"github.com/ducminhle1904/crypto-risk-engine/internal/risk"
	"github.com/ducminhle1904/crypto-risk-engine/pkg/reporting"
)

// alerter forwards risk reviews and failures to the configured channel.
// Delivery errors are logged, never fatal.
type alerter struct {
	notifier notifications.Notifier
	minLevel risk.Level
	logger   zerolog.Logger
}

func (a *alerter) send(ctx context.Context, level notifications.Level, msg string) {
	sendCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := a.notifier.SendAlert(sendCtx, level, msg); err != nil {
		a.logger.Warn().Err(err).Msg("Alert not delivered")
	}
}

// reviewed alerts when the assessment reaches the configured level.
func (a *alerter) reviewed(ctx context.Context, rep *backtest.Report, summary *reporting.RiskSummary) {
	if summary == nil || summary.Assessment == nil || !summary.Assessment.Level.AtLeast(a.minLevel) {
		return
	}
	a.send(ctx, notifications.LevelWarning, riskMessage(rep, summary))
}

func (a *alerter) failed(ctx context.Context, token string, err error) {
	a.send(ctx, notifications.LevelError, fmt.Sprintf("Backtest *%s* failed: %v", token, err))
}

func riskMessage(rep *backtest.Report, summary *reporting.RiskSummary) string {
	as := summary.Assessment
	var b strings.Builder
	fmt.Fprintf(&b, "*%s* risk %s (score %d)\n", rep.Token, as.Level, as.Score)
	fmt.Fprintf(&b, "Return %.2f%%, max drawdown %.2f%%\n", rep.TotalReturn*100, rep.MaxDrawdown*100)
	if as.VaR != nil {
		fmt.Fprintf(&b, "VaR %.0f%%: $%.2f\n", as.VaR.Confidence*100, as.VaR.VaR)
	}
	if s := summary.Stress; s != nil && s.WorstScenario != "" {
		fmt.Fprintf(&b, "Worst stress: %s (%.2f%%)\n", s.WorstScenario, s.WorstLossPct*100)
	}
	for _, w := range as.Warnings {
		fmt.Fprintf(&b, "• %s\n", w)
	}
	return strings.TrimRight(b.String(), "\n")
}
