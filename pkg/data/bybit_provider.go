package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	bybit_api "github.com/bybit-exchange/bybit.go.api"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	engineerrors "github.com/ducminhle1904/crypto-risk-engine/internal/errors"
	"github.com/ducminhle1904/crypto-risk-engine/internal/safety"
	"github.com/ducminhle1904/crypto-risk-engine/pkg/types"
)

// MaxKlinesPerRequest is the page size limit of the bybit kline endpoint.
const MaxKlinesPerRequest = 1000

// bybit return codes worth another attempt: server error, request timeout
// and rate limit.
var transientRetCodes = map[int]bool{10000: true, 10006: true, 10016: true}

// klineFetcher performs one market/kline request. The response is a
// *bybit_api.ServerResponse.
type klineFetcher func(ctx context.Context, params map[string]interface{}) (interface{}, error)

// BybitProvider downloads public klines from bybit.
type BybitProvider struct {
	category string
	pageSize int
	fetch    klineFetcher
	limiter  *rate.Limiter
	backoff  safety.Backoff
	logger   zerolog.Logger
}

// BybitOption configures a BybitProvider
type BybitOption func(*BybitProvider)

// WithCategory sets the market category: spot, linear or inverse
func WithCategory(category string) BybitOption {
	return func(p *BybitProvider) { p.category = category }
}

// WithPageSize sets the number of klines per request, capped at MaxKlinesPerRequest
func WithPageSize(n int) BybitOption {
	return func(p *BybitProvider) { p.pageSize = n }
}

// WithBybitLogger sets the logger
func WithBybitLogger(l zerolog.Logger) BybitOption {
	return func(p *BybitProvider) { p.logger = l }
}

// WithRateLimiter throttles page requests. The default allows bursts of 10
// and 10 requests per second, well under the public endpoint limit.
func WithRateLimiter(l *rate.Limiter) BybitOption {
	return func(p *BybitProvider) { p.limiter = l }
}

// WithRetry sets the backoff for failed page requests
func WithRetry(b safety.Backoff) BybitOption {
	return func(p *BybitProvider) { p.backoff = b }
}

// withFetcher replaces the HTTP call.
func withFetcher(f klineFetcher) BybitOption {
	return func(p *BybitProvider) { p.fetch = f }
}

// NewBybitProvider creates a kline provider against mainnet, or testnet when
// testnet is set. Kline endpoints are public and need no credentials.
func NewBybitProvider(testnet bool, opts ...BybitOption) *BybitProvider {
	baseURL := bybit_api.MAINNET
	if testnet {
		baseURL = bybit_api.TESTNET
	}
	client := bybit_api.NewBybitHttpClient("", "", bybit_api.WithBaseURL(baseURL))

	p := &BybitProvider{
		category: "spot",
		pageSize: MaxKlinesPerRequest,
		limiter:  rate.NewLimiter(10, 10),
		backoff:  safety.DefaultBackoff(),
		logger:   zerolog.Nop(),
		fetch: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			return client.NewUtaBybitServiceWithParams(params).GetMarketKline(ctx)
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.pageSize <= 0 || p.pageSize > MaxKlinesPerRequest {
		p.pageSize = MaxKlinesPerRequest
	}
	return p
}

// LoadKlines downloads every bar of symbol between start and end (inclusive)
// and returns them in ascending time order. Pages are requested backwards
// from end because the endpoint returns newest bars first.
func (p *BybitProvider) LoadKlines(ctx context.Context, symbol, interval string, start, end time.Time) (types.Series, error) {
	const op = "LoadKlines"
	if symbol == "" {
		return nil, engineerrors.NewInvalidParameter(component, op, "symbol is required")
	}
	if !end.After(start) {
		return nil, engineerrors.NewInvalidParameter(component, op, "end %s must be after start %s",
			end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	interval = ConvertIntervalToMinutes(interval)

	var bars types.Series
	cursor := end
	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, engineerrors.NewTimeout(component, op, err)
			}
			return nil, err
		}

		params := map[string]interface{}{
			"category": p.category,
			"symbol":   symbol,
			"interval": interval,
			"start":    start.UnixMilli(),
			"end":      cursor.UnixMilli(),
			"limit":    p.pageSize,
		}
		klines, err := p.fetchPage(ctx, params)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, engineerrors.NewTimeout(component, op, err)
			}
			return nil, engineerrors.NewStorageError(component, op, err).
				WithContext("symbol", symbol).
				WithContext("page", page)
		}

		p.logger.Debug().Str("symbol", symbol).Int("page", page).Int("klines", len(klines)).Msg("Fetched kline page")
		if len(klines) == 0 {
			break
		}
		bars = append(bars, klines...)

		oldest := klines[0].Timestamp
		for _, k := range klines[1:] {
			if k.Timestamp.Before(oldest) {
				oldest = k.Timestamp
			}
		}
		if len(klines) < p.pageSize || !oldest.After(start) {
			break
		}
		cursor = oldest.Add(-time.Millisecond)
	}

	bars = FilterByDateRange(Normalize(bars), start, end)
	p.logger.Info().Str("symbol", symbol).Str("interval", interval).Int("bars", len(bars)).Msg("Downloaded klines")
	return bars, nil
}

// fetchPage requests one page under the rate limiter, retrying network
// failures and transient API codes.
func (p *BybitProvider) fetchPage(ctx context.Context, params map[string]interface{}) (types.Series, error) {
	var klines types.Series
	err := safety.Retry(ctx, p.backoff, p.logger, "GetMarketKline", func(ctx context.Context) error {
		if err := p.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}
		resp, err := p.fetch(ctx, params)
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			return safety.Transient(fmt.Errorf("failed to get klines: %w", err))
		}
		if serverResp, ok := resp.(*bybit_api.ServerResponse); ok && transientRetCodes[serverResp.RetCode] {
			return safety.Transient(fmt.Errorf("API error: %s (code: %d)", serverResp.RetMsg, serverResp.RetCode))
		}
		klines, err = parseKlineResponse(resp)
		return err
	})
	return klines, err
}

// parseKlineResponse decodes the list of [startTime, open, high, low, close,
// volume, turnover] string tuples.
func parseKlineResponse(response interface{}) (types.Series, error) {
	serverResp, ok := response.(*bybit_api.ServerResponse)
	if !ok {
		return nil, fmt.Errorf("invalid response type %T", response)
	}
	if serverResp.RetCode != 0 {
		return nil, fmt.Errorf("API error: %s (code: %d)", serverResp.RetMsg, serverResp.RetCode)
	}

	resultBytes, err := json.Marshal(serverResp.Result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	var klineResult struct {
		Symbol   string     `json:"symbol"`
		Category string     `json:"category"`
		List     [][]string `json:"list"`
	}
	if err := json.Unmarshal(resultBytes, &klineResult); err != nil {
		return nil, fmt.Errorf("failed to unmarshal kline result: %w", err)
	}

	out := make(types.Series, 0, len(klineResult.List))
	for _, item := range klineResult.List {
		if len(item) < 6 {
			continue
		}
		ms, err := strconv.ParseInt(item[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad kline start time %q: %w", item[0], err)
		}
		var v [5]float64
		for i := range v {
			if v[i], err = strconv.ParseFloat(item[i+1], 64); err != nil {
				return nil, fmt.Errorf("bad kline value %q: %w", item[i+1], err)
			}
		}
		out = append(out, types.OHLCV{
			Timestamp: time.UnixMilli(ms).UTC(),
			Open:      v[0],
			High:      v[1],
			Low:       v[2],
			Close:     v[3],
			Volume:    v[4],
		})
	}
	return out, nil
}
