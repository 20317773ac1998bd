// Package marketdata fetches recent OHLCV bars for the live engine.
package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mukhametgalin/predict-trading-system/execution-engine/internal/types"
)

// maxLimit is the largest page a kline endpoint returns.
const maxLimit = 1000

// Source returns the most recent bars, oldest first.
type Source interface {
	RecentBars(ctx context.Context, symbol, timeframe string, count int) ([]types.Bar, error)
}

// REST reads klines from a Binance-style /api/v3/klines endpoint.
type REST struct {
	baseURL    string
	httpClient *http.Client
}

func NewREST(baseURL string) *REST {
	return &REST{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// RecentBars pages backwards with endTime until count bars are collected or
// the venue runs out of history. Pages are merged oldest first.
func (r *REST) RecentBars(ctx context.Context, symbol, timeframe string, count int) ([]types.Bar, error) {
	if count <= 0 {
		return nil, nil
	}

	var (
		bars    []types.Bar
		endTime int64
	)
	for len(bars) < count {
		limit := min(count-len(bars), maxLimit)
		page, rows, err := r.fetchPage(ctx, symbol, timeframe, limit, endTime)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}
		// a venue that ignores endTime would return the same page forever
		if len(bars) > 0 && !page[len(page)-1].Time.Before(bars[0].Time) {
			log.Warn().Str("symbol", symbol).Msg("Kline paging did not advance, stopping")
			break
		}
		bars = append(page, bars...)
		endTime = page[0].Time.UnixMilli() - 1
		if rows < limit {
			break
		}
	}

	if len(bars) > count {
		bars = bars[len(bars)-count:]
	}
	if len(bars) < count {
		log.Warn().
			Str("symbol", symbol).
			Str("timeframe", timeframe).
			Int("requested", count).
			Int("received", len(bars)).
			Msg("Venue returned less history than requested")
	}
	return bars, nil
}

// fetchPage returns the parsed bars and the raw row count of one request.
// endTime of zero asks for the latest bars.
func (r *REST) fetchPage(ctx context.Context, symbol, timeframe string, limit int, endTime int64) ([]types.Bar, int, error) {
	q := url.Values{
		"symbol":   {venueSymbol(symbol)},
		"interval": {venueInterval(timeframe)},
		"limit":    {strconv.Itoa(limit)},
	}
	if endTime > 0 {
		q.Set("endTime", strconv.FormatInt(endTime, 10))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/api/v3/klines?"+q.Encode(), nil)
	if err != nil {
		return nil, 0, err
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to fetch klines: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, 0, fmt.Errorf("klines request failed (status %d)", resp.StatusCode)
	}

	var rows [][]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, 0, fmt.Errorf("failed to decode klines: %w", err)
	}

	bars := make([]types.Bar, 0, len(rows))
	for _, row := range rows {
		bar, err := parseKline(row)
		if err != nil {
			log.Warn().Err(err).Str("symbol", symbol).Msg("Skipping malformed kline")
			continue
		}
		bars = append(bars, bar)
	}
	return bars, len(rows), nil
}

// parseKline reads [openTime, open, high, low, close, volume, ...].
func parseKline(row []interface{}) (types.Bar, error) {
	if len(row) < 6 {
		return types.Bar{}, fmt.Errorf("kline has %d fields", len(row))
	}
	ms, ok := row[0].(float64)
	if !ok {
		return types.Bar{}, fmt.Errorf("bad open time %v", row[0])
	}

	var vals [5]float64
	for i := range vals {
		v, err := number(row[i+1])
		if err != nil {
			return types.Bar{}, err
		}
		vals[i] = v
	}
	return types.Bar{
		Time:   time.UnixMilli(int64(ms)).UTC(),
		Open:   vals[0],
		High:   vals[1],
		Low:    vals[2],
		Close:  vals[3],
		Volume: vals[4],
	}, nil
}

func number(v interface{}) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case string:
		f, err := strconv.ParseFloat(x, 64)
		if err != nil {
			return 0, fmt.Errorf("bad number %q: %w", x, err)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("bad number %v", v)
	}
}

// venueSymbol turns "BTC-USDT" into "BTCUSDT".
func venueSymbol(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(symbol, "-", ""))
}

// venueInterval maps "1H"/"1D"/"1W" to "1h"/"1d"/"1w". Minute and month
// codes are already in venue form.
func venueInterval(tf string) string {
	if strings.HasSuffix(tf, "M") || strings.HasSuffix(tf, "m") {
		return tf
	}
	return strings.ToLower(tf)
}
