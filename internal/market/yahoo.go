package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultChartBase = "https://query1.finance.yahoo.com/v8/finance/chart/"

// Fetcher returns closing prices, oldest first.
type Fetcher interface {
	Closes(ctx context.Context, symbol, interval, rng string) ([]float64, error)
}

// YahooFetcher reads the public Yahoo Finance chart API.
type YahooFetcher struct {
	Client  *http.Client
	BaseURL string
}

func NewYahooFetcher() *YahooFetcher {
	return &YahooFetcher{
		Client:  &http.Client{Timeout: 30 * time.Second},
		BaseURL: defaultChartBase,
	}
}

type yahooChart struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Close []*float64 `json:"close"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// Closes fetches one chart and drops null bars.
func (f *YahooFetcher) Closes(ctx context.Context, symbol, interval, rng string) ([]float64, error) {
	base := f.BaseURL
	if base == "" {
		base = defaultChartBase
	}
	u := strings.TrimRight(base, "/") + "/" + url.PathEscape(symbol) +
		"?interval=" + url.QueryEscape(interval) + "&range=" + url.QueryEscape(rng)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("yahoo fetch: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("yahoo read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("yahoo: status %d", resp.StatusCode)
	}

	var chart yahooChart
	if err := json.Unmarshal(body, &chart); err != nil {
		return nil, fmt.Errorf("yahoo decode: %w", err)
	}
	if chart.Chart.Error != nil {
		return nil, fmt.Errorf("yahoo api error: %s", chart.Chart.Error.Description)
	}
	if len(chart.Chart.Result) == 0 || len(chart.Chart.Result[0].Indicators.Quote) == 0 {
		return nil, fmt.Errorf("yahoo: no data returned for %s", symbol)
	}

	raw := chart.Chart.Result[0].Indicators.Quote[0].Close
	closes := make([]float64, 0, len(raw))
	for _, c := range raw {
		if c != nil && *c > 0 {
			closes = append(closes, *c)
		}
	}
	return closes, nil
}
