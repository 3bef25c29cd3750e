package marketdata

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultRequestTimeout bounds a single upstream call
const DefaultRequestTimeout = 10 * time.Second

// Quote is a point-in-time market snapshot for one symbol. All numeric
// fields are exact decimals so threshold comparisons never suffer binary
// rounding drift.
type Quote struct {
	Symbol           string          `json:"symbol"`
	Price            decimal.Decimal `json:"price"`
	Change           decimal.Decimal `json:"change"`
	ChangePercent    decimal.Decimal `json:"change_percent"`
	Volume           int64           `json:"volume"`
	LatestTradingDay string          `json:"latest_trading_day"`
}

// SymbolMatch is a single symbol search result
type SymbolMatch struct {
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	Region   string `json:"region"`
	Currency string `json:"currency"`
}

// Candle is one bar of an intraday time series
type Candle struct {
	Timestamp string          `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    int64           `json:"volume"`
}

// Client fetches quotes and symbol matches from an Alpha Vantage style
// market data API. Upstream or parse failures degrade to empty/absent
// results; callers treat absence as "try again next cycle".
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a market data client
func NewClient(apiKey, baseURL string) *Client {
	return &Client{
		apiKey:  apiKey,
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: DefaultRequestTimeout,
		},
	}
}

// searchResponse mirrors the provider's SYMBOL_SEARCH payload
type searchResponse struct {
	BestMatches []map[string]string `json:"bestMatches"`
}

// SearchSymbols searches for stocks by symbol or name. Returns an empty
// slice when the upstream has no matches or the payload is malformed.
func (c *Client) SearchSymbols(query string) []SymbolMatch {
	params := url.Values{}
	params.Set("function", "SYMBOL_SEARCH")
	params.Set("keywords", query)
	params.Set("apikey", c.apiKey)

	var resp searchResponse
	if err := c.get(params, &resp); err != nil {
		log.Printf("Symbol search failed for %q: %v", query, err)
		return nil
	}

	results := make([]SymbolMatch, 0, len(resp.BestMatches))
	for _, match := range resp.BestMatches {
		symbol := match["1. symbol"]
		if symbol == "" {
			continue
		}
		results = append(results, SymbolMatch{
			Symbol:   symbol,
			Name:     match["2. name"],
			Type:     match["3. type"],
			Region:   match["4. region"],
			Currency: match["8. currency"],
		})
	}
	return results
}

// quoteResponse mirrors the provider's GLOBAL_QUOTE payload
type quoteResponse struct {
	GlobalQuote map[string]string `json:"Global Quote"`
}

// GetQuote returns the current quote for a symbol, or nil when the
// upstream reports no quote (bad symbol, delisted, rate-limited) or the
// payload cannot be parsed.
func (c *Client) GetQuote(symbol string) *Quote {
	params := url.Values{}
	params.Set("function", "GLOBAL_QUOTE")
	params.Set("symbol", symbol)
	params.Set("apikey", c.apiKey)

	var resp quoteResponse
	if err := c.get(params, &resp); err != nil {
		log.Printf("Quote fetch failed for %s: %v", symbol, err)
		return nil
	}
	if len(resp.GlobalQuote) == 0 {
		return nil
	}
	return parseQuote(resp.GlobalQuote)
}

// parseQuote converts a raw quote payload into exact decimal values
func parseQuote(raw map[string]string) *Quote {
	price, err := decimal.NewFromString(raw["05. price"])
	if err != nil {
		log.Printf("Malformed quote price %q: %v", raw["05. price"], err)
		return nil
	}
	change, err := decimal.NewFromString(raw["09. change"])
	if err != nil {
		return nil
	}
	changePercent, err := decimal.NewFromString(strings.TrimSuffix(raw["10. change percent"], "%"))
	if err != nil {
		return nil
	}
	volume, err := decimal.NewFromString(raw["06. volume"])
	if err != nil {
		return nil
	}

	return &Quote{
		Symbol:           raw["01. symbol"],
		Price:            price,
		Change:           change,
		ChangePercent:    changePercent,
		Volume:           volume.IntPart(),
		LatestTradingDay: raw["07. latest trading day"],
	}
}

// GetIntraday returns the intraday series for a symbol ordered by
// timestamp ascending, or an empty slice if unavailable.
func (c *Client) GetIntraday(symbol, interval string) []Candle {
	if interval == "" {
		interval = "5min"
	}

	params := url.Values{}
	params.Set("function", "TIME_SERIES_INTRADAY")
	params.Set("symbol", symbol)
	params.Set("interval", interval)
	params.Set("apikey", c.apiKey)

	var resp map[string]json.RawMessage
	if err := c.get(params, &resp); err != nil {
		log.Printf("Intraday fetch failed for %s: %v", symbol, err)
		return nil
	}

	seriesKey := fmt.Sprintf("Time Series (%s)", interval)
	rawSeries, ok := resp[seriesKey]
	if !ok {
		return nil
	}

	var series map[string]map[string]string
	if err := json.Unmarshal(rawSeries, &series); err != nil {
		log.Printf("Malformed intraday payload for %s: %v", symbol, err)
		return nil
	}

	candles := make([]Candle, 0, len(series))
	for timestamp, values := range series {
		candle, err := parseCandle(timestamp, values)
		if err != nil {
			log.Printf("Skipping malformed candle %s for %s: %v", timestamp, symbol, err)
			continue
		}
		candles = append(candles, candle)
	}

	sort.Slice(candles, func(i, j int) bool {
		return candles[i].Timestamp < candles[j].Timestamp
	})
	return candles
}

// parseCandle converts one raw bar into exact decimal values
func parseCandle(timestamp string, values map[string]string) (Candle, error) {
	open, err := decimal.NewFromString(values["1. open"])
	if err != nil {
		return Candle{}, err
	}
	high, err := decimal.NewFromString(values["2. high"])
	if err != nil {
		return Candle{}, err
	}
	low, err := decimal.NewFromString(values["3. low"])
	if err != nil {
		return Candle{}, err
	}
	closePrice, err := decimal.NewFromString(values["4. close"])
	if err != nil {
		return Candle{}, err
	}
	volume, err := decimal.NewFromString(values["5. volume"])
	if err != nil {
		return Candle{}, err
	}

	return Candle{
		Timestamp: timestamp,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePrice,
		Volume:    volume.IntPart(),
	}, nil
}

// get performs an upstream request and decodes the JSON body
func (c *Client) get(params url.Values, out interface{}) error {
	resp, err := c.httpClient.Get(c.baseURL + "?" + params.Encode())
	if err != nil {
		return fmt.Errorf("upstream request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("upstream returned status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode upstream response: %w", err)
	}
	return nil
}
