// Package coingecko prices symbols through the public /simple/price endpoint.
package coingecko

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	drepo "CryptoAlert/internal/domain/repository"
	xhttp "CryptoAlert/pkg/http"
	"CryptoAlert/pkg/util"

	"github.com/shopspring/decimal"
)

const DefaultBaseURL = "https://api.coingecko.com/api/v3"

// DefaultCoinIDs maps common tickers to CoinGecko coin ids. Unmapped tickers
// are looked up by their lowercase name.
var DefaultCoinIDs = map[string]string{
	"BTC":  "bitcoin",
	"ETH":  "ethereum",
	"DOGE": "dogecoin",
	"SOL":  "solana",
	"ADA":  "cardano",
	"XRP":  "ripple",
	"LTC":  "litecoin",
}

// Client implements a PriceSource backed by CoinGecko.
type Client struct {
	http    *xhttp.Client
	baseURL string
	apiKey  string
	coinIDs map[string]string
}

// Option configures Client.
type Option func(*Client)

// WithBaseURL points the client at another API root.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithAPIKey sends the demo API key header.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithCoinIDs adds or overrides ticker to coin id mappings.
func WithCoinIDs(ids map[string]string) Option {
	return func(c *Client) {
		for sym, id := range ids {
			c.coinIDs[util.NormalizeSymbol(sym)] = id
		}
	}
}

// WithTimeout bounds a single request.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http = xhttp.NewClient(xhttp.WithTimeout(d))
		}
	}
}

// New creates a CoinGecko client.
func New(opts ...Option) *Client {
	c := &Client{
		http:    xhttp.NewClient(xhttp.WithTimeout(10 * time.Second)),
		baseURL: DefaultBaseURL,
		coinIDs: make(map[string]string, len(DefaultCoinIDs)),
	}
	for sym, id := range DefaultCoinIDs {
		c.coinIDs[sym] = id
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ drepo.PriceSource = (*Client)(nil)

// CoinID returns the CoinGecko id used for symbol.
func (c *Client) CoinID(symbol string) string {
	symbol = util.NormalizeSymbol(symbol)
	if id, ok := c.coinIDs[symbol]; ok {
		return id
	}
	return strings.ToLower(symbol)
}

// Fetch prices all symbols in one request. Symbols CoinGecko does not know are
// missing from the result.
func (c *Client) Fetch(ctx context.Context, symbols []string, currency string) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal, len(symbols))
	if len(symbols) == 0 {
		return out, nil
	}
	currency = strings.ToLower(currency)

	bySymbol := make(map[string]string, len(symbols))
	ids := make([]string, 0, len(symbols))
	for _, s := range symbols {
		id := c.CoinID(s)
		bySymbol[util.NormalizeSymbol(s)] = id
		ids = append(ids, id)
	}
	ids = util.UniqueSorted(ids)

	var headers map[string]string
	if c.apiKey != "" {
		headers = map[string]string{"x-cg-demo-api-key": c.apiKey}
	}

	var resp map[string]map[string]decimal.Decimal
	err := c.http.SendAndParse(ctx, &xhttp.RequestOptions{
		Method:  xhttp.MethodGet,
		URL:     c.baseURL + "/simple/price",
		Headers: headers,
		QueryParams: url.Values{
			"ids":           {strings.Join(ids, ",")},
			"vs_currencies": {currency},
			"precision":     {"full"},
		},
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("coingecko simple/price: %w", err)
	}

	for sym, id := range bySymbol {
		quotes, ok := resp[id]
		if !ok {
			continue
		}
		price, ok := quotes[currency]
		if !ok || !price.IsPositive() {
			continue
		}
		out[sym] = price
	}
	return out, nil
}
