// Package market fetches Steam community market price overviews, backed by a
// shared Redis cache keyed by market hash name.
package market

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/jirwin/casetracker/pkg/cache"
)

const (
	defaultBaseURL = "https://steamcommunity.com"
	cacheNamespace = "market"
)

// Prices is a market price overview. Any field may be absent upstream.
type Prices struct {
	LowestPrice *float32 `json:"lowest_price"`
	MedianPrice *float32 `json:"median_price"`
	Volume      *int32   `json:"volume"`
}

// rawPrices is the upstream response shape: currency amounts and volumes are
// locale-formatted strings.
type rawPrices struct {
	LowestPrice *string `json:"lowest_price"`
	MedianPrice *string `json:"median_price"`
	Volume      *string `json:"volume"`
}

func (r rawPrices) prices() Prices {
	var p Prices
	if r.LowestPrice != nil {
		p.LowestPrice = parseCurrency(*r.LowestPrice)
	}
	if r.MedianPrice != nil {
		p.MedianPrice = parseCurrency(*r.MedianPrice)
	}
	if r.Volume != nil {
		p.Volume = parseVolume(*r.Volume)
	}
	return p
}

// parseCurrency turns a display amount like "$1,234.00" into its numeric
// value: the leading currency symbol is dropped and thousands separators are
// removed. Unparseable amounts are treated as absent.
func parseCurrency(amt string) *float32 {
	cleaned := strings.ReplaceAll(amt, ",", "")
	if cleaned == "" {
		return nil
	}

	// Drop the currency symbol, whatever it is.
	_, size := utf8.DecodeRuneInString(cleaned)
	v, err := strconv.ParseFloat(cleaned[size:], 32)
	if err != nil {
		return nil
	}

	f := float32(v)
	return &f
}

func parseVolume(vol string) *int32 {
	cleaned := strings.ReplaceAll(vol, ",", "")
	v, err := strconv.ParseInt(cleaned, 10, 32)
	if err != nil {
		return nil
	}

	i := int32(v)
	return &i
}

var pricePrinter = message.NewPrinter(language.English)

// FormatPrice renders a price for display and logging, with thousands
// separators. Absent prices render as "-".
func FormatPrice(p *float32) string {
	if p == nil {
		return "-"
	}
	return pricePrinter.Sprintf("$%.2f", *p)
}

// Client is a caching market price client. The price overview endpoint only
// supports one name per request, so there is no bulk variant.
type Client struct {
	baseURL string
	client  *http.Client
	cache   *cache.Cache[Prices]
	logger  *zap.Logger
}

// Option adjusts client construction.
type Option func(*Client)

// WithBaseURL points the client at a different endpoint.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimSuffix(u, "/") }
}

// WithHTTPClient swaps the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.client = h }
}

// New creates a market price client caching into the shared Redis backend.
func New(rdb *redis.Client, logger *zap.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL: defaultBaseURL,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		cache:  cache.New[Prices](rdb, cacheNamespace),
		logger: logger,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Get returns the price overview for a market hash name, from cache when
// possible. Cache read failures degrade to a miss; cache write failures are
// logged and ignored.
func (c *Client) Get(ctx context.Context, marketHashName string) (Prices, error) {
	price, ok, err := c.cache.Get(ctx, marketHashName)
	if err != nil {
		c.logger.Warn("failed to read entry from cache", zap.Error(err))
	} else if ok {
		return price, nil
	}

	price, err = c.fetch(ctx, marketHashName)
	if err != nil {
		return Prices{}, err
	}

	if err := c.cache.Set(ctx, marketHashName, price); err != nil {
		c.logger.Warn("error updating market cache", zap.Error(err))
	}

	return price, nil
}

func (c *Client) fetch(ctx context.Context, marketHashName string) (Prices, error) {
	q := url.Values{}
	q.Set("appid", "730")
	q.Set("currency", "1")
	q.Set("market_hash_name", marketHashName)
	u := c.baseURL + "/market/priceoverview/?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Prices{}, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Prices{}, fmt.Errorf("fetching market prices: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Prices{}, fmt.Errorf("market responded with status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Prices{}, fmt.Errorf("reading market prices: %w", err)
	}

	var raw rawPrices
	if err := json.Unmarshal(body, &raw); err != nil {
		return Prices{}, fmt.Errorf("decoding market prices: %w", err)
	}

	return raw.prices(), nil
}
