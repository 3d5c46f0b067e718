// Package csgofloat fetches enriched item metadata (float values, stickers,
// rarity) from the CSGOFloat API, backed by a shared Redis cache keyed by
// inspect link.
package csgofloat

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/jirwin/casetracker/pkg/cache"
)

const (
	defaultBaseURL = "https://api.csgofloat.com"
	cacheNamespace = "floatcache"
)

// Sticker is one sticker applied to an item.
type Sticker struct {
	StickerID uint32 `json:"stickerId"`
	Slot      uint8  `json:"slot"`
	Codename  string `json:"codename"`
	Material  string `json:"material"`
	Name      string `json:"name"`
}

// ItemDescription is the full metadata for a unique item. Immutable once
// fetched; cached by inspect link.
type ItemDescription struct {
	Origin       uint32    `json:"origin"`
	Quality      uint32    `json:"quality"`
	Rarity       uint32    `json:"rarity"`
	A            string    `json:"a"`
	D            string    `json:"d"`
	PaintSeed    uint32    `json:"paintseed"`
	DefIndex     uint32    `json:"defindex"`
	Stickers     []Sticker `json:"stickers"`
	FloatValue   float32   `json:"floatvalue"`
	S            string    `json:"s"`
	M            string    `json:"m"`
	ImageURL     string    `json:"imageurl,omitempty"`
	Min          float32   `json:"min"`
	Max          float32   `json:"max"`
	WeaponType   string    `json:"weapon_type"`
	ItemName     string    `json:"item_name"`
	RarityName   string    `json:"rarity_name"`
	QualityName  string    `json:"quality_name"`
	OriginName   string    `json:"origin_name"`
	WearName     string    `json:"wear_name,omitempty"`
	FullItemName string    `json:"full_item_name"`
}

// APIError is the upstream's documented error code enum.
type APIError int

// The eight documented upstream error codes.
const (
	ErrImproperParameterStructure  APIError = 1
	ErrInvalidInspectLinkStructure APIError = 2
	ErrTooManyPendingRequests      APIError = 3
	ErrValveServerTimeout          APIError = 4
	ErrValveOffline                APIError = 5
	ErrInternalError               APIError = 6
	ErrImproperBodyFormat          APIError = 7
	ErrBadSecret                   APIError = 8
)

func (e APIError) Error() string {
	switch e {
	case ErrImproperParameterStructure:
		return "improper parameter structure"
	case ErrInvalidInspectLinkStructure:
		return "invalid inspect link structure"
	case ErrTooManyPendingRequests:
		return "you have too many pending requests open at once"
	case ErrValveServerTimeout:
		return "valve's servers didn't reply in time"
	case ErrValveOffline:
		return "valve's servers appear to be offline, please try again later"
	case ErrInternalError:
		return "something went wrong on the csgofloat end, please try again"
	case ErrImproperBodyFormat:
		return "improper body format"
	case ErrBadSecret:
		return "bad secret"
	default:
		return fmt.Sprintf("unknown csgofloat error code %d", int(e))
	}
}

var (
	// ErrMissingAssetMarker is returned when an inspect URL carries no "A"
	// asset marker and cannot key a bulk request.
	ErrMissingAssetMarker = errors.New(`url missing "A" marker`)
	// ErrMissingDMarker is returned when an inspect URL carries no "D" marker.
	ErrMissingDMarker = errors.New(`url missing "D" marker`)
)

type errorResponse struct {
	Code int `json:"code"`
}

type itemResponse struct {
	ItemInfo ItemDescription `json:"iteminfo"`
}

type bulkRequestItem struct {
	Link string `json:"link"`
}

type bulkRequest struct {
	Links []bulkRequestItem `json:"links"`
}

// Client is a caching CSGOFloat API client.
type Client struct {
	key     string
	baseURL string
	client  *http.Client
	cache   *cache.Cache[ItemDescription]
	logger  *zap.Logger
}

// Option adjusts client construction.
type Option func(*Client)

// WithBaseURL points the client at a different API endpoint.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimSuffix(u, "/") }
}

// WithHTTPClient swaps the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.client = h }
}

// New creates a client authenticated with the given API key, caching into the
// shared Redis backend.
func New(rdb *redis.Client, key string, logger *zap.Logger, opts ...Option) *Client {
	c := &Client{
		key:     key,
		baseURL: defaultBaseURL,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		cache:  cache.New[ItemDescription](rdb, cacheNamespace),
		logger: logger,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Get returns the metadata for one inspect URL, from cache when possible.
// Cache read failures degrade to a miss; cache write failures are logged and
// ignored.
func (c *Client) Get(ctx context.Context, inspectURL string) (ItemDescription, error) {
	entry, ok, err := c.cache.Get(ctx, inspectURL)
	if err != nil {
		c.logger.Warn("error fetching from cache", zap.Error(err))
	} else if ok {
		return entry, nil
	}

	desc, err := c.fetchSingle(ctx, inspectURL)
	if err != nil {
		return ItemDescription{}, err
	}

	if err := c.cache.Set(ctx, inspectURL, desc); err != nil {
		c.logger.Warn("failed to set cache entry", zap.Error(err))
	}

	return desc, nil
}

// GetBulk returns metadata for all the given inspect URLs. Cached entries are
// read with one bulk get; the missing set is fetched upstream and written back
// with a single bulk cache write.
func (c *Client) GetBulk(ctx context.Context, inspectURLs []string) (map[string]ItemDescription, error) {
	results, err := c.cache.GetBulk(ctx, inspectURLs)
	if err != nil {
		c.logger.Warn("failed to get items from cache", zap.Error(err))
		results = make(map[string]ItemDescription)
	}

	var missing []string
	for _, u := range inspectURLs {
		if _, ok := results[u]; !ok {
			missing = append(missing, u)
		}
	}

	if len(missing) == 0 {
		return results, nil
	}

	var fresh map[string]ItemDescription
	if len(missing) == 1 {
		desc, err := c.fetchSingle(ctx, missing[0])
		if err != nil {
			return nil, err
		}
		fresh = map[string]ItemDescription{missing[0]: desc}
	} else {
		fresh, err = c.fetchBulk(ctx, missing)
		if err != nil {
			return nil, err
		}
	}

	if err := c.cache.SetBulk(ctx, fresh); err != nil {
		c.logger.Warn("failed to set items in cache", zap.Error(err))
	}

	for k, v := range fresh {
		results[k] = v
	}

	return results, nil
}

func (c *Client) fetchSingle(ctx context.Context, inspectURL string) (ItemDescription, error) {
	u := c.baseURL + "?url=" + url.QueryEscape(inspectURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return ItemDescription{}, err
	}
	req.Header.Set("Authorization", c.key)

	resp, err := c.client.Do(req)
	if err != nil {
		return ItemDescription{}, fmt.Errorf("fetching item metadata: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return ItemDescription{}, fmt.Errorf("reading item metadata: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return ItemDescription{}, decodeError(resp.StatusCode, body)
	}

	var decoded itemResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return ItemDescription{}, fmt.Errorf("decoding item metadata: %w", err)
	}

	return decoded.ItemInfo, nil
}

// fetchBulk fetches the bulk endpoint, which keys its response by the asset id
// embedded in each inspect URL, and remaps the response back onto the URLs.
func (c *Client) fetchBulk(ctx context.Context, inspectURLs []string) (map[string]ItemDescription, error) {
	assetIDs := make(map[string]string, len(inspectURLs))
	for _, u := range inspectURLs {
		id, err := assetIDFromInspectURL(u)
		if err != nil {
			return nil, err
		}
		assetIDs[u] = id
	}

	reqBody := bulkRequest{Links: make([]bulkRequestItem, 0, len(inspectURLs))}
	for _, u := range inspectURLs {
		reqBody.Links = append(reqBody.Links, bulkRequestItem{Link: u})
	}
	data, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("encoding bulk request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/bulk", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", c.key)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching bulk item metadata: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading bulk item metadata: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp.StatusCode, body)
	}

	var byAsset map[string]ItemDescription
	if err := json.Unmarshal(body, &byAsset); err != nil {
		return nil, fmt.Errorf("decoding bulk item metadata: %w", err)
	}

	results := make(map[string]ItemDescription, len(inspectURLs))
	for u, assetID := range assetIDs {
		desc, ok := byAsset[assetID]
		if !ok {
			return nil, fmt.Errorf("bulk response missing asset %s", assetID)
		}
		results[u] = desc
	}

	return results, nil
}

func decodeError(status int, body []byte) error {
	var decoded errorResponse
	if err := json.Unmarshal(body, &decoded); err != nil || decoded.Code == 0 {
		return fmt.Errorf("csgofloat responded with status %d", status)
	}
	return APIError(decoded.Code)
}

// assetIDFromInspectURL extracts the asset id between the "A" and "D" markers
// of an inspect URL; the bulk endpoint keys its response by it.
func assetIDFromInspectURL(inspectURL string) (string, error) {
	_, after, ok := strings.Cut(inspectURL, "A")
	if !ok {
		return "", ErrMissingAssetMarker
	}
	id, _, ok := strings.Cut(after, "D")
	if !ok {
		return "", ErrMissingDMarker
	}
	return id, nil
}
