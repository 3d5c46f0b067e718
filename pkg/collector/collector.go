// Package collector polls a user's Steam inventory history and reports newly
// observed container unlocks to the aggregator.
package collector

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/jirwin/casetracker/pkg/steam"
)

// HistoryFetcher yields newly observed unlocks since the given watermark. It
// is implemented by steam.Client.
type HistoryFetcher interface {
	FetchHistoryForNewItems(ctx context.Context, since time.Time, lastSeen *steam.InventoryID) ([]steam.UnhydratedUnlock, error)
}

// Collector is the long-running poller. It remembers the newest unlock it has
// successfully reported so each poll only walks the history back to that
// point.
type Collector struct {
	collectionURL string
	client        *http.Client
	steam         HistoryFetcher
	preSharedKey  string
	interval      time.Duration
	logger        *zap.Logger

	lastUnboxing  time.Time
	lastKnownItem *steam.InventoryID
}

// New creates a collector posting to collectionURL every interval. startTime
// bounds the first poll; the zero time means the whole visible history is
// eligible.
func New(collectionURL string, sc HistoryFetcher, preSharedKey string, interval time.Duration, startTime time.Time, logger *zap.Logger) (*Collector, error) {
	if _, err := url.ParseRequestURI(collectionURL); err != nil {
		return nil, fmt.Errorf("given url was not valid: %w", err)
	}

	return &Collector{
		collectionURL: collectionURL,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		steam:        sc,
		preSharedKey: preSharedKey,
		interval:     interval,
		logger:       logger,

		lastUnboxing: startTime,
	}, nil
}

// Run polls until ctx is cancelled (the termination signal) or a poll fails.
// A failed poll ends the run; the supervising process restarts us and the
// store's idempotence absorbs any resent items.
func (c *Collector) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.logger.Info("checking for new items",
		zap.Duration("interval", c.interval))

	// Initial poll; the ticker only fires after a full interval.
	if err := c.poll(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("shutting down")
			return nil
		case <-ticker.C:
			if err := c.poll(ctx); err != nil {
				return err
			}
		}
	}
}

func (c *Collector) poll(ctx context.Context) error {
	c.logger.Debug("checking for new items")

	items, err := c.steam.FetchHistoryForNewItems(ctx, c.lastUnboxing, c.lastKnownItem)
	if err != nil {
		return fmt.Errorf("error fetching items: %w", err)
	}

	if len(items) == 0 {
		c.logger.Debug("no new items")
		return nil
	}

	if err := c.send(ctx, items); err != nil {
		return fmt.Errorf("error sending results: %w", err)
	}

	newest := items[0]
	c.lastUnboxing = newest.At
	item := newest.Item
	c.lastKnownItem = &item

	return nil
}

func (c *Collector) send(ctx context.Context, items []steam.UnhydratedUnlock) error {
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("error serialising outbound items: %w", err)
	}

	c.logger.Info("sending new items",
		zap.Int("count", len(items)),
		zap.String("url", c.collectionURL))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.collectionURL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", c.preSharedKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("http error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("collection endpoint responded with status %d", resp.StatusCode)
	}

	return nil
}
