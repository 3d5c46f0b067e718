package steam

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

// Client fetches and interprets a single user's Steam pages: the profile (for
// the login-state check), the inventory JSON and the inventory-history page.
type Client struct {
	id        SteamID
	client    *http.Client
	cookieStr string
	username  string
	logger    *zap.Logger
}

// NewClient creates a Steam client for the given identity and session
// credentials.
func NewClient(id SteamID, creds Credentials, logger *zap.Logger) *Client {
	return &Client{
		id: id,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		cookieStr: creds.String(),
		logger:    logger,
	}
}

func (c *Client) get(ctx context.Context, url string, withCookies bool) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if withCookies {
		req.Header.Set("Cookie", c.cookieStr)
	}

	return c.client.Do(req)
}

// IsAuthenticated fetches the user's profile with session cookies and reports
// whether Steam rendered it in the logged-in state.
func (c *Client) IsAuthenticated(ctx context.Context) (bool, error) {
	resp, err := c.get(ctx, c.id.ProfileURL(), true)
	if err != nil {
		return false, fmt.Errorf("fetching profile: %w", err)
	}
	defer resp.Body.Close()

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return false, fmt.Errorf("parsing profile: %w", err)
	}

	authed, err := ParseAuthenticated(doc)
	if err != nil {
		return false, fmt.Errorf("checking login state: %w", err)
	}

	return authed, nil
}

// FetchHistoryForNewItems runs one pass of the collection pipeline: fetch the
// inventory, bail out early if nothing changed, scrape the history page for
// unlock rows newer than since, and join each row against the inventory to
// materialize its market link. Results are newest-first. Items whose inventory
// data has already rotated out are logged and dropped.
func (c *Client) FetchHistoryForNewItems(ctx context.Context, since time.Time, lastSeen *InventoryID) ([]UnhydratedUnlock, error) {
	inv, err := c.fetchInventory(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching inventory: %w", err)
	}

	if len(inv.Assets) == 0 {
		return nil, nil
	}
	// Fast path: the newest asset is the last one we reported, so there is
	// nothing new and the history page does not need to be parsed at all.
	if lastSeen != nil && inv.Assets[0].InventoryID() == *lastSeen {
		return nil, nil
	}

	raw, err := c.fetchNewRawUnlocks(ctx, since, lastSeen)
	if err != nil {
		return nil, err
	}

	return c.prepareUnlocks(raw, inv), nil
}

func (c *Client) fetchInventory(ctx context.Context) (*Inventory, error) {
	resp, err := c.get(ctx, c.id.InventoryURL(), false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &UnhandledStatusError{Code: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	return ParseInventory(body)
}

func (c *Client) fetchNewRawUnlocks(ctx context.Context, since time.Time, lastSeen *InventoryID) ([]RawUnlock, error) {
	resp, err := c.get(ctx, c.id.InventoryHistoryURL(), true)
	if err != nil {
		return nil, fmt.Errorf("fetching history: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, ErrAuthentication
	default:
		return nil, &UnhandledStatusError{Code: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading history: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parsing history: %w", err)
	}

	authed, err := ParseAuthenticated(doc)
	if err != nil {
		return nil, fmt.Errorf("checking login state: %w", err)
	}
	if !authed {
		return nil, ErrNotAuthenticated
	}

	var (
		unlocks []RawUnlock
		seenAny bool
		tooOld  bool
		rowErr  error
	)

	HistoryRows(doc).EachWithBreak(func(_ int, row *goquery.Selection) bool {
		seenAny = true
		u, outcome, err := ParseRawUnlock(row, since, lastSeen)
		if err != nil {
			rowErr = err
			return false
		}

		switch outcome {
		case RowValid:
			unlocks = append(unlocks, *u)
		case RowTooOld:
			tooOld = true
			return false
		case RowWrongKind:
		}
		return true
	})

	if rowErr != nil {
		return nil, fmt.Errorf("parsing history row: %w", rowErr)
	}
	if !seenAny && !tooOld {
		return nil, ErrNoHistoryFound
	}

	return unlocks, nil
}

// prepareUnlocks joins raw unlock rows against the inventory maps and
// materializes each item's inspect link. Items missing their description,
// asset or inspect action are dropped with a log line; the rest of the batch
// proceeds.
func (c *Client) prepareUnlocks(items []RawUnlock, inv *Inventory) []UnhydratedUnlock {
	descriptions := make(map[InventoryID]*InventoryDescription, len(inv.Descriptions))
	for i := range inv.Descriptions {
		d := &inv.Descriptions[i]
		descriptions[d.InventoryID()] = d
	}

	assets := make(map[InventoryID]*Asset, len(inv.Assets))
	for i := range inv.Assets {
		a := &inv.Assets[i]
		assets[a.InventoryID()] = a
	}

	prepared := make([]UnhydratedUnlock, 0, len(items))
	for _, item := range items {
		u, err := c.prepareUnlock(item, descriptions, assets)
		if err != nil {
			c.logger.Warn("dropping unlock",
				zap.String("history_id", item.HistoryID),
				zap.Uint64("class_id", item.Item.ClassID),
				zap.Uint64("instance_id", item.Item.InstanceID),
				zap.Error(err))
			continue
		}
		prepared = append(prepared, u)
	}

	return prepared
}

func (c *Client) prepareUnlock(item RawUnlock, descriptions map[InventoryID]*InventoryDescription, assets map[InventoryID]*Asset) (UnhydratedUnlock, error) {
	desc, ok := descriptions[item.Item]
	if !ok {
		return UnhydratedUnlock{}, ErrNoDescription
	}
	asset, ok := assets[item.Item]
	if !ok {
		return UnhydratedUnlock{}, ErrNoAsset
	}

	var link string
	for _, action := range desc.Actions {
		if action.IsInspectLink() {
			link = action.Link
			break
		}
	}
	if link == "" {
		return UnhydratedUnlock{}, ErrNoInspectLink
	}

	link = strings.Replace(link, "%assetid%", strconv.FormatUint(uint64(asset.AssetID), 10), 1)
	link = strings.Replace(link, "%owner_steamid%", strconv.FormatUint(c.id.UserID(), 10), 1)

	return UnhydratedUnlock{
		HistoryID:      item.HistoryID,
		Key:            item.Key,
		Case:           item.Case,
		ItemMarketLink: link,
		ItemMarketName: desc.Name,
		At:             item.At,
		Name:           c.username,
		Item:           item.Item,
	}, nil
}
