package steam

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

var profileURLRegex = regexp.MustCompile(`steamcommunity\.com/(?:id/([a-zA-Z0-9-_]+)|profiles/([0-9]+))`)

// ErrInvalidProfileURL is returned when the given string does not look like a
// Steam profile URL in either the /id/<vanity> or /profiles/<id> form.
var ErrInvalidProfileURL = errors.New("invalid steam profile url")

// SteamID holds a resolved user identity and the URLs derived from it.
type SteamID struct {
	id     uint64
	vanity string

	profileURL          string
	inventoryURL        string
	inventoryHistoryURL string
}

// NewSteamID builds a SteamID from a known numeric id and optional vanity
// name.
func NewSteamID(id uint64, vanity string) SteamID {
	profileURL := formatProfileURLID(id)
	if vanity != "" {
		profileURL = formatProfileURLVanity(vanity)
	}

	return SteamID{
		id:     id,
		vanity: vanity,

		profileURL:          profileURL,
		inventoryURL:        formatInventoryURL(id),
		inventoryHistoryURL: formatInventoryHistoryURL(profileURL),
	}
}

// ResolveSteamID accepts a profile URL in either the vanity or numeric form,
// follows redirects to the canonical page and scrapes the numeric user id from
// it.
func ResolveSteamID(ctx context.Context, client *http.Client, urlish string, logger *zap.Logger) (SteamID, error) {
	m := profileURLRegex.FindStringSubmatch(urlish)
	if m == nil {
		return SteamID{}, ErrInvalidProfileURL
	}

	vanity := m[1]
	url := formatProfileURLVanity(vanity)
	if vanity == "" {
		// Validity is guaranteed by the regex.
		id, _ := strconv.ParseUint(m[2], 10, 64)
		url = formatProfileURLID(id)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return SteamID{}, fmt.Errorf("building profile request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return SteamID{}, fmt.Errorf("fetching profile: %w", err)
	}
	defer resp.Body.Close()

	profileURL := resp.Request.URL.String()
	if profileURL != url {
		logger.Warn("redirected to canonical profile url",
			zap.String("given", url),
			zap.String("canonical", profileURL))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return SteamID{}, fmt.Errorf("reading profile: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return SteamID{}, fmt.Errorf("parsing profile: %w", err)
	}

	id, err := ParseUserID(doc)
	if err != nil {
		return SteamID{}, fmt.Errorf("resolving user id: %w", err)
	}

	return SteamID{
		id:     id,
		vanity: vanity,

		profileURL:          profileURL,
		inventoryURL:        formatInventoryURL(id),
		inventoryHistoryURL: formatInventoryHistoryURL(profileURL),
	}, nil
}

// UserID returns the numeric Steam user id.
func (s SteamID) UserID() uint64 { return s.id }

// ProfileURL returns the user's profile page URL.
func (s SteamID) ProfileURL() string { return s.profileURL }

// InventoryURL returns the inventory JSON endpoint for the user.
func (s SteamID) InventoryURL() string { return s.inventoryURL }

// InventoryHistoryURL returns the inventory-history page URL for the user.
func (s SteamID) InventoryHistoryURL() string { return s.inventoryHistoryURL }

func formatProfileURLID(id uint64) string {
	return fmt.Sprintf("https://steamcommunity.com/profiles/%d", id)
}

func formatProfileURLVanity(vanity string) string {
	return fmt.Sprintf("https://steamcommunity.com/id/%s", vanity)
}

func formatInventoryURL(id uint64) string {
	return fmt.Sprintf("https://steamcommunity.com/inventory/%d/730/2?l=english&count=25", id)
}

func formatInventoryHistoryURL(profileURL string) string {
	return profileURL + "/inventoryhistory/?app[]=730"
}
