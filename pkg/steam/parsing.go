package steam

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

const (
	loginAreaSelector       = "#global_actions"
	loggedInActionSelector  = "#account_pulldown"
	loggedOutActionSelector = "#language_pulldown"

	userIDSelector = "div.commentthread_area"

	tradeRowSelector         = "div.tradehistoryrow"
	tradeDateSelector        = "div.tradehistory_date"
	tradeDescriptionSelector = "div.tradehistory_event_description"
	tradeSidesSelector       = "div.tradehistory_items"
	tradeItemSelector        = ".history_item"
	tradeItemImgSelector     = "img.tradehistory_received_item_img"
	tradeItemNameSelector    = "span.history_item_name"

	unlockDescription = "Unlocked a container"

	// Steam renders row timestamps like "Oct 31, 2021" / "1:50pm" in the
	// viewer's local timezone. We parse them as UTC without conversion, so
	// stored timestamps carry the viewer's clock skew. Changing this would
	// break the since-filtering of collectors with existing state; it is left
	// as a future configuration point.
	rowDateLayout = "Jan _2, 2006 3:04pm"

	imageCDNBase = "https://community.cloudflare.steamstatic.com/economy/image/"
)

var (
	historyIDRegex = regexp.MustCompile(`^history([0-9a-f]{40})_.+`)
	userIDRegex    = regexp.MustCompile(`commentthread_Profile_([0-9]+)_.*`)
)

// ParseAuthenticated inspects the top-of-page action region and reports
// whether the document was rendered for a logged-in user. A page showing
// neither the account pulldown nor the language pulldown is indeterminate and
// errors.
func ParseAuthenticated(doc *goquery.Document) (bool, error) {
	area := doc.Find(loginAreaSelector).First()
	if area.Length() == 0 {
		return false, ErrMissingLoginArea
	}

	if area.Find(loggedInActionSelector).Length() > 0 {
		return true, nil
	}
	if area.Find(loggedOutActionSelector).Length() > 0 {
		return false, nil
	}

	return false, ErrIndeterminateLogin
}

// ParseUserID extracts the numeric Steam user id from the comment-thread
// anchor on a profile page.
func ParseUserID(doc *goquery.Document) (uint64, error) {
	el := doc.Find(userIDSelector).First()
	if el.Length() == 0 {
		return 0, ErrMissingUserID
	}

	id, ok := el.Attr("id")
	if !ok {
		return 0, ErrMissingUserID
	}

	m := userIDRegex.FindStringSubmatch(id)
	if m == nil {
		return 0, ErrBadUserID
	}

	parsed, err := strconv.ParseUint(m[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrBadUserID, err)
	}

	return parsed, nil
}

// RowOutcome classifies a single inventory-history row.
type RowOutcome int

const (
	// RowValid means the row was a container unlock newer than the caller's
	// threshold and parsed cleanly.
	RowValid RowOutcome = iota
	// RowWrongKind means the row describes some other transaction type.
	RowWrongKind
	// RowTooOld means the caller has caught up; iteration should stop.
	RowTooOld
)

// HistoryRows returns the trade rows of an inventory-history document in page
// order (newest first).
func HistoryRows(doc *goquery.Document) *goquery.Selection {
	return doc.Find(tradeRowSelector)
}

// ParseRawUnlock parses one history row. Rows that are not container unlocks
// report RowWrongKind. Rows dated strictly before since, or gaining the item
// the caller already saw, report RowTooOld; the caller stops iterating on the
// first one. Malformed rows produce an error naming the missing element.
func ParseRawUnlock(row *goquery.Selection, since time.Time, lastSeen *InventoryID) (*RawUnlock, RowOutcome, error) {
	desc := row.Find(tradeDescriptionSelector).First()
	if desc.Length() == 0 {
		return nil, 0, ErrMissingDescription
	}

	if strings.TrimSpace(desc.Text()) != unlockDescription {
		return nil, RowWrongKind, nil
	}

	dateNode := row.Find(tradeDateSelector).First()
	if dateNode.Length() == 0 {
		return nil, 0, ErrMissingDate
	}
	parts := textParts(dateNode)
	if len(parts) == 0 {
		return nil, 0, ErrMissingDate
	}
	if len(parts) < 2 {
		return nil, 0, ErrMissingTime
	}

	at, err := time.Parse(rowDateLayout, parts[0]+" "+parts[1])
	if err != nil {
		return nil, 0, ErrDateFormatChanged
	}

	if !since.IsZero() && at.Before(since) {
		return nil, RowTooOld, nil
	}

	sides := row.Find(tradeSidesSelector)
	if sides.Length() < 1 {
		return nil, 0, ErrMissingLostItems
	}
	lost := sides.Eq(0).Find(tradeItemSelector)
	caseNode := lost.Eq(0)
	if caseNode.Length() == 0 {
		return nil, 0, ErrMissingLostCase
	}
	var keyNode *goquery.Selection
	if lost.Length() > 1 {
		keyNode = lost.Eq(1)
	}

	if sides.Length() < 2 {
		return nil, 0, ErrMissingGainedItems
	}
	gained := sides.Eq(1).Find(tradeItemSelector).First()
	if gained.Length() == 0 {
		return nil, 0, ErrMissingGainedItem
	}

	invID, err := inventoryIDFromNode(gained)
	if err != nil {
		return nil, 0, err
	}

	caseID, ok := caseNode.Attr("id")
	if !ok {
		return nil, 0, ErrMissingTradeID
	}
	m := historyIDRegex.FindStringSubmatch(caseID)
	if m == nil {
		return nil, 0, ErrTradeIDFormatChanged
	}
	historyID := m[1]

	// Catch-up safety net: the newest item of the previous run has come back
	// around, so everything from here on has already been reported.
	if lastSeen != nil && *lastSeen == invID {
		return nil, RowTooOld, nil
	}

	var key *TrivialItem
	if keyNode != nil {
		k, err := trivialItemFromNode(keyNode)
		if err != nil {
			return nil, 0, err
		}
		key = &k
	}

	caseItem, err := trivialItemFromNode(caseNode)
	if err != nil {
		return nil, 0, err
	}

	return &RawUnlock{
		HistoryID: historyID,
		Case:      caseItem,
		Key:       key,
		Item:      invID,
		At:        at,
	}, RowValid, nil
}

func trivialItemFromNode(s *goquery.Selection) (TrivialItem, error) {
	nameNode := s.Find(tradeItemNameSelector).First()
	if nameNode.Length() == 0 {
		return TrivialItem{}, ErrMissingItemName
	}
	name := strings.TrimSpace(nameNode.Text())
	if name == "" {
		return TrivialItem{}, ErrMissingItemName
	}

	img := s.Find(tradeItemImgSelector).First()
	if img.Length() == 0 {
		return TrivialItem{}, ErrMissingItemImage
	}
	src, ok := img.Attr("src")
	if !ok {
		return TrivialItem{}, ErrMissingItemImage
	}

	// The CDN id is the sixth path segment of the image source; rebuild the
	// canonical URL from it so stored images do not depend on the size
	// variant the page happened to render.
	segments := strings.Split(src, "/")
	if len(segments) < 6 {
		return TrivialItem{}, ErrImageURLFormatChanged
	}

	return TrivialItem{
		Name:     name,
		ImageURL: imageCDNBase + segments[5],
	}, nil
}

func inventoryIDFromNode(s *goquery.Selection) (InventoryID, error) {
	classAttr, ok := s.Attr("data-classid")
	if !ok {
		return InventoryID{}, ErrBadInventoryID
	}
	instanceAttr, ok := s.Attr("data-instanceid")
	if !ok {
		return InventoryID{}, ErrBadInventoryID
	}

	classID, err := strconv.ParseUint(classAttr, 10, 64)
	if err != nil {
		return InventoryID{}, fmt.Errorf("%w: %w", ErrBadInventoryID, err)
	}
	instanceID, err := strconv.ParseUint(instanceAttr, 10, 64)
	if err != nil {
		return InventoryID{}, fmt.Errorf("%w: %w", ErrBadInventoryID, err)
	}

	return InventoryID{ClassID: classID, InstanceID: instanceID}, nil
}

// textParts collects the trimmed, non-empty text nodes under a selection in
// document order. The history date cell renders the date and time as two
// separate text nodes.
func textParts(s *goquery.Selection) []string {
	var parts []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				parts = append(parts, t)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range s.Nodes {
		walk(n)
	}
	return parts
}
