package steam

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	imgBase = "https://community.cloudflare.steamstatic.com/economy/image"

	authedPage = `<html><body>
		<div id="global_actions"><div id="account_pulldown">denbeigh</div></div>
	</body></html>`

	anonymousPage = `<html><body>
		<div id="global_actions"><div id="language_pulldown">language</div></div>
	</body></html>`

	indeterminatePage = `<html><body>
		<div id="global_actions"><div class="something_else"></div></div>
	</body></html>`

	profilePage = `<html><body>
		<div id="global_actions"><div id="account_pulldown">denbeigh</div></div>
		<div class="commentthread_area" id="commentthread_Profile_76561198000494793_area"></div>
	</body></html>`
)

func mustDoc(t *testing.T, body string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	require.NoError(t, err)
	return doc
}

func historyID(fill string) string {
	return strings.Repeat(fill, 40)
}

type rowSpec struct {
	historyID   string
	date        string
	clock       string
	description string
	caseName    string
	keyName     string
	itemName    string
	classID     uint64
	instanceID  uint64
}

func unlockRow(s rowSpec) string {
	desc := s.description
	if desc == "" {
		desc = unlockDescription
	}

	key := ""
	if s.keyName != "" {
		key = fmt.Sprintf(`
			<div class="history_item">
				<img class="tradehistory_received_item_img" src="%s/key-img/96fx96f">
				<span class="history_item_name">%s</span>
			</div>`, imgBase, s.keyName)
	}

	return fmt.Sprintf(`
	<div class="tradehistoryrow">
		<div class="tradehistory_date">%s <div class="tradehistory_timestamp">%s</div></div>
		<div class="tradehistory_event_description">%s</div>
		<div class="tradehistory_content">
			<div class="tradehistory_items">
				<div class="history_item" id="history%s_1">
					<img class="tradehistory_received_item_img" src="%s/case-img/96fx96f">
					<span class="history_item_name">%s</span>
				</div>%s
			</div>
			<div class="tradehistory_items">
				<div class="history_item" data-classid="%d" data-instanceid="%d">
					<img class="tradehistory_received_item_img" src="%s/item-img/96fx96f">
					<span class="history_item_name">%s</span>
				</div>
			</div>
		</div>
	</div>`, s.date, s.clock, desc, s.historyID, imgBase, s.caseName, key, s.classID, s.instanceID, imgBase, s.itemName)
}

func historyPage(rows ...string) string {
	return `<html><body>
		<div id="global_actions"><div id="account_pulldown">denbeigh</div></div>
		` + strings.Join(rows, "\n") + `
	</body></html>`
}

func TestParseAuthenticated(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		authed bool
		err    error
	}{
		{name: "account pulldown means logged in", body: authedPage, authed: true},
		{name: "language pulldown means logged out", body: anonymousPage, authed: false},
		{name: "neither indicator errors", body: indeterminatePage, err: ErrIndeterminateLogin},
		{name: "no login area errors", body: "<html><body></body></html>", err: ErrMissingLoginArea},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			authed, err := ParseAuthenticated(mustDoc(t, tt.body))
			if tt.err != nil {
				require.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.authed, authed)
		})
	}
}

func TestParseUserID(t *testing.T) {
	id, err := ParseUserID(mustDoc(t, profilePage))
	require.NoError(t, err)
	assert.Equal(t, uint64(76561198000494793), id)
}

func TestParseUserIDMissing(t *testing.T) {
	_, err := ParseUserID(mustDoc(t, authedPage))
	require.ErrorIs(t, err, ErrMissingUserID)
}

func TestParseRawUnlock(t *testing.T) {
	doc := mustDoc(t, historyPage(unlockRow(rowSpec{
		historyID:  historyID("a"),
		date:       "Oct 31, 2021",
		clock:      "1:50pm",
		caseName:   "Clutch Case",
		keyName:    "Clutch Case Key",
		itemName:   "P90 | Facility Negative",
		classID:    123,
		instanceID: 456,
	})))

	rows := HistoryRows(doc)
	require.Equal(t, 1, rows.Length())

	u, outcome, err := ParseRawUnlock(rows.Eq(0), time.Time{}, nil)
	require.NoError(t, err)
	require.Equal(t, RowValid, outcome)

	assert.Equal(t, historyID("a"), u.HistoryID)
	assert.Equal(t, "Clutch Case", u.Case.Name)
	assert.Equal(t, imgBase+"/case-img", u.Case.ImageURL)
	require.NotNil(t, u.Key)
	assert.Equal(t, "Clutch Case Key", u.Key.Name)
	assert.Equal(t, InventoryID{ClassID: 123, InstanceID: 456}, u.Item)
	// Page-local time is taken as UTC verbatim.
	assert.Equal(t, time.Date(2021, time.October, 31, 13, 50, 0, 0, time.UTC), u.At)
}

func TestParseRawUnlockNoKey(t *testing.T) {
	doc := mustDoc(t, historyPage(unlockRow(rowSpec{
		historyID:  historyID("b"),
		date:       "Nov 1, 2021",
		clock:      "9:05am",
		caseName:   "Sticker Capsule",
		itemName:   "Sticker | Something",
		classID:    9,
		instanceID: 0,
	})))

	u, outcome, err := ParseRawUnlock(HistoryRows(doc).Eq(0), time.Time{}, nil)
	require.NoError(t, err)
	require.Equal(t, RowValid, outcome)
	assert.Nil(t, u.Key)
}

func TestParseRawUnlockWrongKind(t *testing.T) {
	doc := mustDoc(t, historyPage(unlockRow(rowSpec{
		historyID:   historyID("c"),
		date:        "Oct 31, 2021",
		clock:       "1:50pm",
		description: "Traded with another player",
		caseName:    "Clutch Case",
		itemName:    "P90 | Facility Negative",
		classID:     1,
		instanceID:  2,
	})))

	_, outcome, err := ParseRawUnlock(HistoryRows(doc).Eq(0), time.Time{}, nil)
	require.NoError(t, err)
	assert.Equal(t, RowWrongKind, outcome)
}

func TestParseRawUnlockLastSeenItem(t *testing.T) {
	doc := mustDoc(t, historyPage(unlockRow(rowSpec{
		historyID:  historyID("d"),
		date:       "Oct 31, 2021",
		clock:      "1:50pm",
		caseName:   "Clutch Case",
		itemName:   "P90 | Facility Negative",
		classID:    123,
		instanceID: 456,
	})))

	lastSeen := &InventoryID{ClassID: 123, InstanceID: 456}
	_, outcome, err := ParseRawUnlock(HistoryRows(doc).Eq(0), time.Time{}, lastSeen)
	require.NoError(t, err)
	assert.Equal(t, RowTooOld, outcome)
}

// Rows newer than since parse as valid in page order; iteration stops at the
// first strictly-older row.
func TestParseRowsAgesOut(t *testing.T) {
	doc := mustDoc(t, historyPage(
		unlockRow(rowSpec{historyID: historyID("a"), date: "Oct 31, 2021", clock: "1:50pm", caseName: "Case A", itemName: "Item A", classID: 1, instanceID: 1}),
		unlockRow(rowSpec{historyID: historyID("b"), date: "Oct 30, 2021", clock: "4:12pm", caseName: "Case B", itemName: "Item B", classID: 2, instanceID: 2}),
		unlockRow(rowSpec{historyID: historyID("c"), date: "Oct 29, 2021", clock: "11:00am", caseName: "Case C", itemName: "Item C", classID: 3, instanceID: 3}),
	))

	since := time.Date(2021, time.October, 30, 0, 0, 0, 0, time.UTC)

	var got []string
	rows := HistoryRows(doc)
	require.Equal(t, 3, rows.Length())

	stopped := false
	rows.EachWithBreak(func(_ int, row *goquery.Selection) bool {
		u, outcome, err := ParseRawUnlock(row, since, nil)
		require.NoError(t, err)
		switch outcome {
		case RowValid:
			got = append(got, u.HistoryID)
			return true
		case RowTooOld:
			stopped = true
			return false
		default:
			return true
		}
	})

	assert.True(t, stopped)
	assert.Equal(t, []string{historyID("a"), historyID("b")}, got)
}

func TestParseRawUnlockMissingElements(t *testing.T) {
	tests := []struct {
		name string
		body string
		err  error
	}{
		{
			name: "no description",
			body: `<div class="tradehistoryrow"></div>`,
			err:  ErrMissingDescription,
		},
		{
			name: "no date",
			body: `<div class="tradehistoryrow">
				<div class="tradehistory_event_description">Unlocked a container</div>
			</div>`,
			err: ErrMissingDate,
		},
		{
			name: "date without time",
			body: `<div class="tradehistoryrow">
				<div class="tradehistory_date">Oct 31, 2021</div>
				<div class="tradehistory_event_description">Unlocked a container</div>
			</div>`,
			err: ErrMissingTime,
		},
		{
			name: "unparseable date",
			body: `<div class="tradehistoryrow">
				<div class="tradehistory_date">31/10/2021 <div class="tradehistory_timestamp">13:50</div></div>
				<div class="tradehistory_event_description">Unlocked a container</div>
			</div>`,
			err: ErrDateFormatChanged,
		},
		{
			name: "no lost case",
			body: `<div class="tradehistoryrow">
				<div class="tradehistory_date">Oct 31, 2021 <div class="tradehistory_timestamp">1:50pm</div></div>
				<div class="tradehistory_event_description">Unlocked a container</div>
				<div class="tradehistory_items"></div>
				<div class="tradehistory_items"></div>
			</div>`,
			err: ErrMissingLostCase,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := mustDoc(t, historyPage(tt.body))
			_, _, err := ParseRawUnlock(HistoryRows(doc).Eq(0), time.Time{}, nil)
			require.ErrorIs(t, err, tt.err)
		})
	}
}
