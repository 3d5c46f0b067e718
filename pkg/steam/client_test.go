package steam

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSteam struct {
	inventory      string
	history        string
	historyStatus  int
	inventoryHits  int
	historyHits    int
	historyHandler http.HandlerFunc
}

func (f *fakeSteam) server() *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/inventory", func(w http.ResponseWriter, r *http.Request) {
		f.inventoryHits++
		w.Write([]byte(f.inventory))
	})
	mux.HandleFunc("/history", func(w http.ResponseWriter, r *http.Request) {
		f.historyHits++
		if f.historyHandler != nil {
			f.historyHandler(w, r)
			return
		}
		if f.historyStatus != 0 {
			w.WriteHeader(f.historyStatus)
			return
		}
		w.Write([]byte(f.history))
	})
	mux.HandleFunc("/profile", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(authedPage))
	})

	return httptest.NewServer(mux)
}

func testClient(t *testing.T, ts *httptest.Server) *Client {
	t.Helper()
	id := SteamID{
		id:                  76561198000494793,
		profileURL:          ts.URL + "/profile",
		inventoryURL:        ts.URL + "/inventory",
		inventoryHistoryURL: ts.URL + "/history",
	}
	return NewClient(id, NewCredentials("sess", "token"), zap.NewNop())
}

func TestIsAuthenticated(t *testing.T) {
	f := &fakeSteam{}
	ts := f.server()
	defer ts.Close()

	authed, err := testClient(t, ts).IsAuthenticated(context.Background())
	require.NoError(t, err)
	assert.True(t, authed)
}

func TestFetchHistoryForNewItems(t *testing.T) {
	f := &fakeSteam{
		inventory: inventoryJSON,
		history: historyPage(unlockRow(rowSpec{
			historyID:  historyID("a"),
			date:       "Nov 21, 2021",
			clock:      "12:00am",
			caseName:   "Clutch Case",
			keyName:    "Clutch Case Key",
			itemName:   "Souvenir P90 | Facility Negative (Minimal Wear)",
			classID:    101,
			instanceID: 201,
		})),
	}
	ts := f.server()
	defer ts.Close()

	items, err := testClient(t, ts).FetchHistoryForNewItems(context.Background(), time.Time{}, nil)
	require.NoError(t, err)
	require.Len(t, items, 1)

	got := items[0]
	assert.Equal(t, historyID("a"), got.HistoryID)
	assert.Equal(t, "Souvenir P90 | Facility Negative (Minimal Wear)", got.ItemMarketName)
	assert.Equal(t,
		"steam://rungame/730/765/+csgo_econ_action_preview S76561198000494793A24028753890D123",
		got.ItemMarketLink)
	assert.Equal(t, InventoryID{ClassID: 101, InstanceID: 201}, got.Item)
	require.NotNil(t, got.Key)
	assert.Equal(t, "Clutch Case Key", got.Key.Name)
}

// When the newest inventory asset is the one we already reported, the run
// short-circuits without touching the history page.
func TestFetchHistoryFastPath(t *testing.T) {
	f := &fakeSteam{inventory: inventoryJSON}
	ts := f.server()
	defer ts.Close()

	lastSeen := &InventoryID{ClassID: 101, InstanceID: 201}
	items, err := testClient(t, ts).FetchHistoryForNewItems(context.Background(), time.Time{}, lastSeen)
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Equal(t, 1, f.inventoryHits)
	assert.Zero(t, f.historyHits)
}

func TestFetchHistoryEmptyInventory(t *testing.T) {
	f := &fakeSteam{inventory: `{"assets": [], "descriptions": []}`}
	ts := f.server()
	defer ts.Close()

	items, err := testClient(t, ts).FetchHistoryForNewItems(context.Background(), time.Time{}, nil)
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Zero(t, f.historyHits)
}

func TestFetchHistoryAuthStatuses(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		f := &fakeSteam{inventory: inventoryJSON, historyStatus: status}
		ts := f.server()

		_, err := testClient(t, ts).FetchHistoryForNewItems(context.Background(), time.Time{}, nil)
		require.ErrorIs(t, err, ErrAuthentication)
		ts.Close()
	}
}

func TestFetchHistoryUnhandledStatus(t *testing.T) {
	f := &fakeSteam{inventory: inventoryJSON, historyStatus: http.StatusBadGateway}
	ts := f.server()
	defer ts.Close()

	_, err := testClient(t, ts).FetchHistoryForNewItems(context.Background(), time.Time{}, nil)

	var statusErr *UnhandledStatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusBadGateway, statusErr.Code)
}

func TestFetchHistoryLoggedOut(t *testing.T) {
	f := &fakeSteam{inventory: inventoryJSON, history: anonymousPage}
	ts := f.server()
	defer ts.Close()

	_, err := testClient(t, ts).FetchHistoryForNewItems(context.Background(), time.Time{}, nil)
	require.ErrorIs(t, err, ErrNotAuthenticated)
}

// A page with no recognizable rows at all indicates DOM drift, not an empty
// history.
func TestFetchHistoryNoRows(t *testing.T) {
	f := &fakeSteam{inventory: inventoryJSON, history: historyPage()}
	ts := f.server()
	defer ts.Close()

	_, err := testClient(t, ts).FetchHistoryForNewItems(context.Background(), time.Time{}, nil)
	require.ErrorIs(t, err, ErrNoHistoryFound)
}

// Items whose inventory data has rotated out are dropped; the rest of the
// batch survives.
func TestFetchHistoryDropsUnjoinableItems(t *testing.T) {
	f := &fakeSteam{
		inventory: inventoryJSON,
		history: historyPage(
			unlockRow(rowSpec{
				historyID:  historyID("a"),
				date:       "Nov 21, 2021",
				clock:      "1:00am",
				caseName:   "Clutch Case",
				itemName:   "Gone Item",
				classID:    999,
				instanceID: 999,
			}),
			unlockRow(rowSpec{
				historyID:  historyID("b"),
				date:       "Nov 21, 2021",
				clock:      "12:00am",
				caseName:   "Clutch Case",
				itemName:   "Souvenir P90 | Facility Negative (Minimal Wear)",
				classID:    101,
				instanceID: 201,
			}),
		),
	}
	ts := f.server()
	defer ts.Close()

	items, err := testClient(t, ts).FetchHistoryForNewItems(context.Background(), time.Time{}, nil)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, historyID("b"), items[0].HistoryID)
}
