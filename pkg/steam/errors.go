package steam

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthentication is returned when Steam answers the inventory-history
	// request with a 401 or 403.
	ErrAuthentication = errors.New("authentication failure")
	// ErrNotAuthenticated is returned when the page fetched fine but renders
	// the logged-out state.
	ErrNotAuthenticated = errors.New("not logged in")
	// ErrNoHistoryFound is returned when the history page yields no
	// recognizable rows at all. It guards against silent DOM changes.
	ErrNoHistoryFound = errors.New("failed to parse any history from steam site")
)

// UnhandledStatusError reports an inventory or history fetch that failed with
// a status code we have no specific handling for.
type UnhandledStatusError struct {
	Code int
}

func (e *UnhandledStatusError) Error() string {
	return fmt.Sprintf("unhandled status code: %d", e.Code)
}

// Parse errors. Each names the DOM element or attribute that was missing so
// layout drift shows up in logs as something actionable.
var (
	ErrMissingLoginArea      = errors.New("could not find login area on page")
	ErrIndeterminateLogin    = errors.New("found login area, but not indicator")
	ErrMissingUserID         = errors.New("could not find user id element")
	ErrBadUserID             = errors.New("error parsing steam user id")
	ErrMissingDescription    = errors.New("could not find trade description")
	ErrMissingDate           = errors.New("could not find trade date")
	ErrMissingTime           = errors.New("could not find trade time")
	ErrDateFormatChanged     = errors.New("could not parse date from existing format")
	ErrMissingLostItems      = errors.New("could not find lost items from unboxing")
	ErrMissingLostCase       = errors.New("could not find used container from unboxing")
	ErrMissingGainedItems    = errors.New("could not find items gained from unboxing")
	ErrMissingGainedItem     = errors.New("could not find item gained from unboxing")
	ErrMissingTradeID        = errors.New("could not find id associated with trade")
	ErrTradeIDFormatChanged  = errors.New("could not parse trade id from element")
	ErrMissingItemName       = errors.New("could not find item name node")
	ErrMissingItemImage      = errors.New("could not find item image node")
	ErrImageURLFormatChanged = errors.New("image url format has changed")
	ErrBadInventoryID        = errors.New("could not parse item inventory id")
)

// Per-item preparation errors. These are logged and the offending item is
// dropped; the rest of the run proceeds.
var (
	ErrNoDescription = errors.New("could not find item description in inventory")
	ErrNoAsset       = errors.New("could not find item asset info in inventory")
	ErrNoInspectLink = errors.New("could not find in-game inspect link")
)
