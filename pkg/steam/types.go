package steam

import (
	"time"

	"github.com/jirwin/casetracker/pkg/csgofloat"
	"github.com/jirwin/casetracker/pkg/market"
)

// InventoryID identifies an item template+variant in a user's inventory. It is
// the join key between the inventory-history page and the inventory JSON.
type InventoryID struct {
	ClassID    uint64 `json:"class_id"`
	InstanceID uint64 `json:"instance_id"`
}

// TrivialItem is a non-unique market item (a container, a key). It has no
// inventory identity; two trivial items with the same name are the same item.
type TrivialItem struct {
	Name     string  `json:"name"`
	Color    *string `json:"color"`
	ImageURL string  `json:"image_url"`
}

// RawUnlock is a single container-unlock row parsed from the inventory-history
// page, before it has been cross-referenced with the inventory JSON.
type RawUnlock struct {
	HistoryID string

	Case TrivialItem
	Key  *TrivialItem
	Item InventoryID

	At time.Time
}

// UnhydratedUnlock is the wire type sent from the collector to the aggregator.
// HistoryID is globally unique per user; within a single collector run results
// are ordered newest-first by At.
type UnhydratedUnlock struct {
	HistoryID string `json:"history_id"`

	Key            *TrivialItem `json:"key"`
	Case           TrivialItem  `json:"case"`
	ItemMarketLink string       `json:"item_market_link"`
	ItemMarketName string       `json:"item_market_name"`

	At   time.Time `json:"at"`
	Name string    `json:"name"`

	// Item is collector-side bookkeeping for catch-up detection and never
	// crosses the wire.
	Item InventoryID `json:"-"`
}

// Unlock is the hydrated form built at read/publish time. It is never
// persisted; prices and item metadata are recomputed from the caches so they
// can evolve after the fact.
type Unlock struct {
	Key       *TrivialItem              `json:"key"`
	Case      TrivialItem               `json:"case"`
	CaseValue market.Prices             `json:"case_value"`
	Item      csgofloat.ItemDescription `json:"item"`
	ItemValue market.Prices             `json:"item_value"`

	At   time.Time `json:"at"`
	Name string    `json:"name"`
}

// CountdownRequest is an administrative broadcast carrying a named delay per
// recipient, used to start a synchronized countdown across clients.
type CountdownRequest struct {
	Delays map[string]uint32 `json:"delays"`
}
