package steam

import (
	"fmt"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
)

// flexUint64 decodes from either a JSON number or a numeric string; Steam's
// inventory endpoint has shipped both over time.
type flexUint64 uint64

func (u *flexUint64) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return fmt.Errorf("parsing numeric field: %w", err)
	}
	*u = flexUint64(v)
	return nil
}

// Inventory is the decoded inventory JSON document. Both slices are ordered
// newest-first; Steam serves them oldest-first and ParseInventory reverses
// them.
type Inventory struct {
	Assets       []Asset                `json:"assets"`
	Descriptions []InventoryDescription `json:"descriptions"`
}

// Asset is one concrete item instance in the inventory.
type Asset struct {
	AppID      flexUint64 `json:"appid"`
	AssetID    flexUint64 `json:"assetid"`
	ClassID    flexUint64 `json:"classid"`
	InstanceID flexUint64 `json:"instanceid"`
}

// InventoryID returns the asset's class+instance join key.
func (a *Asset) InventoryID() InventoryID {
	return InventoryID{ClassID: uint64(a.ClassID), InstanceID: uint64(a.InstanceID)}
}

// InventoryDescription is the shared metadata for a class+instance pair.
type InventoryDescription struct {
	ClassID    flexUint64 `json:"classid"`
	InstanceID flexUint64 `json:"instanceid"`
	IconURL    string     `json:"icon_url"`
	Name       string     `json:"market_hash_name"`
	Variant    string     `json:"type"`

	Actions []Action `json:"actions"`
}

// InventoryID returns the description's class+instance join key.
func (d *InventoryDescription) InventoryID() InventoryID {
	return InventoryID{ClassID: uint64(d.ClassID), InstanceID: uint64(d.InstanceID)}
}

// Action is an in-game deep link attached to an inventory item.
type Action struct {
	Link string `json:"link"`
	Name string `json:"name"`
}

// IsInspectLink reports whether this action is the in-game inspect link used
// as the metadata cache key.
func (a *Action) IsInspectLink() bool {
	return strings.HasPrefix(a.Name, "Inspect") && strings.HasPrefix(a.Link, "steam://rungame/730/")
}

// ParseInventory decodes an inventory JSON document and reverses Steam's
// oldest-first ordering so index 0 is the newest item.
func ParseInventory(data []byte) (*Inventory, error) {
	var inv Inventory
	if err := json.Unmarshal(data, &inv); err != nil {
		return nil, fmt.Errorf("decoding inventory: %w", err)
	}

	reverse(inv.Assets)
	reverse(inv.Descriptions)

	return &inv, nil
}

func reverse[T any](s []T) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
