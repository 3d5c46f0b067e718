package steam

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const inventoryJSON = `{
	"assets": [
		{"appid": 730, "assetid": "24028753889", "classid": "100", "instanceid": "200"},
		{"appid": "730", "assetid": 24028753890, "classid": 101, "instanceid": "201"}
	],
	"descriptions": [
		{
			"classid": "100",
			"instanceid": "200",
			"icon_url": "icon-old",
			"market_hash_name": "Old Item",
			"type": "Rifle"
		},
		{
			"classid": "101",
			"instanceid": "201",
			"icon_url": "icon-new",
			"market_hash_name": "Souvenir P90 | Facility Negative (Minimal Wear)",
			"type": "SMG",
			"actions": [
				{"name": "Inspect in Game...", "link": "steam://rungame/730/765/+csgo_econ_action_preview S%owner_steamid%A%assetid%D123"}
			]
		}
	]
}`

// Numeric fields arrive as strings or numbers interchangeably, and both
// slices come back newest-first.
func TestParseInventory(t *testing.T) {
	inv, err := ParseInventory([]byte(inventoryJSON))
	require.NoError(t, err)

	require.Len(t, inv.Assets, 2)
	require.Len(t, inv.Descriptions, 2)

	newest := inv.Assets[0]
	assert.Equal(t, uint64(24028753890), uint64(newest.AssetID))
	assert.Equal(t, InventoryID{ClassID: 101, InstanceID: 201}, newest.InventoryID())

	newestDesc := inv.Descriptions[0]
	assert.Equal(t, "Souvenir P90 | Facility Negative (Minimal Wear)", newestDesc.Name)
	assert.Equal(t, InventoryID{ClassID: 101, InstanceID: 201}, newestDesc.InventoryID())
}

func TestParseInventoryBadNumeric(t *testing.T) {
	_, err := ParseInventory([]byte(`{"assets": [{"appid": "abc"}]}`))
	require.Error(t, err)
}

func TestActionIsInspectLink(t *testing.T) {
	tests := []struct {
		name   string
		action Action
		want   bool
	}{
		{
			name:   "inspect action",
			action: Action{Name: "Inspect in Game...", Link: "steam://rungame/730/765/+csgo_econ_action_preview"},
			want:   true,
		},
		{
			name:   "wrong name",
			action: Action{Name: "Delete", Link: "steam://rungame/730/765/+csgo_econ_action_delete"},
			want:   false,
		},
		{
			name:   "wrong app",
			action: Action{Name: "Inspect in Game...", Link: "steam://rungame/570/765/+preview"},
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.action.IsInspectLink())
		})
	}
}
