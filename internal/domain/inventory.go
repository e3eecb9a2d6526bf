package domain

// InventoryIconBase prefixes the icon hash the venue returns for an asset.
const InventoryIconBase = "https://steamcommunity-a.akamaihd.net/economy/image/"

// InventoryItem is an asset currently held in the account's venue inventory.
type InventoryItem struct {
	AssetID        string `json:"id"`
	AppID          string `json:"app_id"`
	ContextID      string `json:"context_id"`
	Name           string `json:"name"`
	MarketHashName string `json:"market_hash_name"`
	Tradable       bool   `json:"tradable"`
	Marketable     bool   `json:"marketable"`
	Amount         int    `json:"amount"`
	IconURL        string `json:"icon_url"`
}

// VenuePair returns the inventory namespace the asset belongs to.
func (i InventoryItem) VenuePair() VenuePair {
	return VenuePair{AppID: i.AppID, ContextID: i.ContextID}
}

// ToTrackedItem promotes the asset into a new pool entry with a single
// listing slot and no computed indicators.
func (i InventoryItem) ToTrackedItem() TrackedItem {
	return TrackedItem{
		MarketHashName: i.MarketHashName,
		Name:           i.Name,
		AppID:          i.AppID,
		ContextID:      i.ContextID,
		IconURL:        i.IconURL,
		MaxListed:      1,
	}
}
