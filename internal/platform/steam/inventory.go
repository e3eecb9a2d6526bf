package steam

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/alanyoungcy/smtbot/internal/domain"
)

const inventoryPageSize = 1000

// Inventory returns the account's assets in pair keyed by asset id.
func (c *Client) Inventory(ctx context.Context, pair domain.VenuePair) (map[string]domain.InventoryItem, error) {
	var items map[string]domain.InventoryItem
	err := c.call(ctx, "inventory", func() error {
		var err error
		items, err = c.fetchInventory(ctx, pair)
		return err
	})
	return items, err
}

func (c *Client) fetchInventory(ctx context.Context, pair domain.VenuePair) (map[string]domain.InventoryItem, error) {
	steamID := c.session.SteamID()
	if steamID == "" {
		return nil, fmt.Errorf("%w: steam id unknown", domain.ErrVenueRejected)
	}

	type descKey struct{ class, instance string }
	out := make(map[string]domain.InventoryItem)
	startAsset := ""

	for {
		q := url.Values{
			"l":     {c.cfg.Language},
			"count": {strconv.Itoa(inventoryPageSize)},
		}
		if startAsset != "" {
			q.Set("start_assetid", startAsset)
		}

		var resp inventoryResponse
		err := c.getJSON(ctx, request{
			class:  classRead,
			method: http.MethodGet,
			path:   "/inventory/" + steamID + "/" + pair.AppID + "/" + pair.ContextID,
			query:  q,
		}, &resp)
		if err != nil {
			return nil, err
		}
		if !resp.Success {
			return nil, fmt.Errorf("%w: inventory %s refused", domain.ErrVenueTransient, pair)
		}

		descs := make(map[descKey]inventoryDescription, len(resp.Descriptions))
		for _, d := range resp.Descriptions {
			descs[descKey{string(d.ClassID), string(d.InstanceID)}] = d
		}

		for _, a := range resp.Assets {
			d, ok := descs[descKey{string(a.ClassID), string(a.InstanceID)}]
			if !ok {
				continue
			}
			amount, err := strconv.Atoi(string(a.Amount))
			if err != nil || amount < 1 {
				amount = 1
			}
			icon := ""
			if d.IconURL != "" {
				icon = domain.InventoryIconBase + d.IconURL
			}
			out[string(a.AssetID)] = domain.InventoryItem{
				AssetID:        string(a.AssetID),
				AppID:          pair.AppID,
				ContextID:      pair.ContextID,
				Name:           d.Name,
				MarketHashName: d.MarketHashName,
				Tradable:       bool(d.Tradable),
				Marketable:     bool(d.Marketable),
				Amount:         amount,
				IconURL:        icon,
			}
		}

		if !resp.MoreItems || resp.LastAssetID == "" {
			return out, nil
		}
		startAsset = string(resp.LastAssetID)
	}
}
