package steam

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/smtbot/internal/analytics"
	"github.com/alanyoungcy/smtbot/internal/domain"
)

const listingsPageSize = 100

// PriceHistory returns the venue's sale buckets for an item from the last
// days days, oldest first.
func (c *Client) PriceHistory(ctx context.Context, name string, pair domain.VenuePair, days int) ([]domain.PricePoint, error) {
	var resp priceHistoryResponse
	err := c.call(ctx, "price history", func() error {
		return c.getJSON(ctx, request{
			class:  classRead,
			method: http.MethodGet,
			path:   "/market/pricehistory/",
			query: url.Values{
				"appid":            {pair.AppID},
				"market_hash_name": {name},
				"currency":         {strconv.Itoa(c.cfg.Currency)},
				"country":          {c.cfg.Country},
			},
		}, &resp)
	})
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("steam: price history %s: %w", name, domain.ErrVenueRejected)
	}

	cutoff := c.now().UTC().AddDate(0, 0, -days)
	points := make([]domain.PricePoint, 0, len(resp.Prices))
	for _, raw := range resp.Prices {
		p, err := parsePricePoint(raw)
		if err != nil {
			return nil, fmt.Errorf("steam: price history %s: %w", name, err)
		}
		if p.At.Before(cutoff) {
			continue
		}
		points = append(points, p)
	}
	return points, nil
}

// CurrentPrice returns the lowest listing, median sale and 24h volume.
// Fields the venue omits stay null.
func (c *Client) CurrentPrice(ctx context.Context, name string, pair domain.VenuePair) (domain.Snapshot, error) {
	var resp priceOverviewResponse
	err := c.call(ctx, "price overview", func() error {
		return c.getJSON(ctx, request{
			class:  classRead,
			method: http.MethodGet,
			path:   "/market/priceoverview/",
			query: url.Values{
				"appid":            {pair.AppID},
				"market_hash_name": {name},
				"currency":         {strconv.Itoa(c.cfg.Currency)},
			},
		}, &resp)
	})
	if err != nil {
		return domain.Snapshot{}, err
	}
	if !resp.Success {
		return domain.Snapshot{}, fmt.Errorf("steam: price overview %s: %w", name, domain.ErrVenueRejected)
	}

	var snap domain.Snapshot
	if snap.LowestPrice, err = parseMoney(resp.LowestPrice); err != nil {
		return domain.Snapshot{}, fmt.Errorf("steam: price overview %s: %w", name, err)
	}
	if snap.MedianPrice, err = parseMoney(resp.MedianPrice); err != nil {
		return domain.Snapshot{}, fmt.Errorf("steam: price overview %s: %w", name, err)
	}
	if snap.Volume24h, err = parseCount(resp.Volume); err != nil {
		return domain.Snapshot{}, fmt.Errorf("steam: price overview %s: %w", name, err)
	}
	return snap, nil
}

// ActiveListings returns every sell listing the account has at the venue,
// including listings awaiting confirmation or on hold.
func (c *Client) ActiveListings(ctx context.Context) ([]domain.Listing, error) {
	var listings []domain.Listing
	err := c.call(ctx, "active listings", func() error {
		var err error
		listings, err = c.fetchListings(ctx)
		return err
	})
	return listings, err
}

func (c *Client) fetchListings(ctx context.Context) ([]domain.Listing, error) {
	var out []domain.Listing
	for start := 0; ; {
		var resp myListingsResponse
		err := c.getJSON(ctx, request{
			class:  classRead,
			method: http.MethodGet,
			path:   "/market/mylistings/",
			query: url.Values{
				"norender": {"1"},
				"start":    {strconv.Itoa(start)},
				"count":    {strconv.Itoa(listingsPageSize)},
			},
		}, &resp)
		if err != nil {
			return nil, err
		}
		if !resp.Success {
			return nil, fmt.Errorf("%w: listings request refused", domain.ErrVenueTransient)
		}

		// On hold and to-confirm entries are repeated on every page.
		page := resp.Listings
		if start == 0 {
			page = append(append(page, resp.OnHold...), resp.ToConfirm...)
		}
		for _, l := range page {
			out = append(out, domain.Listing{
				OrderID:        string(l.ListingID),
				AssetID:        string(l.Asset.ID),
				MarketHashName: l.Asset.MarketHashName,
				Price:          decimal.New(l.Price+l.Fee, -2),
			})
		}

		start += len(resp.Listings)
		if len(resp.Listings) == 0 || start >= resp.TotalCount {
			return out, nil
		}
	}
}

// CreateBuyOrder places a buy order for qty units at price each and returns
// the venue's order id.
func (c *Client) CreateBuyOrder(ctx context.Context, name string, price decimal.Decimal, pair domain.VenuePair, qty int) (string, error) {
	if qty <= 0 {
		qty = 1
	}
	var resp buyOrderResponse
	err := c.callWrite(ctx, "create buy order", func() error {
		return c.getJSON(ctx, request{
			class:  classWrite,
			method: http.MethodPost,
			path:   "/market/createbuyorder/",
			form: url.Values{
				"currency":         {strconv.Itoa(c.cfg.Currency)},
				"appid":            {pair.AppID},
				"market_hash_name": {name},
				"price_total":      {strconv.FormatInt(toCents(price)*int64(qty), 10)},
				"quantity":         {strconv.Itoa(qty)},
			},
			referer: c.listingReferer(pair, name),
		}, &resp)
	})
	if err != nil {
		return "", err
	}
	if resp.Success != 1 || resp.BuyOrderID == "" {
		return "", fmt.Errorf("steam: create buy order %s: %w: %s", name, domain.ErrVenueRejected, resp.Message)
	}

	c.logger.InfoContext(ctx, "steam: buy order placed",
		slog.String("item", name),
		slog.String("price", price.StringFixed(2)),
		slog.Int("quantity", qty),
		slog.String("order_id", string(resp.BuyOrderID)),
	)
	return string(resp.BuyOrderID), nil
}

// CreateSellOrder lists a held asset so that buyers pay price, and returns
// the listing id. The venue does not echo the id, so it is looked up in the
// account's listings by asset id.
func (c *Client) CreateSellOrder(ctx context.Context, assetID string, pair domain.VenuePair, price decimal.Decimal) (string, error) {
	received := analytics.CalculateFees(toCents(price)).Received
	if received < 1 {
		return "", fmt.Errorf("steam: sell %s at %s: %w: price below venue minimum", assetID, price.StringFixed(2), domain.ErrVenueRejected)
	}

	var resp sellItemResponse
	err := c.callWrite(ctx, "create sell order", func() error {
		return c.getJSON(ctx, request{
			class:  classWrite,
			method: http.MethodPost,
			path:   "/market/sellitem/",
			form: url.Values{
				"appid":     {pair.AppID},
				"contextid": {pair.ContextID},
				"assetid":   {assetID},
				"amount":    {"1"},
				"price":     {strconv.FormatInt(received, 10)},
			},
			referer: c.base.String() + "/profiles/" + c.session.SteamID() + "/inventory/",
		}, &resp)
	})
	if err != nil {
		return "", err
	}
	if !resp.Success {
		return "", fmt.Errorf("steam: sell %s: %w: %s", assetID, domain.ErrVenueRejected, resp.Message)
	}

	listings, err := c.ActiveListings(ctx)
	if err != nil {
		return "", fmt.Errorf("steam: sell %s: find listing: %w", assetID, err)
	}
	for _, l := range listings {
		if l.AssetID == assetID {
			c.logger.InfoContext(ctx, "steam: sell order placed",
				slog.String("asset_id", assetID),
				slog.String("price", price.StringFixed(2)),
				slog.String("listing_id", l.OrderID),
				slog.Bool("requires_confirmation", bool(resp.RequiresConfirmation)),
			)
			return l.OrderID, nil
		}
	}
	return "", fmt.Errorf("steam: sell %s: %w: listing not visible after placement", assetID, domain.ErrVenueRejected)
}

// getJSON performs r and decodes the body into out. An empty array or null
// body is the site's signal for an expired session.
func (c *Client) getJSON(ctx context.Context, r request, out any) error {
	raw, err := c.do(ctx, r)
	if err != nil {
		return err
	}
	switch string(trimJSON(raw)) {
	case "", "[]", "null":
		return fmt.Errorf("%s: %w: empty response", r.path, domain.ErrVenueTransient)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		var syn *json.SyntaxError
		if errors.As(err, &syn) {
			// HTML login page instead of JSON.
			return fmt.Errorf("%s: %w: non-JSON response", r.path, errSessionExpired)
		}
		return fmt.Errorf("%s: decode: %w", r.path, err)
	}
	return nil
}

func trimJSON(b []byte) []byte {
	i, j := 0, len(b)
	for i < j && (b[i] == ' ' || b[i] == '\n' || b[i] == '\r' || b[i] == '\t') {
		i++
	}
	for j > i && (b[j-1] == ' ' || b[j-1] == '\n' || b[j-1] == '\r' || b[j-1] == '\t') {
		j--
	}
	return b[i:j]
}
