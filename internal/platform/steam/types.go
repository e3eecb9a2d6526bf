package steam

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/smtbot/internal/domain"
)

// flexString accepts a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	if string(b) == "null" {
		*f = ""
		return nil
	}
	*f = flexString(b)
	return nil
}

// flexBool accepts true/false, 0/1 or "0"/"1".
type flexBool bool

func (f *flexBool) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(b)), `"`)
	switch s {
	case "true", "1":
		*f = true
	case "false", "0", "", "null":
		*f = false
	default:
		return fmt.Errorf("steam: bad bool %q", s)
	}
	return nil
}

type priceHistoryResponse struct {
	Success flexBool          `json:"success"`
	Prices  []json.RawMessage `json:"prices"`
}

type priceOverviewResponse struct {
	Success     flexBool `json:"success"`
	LowestPrice string   `json:"lowest_price"`
	MedianPrice string   `json:"median_price"`
	Volume      string   `json:"volume"`
}

type listingAsset struct {
	ID             flexString `json:"id"`
	AppID          flexString `json:"appid"`
	ContextID      flexString `json:"contextid"`
	MarketHashName string     `json:"market_hash_name"`
}

type listingEntry struct {
	ListingID flexString   `json:"listingid"`
	Price     int64        `json:"price"`
	Fee       int64        `json:"fee"`
	Asset     listingAsset `json:"asset"`
}

type myListingsResponse struct {
	Success    flexBool       `json:"success"`
	Start      int            `json:"start"`
	PageSize   int            `json:"pagesize"`
	TotalCount int            `json:"total_count"`
	Listings   []listingEntry `json:"listings"`
	OnHold     []listingEntry `json:"listings_on_hold"`
	ToConfirm  []listingEntry `json:"listings_to_confirm"`
}

type buyOrderResponse struct {
	Success    int        `json:"success"`
	BuyOrderID flexString `json:"buy_orderid"`
	Message    string     `json:"message"`
}

type sellItemResponse struct {
	Success              flexBool `json:"success"`
	RequiresConfirmation flexBool `json:"requires_confirmation"`
	Message              string   `json:"message"`
}

type inventoryAsset struct {
	AppID      flexString `json:"appid"`
	ContextID  flexString `json:"contextid"`
	AssetID    flexString `json:"assetid"`
	ClassID    flexString `json:"classid"`
	InstanceID flexString `json:"instanceid"`
	Amount     flexString `json:"amount"`
}

type inventoryDescription struct {
	ClassID        flexString `json:"classid"`
	InstanceID     flexString `json:"instanceid"`
	Name           string     `json:"name"`
	MarketHashName string     `json:"market_hash_name"`
	Tradable       flexBool   `json:"tradable"`
	Marketable     flexBool   `json:"marketable"`
	IconURL        string     `json:"icon_url"`
}

type inventoryResponse struct {
	Success      flexBool               `json:"success"`
	Assets       []inventoryAsset       `json:"assets"`
	Descriptions []inventoryDescription `json:"descriptions"`
	MoreItems    flexBool               `json:"more_items"`
	LastAssetID  flexString             `json:"last_assetid"`
}

// priceHistoryLayout matches the hour-resolution part of "Mar 05 2024 01: +0".
const priceHistoryLayout = "Jan 02 2006 15"

// parsePricePoint decodes one ["Mar 05 2024 01: +0", 1.23, "45"] entry.
func parsePricePoint(raw json.RawMessage) (domain.PricePoint, error) {
	var tuple []json.RawMessage
	if err := json.Unmarshal(raw, &tuple); err != nil {
		return domain.PricePoint{}, fmt.Errorf("price entry: %w", err)
	}
	if len(tuple) != 3 {
		return domain.PricePoint{}, fmt.Errorf("price entry: want 3 fields, got %d", len(tuple))
	}

	var stamp string
	if err := json.Unmarshal(tuple[0], &stamp); err != nil {
		return domain.PricePoint{}, fmt.Errorf("price entry time: %w", err)
	}
	at, err := parsePriceHistoryTime(stamp)
	if err != nil {
		return domain.PricePoint{}, err
	}

	price, err := decimal.NewFromString(strings.Trim(string(tuple[1]), `"`))
	if err != nil {
		return domain.PricePoint{}, fmt.Errorf("price entry price: %w", err)
	}

	var vol flexString
	if err := json.Unmarshal(tuple[2], &vol); err != nil {
		return domain.PricePoint{}, fmt.Errorf("price entry volume: %w", err)
	}
	volume, err := strconv.ParseInt(strings.ReplaceAll(string(vol), ",", ""), 10, 64)
	if err != nil {
		return domain.PricePoint{}, fmt.Errorf("price entry volume: %w", err)
	}

	return domain.PricePoint{At: at, Price: price.Round(2), Volume: volume}, nil
}

// parsePriceHistoryTime parses "Mar 05 2024 01: +0" as UTC.
func parsePriceHistoryTime(s string) (time.Time, error) {
	stamp, offset, found := strings.Cut(s, ":")
	if !found {
		return time.Time{}, fmt.Errorf("price entry time %q: missing offset", s)
	}
	t, err := time.Parse(priceHistoryLayout, strings.TrimSpace(stamp))
	if err != nil {
		return time.Time{}, fmt.Errorf("price entry time %q: %w", s, err)
	}
	hours, err := strconv.Atoi(strings.TrimSpace(offset))
	if err != nil {
		return time.Time{}, fmt.Errorf("price entry time %q: offset: %w", s, err)
	}
	return t.Add(-time.Duration(hours) * time.Hour).UTC(), nil
}

// parseMoney reads a formatted amount such as "$1,234.56" or "1,23€". An
// empty string is a missing value.
func parseMoney(s string) (decimal.NullDecimal, error) {
	var digits strings.Builder
	for _, r := range s {
		if (r >= '0' && r <= '9') || r == '.' || r == ',' {
			digits.WriteRune(r)
		}
	}
	clean := strings.Trim(digits.String(), ".,")
	if clean == "" {
		return decimal.NullDecimal{}, nil
	}

	// The last separator is the decimal point when two digits follow it.
	if i := strings.LastIndexAny(clean, ".,"); i >= 0 && len(clean)-i-1 == 2 {
		clean = strings.NewReplacer(".", "", ",", "").Replace(clean[:i]) + "." + clean[i+1:]
	} else {
		clean = strings.NewReplacer(".", "", ",", "").Replace(clean)
	}

	d, err := decimal.NewFromString(clean)
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("money %q: %w", s, err)
	}
	return decimal.NewNullDecimal(d), nil
}

// parseCount reads "1,234" style integers. An empty string is missing.
func parseCount(s string) (*int64, error) {
	clean := strings.NewReplacer(",", "", ".", "", " ", "").Replace(strings.TrimSpace(s))
	if clean == "" {
		return nil, nil
	}
	n, err := strconv.ParseInt(clean, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("count %q: %w", s, err)
	}
	return &n, nil
}

// toCents converts a price to integer minor units, rounding half-up.
func toCents(d decimal.Decimal) int64 {
	return d.Shift(2).Round(0).IntPart()
}
