package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PositionStatus is the lifecycle state of a position. Transitions only move
// forward: OPEN -> BOUGHT -> LISTED -> CLOSED.
type PositionStatus string

const (
	PositionOpen   PositionStatus = "OPEN"
	PositionBought PositionStatus = "BOUGHT"
	PositionListed PositionStatus = "LISTED"
	PositionClosed PositionStatus = "CLOSED"
)

// Valid reports whether s is one of the known states.
func (s PositionStatus) Valid() bool {
	switch s {
	case PositionOpen, PositionBought, PositionListed, PositionClosed:
		return true
	}
	return false
}

// Active reports whether a position in this state still occupies a listing
// slot of its item.
func (s PositionStatus) Active() bool {
	return s == PositionOpen || s == PositionBought || s == PositionListed
}

// Position is one purchase-to-sale cycle for a unit of a TrackedItem.
type Position struct {
	ID             string          `json:"id"`
	MarketHashName string          `json:"market_hash_name"`
	BuyOrderID     string          `json:"buy_order_id"`
	BuyPrice       decimal.Decimal `json:"buy_price"`
	SellPrice      decimal.Decimal `json:"sell_price"`
	Quantity       int             `json:"quantity"`
	AssetID        *string         `json:"asset_id,omitempty"`
	SellOrderID    *string         `json:"sell_order_id,omitempty"`
	Status         PositionStatus  `json:"status"`
	BoughtAt       *time.Time      `json:"bought_at,omitempty"`
	ListedAt       *time.Time      `json:"listed_at,omitempty"`
	SoldAt         *time.Time      `json:"sold_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

func (p *Position) transition(from, to PositionStatus) error {
	if p.Status != from {
		return fmt.Errorf("%w: position %s is %s, want %s for %s", ErrInvalidTransition, p.ID, p.Status, from, to)
	}
	p.Status = to
	return nil
}

// MarkBought records the venue asset the filled buy order produced.
func (p *Position) MarkBought(assetID string, at time.Time) error {
	if assetID == "" {
		return fmt.Errorf("%w: asset id required to mark position %s bought", ErrInvalidTransition, p.ID)
	}
	if err := p.transition(PositionOpen, PositionBought); err != nil {
		return err
	}
	p.AssetID = &assetID
	p.BoughtAt = &at
	return nil
}

// MarkListed records the sell order placed for the held asset.
func (p *Position) MarkListed(sellOrderID string, at time.Time) error {
	if sellOrderID == "" {
		return fmt.Errorf("%w: sell order id required to list position %s", ErrInvalidTransition, p.ID)
	}
	if err := p.transition(PositionBought, PositionListed); err != nil {
		return err
	}
	p.SellOrderID = &sellOrderID
	p.ListedAt = &at
	return nil
}

// Close finalises a listed position. CLOSED is terminal.
func (p *Position) Close(soldAt time.Time) error {
	if err := p.transition(PositionListed, PositionClosed); err != nil {
		return err
	}
	p.SoldAt = &soldAt
	return nil
}

// PositionFilter narrows position listings. Zero values match everything.
type PositionFilter struct {
	Status         PositionStatus
	MarketHashName string
	Limit          int
	Offset         int
}
