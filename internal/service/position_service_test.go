package service

import (
	"context"
	"testing"
	"time"

	"github.com/alanyoungcy/smtbot/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPositionService() (*PositionService, *memPositions, *recordingEvents, *memAudit) {
	store := newMemPositions()
	events := &recordingEvents{}
	audit := &memAudit{}
	return NewPositionService(store, events, audit, discardLogger()), store, events, audit
}

func TestPositionService_Lifecycle(t *testing.T) {
	ctx := context.Background()
	svc, _, events, audit := newPositionService()

	pos, err := svc.Open(ctx, OpenPositionParams{
		MarketHashName: "Case Key",
		BuyOrderID:     "buy-1",
		BuyPrice:       decimal.RequireFromString("2.10"),
		SellPrice:      decimal.RequireFromString("2.60"),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.PositionOpen, pos.Status)
	assert.Equal(t, 1, pos.Quantity)
	assert.NotEmpty(t, pos.ID)

	pos, err = svc.MarkBought(ctx, pos.ID, "asset-9")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionBought, pos.Status)

	pos, err = svc.MarkListed(ctx, pos.ID, "sell-3")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionListed, pos.Status)

	soldAt := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	pos, err = svc.Close(ctx, pos.ID, &soldAt)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionClosed, pos.Status)
	assert.Equal(t, soldAt, *pos.SoldAt)

	assert.Equal(t, []domain.EventKind{
		domain.EventPositionOpened,
		domain.EventPositionBought,
		domain.EventPositionListed,
		domain.EventPositionClosed,
	}, events.kinds())
	assert.Len(t, audit.entries, 4)
}

func TestPositionService_InvalidTransitions(t *testing.T) {
	ctx := context.Background()
	svc, store, _, _ := newPositionService()

	pos, err := svc.Open(ctx, OpenPositionParams{MarketHashName: "Case Key", BuyOrderID: "b"})
	require.NoError(t, err)

	_, err = svc.Close(ctx, pos.ID, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = svc.MarkListed(ctx, pos.ID, "sell")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	stored, err := store.Get(ctx, pos.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionOpen, stored.Status)
}

func TestPositionService_CloseDefaultsToNow(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _ := newPositionService()
	fixed := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	pos, err := svc.Open(ctx, OpenPositionParams{MarketHashName: "Case Key", BuyOrderID: "b"})
	require.NoError(t, err)
	_, err = svc.MarkBought(ctx, pos.ID, "a")
	require.NoError(t, err)
	_, err = svc.MarkListed(ctx, pos.ID, "s")
	require.NoError(t, err)

	pos, err = svc.Close(ctx, pos.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, fixed, *pos.SoldAt)
}

func TestPositionService_DeleteAnyState(t *testing.T) {
	ctx := context.Background()
	svc, _, events, _ := newPositionService()

	pos, err := svc.Open(ctx, OpenPositionParams{MarketHashName: "Case Key", BuyOrderID: "b"})
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, pos.ID))

	_, err = svc.Get(ctx, pos.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, svc.Delete(ctx, pos.ID), domain.ErrNotFound)
	assert.Contains(t, events.kinds(), domain.EventPositionDeleted)
}

func TestPositionService_UnknownPosition(t *testing.T) {
	svc, _, _, _ := newPositionService()
	_, err := svc.MarkBought(context.Background(), "missing", "a")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
