package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/smtbot/internal/domain"
	"github.com/shopspring/decimal"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- stores ---

type memItems struct {
	mu    sync.Mutex
	items map[string]domain.TrackedItem
}

func newMemItems(items ...domain.TrackedItem) *memItems {
	m := &memItems{items: make(map[string]domain.TrackedItem)}
	for _, it := range items {
		m.items[it.MarketHashName] = it
	}
	return m
}

func (m *memItems) Create(_ context.Context, item domain.TrackedItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[item.MarketHashName]; ok {
		return domain.ErrAlreadyExists
	}
	m.items[item.MarketHashName] = item
	return nil
}

func (m *memItems) Get(_ context.Context, name string) (domain.TrackedItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[name]
	if !ok {
		return domain.TrackedItem{}, domain.ErrNotFound
	}
	return it, nil
}

func (m *memItems) GetMany(_ context.Context, names []string) ([]domain.TrackedItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.TrackedItem
	for _, n := range names {
		if it, ok := m.items[n]; ok {
			out = append(out, it)
		}
	}
	return out, nil
}

func (m *memItems) List(_ context.Context) ([]domain.TrackedItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.TrackedItem, 0, len(m.items))
	for _, it := range m.items {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MarketHashName < out[j].MarketHashName })
	return out, nil
}

func (m *memItems) ListNames(ctx context.Context) ([]string, error) {
	items, _ := m.List(ctx)
	names := make([]string, len(items))
	for i, it := range items {
		names[i] = it.MarketHashName
	}
	return names, nil
}

func (m *memItems) Update(_ context.Context, name string, upd domain.TrackedItemUpdate) (domain.TrackedItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[name]
	if !ok {
		return domain.TrackedItem{}, domain.ErrNotFound
	}
	it = upd.Apply(it)
	m.items[name] = it
	return it, nil
}

func (m *memItems) UpdateSnapshot(_ context.Context, name string, snap domain.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[name]
	if !ok {
		return domain.ErrNotFound
	}
	it.CurrentLowestPrice = snap.LowestPrice
	it.CurrentMedianPrice = snap.MedianPrice
	it.CurrentVolume24h = snap.Volume24h
	m.items[name] = it
	return nil
}

func (m *memItems) UpdateIndicators(_ context.Context, name string, ind domain.Indicators) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[name]
	if !ok {
		return domain.ErrNotFound
	}
	it.OptimalBuyPrice = decimal.NewNullDecimal(ind.OptimalBuyPrice)
	it.OptimalSellPrice = decimal.NewNullDecimal(ind.OptimalSellPrice)
	it.Volatility = decimal.NewNullDecimal(ind.Volatility)
	it.PotentialProfit = decimal.NewNullDecimal(ind.PotentialProfit)
	it.ShouldTrade = ind.ShouldTrade
	m.items[name] = it
	return nil
}

func (m *memItems) Delete(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[name]; !ok {
		return domain.ErrNotFound
	}
	delete(m.items, name)
	return nil
}

type memHistory struct {
	mu      sync.Mutex
	records map[string][]domain.PriceHistoryRecord
}

func newMemHistory() *memHistory {
	return &memHistory{records: make(map[string][]domain.PriceHistoryRecord)}
}

func (m *memHistory) InsertBatch(_ context.Context, records []domain.PriceHistoryRecord) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
outer:
	for _, r := range records {
		for _, existing := range m.records[r.MarketHashName] {
			if existing.RecordedAt.Equal(r.RecordedAt) {
				continue outer
			}
		}
		m.records[r.MarketHashName] = append(m.records[r.MarketHashName], r)
		n++
	}
	for name := range m.records {
		rs := m.records[name]
		sort.Slice(rs, func(i, j int) bool { return rs[i].RecordedAt.Before(rs[j].RecordedAt) })
	}
	return n, nil
}

func (m *memHistory) ListSince(_ context.Context, name string, since time.Time) ([]domain.PriceHistoryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.PriceHistoryRecord
	for _, r := range m.records[name] {
		if !r.RecordedAt.Before(since) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memHistory) DeleteBefore(_ context.Context, name string, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var kept []domain.PriceHistoryRecord
	var n int64
	for _, r := range m.records[name] {
		if r.RecordedAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, r)
	}
	m.records[name] = kept
	return n, nil
}

func (m *memHistory) ListBefore(_ context.Context, before time.Time, opts domain.ListOpts) ([]domain.PriceHistoryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.PriceHistoryRecord
	for _, rs := range m.records {
		for _, r := range rs {
			if r.RecordedAt.Before(before) && (opts.Since == nil || !r.RecordedAt.Before(*opts.Since)) {
				out = append(out, r)
			}
		}
	}
	return out, nil
}

type memPositions struct {
	mu  sync.Mutex
	seq int
	all map[string]domain.Position
}

func newMemPositions(ps ...domain.Position) *memPositions {
	m := &memPositions{all: make(map[string]domain.Position)}
	for _, p := range ps {
		m.all[p.ID] = p
	}
	return m
}

func (m *memPositions) Create(_ context.Context, pos domain.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	pos.CreatedAt = pos.CreatedAt.Add(time.Duration(m.seq))
	m.all[pos.ID] = pos
	return nil
}

func (m *memPositions) Get(_ context.Context, id string) (domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.all[id]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return p, nil
}

func (m *memPositions) List(_ context.Context, f domain.PositionFilter) ([]domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Position
	for _, p := range m.all {
		if f.Status != "" && p.Status != f.Status {
			continue
		}
		if f.MarketHashName != "" && p.MarketHashName != f.MarketHashName {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memPositions) ListByStatus(ctx context.Context, st domain.PositionStatus) ([]domain.Position, error) {
	return m.List(ctx, domain.PositionFilter{Status: st})
}

func (m *memPositions) Transition(_ context.Context, pos domain.Position, from domain.PositionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.all[pos.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if cur.Status != from {
		return domain.ErrInvalidTransition
	}
	m.all[pos.ID] = pos
	return nil
}

func (m *memPositions) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.all[id]; !ok {
		return domain.ErrNotFound
	}
	delete(m.all, id)
	return nil
}

func (m *memPositions) ListClosedBefore(_ context.Context, before time.Time, opts domain.ListOpts) ([]domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Position
	for _, p := range m.all {
		if p.Status == domain.PositionClosed && p.SoldAt != nil && p.SoldAt.Before(before) &&
			(opts.Since == nil || !p.SoldAt.Before(*opts.Since)) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memPositions) byStatus(st domain.PositionStatus) []domain.Position {
	out, _ := m.ListByStatus(context.Background(), st)
	return out
}

type memSettings struct {
	mu      sync.Mutex
	current *domain.TradingSettings
	inserts int
}

func (m *memSettings) Get(_ context.Context) (domain.TradingSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return domain.TradingSettings{}, domain.ErrNotFound
	}
	return *m.current, nil
}

func (m *memSettings) InsertDefault(_ context.Context, s domain.TradingSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		m.inserts++
		m.current = &s
	}
	return nil
}

func (m *memSettings) Save(_ context.Context, s domain.TradingSettings) (domain.TradingSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = &s
	return s, nil
}

// staticSettings is a SettingsProvider returning a fixed value.
type staticSettings struct{ s domain.TradingSettings }

func (s staticSettings) Get(context.Context) (domain.TradingSettings, error) { return s.s, nil }

type memInventory struct {
	mu    sync.Mutex
	items map[string]domain.InventoryItem
}

func newMemInventory(items ...domain.InventoryItem) *memInventory {
	m := &memInventory{items: make(map[string]domain.InventoryItem)}
	for _, it := range items {
		m.items[it.AssetID] = it
	}
	return m
}

func (m *memInventory) Replace(_ context.Context, pair domain.VenuePair, items []domain.InventoryItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, it := range m.items {
		if it.VenuePair() == pair {
			delete(m.items, id)
		}
	}
	for _, it := range items {
		m.items[it.AssetID] = it
	}
	return nil
}

func (m *memInventory) List(_ context.Context, pair domain.VenuePair) ([]domain.InventoryItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.InventoryItem
	for _, it := range m.items {
		if it.VenuePair() == pair {
			out = append(out, it)
		}
	}
	return out, nil
}

func (m *memInventory) Get(_ context.Context, id string) (domain.InventoryItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[id]
	if !ok {
		return domain.InventoryItem{}, domain.ErrNotFound
	}
	return it, nil
}

func (m *memInventory) GetMany(_ context.Context, ids []string) ([]domain.InventoryItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.InventoryItem
	for _, id := range ids {
		if it, ok := m.items[id]; ok {
			out = append(out, it)
		}
	}
	return out, nil
}

type memAudit struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

func (m *memAudit) Log(_ context.Context, event string, detail map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, domain.AuditEntry{ID: int64(len(m.entries) + 1), Event: event, Detail: detail})
	return nil
}

func (m *memAudit) List(_ context.Context, prefix string, _ domain.ListOpts) ([]domain.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.AuditEntry
	for _, e := range m.entries {
		if strings.HasPrefix(e.Event, prefix) {
			out = append(out, e)
		}
	}
	return out, nil
}

type recordingEvents struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recordingEvents) Publish(_ context.Context, ev domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingEvents) kinds() []domain.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.EventKind, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Kind
	}
	return out
}

type recordingJobs struct {
	mu   sync.Mutex
	jobs []domain.Job
}

func (r *recordingJobs) Enqueue(_ context.Context, job domain.Job) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, job)
	return fmt.Sprintf("%d-0", len(r.jobs)), nil
}

// --- venue ---

type fakeVenue struct {
	mu          sync.Mutex
	inventory   map[domain.VenuePair]map[string]domain.InventoryItem
	listings    []domain.Listing
	history     map[string][]domain.PricePoint
	snapshots   map[string]domain.Snapshot
	buyOrders   []string
	sellOrders  map[string]string
	failBuy     map[string]error
	failHistory map[string]error
	invCalls    int
	seq         int
}

func newFakeVenue() *fakeVenue {
	return &fakeVenue{
		inventory:   make(map[domain.VenuePair]map[string]domain.InventoryItem),
		history:     make(map[string][]domain.PricePoint),
		snapshots:   make(map[string]domain.Snapshot),
		sellOrders:  make(map[string]string),
		failBuy:     make(map[string]error),
		failHistory: make(map[string]error),
	}
}

func (v *fakeVenue) hold(pair domain.VenuePair, assetID, name string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.inventory[pair] == nil {
		v.inventory[pair] = make(map[string]domain.InventoryItem)
	}
	v.inventory[pair][assetID] = domain.InventoryItem{
		AssetID: assetID, AppID: pair.AppID, ContextID: pair.ContextID,
		Name: name, MarketHashName: name, Amount: 1, Marketable: true, Tradable: true,
	}
}

func (v *fakeVenue) Inventory(_ context.Context, pair domain.VenuePair) (map[string]domain.InventoryItem, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.invCalls++
	out := make(map[string]domain.InventoryItem)
	for k, it := range v.inventory[pair] {
		out[k] = it
	}
	return out, nil
}

func (v *fakeVenue) PriceHistory(_ context.Context, name string, _ domain.VenuePair, _ int) ([]domain.PricePoint, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.failHistory[name]; err != nil {
		return nil, err
	}
	return v.history[name], nil
}

func (v *fakeVenue) CurrentPrice(_ context.Context, name string, _ domain.VenuePair) (domain.Snapshot, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.snapshots[name], nil
}

func (v *fakeVenue) ActiveListings(_ context.Context) ([]domain.Listing, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]domain.Listing(nil), v.listings...), nil
}

func (v *fakeVenue) CreateBuyOrder(_ context.Context, name string, _ decimal.Decimal, _ domain.VenuePair, _ int) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.failBuy[name]; err != nil {
		return "", err
	}
	v.seq++
	id := fmt.Sprintf("buy-%d", v.seq)
	v.buyOrders = append(v.buyOrders, name)
	return id, nil
}

func (v *fakeVenue) CreateSellOrder(_ context.Context, assetID string, _ domain.VenuePair, _ decimal.Decimal) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.seq++
	id := fmt.Sprintf("sell-%d", v.seq)
	v.sellOrders[assetID] = id
	return id, nil
}

var _ domain.Venue = (*fakeVenue)(nil)
