//-------------------------------------------------------------------------
//
// Bazaar ETL
//
// Copyright (c) 2025 - 2026, Sialkot Labs
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package facts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/sialkot-labs/bazaar-etl/internal/scd"
	"github.com/sialkot-labs/bazaar-etl/internal/source"
	"github.com/sialkot-labs/bazaar-etl/internal/warehouse"
	"github.com/sialkot-labs/bazaar-etl/internal/warehouse/memory"
)

type sliceEvents struct {
	events []source.SaleEvent
	idx    int
	err    error
	closed bool
}

func (s *sliceEvents) Next() bool {
	if s.idx >= len(s.events) {
		return false
	}
	s.idx++
	return true
}

func (s *sliceEvents) Event() source.SaleEvent { return s.events[s.idx-1] }
func (s *sliceEvents) Err() error              { return s.err }
func (s *sliceEvents) Close()                  { s.closed = true }

func day(d int) time.Time {
	return time.Date(2024, 3, d, 0, 0, 0, 0, time.UTC)
}

func seedDim(t *testing.T, store *memory.Store, entity scd.EntityType, key string, from time.Time) *scd.Version {
	t.Helper()
	v := &scd.Version{
		Entity:        entity,
		NaturalKey:    key,
		Attributes:    map[string]string{"seeded": "true"},
		EffectiveFrom: from,
		IsCurrent:     true,
		VersionNumber: 1,
	}
	if err := store.InsertVersion(context.Background(), v); err != nil {
		t.Fatalf("Failed to seed %s %s: %v", entity, key, err)
	}
	return v
}

// seedAllDims seeds one version of every dimension an event references.
func seedAllDims(t *testing.T, store *memory.Store, from time.Time) {
	t.Helper()
	seedDim(t, store, scd.EntityCustomer, "C-1", from)
	seedDim(t, store, scd.EntityProduct, "P-1", from)
	seedDim(t, store, scd.EntityStore, "ST-1", from)
	seedDim(t, store, scd.EntityEmployee, "E-1", from)
}

func saleEvent(eventID string, businessDate time.Time) source.SaleEvent {
	return source.SaleEvent{
		EventID:      eventID,
		OrderID:      strings.SplitN(eventID, ":", 2)[0],
		BusinessDate: businessDate,
		ObservedAt:   businessDate.Add(10 * time.Hour),
		CustomerID:   "C-1",
		ProductID:    "P-1",
		StoreCode:    "ST-1",
		EmployeeID:   "E-1",
		Quantity:     2,
		UnitPrice:    100,
		DiscountPct:  0,
		LineAmount:   200,
	}
}

func TestLoadResolvesVersionAtBusinessDate(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	seedAllDims(t, store, day(1))

	// Re-version the customer on day 10.
	prior, err := store.CurrentVersion(ctx, scd.EntityCustomer, "C-1")
	if err != nil {
		t.Fatalf("CurrentVersion failed: %v", err)
	}
	next := &scd.Version{
		Entity:        scd.EntityCustomer,
		NaturalKey:    "C-1",
		Attributes:    map[string]string{"seeded": "true", "customer_segment": "Premium"},
		EffectiveFrom: day(10),
		IsCurrent:     true,
		VersionNumber: 2,
	}
	if err := store.Transition(ctx, prior, next); err != nil {
		t.Fatalf("Transition failed: %v", err)
	}

	loader := NewLoader(store, 0)
	res, err := loader.Load(ctx, &sliceEvents{events: []source.SaleEvent{
		saleEvent("O-1:1", day(5)),
		saleEvent("O-2:1", day(15)),
	}})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if res.Loaded != 2 {
		t.Fatalf("Expected 2 loaded, got %d", res.Loaded)
	}

	facts, err := store.Facts(ctx)
	if err != nil {
		t.Fatalf("Facts failed: %v", err)
	}
	byEvent := make(map[string]warehouse.FactRow, len(facts))
	for _, row := range facts {
		byEvent[row.EventID] = row
	}

	if byEvent["O-1:1"].CustomerKey != prior.SurrogateKey {
		t.Errorf("Day 5 event should resolve to version 1 key %d, got %d",
			prior.SurrogateKey, byEvent["O-1:1"].CustomerKey)
	}
	if byEvent["O-2:1"].CustomerKey != next.SurrogateKey {
		t.Errorf("Day 15 event should resolve to version 2 key %d, got %d",
			next.SurrogateKey, byEvent["O-2:1"].CustomerKey)
	}
	if byEvent["O-1:1"].DateKey != 20240305 {
		t.Errorf("Expected date key 20240305, got %d", byEvent["O-1:1"].DateKey)
	}
}

func TestLoadResolvesPredatedEventToEarliestVersion(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	seedAllDims(t, store, day(10))

	loader := NewLoader(store, 0)
	res, err := loader.Load(ctx, &sliceEvents{events: []source.SaleEvent{
		saleEvent("O-1:1", day(2)),
	}})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if res.Loaded != 1 || len(res.Quarantined) != 0 {
		t.Fatalf("Pre-dated event should load against the earliest version, got %+v", res)
	}
}

func TestLoadQuarantinesUnknownKey(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	seedAllDims(t, store, day(1))

	bad := saleEvent("O-9:1", day(5))
	bad.ProductID = "P-MISSING"

	loader := NewLoader(store, 0)
	res, err := loader.Load(ctx, &sliceEvents{events: []source.SaleEvent{
		saleEvent("O-1:1", day(5)),
		bad,
		saleEvent("O-2:1", day(6)),
	}})
	if err != nil {
		t.Fatalf("Load should continue past a quarantined event: %v", err)
	}

	if res.Loaded != 2 {
		t.Errorf("Expected 2 loaded, got %d", res.Loaded)
	}
	if len(res.Quarantined) != 1 {
		t.Fatalf("Expected 1 quarantined event, got %d", len(res.Quarantined))
	}
	q := res.Quarantined[0]
	if q.Event.EventID != "O-9:1" {
		t.Errorf("Wrong event quarantined: %s", q.Event.EventID)
	}
	if !strings.Contains(q.Reason, "product") || !strings.Contains(q.Reason, "P-MISSING") {
		t.Errorf("Reason should name the unresolvable reference, got %q", q.Reason)
	}

	facts, _ := store.Facts(ctx)
	for _, row := range facts {
		if row.EventID == "O-9:1" {
			t.Error("Quarantined event must not reach the fact table")
		}
	}
}

func TestLoadReplaySkipsLoadedEvents(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	seedAllDims(t, store, day(1))

	events := []source.SaleEvent{
		saleEvent("O-1:1", day(5)),
		saleEvent("O-1:2", day(5)),
		saleEvent("O-2:1", day(6)),
	}

	loader := NewLoader(store, 0)
	first, err := loader.Load(ctx, &sliceEvents{events: events})
	if err != nil {
		t.Fatalf("First load failed: %v", err)
	}
	if first.Loaded != 3 || first.Replayed != 0 {
		t.Fatalf("First load: expected 3 loaded, got %+v", first)
	}

	second, err := loader.Load(ctx, &sliceEvents{events: events})
	if err != nil {
		t.Fatalf("Second load failed: %v", err)
	}
	if second.Loaded != 0 || second.Replayed != 3 {
		t.Errorf("Replay: expected 0 loaded and 3 replayed, got %+v", second)
	}

	facts, _ := store.Facts(ctx)
	if len(facts) != 3 {
		t.Errorf("Expected 3 fact rows after replay, got %d", len(facts))
	}
}

func TestLoadExtendsCalendar(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	seedAllDims(t, store, day(1))

	loader := NewLoader(store, 0)
	_, err := loader.Load(ctx, &sliceEvents{events: []source.SaleEvent{
		saleEvent("O-1:1", day(3)),
		saleEvent("O-2:1", day(7)),
	}})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	dates := store.Dates()
	if len(dates) != 5 {
		t.Fatalf("Expected calendar rows for days 3 through 7, got %d rows", len(dates))
	}
	if dates[0].DateKey != 20240303 || dates[len(dates)-1].DateKey != 20240307 {
		t.Errorf("Calendar range wrong: %d .. %d", dates[0].DateKey, dates[len(dates)-1].DateKey)
	}
}

func TestLoadTracksMaxObservedAcrossQuarantine(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	seedAllDims(t, store, day(1))

	late := saleEvent("O-9:1", day(20))
	late.CustomerID = "C-MISSING"

	loader := NewLoader(store, 0)
	res, err := loader.Load(ctx, &sliceEvents{events: []source.SaleEvent{
		saleEvent("O-1:1", day(5)),
		late,
	}})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if !res.MaxObserved.Equal(late.ObservedAt) {
		t.Errorf("MaxObserved should cover quarantined events: expected %s, got %s",
			late.ObservedAt, res.MaxObserved)
	}
}

func TestLoadFlushesSmallBatches(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	seedAllDims(t, store, day(1))

	events := make([]source.SaleEvent, 0, 5)
	for i := 1; i <= 5; i++ {
		events = append(events, saleEvent(fmt.Sprintf("O-1:%d", i), day(5)))
	}

	loader := NewLoader(store, 2)
	res, err := loader.Load(ctx, &sliceEvents{events: events})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if res.Loaded != 5 {
		t.Errorf("Expected 5 loaded across batches, got %d", res.Loaded)
	}
}

func TestLoadEmptyStream(t *testing.T) {
	store := memory.New()

	loader := NewLoader(store, 0)
	res, err := loader.Load(context.Background(), &sliceEvents{})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if res.Scanned != 0 || res.Loaded != 0 {
		t.Errorf("Expected empty result, got %+v", res)
	}
	if len(store.Dates()) != 0 {
		t.Error("Empty load should not touch the calendar dimension")
	}
}

func TestLoadPropagatesStreamError(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	seedAllDims(t, store, day(1))

	streamErr := errors.New("connection reset")
	loader := NewLoader(store, 0)
	_, err := loader.Load(ctx, &sliceEvents{
		events: []source.SaleEvent{saleEvent("O-1:1", day(5))},
		err:    streamErr,
	})
	if err == nil {
		t.Fatal("Expected stream error to propagate")
	}
	if !errors.Is(err, streamErr) {
		t.Errorf("Expected wrapped stream error, got %v", err)
	}
}
