//-------------------------------------------------------------------------
//
// Bazaar ETL
//
// Copyright (c) 2025 - 2026, Sialkot Labs
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package aggregate

import (
	"fmt"
	"reflect"
	"testing"

	"github.com/sialkot-labs/bazaar-etl/internal/scd"
	"github.com/sialkot-labs/bazaar-etl/internal/warehouse"
)

func TestNtileScores(t *testing.T) {
	tests := []struct {
		n    int
		want []int
	}{
		{1, []int{5}},
		{2, []int{5, 4}},
		{3, []int{5, 4, 3}},
		{5, []int{5, 4, 3, 2, 1}},
		{7, []int{5, 5, 4, 4, 3, 2, 1}},
		{10, []int{5, 5, 4, 4, 3, 3, 2, 2, 1, 1}},
		{12, []int{5, 5, 5, 4, 4, 4, 3, 3, 2, 2, 1, 1}},
	}

	for _, tt := range tests {
		got := ntileScores(tt.n)
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("ntileScores(%d): expected %v, got %v", tt.n, tt.want, got)
		}
	}
}

func TestSegmentFor(t *testing.T) {
	tests := []struct {
		recency   int
		frequency int
		want      string
	}{
		{5, 5, "Champions"},
		{4, 4, "Champions"},
		{4, 3, "Loyal Customers"},
		{3, 3, "Loyal Customers"},
		{3, 1, "Potential Loyalists"},
		{5, 2, "Potential Loyalists"},
		{2, 5, "At Risk"},
		{1, 3, "At Risk"},
		{2, 2, "Hibernating"},
		{2, 1, "Hibernating"},
		{1, 2, "Lost"},
		{1, 1, "Lost"},
	}

	for _, tt := range tests {
		got := segmentFor(tt.recency, tt.frequency)
		if got != tt.want {
			t.Errorf("segmentFor(%d, %d): expected %q, got %q", tt.recency, tt.frequency, got, tt.want)
		}
	}
}

func TestBuildCustomerBehaviorAggregatesAcrossVersions(t *testing.T) {
	versions := []*scd.Version{
		customerVersion("C-1", 1, false),
		customerVersion("C-1", 2, true),
	}
	facts := []warehouse.FactRow{
		fact("O-1:1", "O-1", monthDate(2024, 1, 5), 1, 1, 100),
		fact("O-1:2", "O-1", monthDate(2024, 1, 5), 1, 1, 40),
		fact("O-2:1", "O-2", monthDate(2024, 2, 10), 2, 1, 60),
	}

	rows := BuildCustomerBehavior(versions, facts)
	if len(rows) != 1 {
		t.Fatalf("Expected 1 customer row, got %d", len(rows))
	}

	row := rows[0]
	if row.CustomerID != "C-1" {
		t.Errorf("Expected customer C-1, got %s", row.CustomerID)
	}
	if row.CustomerKey != 2 {
		t.Errorf("Row should carry the current version key 2, got %d", row.CustomerKey)
	}
	if row.TotalOrders != 2 {
		t.Errorf("Expected 2 distinct orders, got %d", row.TotalOrders)
	}
	if row.TotalSpent != 200 {
		t.Errorf("Expected 200 spent, got %f", row.TotalSpent)
	}
	if !row.LastOrderDate.Equal(monthDate(2024, 2, 10)) {
		t.Errorf("Expected last order 2024-02-10, got %s", row.LastOrderDate)
	}
}

func TestBuildCustomerBehaviorSkipsCustomersWithoutSales(t *testing.T) {
	versions := []*scd.Version{
		customerVersion("C-1", 1, true),
		customerVersion("C-2", 2, true),
	}
	facts := []warehouse.FactRow{
		fact("O-1:1", "O-1", monthDate(2024, 1, 5), 1, 1, 100),
		// Surrogate 99 has no version at all.
		fact("O-9:1", "O-9", monthDate(2024, 1, 6), 99, 1, 100),
	}

	rows := BuildCustomerBehavior(versions, facts)
	if len(rows) != 1 {
		t.Fatalf("Expected 1 row, got %d", len(rows))
	}
	if rows[0].CustomerID != "C-1" {
		t.Errorf("Expected only C-1 scored, got %s", rows[0].CustomerID)
	}
}

func TestBuildCustomerBehaviorScoring(t *testing.T) {
	names := []string{"C-A", "C-B", "C-C", "C-D", "C-E"}
	var versions []*scd.Version
	var facts []warehouse.FactRow

	// Customer i has i+1 orders of 100 each, with the last order
	// progressively older down the list.
	for i, name := range names {
		surrogate := int64(i + 1)
		versions = append(versions, customerVersion(name, surrogate, true))
		orderCount := 5 - i
		lastDay := 20 - 4*i
		for o := 0; o < orderCount; o++ {
			orderID := fmt.Sprintf("%s-%d", name, o)
			facts = append(facts, fact(orderID+":1", orderID, monthDate(2024, 1, lastDay), surrogate, 1, 100))
		}
	}

	rows := BuildCustomerBehavior(versions, facts)
	if len(rows) != 5 {
		t.Fatalf("Expected 5 rows, got %d", len(rows))
	}

	expected := map[string]struct {
		r, f, m int
		segment string
	}{
		"C-A": {5, 5, 5, "Champions"},
		"C-B": {4, 4, 4, "Champions"},
		"C-C": {3, 3, 3, "Loyal Customers"},
		"C-D": {2, 2, 2, "Hibernating"},
		"C-E": {1, 1, 1, "Lost"},
	}
	for _, row := range rows {
		want := expected[row.CustomerID]
		if row.RecencyScore != want.r || row.FrequencyScore != want.f || row.MonetaryScore != want.m {
			t.Errorf("%s scores: expected %d/%d/%d, got %d/%d/%d", row.CustomerID,
				want.r, want.f, want.m, row.RecencyScore, row.FrequencyScore, row.MonetaryScore)
		}
		if row.Segment != want.segment {
			t.Errorf("%s segment: expected %q, got %q", row.CustomerID, want.segment, row.Segment)
		}
	}
}

func TestBuildCustomerBehaviorTieBreakByNaturalKey(t *testing.T) {
	versions := []*scd.Version{
		customerVersion("C-A", 1, true),
		customerVersion("C-B", 2, true),
	}
	sameDay := monthDate(2024, 1, 10)
	facts := []warehouse.FactRow{
		fact("O-1:1", "O-1", sameDay, 1, 1, 100),
		fact("O-2:1", "O-2", sameDay, 2, 1, 100),
	}

	rows := BuildCustomerBehavior(versions, facts)
	if len(rows) != 2 {
		t.Fatalf("Expected 2 rows, got %d", len(rows))
	}

	byID := make(map[string]warehouse.CustomerBehavior)
	for _, row := range rows {
		byID[row.CustomerID] = row
	}

	// Identical metrics: the earlier natural key takes the earlier,
	// higher-scoring position.
	a, b := byID["C-A"], byID["C-B"]
	if a.RecencyScore != 5 || a.FrequencyScore != 5 || a.MonetaryScore != 5 {
		t.Errorf("C-A should win every tie: got %d/%d/%d", a.RecencyScore, a.FrequencyScore, a.MonetaryScore)
	}
	if b.RecencyScore != 4 || b.FrequencyScore != 4 || b.MonetaryScore != 4 {
		t.Errorf("C-B should take the second position: got %d/%d/%d", b.RecencyScore, b.FrequencyScore, b.MonetaryScore)
	}
}

func TestBuildCustomerBehaviorDeterministic(t *testing.T) {
	versions := []*scd.Version{
		customerVersion("C-1", 1, true),
		customerVersion("C-2", 2, true),
		customerVersion("C-3", 3, true),
	}
	var facts []warehouse.FactRow
	for i := int64(1); i <= 3; i++ {
		orderID := fmt.Sprintf("O-%d", i)
		facts = append(facts, fact(orderID+":1", orderID, monthDate(2024, 1, int(i)), i, 1, float64(100*i)))
	}

	first := BuildCustomerBehavior(versions, facts)
	second := BuildCustomerBehavior(versions, facts)
	if !reflect.DeepEqual(first, second) {
		t.Error("Scoring must be deterministic across runs")
	}
}
