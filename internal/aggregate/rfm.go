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
	"sort"
	"time"

	"github.com/sialkot-labs/bazaar-etl/internal/scd"
	"github.com/sialkot-labs/bazaar-etl/internal/warehouse"
)

// BuildCustomerBehavior scores every customer with at least one sale.
// Orders are attributed to the customer across all of its versions and
// reported against the current version's surrogate key.
func BuildCustomerBehavior(customerVersions []*scd.Version, facts []warehouse.FactRow) []warehouse.CustomerBehavior {
	naturalKeys := naturalKeysBySurrogate(customerVersions)
	currentByNatural := make(map[string]*scd.Version)
	for _, v := range customerVersions {
		if v.IsCurrent {
			currentByNatural[v.NaturalKey] = v
		}
	}

	type customerAgg struct {
		orders map[string]struct{}
		spent  float64
		last   time.Time
	}
	byCustomer := make(map[string]*customerAgg)

	for _, f := range facts {
		natural := naturalKeys[f.CustomerKey]
		if natural == "" {
			continue
		}
		agg := byCustomer[natural]
		if agg == nil {
			agg = &customerAgg{orders: make(map[string]struct{})}
			byCustomer[natural] = agg
		}
		agg.orders[f.OrderID] = struct{}{}
		agg.spent += f.LineAmount
		if f.BusinessDate.After(agg.last) {
			agg.last = f.BusinessDate
		}
	}

	rows := make([]warehouse.CustomerBehavior, 0, len(byCustomer))
	for natural, agg := range byCustomer {
		current := currentByNatural[natural]
		if current == nil {
			continue
		}
		rows = append(rows, warehouse.CustomerBehavior{
			CustomerKey:   current.SurrogateKey,
			CustomerID:    natural,
			TotalOrders:   int64(len(agg.orders)),
			TotalSpent:    round2(agg.spent),
			LastOrderDate: agg.last,
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].CustomerID < rows[j].CustomerID })

	scoreQuintiles(rows)
	for i := range rows {
		rows[i].Segment = segmentFor(rows[i].RecencyScore, rows[i].FrequencyScore)
	}
	return rows
}

// scoreQuintiles assigns the three NTILE(5) scores. Each metric ranks
// descending so the best quintile scores 5; ties at a boundary keep
// natural-key order.
func scoreQuintiles(rows []warehouse.CustomerBehavior) {
	n := len(rows)
	if n == 0 {
		return
	}
	scores := ntileScores(n)
	order := make([]int, n)
	resetOrder := func() {
		for i := range order {
			order[i] = i
		}
	}

	// Recency: most recent last order first.
	resetOrder()
	sort.Slice(order, func(a, b int) bool {
		ra, rb := rows[order[a]], rows[order[b]]
		if !ra.LastOrderDate.Equal(rb.LastOrderDate) {
			return ra.LastOrderDate.After(rb.LastOrderDate)
		}
		return ra.CustomerID < rb.CustomerID
	})
	for pos, i := range order {
		rows[i].RecencyScore = scores[pos]
	}

	// Frequency: most orders first.
	resetOrder()
	sort.Slice(order, func(a, b int) bool {
		ra, rb := rows[order[a]], rows[order[b]]
		if ra.TotalOrders != rb.TotalOrders {
			return ra.TotalOrders > rb.TotalOrders
		}
		return ra.CustomerID < rb.CustomerID
	})
	for pos, i := range order {
		rows[i].FrequencyScore = scores[pos]
	}

	// Monetary: highest spend first.
	resetOrder()
	sort.Slice(order, func(a, b int) bool {
		ra, rb := rows[order[a]], rows[order[b]]
		if ra.TotalSpent != rb.TotalSpent {
			return ra.TotalSpent > rb.TotalSpent
		}
		return ra.CustomerID < rb.CustomerID
	})
	for pos, i := range order {
		rows[i].MonetaryScore = scores[pos]
	}
}

// ntileScores maps each position of a descending-ranked list to its
// quintile score, 5 for the first bucket down to 1 for the last.
// Earlier buckets take the extra members when the count does not
// divide evenly.
func ntileScores(n int) []int {
	scores := make([]int, n)
	base := n / 5
	extra := n % 5
	pos := 0
	for bucket := 0; bucket < 5; bucket++ {
		size := base
		if bucket < extra {
			size++
		}
		for i := 0; i < size && pos < n; i++ {
			scores[pos] = 5 - bucket
			pos++
		}
	}
	return scores
}

// segmentFor names the customer's RFM cell. The ladder is evaluated
// top down.
func segmentFor(recency, frequency int) string {
	switch {
	case recency >= 4 && frequency >= 4:
		return "Champions"
	case recency >= 3 && frequency >= 3:
		return "Loyal Customers"
	case recency >= 3:
		return "Potential Loyalists"
	case frequency >= 3:
		return "At Risk"
	case recency >= 2:
		return "Hibernating"
	default:
		return "Lost"
	}
}
