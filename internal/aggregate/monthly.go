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
	"math"
	"sort"
	"strconv"

	"github.com/sialkot-labs/bazaar-etl/internal/scd"
	"github.com/sialkot-labs/bazaar-etl/internal/warehouse"
)

// BuildMonthlySales rolls fact rows up to (year, month) grain. The
// moving average trails over the configured number of months actually
// present, gaps excluded. Distinct customers are counted by natural
// key, so a customer re-versioned mid-month counts once.
func BuildMonthlySales(facts []warehouse.FactRow, customerVersions []*scd.Version, periods int) []warehouse.MonthlySales {
	if periods <= 0 {
		periods = 1
	}
	naturalKeys := naturalKeysBySurrogate(customerVersions)

	type monthAgg struct {
		total     float64
		units     int64
		orders    map[string]struct{}
		customers map[string]struct{}
	}
	byMonth := make(map[int]*monthAgg)

	for _, f := range facts {
		key := f.BusinessDate.Year()*100 + int(f.BusinessDate.Month())
		agg := byMonth[key]
		if agg == nil {
			agg = &monthAgg{
				orders:    make(map[string]struct{}),
				customers: make(map[string]struct{}),
			}
			byMonth[key] = agg
		}
		agg.total += f.LineAmount
		agg.units += int64(f.Quantity)
		agg.orders[f.OrderID] = struct{}{}

		customer := naturalKeys[f.CustomerKey]
		if customer == "" {
			// Dangling surrogate; count the key itself.
			customer = strconv.FormatInt(f.CustomerKey, 10)
		}
		agg.customers[customer] = struct{}{}
	}

	keys := make([]int, 0, len(byMonth))
	for key := range byMonth {
		keys = append(keys, key)
	}
	sort.Ints(keys)

	rows := make([]warehouse.MonthlySales, 0, len(keys))
	for _, key := range keys {
		agg := byMonth[key]
		row := warehouse.MonthlySales{
			Year:              key / 100,
			Month:             key % 100,
			TotalSales:        round2(agg.total),
			OrderCount:        int64(len(agg.orders)),
			UnitsSold:         agg.units,
			DistinctCustomers: int64(len(agg.customers)),
		}
		if row.OrderCount > 0 {
			row.AvgOrderValue = round2(agg.total / float64(row.OrderCount))
		}
		rows = append(rows, row)
	}

	for i := range rows {
		start := i - periods + 1
		if start < 0 {
			start = 0
		}
		var sum float64
		for j := start; j <= i; j++ {
			sum += rows[j].TotalSales
		}
		rows[i].MovingAvgSales = round2(sum / float64(i-start+1))
	}
	return rows
}

// naturalKeysBySurrogate maps every surrogate key a fact row may carry
// back to its natural key.
func naturalKeysBySurrogate(versions []*scd.Version) map[int64]string {
	m := make(map[int64]string, len(versions))
	for _, v := range versions {
		m[v.SurrogateKey] = v.NaturalKey
	}
	return m
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
