//-------------------------------------------------------------------------
//
// Bazaar ETL
//
// Copyright (c) 2025 - 2026, Sialkot Labs
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

// Package memory provides an in-process warehouse backend used by
// unit tests and dry runs.
package memory

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sialkot-labs/bazaar-etl/internal/scd"
	"github.com/sialkot-labs/bazaar-etl/internal/warehouse"
)

const shardCount = 64

type shard struct {
	mu sync.Mutex

	// versions maps entity|naturalKey to the key's version chain in
	// ascending version order.
	versions map[string][]*scd.Version
}

// Store is an in-memory warehouse. Version transitions are guarded by
// striped per-key mutexes, so writers on different keys never contend.
type Store struct {
	shards    [shardCount]shard
	surrogate atomic.Int64

	mu       sync.RWMutex
	facts    []warehouse.FactRow
	factIDs  map[string]struct{}
	dates    map[int]warehouse.DateRow
	monthly  []warehouse.MonthlySales
	behavior []warehouse.CustomerBehavior
	metadata map[string]string
}

// New creates an empty in-memory warehouse.
func New() *Store {
	s := &Store{}
	s.reset()
	return s
}

func (s *Store) reset() {
	for i := range s.shards {
		s.shards[i].versions = make(map[string][]*scd.Version)
	}
	s.surrogate.Store(0)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.facts = nil
	s.factIDs = make(map[string]struct{})
	s.dates = make(map[int]warehouse.DateRow)
	s.monthly = nil
	s.behavior = nil
	s.metadata = make(map[string]string)
}

func versionKey(entity scd.EntityType, naturalKey string) string {
	return string(entity) + "|" + naturalKey
}

func (s *Store) shardFor(key string) *shard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &s.shards[h.Sum32()%shardCount]
}

func cloneVersion(v *scd.Version) *scd.Version {
	c := *v
	c.Attributes = cloneMap(v.Attributes)
	c.PrevValues = cloneMap(v.PrevValues)
	if v.EffectiveTo != nil {
		end := *v.EffectiveTo
		c.EffectiveTo = &end
	}
	return &c
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	c := make(map[string]string, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

func currentOf(chain []*scd.Version) *scd.Version {
	for _, v := range chain {
		if v.IsCurrent {
			return v
		}
	}
	return nil
}

// CreateSchema is a no-op; New already initialized all state.
func (s *Store) CreateSchema(_ context.Context) error {
	return nil
}

// DropSchema discards all stored state.
func (s *Store) DropSchema(_ context.Context) error {
	s.reset()
	return nil
}

func (s *Store) CurrentVersion(_ context.Context, entity scd.EntityType, naturalKey string) (*scd.Version, error) {
	key := versionKey(entity, naturalKey)
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	current := currentOf(sh.versions[key])
	if current == nil {
		return nil, nil
	}
	return cloneVersion(current), nil
}

func (s *Store) InsertVersion(_ context.Context, v *scd.Version) error {
	key := versionKey(v.Entity, v.NaturalKey)
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if currentOf(sh.versions[key]) != nil {
		return scd.ErrTransitionConflict
	}
	v.SurrogateKey = s.surrogate.Add(1)
	sh.versions[key] = append(sh.versions[key], cloneVersion(v))
	return nil
}

func (s *Store) UpdateInPlace(_ context.Context, prior *scd.Version, changed, shifts map[string]string) error {
	key := versionKey(prior.Entity, prior.NaturalKey)
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	current := currentOf(sh.versions[key])
	if current == nil || current.SurrogateKey != prior.SurrogateKey {
		return scd.ErrTransitionConflict
	}
	if current.Attributes == nil {
		current.Attributes = make(map[string]string)
	}
	for name, value := range changed {
		current.Attributes[name] = value
	}
	for name, value := range shifts {
		if current.PrevValues == nil {
			current.PrevValues = make(map[string]string)
		}
		current.PrevValues[name] = value
	}
	return nil
}

func (s *Store) Transition(_ context.Context, prior, next *scd.Version) error {
	key := versionKey(prior.Entity, prior.NaturalKey)
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	current := currentOf(sh.versions[key])
	if current == nil || current.SurrogateKey != prior.SurrogateKey {
		return scd.ErrTransitionConflict
	}

	end := next.EffectiveFrom
	current.EffectiveTo = &end
	current.IsCurrent = false

	next.SurrogateKey = s.surrogate.Add(1)
	sh.versions[key] = append(sh.versions[key], cloneVersion(next))
	return nil
}

func versionContains(v *scd.Version, d time.Time) bool {
	if d.Before(v.EffectiveFrom) {
		return false
	}
	return v.EffectiveTo == nil || d.Before(*v.EffectiveTo)
}

func (s *Store) ResolveAt(_ context.Context, entity scd.EntityType, naturalKey string, businessDate time.Time) (*scd.Version, error) {
	key := versionKey(entity, naturalKey)
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	chain := sh.versions[key]
	if len(chain) == 0 {
		return nil, warehouse.ErrNotFound
	}

	earliest := chain[0]
	for _, v := range chain {
		if v.EffectiveFrom.Before(earliest.EffectiveFrom) {
			earliest = v
		}
		if versionContains(v, businessDate) {
			return cloneVersion(v), nil
		}
	}
	if businessDate.Before(earliest.EffectiveFrom) {
		return cloneVersion(earliest), nil
	}
	return nil, warehouse.ErrNotFound
}

func (s *Store) AllVersions(_ context.Context, entity scd.EntityType) ([]*scd.Version, error) {
	var all []*scd.Version
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for _, chain := range sh.versions {
			for _, v := range chain {
				if v.Entity == entity {
					all = append(all, cloneVersion(v))
				}
			}
		}
		sh.mu.Unlock()
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].NaturalKey != all[j].NaturalKey {
			return all[i].NaturalKey < all[j].NaturalKey
		}
		return all[i].VersionNumber < all[j].VersionNumber
	})
	return all, nil
}

func (s *Store) CurrentVersions(_ context.Context, entity scd.EntityType) ([]*scd.Version, error) {
	var all []*scd.Version
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for _, chain := range sh.versions {
			if current := currentOf(chain); current != nil && current.Entity == entity {
				all = append(all, cloneVersion(current))
			}
		}
		sh.mu.Unlock()
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].NaturalKey < all[j].NaturalKey
	})
	return all, nil
}

func (s *Store) InsertDates(_ context.Context, rows []warehouse.DateRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range rows {
		if _, ok := s.dates[row.DateKey]; !ok {
			s.dates[row.DateKey] = row
		}
	}
	return nil
}

// Dates returns the calendar dimension ordered by date key.
func (s *Store) Dates() []warehouse.DateRow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := make([]warehouse.DateRow, 0, len(s.dates))
	for _, row := range s.dates {
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].DateKey < rows[j].DateKey })
	return rows
}

func (s *Store) InsertFacts(_ context.Context, rows []warehouse.FactRow) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var inserted int64
	for _, row := range rows {
		if _, dup := s.factIDs[row.EventID]; dup {
			continue
		}
		s.factIDs[row.EventID] = struct{}{}
		s.facts = append(s.facts, row)
		inserted++
	}
	return inserted, nil
}

func (s *Store) Facts(_ context.Context) ([]warehouse.FactRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := make([]warehouse.FactRow, len(s.facts))
	copy(rows, s.facts)
	return rows, nil
}

func (s *Store) ReplaceMonthlySales(_ context.Context, rows []warehouse.MonthlySales) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.monthly = make([]warehouse.MonthlySales, len(rows))
	copy(s.monthly, rows)
	return nil
}

func (s *Store) MonthlySales(_ context.Context) ([]warehouse.MonthlySales, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := make([]warehouse.MonthlySales, len(s.monthly))
	copy(rows, s.monthly)
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Year != rows[j].Year {
			return rows[i].Year < rows[j].Year
		}
		return rows[i].Month < rows[j].Month
	})
	return rows, nil
}

func (s *Store) ReplaceCustomerBehavior(_ context.Context, rows []warehouse.CustomerBehavior) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.behavior = make([]warehouse.CustomerBehavior, len(rows))
	copy(s.behavior, rows)
	return nil
}

func (s *Store) CustomerBehavior(_ context.Context) ([]warehouse.CustomerBehavior, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := make([]warehouse.CustomerBehavior, len(s.behavior))
	copy(rows, s.behavior)
	sort.Slice(rows, func(i, j int) bool { return rows[i].CustomerID < rows[j].CustomerID })
	return rows, nil
}

func (s *Store) SetMetadata(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metadata[key] = value
	return nil
}

func (s *Store) GetMetadata(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.metadata[key], nil
}

// Close is a no-op for the in-memory backend.
func (s *Store) Close() {}
