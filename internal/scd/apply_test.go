//-------------------------------------------------------------------------
//
// Bazaar ETL
//
// Copyright (c) 2025 - 2026, Sialkot Labs
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package scd

import (
	"context"
	"errors"
	"testing"
	"time"
)

// fakeStore is a single-threaded DimensionStore with programmable
// conflicts for exercising the applier's retry loop.
type fakeStore struct {
	versions map[string][]*Version
	nextKey  int64

	failInserts     int
	failTransitions int
	raceVersion     *Version

	currentCalls int
	inserts      int
	updates      int
	transitions  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{versions: make(map[string][]*Version)}
}

func storeKey(entity EntityType, naturalKey string) string {
	return string(entity) + "|" + naturalKey
}

func (s *fakeStore) currentOf(entity EntityType, naturalKey string) *Version {
	for _, v := range s.versions[storeKey(entity, naturalKey)] {
		if v.IsCurrent {
			return v
		}
	}
	return nil
}

func (s *fakeStore) CurrentVersion(_ context.Context, entity EntityType, naturalKey string) (*Version, error) {
	s.currentCalls++
	return s.currentOf(entity, naturalKey), nil
}

func (s *fakeStore) InsertVersion(_ context.Context, v *Version) error {
	s.inserts++
	if s.failInserts > 0 {
		s.failInserts--
		if s.raceVersion != nil {
			s.raceVersion.SurrogateKey = s.assignKey()
			s.versions[storeKey(s.raceVersion.Entity, s.raceVersion.NaturalKey)] = []*Version{s.raceVersion}
			s.raceVersion = nil
		}
		return ErrTransitionConflict
	}
	if s.currentOf(v.Entity, v.NaturalKey) != nil {
		return ErrTransitionConflict
	}
	v.SurrogateKey = s.assignKey()
	key := storeKey(v.Entity, v.NaturalKey)
	s.versions[key] = append(s.versions[key], v)
	return nil
}

func (s *fakeStore) UpdateInPlace(_ context.Context, prior *Version, changed, shifts map[string]string) error {
	s.updates++
	current := s.currentOf(prior.Entity, prior.NaturalKey)
	if current == nil || current.SurrogateKey != prior.SurrogateKey {
		return ErrTransitionConflict
	}
	for name, v := range changed {
		current.Attributes[name] = v
	}
	for name, v := range shifts {
		if current.PrevValues == nil {
			current.PrevValues = make(map[string]string)
		}
		current.PrevValues[name] = v
	}
	return nil
}

func (s *fakeStore) Transition(_ context.Context, prior, next *Version) error {
	s.transitions++
	if s.failTransitions > 0 {
		s.failTransitions--
		return ErrTransitionConflict
	}
	current := s.currentOf(prior.Entity, prior.NaturalKey)
	if current == nil || current.SurrogateKey != prior.SurrogateKey {
		return ErrTransitionConflict
	}
	end := next.EffectiveFrom
	current.EffectiveTo = &end
	current.IsCurrent = false
	next.SurrogateKey = s.assignKey()
	key := storeKey(next.Entity, next.NaturalKey)
	s.versions[key] = append(s.versions[key], next)
	return nil
}

func (s *fakeStore) assignKey() int64 {
	s.nextKey++
	return s.nextKey
}

func applyOne(t *testing.T, applier *Applier, spec *DimensionSpec, attrs map[string]string, businessDate time.Time) Action {
	t.Helper()
	action, err := applier.ApplyRecord(context.Background(), spec, widgetRecord(attrs, businessDate))
	if err != nil {
		t.Fatalf("ApplyRecord failed: %v", err)
	}
	return action
}

func TestApplyInsertThenVersion(t *testing.T) {
	store := newFakeStore()
	applier := NewApplier(store, 3)
	spec := testSpec()

	action := applyOne(t, applier, spec, map[string]string{
		"name": "Gadget", "tier": "Basic", "rate": "5.00",
	}, day(2024, 1, 1))
	if action != ActionInsert {
		t.Fatalf("expected INSERT, got %s", action)
	}

	action = applyOne(t, applier, spec, map[string]string{
		"name": "Gadget", "tier": "Premium", "rate": "5.00",
	}, day(2024, 1, 10))
	if action != ActionNewVersion {
		t.Fatalf("expected NEW_VERSION, got %s", action)
	}

	versions := store.versions[storeKey(testEntity, "W-1")]
	if len(versions) != 2 {
		t.Fatalf("expected 2 versions, got %d", len(versions))
	}

	v1, v2 := versions[0], versions[1]
	if v1.IsCurrent {
		t.Error("prior version still current")
	}
	if v1.EffectiveTo == nil || !v1.EffectiveTo.Equal(day(2024, 1, 10)) {
		t.Errorf("prior version not closed at transition date: %v", v1.EffectiveTo)
	}
	if !v2.IsCurrent || v2.EffectiveTo != nil {
		t.Error("new version should be current and open ended")
	}
	if v2.VersionNumber != 2 {
		t.Errorf("expected version number 2, got %d", v2.VersionNumber)
	}
	if v1.SurrogateKey == v2.SurrogateKey {
		t.Error("versions must have distinct surrogate keys")
	}
	if v2.Attributes["tier"] != "Premium" {
		t.Errorf("new version attributes wrong: %v", v2.Attributes)
	}
}

func TestApplyOverwriteKeepsSurrogate(t *testing.T) {
	store := newFakeStore()
	applier := NewApplier(store, 3)
	spec := testSpec()

	applyOne(t, applier, spec, map[string]string{
		"name": "Gadget", "tier": "Basic", "rate": "5.00",
	}, day(2024, 1, 1))
	before := store.currentOf(testEntity, "W-1").SurrogateKey

	for _, name := range []string{"Gadget Pro", "Gadget Max"} {
		action := applyOne(t, applier, spec, map[string]string{"name": name}, day(2024, 2, 1))
		if action != ActionInPlaceUpdate {
			t.Fatalf("expected IN_PLACE_UPDATE, got %s", action)
		}
	}

	versions := store.versions[storeKey(testEntity, "W-1")]
	if len(versions) != 1 {
		t.Fatalf("overwrite must not grow history, got %d versions", len(versions))
	}
	current := store.currentOf(testEntity, "W-1")
	if current.SurrogateKey != before {
		t.Error("surrogate key changed on in-place update")
	}
	if current.Attributes["name"] != "Gadget Max" {
		t.Errorf("expected latest name, got %q", current.Attributes["name"])
	}
	if current.VersionNumber != 1 {
		t.Errorf("version number should stay 1, got %d", current.VersionNumber)
	}
}

func TestApplyLimitedHistoryKeepsOnePrior(t *testing.T) {
	store := newFakeStore()
	applier := NewApplier(store, 3)
	spec := testSpec()

	applyOne(t, applier, spec, map[string]string{
		"name": "Gadget", "tier": "Basic", "rate": "5.00",
	}, day(2024, 1, 1))
	applyOne(t, applier, spec, map[string]string{"rate": "6.00"}, day(2024, 2, 1))
	applyOne(t, applier, spec, map[string]string{"rate": "7.00"}, day(2024, 3, 1))

	current := store.currentOf(testEntity, "W-1")
	if current.Attributes["rate"] != "7.00" {
		t.Errorf("expected current rate 7.00, got %q", current.Attributes["rate"])
	}
	if current.PrevValues["rate"] != "6.00" {
		t.Errorf("expected prior rate 6.00, got %q", current.PrevValues["rate"])
	}
}

func TestApplyIdempotentReplay(t *testing.T) {
	store := newFakeStore()
	applier := NewApplier(store, 3)
	spec := testSpec()
	attrs := map[string]string{"name": "Gadget", "tier": "Basic", "rate": "5.00"}

	applyOne(t, applier, spec, attrs, day(2024, 1, 1))
	action := applyOne(t, applier, spec, attrs, day(2024, 1, 1))
	if action != ActionNoop {
		t.Errorf("replay should be a noop, got %s", action)
	}
	if len(store.versions[storeKey(testEntity, "W-1")]) != 1 {
		t.Error("replay must not create versions")
	}
}

func TestApplyRetriesTransitionConflict(t *testing.T) {
	store := newFakeStore()
	applier := NewApplier(store, 3)
	spec := testSpec()

	applyOne(t, applier, spec, map[string]string{
		"name": "Gadget", "tier": "Basic", "rate": "5.00",
	}, day(2024, 1, 1))

	store.failTransitions = 2
	action := applyOne(t, applier, spec, map[string]string{"tier": "Premium"}, day(2024, 2, 1))
	if action != ActionNewVersion {
		t.Fatalf("expected NEW_VERSION after retries, got %s", action)
	}
	if store.transitions != 3 {
		t.Errorf("expected 3 transition attempts, got %d", store.transitions)
	}
}

func TestApplyRetryExhaustion(t *testing.T) {
	store := newFakeStore()
	applier := NewApplier(store, 2)
	spec := testSpec()

	applyOne(t, applier, spec, map[string]string{
		"name": "Gadget", "tier": "Basic", "rate": "5.00",
	}, day(2024, 1, 1))

	store.failTransitions = 10
	_, err := applier.ApplyRecord(context.Background(), spec, widgetRecord(map[string]string{"tier": "Premium"}, day(2024, 2, 1)))
	if !errors.Is(err, ErrTransitionConflict) {
		t.Fatalf("expected wrapped ErrTransitionConflict, got %v", err)
	}
	if store.transitions != 2 {
		t.Errorf("expected exactly 2 attempts, got %d", store.transitions)
	}
}

func TestApplyReclassifiesAfterLostInsertRace(t *testing.T) {
	store := newFakeStore()
	applier := NewApplier(store, 3)
	spec := testSpec()

	// Another writer lands an identical first version between our
	// read and our insert.
	store.failInserts = 1
	store.raceVersion = &Version{
		Entity:     testEntity,
		NaturalKey: "W-1",
		Attributes: map[string]string{
			"name": "Gadget", "tier": "Basic", "rate": "5.00",
		},
		EffectiveFrom: day(2024, 1, 1),
		IsCurrent:     true,
		VersionNumber: 1,
	}

	action := applyOne(t, applier, spec, map[string]string{
		"name": "Gadget", "tier": "Basic", "rate": "5.00",
	}, day(2024, 1, 1))
	if action != ActionNoop {
		t.Errorf("expected NOOP after losing insert race, got %s", action)
	}
	if len(store.versions[storeKey(testEntity, "W-1")]) != 1 {
		t.Error("lost race must not duplicate the first version")
	}
}

func TestApplyClassificationErrorsNotRetried(t *testing.T) {
	store := newFakeStore()
	applier := NewApplier(store, 5)
	spec := testSpec()

	applyOne(t, applier, spec, map[string]string{
		"name": "Gadget", "tier": "Basic", "rate": "5.00",
	}, day(2024, 1, 1))
	store.currentCalls = 0

	_, err := applier.ApplyRecord(context.Background(), spec, widgetRecord(map[string]string{"notes": "surprise"}, day(2024, 2, 1)))
	var amb *AmbiguityError
	if !errors.As(err, &amb) {
		t.Fatalf("expected AmbiguityError, got %v", err)
	}
	if store.currentCalls != 1 {
		t.Errorf("classification errors should not retry, read %d times", store.currentCalls)
	}

	_, err = applier.ApplyRecord(context.Background(), spec, widgetRecord(map[string]string{"tier": "Premium"}, day(2023, 1, 1)))
	if !errors.Is(err, ErrStaleRecord) {
		t.Fatalf("expected ErrStaleRecord, got %v", err)
	}
	if store.updates != 0 || store.transitions != 0 {
		t.Error("excluded records must not write")
	}
}

func TestNewApplierMinimumAttempts(t *testing.T) {
	applier := NewApplier(newFakeStore(), 0)
	if applier.attempts != 1 {
		t.Errorf("expected minimum 1 attempt, got %d", applier.attempts)
	}
}
