//-------------------------------------------------------------------------
//
// Bazaar ETL
//
// Copyright (c) 2025 - 2026, Sialkot Labs
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package scd

// policyActions maps each attribute policy to the action it votes for
// when that attribute changes. Classification is a lookup here, never
// a per-policy branch.
var policyActions = map[Policy]Action{
	PolicyOverwrite:      ActionInPlaceUpdate,
	PolicyVersion:        ActionNewVersion,
	PolicyLimitedHistory: ActionInPlaceUpdate,
}

// actionRank orders actions by dominance. When one record changes
// attributes with different policies, the highest ranked vote wins
// and the rest fold into it.
var actionRank = map[Action]int{
	ActionNoop:          0,
	ActionInPlaceUpdate: 1,
	ActionNewVersion:    2,
}

// Classify maps one change record onto the stored history of its
// natural key and returns the storage plan. It is a pure function:
// the same record, current version, and policy table always produce
// the same instruction.
//
// A changed attribute with no assigned policy yields an
// AmbiguityError. A record that changes attributes but carries a
// business date before the current version's effective start yields
// ErrStaleRecord. Both exclude the record without touching storage.
func Classify(rec ChangeRecord, current *Version, spec *DimensionSpec) (Instruction, error) {
	if current == nil {
		return Instruction{
			Action:   ActionInsert,
			Record:   rec,
			Snapshot: buildSnapshot(spec, nil, rec.Attributes),
		}, nil
	}

	changed := make(map[string]string)
	action := ActionNoop
	for _, attr := range spec.Attributes {
		incoming, present := rec.Attributes[attr.Name]
		if !present {
			continue
		}
		if stored, ok := current.Attributes[attr.Name]; ok && stored == incoming {
			continue
		}

		policy, ok := spec.PolicyFor(attr.Name)
		if !ok {
			return Instruction{}, &AmbiguityError{
				Entity:     rec.Entity,
				NaturalKey: rec.NaturalKey,
				Attribute:  attr.Name,
			}
		}

		changed[attr.Name] = incoming
		if vote := policyActions[policy]; actionRank[vote] > actionRank[action] {
			action = vote
		}
	}

	if action == ActionNoop {
		return Instruction{Action: ActionNoop, Record: rec, Prior: current}, nil
	}
	if rec.BusinessDate.Before(current.EffectiveFrom) {
		return Instruction{}, ErrStaleRecord
	}

	ins := Instruction{
		Action:  action,
		Record:  rec,
		Changed: changed,
		Prior:   current,
	}

	switch action {
	case ActionInPlaceUpdate:
		ins.Shifts = buildShifts(spec, current, changed)
	case ActionNewVersion:
		ins.Snapshot = buildSnapshot(spec, current.Attributes, rec.Attributes)
		ins.PrevValues = buildVersionPrevValues(spec, current, changed)
	}
	return ins, nil
}

// buildSnapshot assembles the attribute set for a new row: the base
// version's attributes overlaid with the record's, restricted to
// declared attributes.
func buildSnapshot(spec *DimensionSpec, base, incoming map[string]string) map[string]string {
	snapshot := make(map[string]string, len(spec.Attributes))
	for _, attr := range spec.Attributes {
		if v, ok := base[attr.Name]; ok {
			snapshot[attr.Name] = v
		}
		if v, ok := incoming[attr.Name]; ok {
			snapshot[attr.Name] = v
		}
	}
	return snapshot
}

// buildShifts collects the outgoing values of changed limited-history
// attributes. Attributes with no stored value yet shift nothing.
func buildShifts(spec *DimensionSpec, current *Version, changed map[string]string) map[string]string {
	shifts := make(map[string]string)
	for name := range changed {
		if p, _ := spec.PolicyFor(name); p != PolicyLimitedHistory {
			continue
		}
		if old, ok := current.Attributes[name]; ok {
			shifts[name] = old
		}
	}
	return shifts
}

// buildVersionPrevValues carries the previous-value slots onto a new
// version: existing slots are kept, and limited-history attributes
// changing in this transition shift their outgoing value in.
func buildVersionPrevValues(spec *DimensionSpec, current *Version, changed map[string]string) map[string]string {
	prev := make(map[string]string, len(current.PrevValues))
	for name, v := range current.PrevValues {
		prev[name] = v
	}
	for name, v := range buildShifts(spec, current, changed) {
		prev[name] = v
	}
	return prev
}
