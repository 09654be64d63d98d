//-------------------------------------------------------------------------
//
// Bazaar ETL
//
// Copyright (c) 2025 - 2026, Sialkot Labs
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

// Package scd implements slowly changing dimension classification and
// history maintenance for the warehouse dimensions.
package scd

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// EntityType identifies a dimensioned operational entity.
type EntityType string

// Dimensioned entity types.
const (
	EntityCustomer EntityType = "customer"
	EntityProduct  EntityType = "product"
	EntityStore    EntityType = "store"
	EntityEmployee EntityType = "employee"
)

// EntityTypes returns all dimensioned entity types in processing order.
func EntityTypes() []EntityType {
	return []EntityType{EntityCustomer, EntityProduct, EntityStore, EntityEmployee}
}

// Policy declares how changes to a single attribute are preserved.
type Policy string

// Attribute change policies.
const (
	// PolicyOverwrite replaces the stored value in place, keeping no
	// history.
	PolicyOverwrite Policy = "OVERWRITE"

	// PolicyVersion closes the current version and opens a new one,
	// keeping full history.
	PolicyVersion Policy = "VERSION"

	// PolicyLimitedHistory overwrites in place but shifts the prior
	// value into a dedicated previous-value slot.
	PolicyLimitedHistory Policy = "LIMITED_HISTORY"
)

// Action is the classified outcome for one change record.
type Action string

// Classification actions.
const (
	ActionInsert        Action = "INSERT"
	ActionNoop          Action = "NOOP"
	ActionInPlaceUpdate Action = "IN_PLACE_UPDATE"
	ActionNewVersion    Action = "NEW_VERSION"
)

// ChangeRecord is one observed state of an operational entity, keyed
// by natural key. Attributes is a snapshot of the entity's dimension
// attributes at BusinessDate; attributes missing from the snapshot are
// not compared.
type ChangeRecord struct {
	Entity     EntityType
	NaturalKey string

	// BusinessDate is the date the state became true in the business,
	// normalized to midnight UTC.
	BusinessDate time.Time

	// ObservedAt is when the source system recorded the state. It
	// drives watermarking, never classification.
	ObservedAt time.Time

	Attributes map[string]string
}

// Version is one row of dimension history for a natural key. Its
// validity interval is [EffectiveFrom, EffectiveTo); a nil EffectiveTo
// means the version is open ended.
type Version struct {
	SurrogateKey int64
	Entity       EntityType
	NaturalKey   string

	Attributes map[string]string

	// PrevValues holds the retained prior value for attributes under
	// PolicyLimitedHistory.
	PrevValues map[string]string

	EffectiveFrom time.Time
	EffectiveTo   *time.Time
	IsCurrent     bool
	VersionNumber int
}

// Instruction is the full storage plan produced by classification. The
// applier executes it without consulting the policy table again.
type Instruction struct {
	Action Action
	Record ChangeRecord

	// Changed maps each differing attribute to its incoming value.
	Changed map[string]string

	// Shifts maps limited-history attributes to the value being moved
	// into their previous-value slot.
	Shifts map[string]string

	// Snapshot is the complete attribute set for the row written by
	// ActionInsert and ActionNewVersion.
	Snapshot map[string]string

	// PrevValues is the previous-value slot content for the row
	// written by ActionNewVersion.
	PrevValues map[string]string

	// Prior is the version the classification was computed against.
	// Nil for ActionInsert.
	Prior *Version
}

// Money renders a monetary amount in canonical attribute form, always
// with two decimal places.
func Money(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// Bool renders a boolean in canonical attribute form.
func Bool(v bool) string {
	return strconv.FormatBool(v)
}

// ErrStaleRecord marks a change record whose business date predates
// the effective start of the key's current version. Applying it would
// rewrite settled history, so it is excluded instead.
var ErrStaleRecord = errors.New("change record predates current version")

// ErrTransitionConflict marks a storage operation that lost a race
// with a concurrent writer on the same natural key. The operation is
// safe to retry after re-reading the current version.
var ErrTransitionConflict = errors.New("concurrent change to current version")

// AmbiguityError reports a changed attribute that has no assigned
// policy. The record is excluded rather than classified by guesswork.
type AmbiguityError struct {
	Entity     EntityType
	NaturalKey string
	Attribute  string
}

func (e *AmbiguityError) Error() string {
	return fmt.Sprintf("no change policy for %s attribute %q (natural key %s)", e.Entity, e.Attribute, e.NaturalKey)
}
