//-------------------------------------------------------------------------
//
// Bazaar ETL
//
// Copyright (c) 2025 - 2026, Sialkot Labs
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package scd

import "fmt"

// AttributeSpec declares one dimension attribute and its change
// policy. A declared attribute with an empty policy is legal; it
// triggers an AmbiguityError the first time it changes.
type AttributeSpec struct {
	Name   string
	Policy Policy
}

// DimensionSpec is the attribute policy table for one dimension.
type DimensionSpec struct {
	Entity     EntityType
	Attributes []AttributeSpec

	policies map[string]Policy
}

// NewDimensionSpec builds a policy table from the declared attributes.
func NewDimensionSpec(entity EntityType, attrs []AttributeSpec) *DimensionSpec {
	s := &DimensionSpec{
		Entity:     entity,
		Attributes: attrs,
		policies:   make(map[string]Policy, len(attrs)),
	}
	for _, a := range attrs {
		if a.Policy != "" {
			s.policies[a.Name] = a.Policy
		}
	}
	return s
}

// PolicyFor returns the policy assigned to an attribute. The second
// return is false for attributes that are undeclared or declared
// without a policy.
func (s *DimensionSpec) PolicyFor(name string) (Policy, bool) {
	p, ok := s.policies[name]
	return p, ok
}

// AttributeNames returns the declared attribute names in order.
func (s *DimensionSpec) AttributeNames() []string {
	names := make([]string, len(s.Attributes))
	for i, a := range s.Attributes {
		names[i] = a.Name
	}
	return names
}

// LimitedHistoryAttributes returns the attributes that keep a
// previous-value slot, in declared order.
func (s *DimensionSpec) LimitedHistoryAttributes() []string {
	var names []string
	for _, a := range s.Attributes {
		if a.Policy == PolicyLimitedHistory {
			names = append(names, a.Name)
		}
	}
	return names
}

// customerSpec is the policy table for dim_customer. Identity and
// demographic fields are corrections, so they overwrite. Segment and
// location drive historical reporting, so they version. Income band
// keeps one prior value for migration analysis.
var customerSpec = NewDimensionSpec(EntityCustomer, []AttributeSpec{
	{Name: "full_name", Policy: PolicyOverwrite},
	{Name: "email", Policy: PolicyOverwrite},
	{Name: "phone", Policy: PolicyOverwrite},
	{Name: "gender", Policy: PolicyOverwrite},
	{Name: "marital_status", Policy: PolicyVersion},
	{Name: "education_level", Policy: PolicyOverwrite},
	{Name: "age_group", Policy: PolicyOverwrite},
	{Name: "income_band", Policy: PolicyLimitedHistory},
	{Name: "customer_segment", Policy: PolicyVersion},
	{Name: "city", Policy: PolicyVersion},
	{Name: "province", Policy: PolicyVersion},
	{Name: "is_active", Policy: PolicyOverwrite},
})

// productSpec is the policy table for dim_product. Price fields track
// the present, so they overwrite. Category and brand reassignments
// change how past sales roll up, so they version. MSRP keeps one
// prior value.
var productSpec = NewDimensionSpec(EntityProduct, []AttributeSpec{
	{Name: "product_name", Policy: PolicyOverwrite},
	{Name: "category_name", Policy: PolicyVersion},
	{Name: "brand", Policy: PolicyVersion},
	{Name: "model", Policy: PolicyOverwrite},
	{Name: "unit_price", Policy: PolicyOverwrite},
	{Name: "unit_cost", Policy: PolicyOverwrite},
	{Name: "msrp", Policy: PolicyLimitedHistory},
	{Name: "is_active", Policy: PolicyOverwrite},
})

// storeSpec is the policy table for dim_store. Relocations and format
// conversions version; the manager name keeps one prior value.
var storeSpec = NewDimensionSpec(EntityStore, []AttributeSpec{
	{Name: "store_name", Policy: PolicyOverwrite},
	{Name: "store_type", Policy: PolicyVersion},
	{Name: "city", Policy: PolicyVersion},
	{Name: "province", Policy: PolicyVersion},
	{Name: "manager_name", Policy: PolicyLimitedHistory},
	{Name: "is_active", Policy: PolicyOverwrite},
})

// employeeSpec is the policy table for dim_employee. Transfers and
// promotions version so sales credit stays with the posting at the
// time of sale. Salary band keeps one prior value.
var employeeSpec = NewDimensionSpec(EntityEmployee, []AttributeSpec{
	{Name: "full_name", Policy: PolicyOverwrite},
	{Name: "department", Policy: PolicyVersion},
	{Name: "job_title", Policy: PolicyVersion},
	{Name: "store_code", Policy: PolicyVersion},
	{Name: "salary_band", Policy: PolicyLimitedHistory},
	{Name: "is_active", Policy: PolicyOverwrite},
})

var specs = map[EntityType]*DimensionSpec{
	EntityCustomer: customerSpec,
	EntityProduct:  productSpec,
	EntityStore:    storeSpec,
	EntityEmployee: employeeSpec,
}

// SpecFor returns the policy table for an entity type.
func SpecFor(entity EntityType) (*DimensionSpec, error) {
	s, ok := specs[entity]
	if !ok {
		return nil, fmt.Errorf("no dimension spec for entity type %q", entity)
	}
	return s, nil
}
