package postgres

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sialkot-labs/bazaar-etl/internal/scd"
)

// attrKind selects the column type an attribute is stored as. Scanned
// values are rendered back through scd.Money and scd.Bool, so an
// attribute survives the round trip through the database in its
// canonical string form and never produces a phantom diff.
type attrKind int

const (
	attrText attrKind = iota
	attrMoney
	attrBool
)

// attrColumn maps one dimension attribute onto its table column. The
// column carries the attribute's name.
type attrColumn struct {
	name string
	kind attrKind
}

// dimension describes how one entity type is laid out in its history
// table.
type dimension struct {
	table      string
	surrogate  string
	naturalKey string
	columns    []attrColumn

	// prev maps limited-history attributes to their previous-value
	// column.
	prev map[string]string
}

var dimensions = map[scd.EntityType]dimension{
	scd.EntityCustomer: {
		table:      "dim_customer",
		surrogate:  "customer_key",
		naturalKey: "customer_id",
		columns: []attrColumn{
			{"full_name", attrText},
			{"email", attrText},
			{"phone", attrText},
			{"gender", attrText},
			{"marital_status", attrText},
			{"education_level", attrText},
			{"age_group", attrText},
			{"income_band", attrText},
			{"customer_segment", attrText},
			{"city", attrText},
			{"province", attrText},
			{"is_active", attrBool},
		},
		prev: map[string]string{"income_band": "prev_income_band"},
	},
	scd.EntityProduct: {
		table:      "dim_product",
		surrogate:  "product_key",
		naturalKey: "product_id",
		columns: []attrColumn{
			{"product_name", attrText},
			{"category_name", attrText},
			{"brand", attrText},
			{"model", attrText},
			{"unit_price", attrMoney},
			{"unit_cost", attrMoney},
			{"msrp", attrMoney},
			{"is_active", attrBool},
		},
		prev: map[string]string{"msrp": "prev_msrp"},
	},
	scd.EntityStore: {
		table:      "dim_store",
		surrogate:  "store_key",
		naturalKey: "store_code",
		columns: []attrColumn{
			{"store_name", attrText},
			{"store_type", attrText},
			{"city", attrText},
			{"province", attrText},
			{"manager_name", attrText},
			{"is_active", attrBool},
		},
		prev: map[string]string{"manager_name": "prev_manager_name"},
	},
	scd.EntityEmployee: {
		table:      "dim_employee",
		surrogate:  "employee_key",
		naturalKey: "employee_id",
		columns: []attrColumn{
			{"full_name", attrText},
			{"department", attrText},
			{"job_title", attrText},
			{"store_code", attrText},
			{"salary_band", attrText},
			{"is_active", attrBool},
		},
		prev: map[string]string{"salary_band": "prev_salary_band"},
	},
}

func dimensionFor(entity scd.EntityType) (dimension, error) {
	d, ok := dimensions[entity]
	if !ok {
		return dimension{}, fmt.Errorf("no dimension table for entity type %q", entity)
	}
	return d, nil
}

func (d dimension) kindOf(attr string) attrKind {
	for _, c := range d.columns {
		if c.name == attr {
			return c.kind
		}
	}
	return attrText
}

// prevColumnList returns the previous-value columns in declared
// attribute order.
func (d dimension) prevColumnList() []string {
	var cols []string
	for _, c := range d.columns {
		if p, ok := d.prev[c.name]; ok {
			cols = append(cols, p)
		}
	}
	return cols
}

// selectList is the column list every version read uses, in the order
// scanVersion consumes.
func (d dimension) selectList() string {
	cols := []string{d.surrogate, d.naturalKey}
	for _, c := range d.columns {
		cols = append(cols, c.name)
	}
	cols = append(cols, d.prevColumnList()...)
	cols = append(cols, "effective_from", "effective_to", "is_current", "version_number")
	return strings.Join(cols, ", ")
}

// attrValue is a scan destination for one nullable attribute column.
// NULL means the attribute is absent from the version's snapshot.
type attrValue struct {
	kind attrKind

	s *string
	f *float64
	b *bool
}

func (v *attrValue) dest() any {
	switch v.kind {
	case attrMoney:
		return &v.f
	case attrBool:
		return &v.b
	default:
		return &v.s
	}
}

// render converts the scanned column value back to canonical attribute
// form. The second return is false for NULL.
func (v *attrValue) render() (string, bool) {
	switch v.kind {
	case attrMoney:
		if v.f == nil {
			return "", false
		}
		return scd.Money(*v.f), true
	case attrBool:
		if v.b == nil {
			return "", false
		}
		return scd.Bool(*v.b), true
	default:
		if v.s == nil {
			return "", false
		}
		return *v.s, true
	}
}

// bindAttr converts a canonical attribute string into the typed query
// argument for its column. An absent attribute binds NULL.
func bindAttr(kind attrKind, value string, present bool) (any, error) {
	if !present {
		return nil, nil
	}
	switch kind {
	case attrMoney:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid money value %q: %w", value, err)
		}
		return f, nil
	case attrBool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return nil, fmt.Errorf("invalid boolean value %q: %w", value, err)
		}
		return b, nil
	default:
		return value, nil
	}
}

// rowScanner is the Scan surface shared by pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanVersion reads one dimension row, in selectList order, into a
// Version.
func (d dimension) scanVersion(row rowScanner, entity scd.EntityType) (*scd.Version, error) {
	attrs := make([]attrValue, len(d.columns))
	prevs := make([]attrValue, 0, len(d.prev))
	for i, c := range d.columns {
		attrs[i].kind = c.kind
		if _, ok := d.prev[c.name]; ok {
			prevs = append(prevs, attrValue{kind: c.kind})
		}
	}

	v := &scd.Version{Entity: entity}
	var effectiveTo *time.Time

	dests := []any{&v.SurrogateKey, &v.NaturalKey}
	for i := range attrs {
		dests = append(dests, attrs[i].dest())
	}
	for i := range prevs {
		dests = append(dests, prevs[i].dest())
	}
	dests = append(dests, &v.EffectiveFrom, &effectiveTo, &v.IsCurrent, &v.VersionNumber)

	if err := row.Scan(dests...); err != nil {
		return nil, err
	}

	v.Attributes = make(map[string]string, len(d.columns))
	for i, c := range d.columns {
		if s, ok := attrs[i].render(); ok {
			v.Attributes[c.name] = s
		}
	}
	pi := 0
	for _, c := range d.columns {
		if _, ok := d.prev[c.name]; !ok {
			continue
		}
		if s, ok := prevs[pi].render(); ok {
			if v.PrevValues == nil {
				v.PrevValues = make(map[string]string, len(d.prev))
			}
			v.PrevValues[c.name] = s
		}
		pi++
	}
	v.EffectiveTo = effectiveTo
	return v, nil
}
