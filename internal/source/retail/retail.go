package retail

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sialkot-labs/bazaar-etl/internal/db"
	"github.com/sialkot-labs/bazaar-etl/internal/scd"
	"github.com/sialkot-labs/bazaar-etl/internal/source"
)

// SourceName is this source's registry name.
const SourceName = "retail"

// maxConns caps the operational pool. Extraction holds one connection
// per entity stream plus the event stream, so a handful is enough.
const maxConns = 8

// Source reads the operational store and emits dimension change
// records and sale events. All reads are plain SELECTs; the source is
// never written by the pipeline.
type Source struct {
	pool *pgxpool.Pool
}

// New creates a retail source over an existing pool.
func New(pool *pgxpool.Pool) *Source {
	return &Source{pool: pool}
}

// Open connects to the operational store and returns a retail source.
func Open(ctx context.Context, connString string) (source.ChangeSource, error) {
	pool, err := db.ConnectWithMaxConns(ctx, connString, maxConns)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to operational store: %w", err)
	}
	return New(pool), nil
}

// Name returns the source name.
func (s *Source) Name() string {
	return SourceName
}

// Description returns a human-readable description.
func (s *Source) Description() string {
	return "Normalized Pakistani retail operational store " +
		"(customers, products, stores, employees, orders)"
}

// EntityTypes returns the entity types this source produces.
func (s *Source) EntityTypes() []scd.EntityType {
	return scd.EntityTypes()
}

// Close releases the connection pool.
func (s *Source) Close() {
	s.pool.Close()
}

// Pool exposes the underlying pool for seeding.
func (s *Source) Pool() *pgxpool.Pool {
	return s.pool
}

const customerChangesSQL = `
SELECT c.customer_id, c.first_name, c.last_name, c.email, c.phone, c.gender,
       c.date_of_birth, c.marital_status, c.education_level, c.monthly_income,
       c.customer_segment, c.is_active, c.business_date, c.updated_at,
       a.city, a.province
FROM src_customer c
LEFT JOIN src_customer_address a
       ON a.customer_id = c.customer_id AND a.is_primary
WHERE c.updated_at > $1
ORDER BY c.customer_id`

const productChangesSQL = `
SELECT p.product_id, p.product_name, cat.category_name, p.brand, p.model,
       p.unit_price, p.unit_cost, p.msrp, p.is_active, p.business_date,
       p.updated_at
FROM src_product p
LEFT JOIN src_category cat ON cat.category_id = p.category_id
WHERE p.updated_at > $1
ORDER BY p.product_id`

const storeChangesSQL = `
SELECT store_code, store_name, store_type, city, province, manager_name,
       is_active, business_date, updated_at
FROM src_store
WHERE updated_at > $1
ORDER BY store_code`

const employeeChangesSQL = `
SELECT employee_id, first_name, last_name, department, job_title, store_code,
       monthly_salary, is_active, business_date, updated_at
FROM src_employee
WHERE updated_at > $1
ORDER BY employee_id`

const eventsSQL = `
SELECT o.order_id, l.line_no, o.order_date, o.created_at, o.customer_id,
       l.product_id, o.store_code, o.employee_id, l.quantity, l.unit_price,
       l.discount_pct, l.line_amount
FROM src_order o
JOIN src_order_line l ON l.order_id = o.order_id
WHERE o.created_at > $1
ORDER BY o.order_date, o.order_id, l.line_no`

type changeQuery struct {
	sql  string
	scan func(rows pgx.Rows) (scd.ChangeRecord, error)
}

var changeQueries = map[scd.EntityType]changeQuery{
	scd.EntityCustomer: {customerChangesSQL, scanCustomer},
	scd.EntityProduct:  {productChangesSQL, scanProduct},
	scd.EntityStore:    {storeChangesSQL, scanStore},
	scd.EntityEmployee: {employeeChangesSQL, scanEmployee},
}

// Changes streams entities whose updated_at is after since. A zero
// since streams the full table.
func (s *Source) Changes(ctx context.Context, entity scd.EntityType, since time.Time) (source.ChangeIterator, error) {
	q, ok := changeQueries[entity]
	if !ok {
		return nil, &source.ExtractionError{
			Source: SourceName,
			Entity: entity,
			Err:    fmt.Errorf("unsupported entity type"),
		}
	}
	rows, err := s.pool.Query(ctx, q.sql, since)
	if err != nil {
		return nil, &source.ExtractionError{Source: SourceName, Entity: entity, Err: err}
	}
	return &changeIterator{entity: entity, rows: rows, scan: q.scan}, nil
}

// Events streams sale lines from orders created after since.
func (s *Source) Events(ctx context.Context, since time.Time) (source.EventIterator, error) {
	rows, err := s.pool.Query(ctx, eventsSQL, since)
	if err != nil {
		return nil, &source.ExtractionError{Source: SourceName, Err: err}
	}
	return &eventIterator{rows: rows}, nil
}

type changeIterator struct {
	entity  scd.EntityType
	rows    pgx.Rows
	scan    func(pgx.Rows) (scd.ChangeRecord, error)
	current scd.ChangeRecord
	err     error
}

func (it *changeIterator) Next() bool {
	if it.err != nil {
		return false
	}
	if !it.rows.Next() {
		if err := it.rows.Err(); err != nil {
			it.err = &source.ExtractionError{Source: SourceName, Entity: it.entity, Err: err}
		}
		return false
	}
	rec, err := it.scan(it.rows)
	if err != nil {
		it.err = &source.ExtractionError{Source: SourceName, Entity: it.entity, Err: err}
		return false
	}
	it.current = rec
	return true
}

func (it *changeIterator) Record() scd.ChangeRecord {
	return it.current
}

func (it *changeIterator) Err() error {
	return it.err
}

func (it *changeIterator) Close() {
	it.rows.Close()
}

type eventIterator struct {
	rows    pgx.Rows
	current source.SaleEvent
	err     error
}

func (it *eventIterator) Next() bool {
	if it.err != nil {
		return false
	}
	if !it.rows.Next() {
		if err := it.rows.Err(); err != nil {
			it.err = &source.ExtractionError{Source: SourceName, Err: err}
		}
		return false
	}

	var (
		ev     source.SaleEvent
		lineNo int
	)
	err := it.rows.Scan(&ev.OrderID, &lineNo, &ev.BusinessDate, &ev.ObservedAt,
		&ev.CustomerID, &ev.ProductID, &ev.StoreCode, &ev.EmployeeID,
		&ev.Quantity, &ev.UnitPrice, &ev.DiscountPct, &ev.LineAmount)
	if err != nil {
		it.err = &source.ExtractionError{Source: SourceName, Err: fmt.Errorf("failed to scan sale line: %w", err)}
		return false
	}
	ev.EventID = fmt.Sprintf("%s:%d", ev.OrderID, lineNo)
	ev.BusinessDate = dateUTC(ev.BusinessDate)
	it.current = ev
	return true
}

func (it *eventIterator) Event() source.SaleEvent {
	return it.current
}

func (it *eventIterator) Err() error {
	return it.err
}

func (it *eventIterator) Close() {
	it.rows.Close()
}

func scanCustomer(rows pgx.Rows) (scd.ChangeRecord, error) {
	var (
		id, first, last, segment string
		email, phone, gender     *string
		maritalStatus, education *string
		dateOfBirth              *time.Time
		monthlyIncome            *float64
		isActive                 bool
		businessDate, updatedAt  time.Time
		city, province           *string
	)
	err := rows.Scan(&id, &first, &last, &email, &phone, &gender, &dateOfBirth,
		&maritalStatus, &education, &monthlyIncome, &segment, &isActive,
		&businessDate, &updatedAt, &city, &province)
	if err != nil {
		return scd.ChangeRecord{}, fmt.Errorf("failed to scan customer row: %w", err)
	}

	businessDate = dateUTC(businessDate)
	attrs := map[string]string{
		"full_name":        FullName(first, last),
		"customer_segment": segment,
		"is_active":        scd.Bool(isActive),
	}
	setOptional(attrs, "email", email)
	setOptional(attrs, "phone", phone)
	setOptional(attrs, "gender", gender)
	setOptional(attrs, "marital_status", maritalStatus)
	setOptional(attrs, "education_level", education)
	setOptional(attrs, "city", city)
	setOptional(attrs, "province", province)
	if dateOfBirth != nil {
		attrs["age_group"] = AgeGroup(dateUTC(*dateOfBirth), businessDate)
	}
	if monthlyIncome != nil {
		attrs["income_band"] = IncomeBand(*monthlyIncome)
	}

	return scd.ChangeRecord{
		Entity:       scd.EntityCustomer,
		NaturalKey:   id,
		BusinessDate: businessDate,
		ObservedAt:   updatedAt,
		Attributes:   attrs,
	}, nil
}

func scanProduct(rows pgx.Rows) (scd.ChangeRecord, error) {
	var (
		id, name                string
		category, brand, model  *string
		unitPrice               float64
		unitCost, msrp          *float64
		isActive                bool
		businessDate, updatedAt time.Time
	)
	err := rows.Scan(&id, &name, &category, &brand, &model, &unitPrice,
		&unitCost, &msrp, &isActive, &businessDate, &updatedAt)
	if err != nil {
		return scd.ChangeRecord{}, fmt.Errorf("failed to scan product row: %w", err)
	}

	attrs := map[string]string{
		"product_name": name,
		"unit_price":   scd.Money(unitPrice),
		"is_active":    scd.Bool(isActive),
	}
	setOptional(attrs, "category_name", category)
	setOptional(attrs, "brand", brand)
	setOptional(attrs, "model", model)
	if unitCost != nil {
		attrs["unit_cost"] = scd.Money(*unitCost)
	}
	if msrp != nil {
		attrs["msrp"] = scd.Money(*msrp)
	}

	return scd.ChangeRecord{
		Entity:       scd.EntityProduct,
		NaturalKey:   id,
		BusinessDate: dateUTC(businessDate),
		ObservedAt:   updatedAt,
		Attributes:   attrs,
	}, nil
}

func scanStore(rows pgx.Rows) (scd.ChangeRecord, error) {
	var (
		code, name, storeType   string
		city, province          string
		manager                 *string
		isActive                bool
		businessDate, updatedAt time.Time
	)
	err := rows.Scan(&code, &name, &storeType, &city, &province, &manager,
		&isActive, &businessDate, &updatedAt)
	if err != nil {
		return scd.ChangeRecord{}, fmt.Errorf("failed to scan store row: %w", err)
	}

	attrs := map[string]string{
		"store_name": name,
		"store_type": storeType,
		"city":       city,
		"province":   province,
		"is_active":  scd.Bool(isActive),
	}
	setOptional(attrs, "manager_name", manager)

	return scd.ChangeRecord{
		Entity:       scd.EntityStore,
		NaturalKey:   code,
		BusinessDate: dateUTC(businessDate),
		ObservedAt:   updatedAt,
		Attributes:   attrs,
	}, nil
}

func scanEmployee(rows pgx.Rows) (scd.ChangeRecord, error) {
	var (
		id, first, last         string
		department, jobTitle    string
		storeCode               string
		monthlySalary           *float64
		isActive                bool
		businessDate, updatedAt time.Time
	)
	err := rows.Scan(&id, &first, &last, &department, &jobTitle, &storeCode,
		&monthlySalary, &isActive, &businessDate, &updatedAt)
	if err != nil {
		return scd.ChangeRecord{}, fmt.Errorf("failed to scan employee row: %w", err)
	}

	attrs := map[string]string{
		"full_name":  FullName(first, last),
		"department": department,
		"job_title":  jobTitle,
		"store_code": storeCode,
		"is_active":  scd.Bool(isActive),
	}
	if monthlySalary != nil {
		attrs["salary_band"] = IncomeBand(*monthlySalary)
	}

	return scd.ChangeRecord{
		Entity:       scd.EntityEmployee,
		NaturalKey:   id,
		BusinessDate: dateUTC(businessDate),
		ObservedAt:   updatedAt,
		Attributes:   attrs,
	}, nil
}

func setOptional(attrs map[string]string, name string, value *string) {
	if value != nil {
		attrs[name] = *value
	}
}

func dateUTC(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func init() {
	source.Register(source.Registration{
		Name: SourceName,
		Description: "Normalized Pakistani retail operational store " +
			"(customers, products, stores, employees, orders)",
		Factory: Open,
	})
}
