//-------------------------------------------------------------------------
//
// Bazaar ETL
//
// Copyright (c) 2025 - 2026, Sialkot Labs
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

// Package postgres implements the warehouse store on PostgreSQL. Each
// dimension's history lives in one table guarded by a partial unique
// index on is_current, so the one-current-version invariant holds even
// against writers outside this process.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sialkot-labs/bazaar-etl/internal/db"
	"github.com/sialkot-labs/bazaar-etl/internal/scd"
	"github.com/sialkot-labs/bazaar-etl/internal/warehouse"
)

// insertBatchSize caps the rows packed into one multi-row VALUES
// insert.
const insertBatchSize = 500

// Store implements warehouse.Store on a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps an existing connection pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Open connects to the warehouse database.
func Open(ctx context.Context, connString string) (*Store, error) {
	pool, err := db.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}
	return New(pool), nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// CreateSchema creates all warehouse objects, tolerating objects that
// already exist.
func (s *Store) CreateSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, createSchemaSQL); err != nil {
		return fmt.Errorf("failed to create warehouse schema: %w", err)
	}
	return nil
}

// DropSchema removes all warehouse objects and their data.
func (s *Store) DropSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, dropSchemaSQL); err != nil {
		return fmt.Errorf("failed to drop warehouse schema: %w", err)
	}
	return nil
}

// CurrentVersion returns the current version for a natural key, or nil
// when the key has no versions yet.
func (s *Store) CurrentVersion(ctx context.Context, entity scd.EntityType, naturalKey string) (*scd.Version, error) {
	d, err := dimensionFor(entity)
	if err != nil {
		return nil, err
	}

	sql := fmt.Sprintf("SELECT %s FROM %s WHERE %s = $1 AND is_current",
		d.selectList(), d.table, d.naturalKey)
	v, err := d.scanVersion(s.pool.QueryRow(ctx, sql, naturalKey), entity)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read current %s version: %w", d.table, err)
	}
	return v, nil
}

// InsertVersion stores a first version row and assigns its surrogate
// key. A concurrent insert for the same key trips the partial current
// index and surfaces as ErrTransitionConflict.
func (s *Store) InsertVersion(ctx context.Context, v *scd.Version) error {
	d, err := dimensionFor(v.Entity)
	if err != nil {
		return err
	}

	if err := insertVersionRow(ctx, s.pool, d, v); err != nil {
		if isConflict(err) {
			return scd.ErrTransitionConflict
		}
		return fmt.Errorf("failed to insert %s version: %w", d.table, err)
	}
	return nil
}

// UpdateInPlace rewrites attribute values on the current version
// without touching its validity interval. Shifted values land in the
// previous-value columns.
func (s *Store) UpdateInPlace(ctx context.Context, prior *scd.Version, changed, shifts map[string]string) error {
	d, err := dimensionFor(prior.Entity)
	if err != nil {
		return err
	}

	var sets []string
	var args []any
	set := func(col string, arg any) {
		args = append(args, arg)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	for _, c := range d.columns {
		if val, ok := changed[c.name]; ok {
			arg, err := bindAttr(c.kind, val, true)
			if err != nil {
				return fmt.Errorf("failed to bind %s.%s: %w", d.table, c.name, err)
			}
			set(c.name, arg)
		}
	}
	for _, c := range d.columns {
		p, ok := d.prev[c.name]
		if !ok {
			continue
		}
		if val, ok := shifts[c.name]; ok {
			arg, err := bindAttr(c.kind, val, true)
			if err != nil {
				return fmt.Errorf("failed to bind %s.%s: %w", d.table, p, err)
			}
			set(p, arg)
		}
	}
	if len(sets) == 0 {
		return nil
	}

	args = append(args, prior.SurrogateKey)
	sql := fmt.Sprintf("UPDATE %s SET %s WHERE %s = $%d AND is_current",
		d.table, strings.Join(sets, ", "), d.surrogate, len(args))

	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		if isConflict(err) {
			return scd.ErrTransitionConflict
		}
		return fmt.Errorf("failed to update %s in place: %w", d.table, err)
	}
	if tag.RowsAffected() == 0 {
		return scd.ErrTransitionConflict
	}
	return nil
}

// Transition atomically closes prior at next.EffectiveFrom and inserts
// next as the new current version. The current row is locked for the
// duration, so a lost race is detected before anything is written.
func (s *Store) Transition(ctx context.Context, prior, next *scd.Version) error {
	d, err := dimensionFor(prior.Entity)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin %s transition: %w", d.table, err)
	}
	defer tx.Rollback(ctx)

	var lockedKey int64
	err = tx.QueryRow(ctx,
		fmt.Sprintf("SELECT %s FROM %s WHERE %s = $1 AND is_current FOR UPDATE",
			d.surrogate, d.table, d.naturalKey),
		prior.NaturalKey,
	).Scan(&lockedKey)
	if errors.Is(err, pgx.ErrNoRows) {
		return scd.ErrTransitionConflict
	}
	if err != nil {
		if isConflict(err) {
			return scd.ErrTransitionConflict
		}
		return fmt.Errorf("failed to lock current %s version: %w", d.table, err)
	}
	if lockedKey != prior.SurrogateKey {
		return scd.ErrTransitionConflict
	}

	_, err = tx.Exec(ctx,
		fmt.Sprintf("UPDATE %s SET effective_to = $1, is_current = FALSE WHERE %s = $2",
			d.table, d.surrogate),
		next.EffectiveFrom, prior.SurrogateKey,
	)
	if err != nil {
		if isConflict(err) {
			return scd.ErrTransitionConflict
		}
		return fmt.Errorf("failed to close %s version: %w", d.table, err)
	}

	if err := insertVersionRow(ctx, tx, d, next); err != nil {
		if isConflict(err) {
			return scd.ErrTransitionConflict
		}
		return fmt.Errorf("failed to insert %s version: %w", d.table, err)
	}

	if err := tx.Commit(ctx); err != nil {
		if isConflict(err) {
			return scd.ErrTransitionConflict
		}
		return fmt.Errorf("failed to commit %s transition: %w", d.table, err)
	}
	return nil
}

// ResolveAt returns the version whose validity interval contains
// businessDate. Dates before the first version resolve to the earliest
// version; a key with no versions returns warehouse.ErrNotFound.
func (s *Store) ResolveAt(ctx context.Context, entity scd.EntityType, naturalKey string, businessDate time.Time) (*scd.Version, error) {
	d, err := dimensionFor(entity)
	if err != nil {
		return nil, err
	}

	sql := fmt.Sprintf(
		"SELECT %s FROM %s WHERE %s = $1 AND effective_from <= $2 AND (effective_to IS NULL OR effective_to > $2)",
		d.selectList(), d.table, d.naturalKey)
	v, err := d.scanVersion(s.pool.QueryRow(ctx, sql, naturalKey, businessDate), entity)
	if err == nil {
		return v, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to resolve %s version: %w", d.table, err)
	}

	// No interval contains the date. Chains are contiguous, so the
	// only recoverable miss is a date before the first version.
	sql = fmt.Sprintf("SELECT %s FROM %s WHERE %s = $1 ORDER BY version_number LIMIT 1",
		d.selectList(), d.table, d.naturalKey)
	earliest, err := d.scanVersion(s.pool.QueryRow(ctx, sql, naturalKey), entity)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, warehouse.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read earliest %s version: %w", d.table, err)
	}
	if businessDate.Before(earliest.EffectiveFrom) {
		return earliest, nil
	}
	return nil, warehouse.ErrNotFound
}

// AllVersions returns every version of an entity type, ordered by
// natural key then version number.
func (s *Store) AllVersions(ctx context.Context, entity scd.EntityType) ([]*scd.Version, error) {
	d, err := dimensionFor(entity)
	if err != nil {
		return nil, err
	}
	sql := fmt.Sprintf("SELECT %s FROM %s ORDER BY %s, version_number",
		d.selectList(), d.table, d.naturalKey)
	versions, err := s.queryVersions(ctx, d, entity, sql)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s versions: %w", d.table, err)
	}
	return versions, nil
}

// CurrentVersions returns the current version of every natural key of
// an entity type, ordered by natural key.
func (s *Store) CurrentVersions(ctx context.Context, entity scd.EntityType) ([]*scd.Version, error) {
	d, err := dimensionFor(entity)
	if err != nil {
		return nil, err
	}
	sql := fmt.Sprintf("SELECT %s FROM %s WHERE is_current ORDER BY %s",
		d.selectList(), d.table, d.naturalKey)
	versions, err := s.queryVersions(ctx, d, entity, sql)
	if err != nil {
		return nil, fmt.Errorf("failed to read current %s versions: %w", d.table, err)
	}
	return versions, nil
}

func (s *Store) queryVersions(ctx context.Context, d dimension, entity scd.EntityType, sql string, args ...any) ([]*scd.Version, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []*scd.Version
	for rows.Next() {
		v, err := d.scanVersion(rows, entity)
		if err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// InsertDates seeds the calendar dimension. Existing date keys are
// left untouched.
func (s *Store) InsertDates(ctx context.Context, rows []warehouse.DateRow) error {
	batch := make([]string, 0, insertBatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		sql := fmt.Sprintf(
			"INSERT INTO dim_date (date_key, full_date, year, quarter, month, month_name, day, day_of_week, day_name, is_weekend) VALUES %s ON CONFLICT (date_key) DO NOTHING",
			strings.Join(batch, ", "))
		if _, err := s.pool.Exec(ctx, sql); err != nil {
			return fmt.Errorf("failed to insert calendar rows: %w", err)
		}
		batch = batch[:0]
		return nil
	}

	for _, r := range rows {
		batch = append(batch, fmt.Sprintf("(%d, '%s', %d, %d, %d, '%s', %d, %d, '%s', %t)",
			r.DateKey, r.Date.Format("2006-01-02"), r.Year, r.Quarter, r.Month,
			r.MonthName, r.Day, r.DayOfWeek, r.DayName, r.IsWeekend))
		if len(batch) >= insertBatchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	return flush()
}

// InsertFacts appends fact rows, skipping event ids that are already
// present. Returns the number of rows actually inserted.
func (s *Store) InsertFacts(ctx context.Context, rows []warehouse.FactRow) (int64, error) {
	var inserted int64
	batch := make([]string, 0, insertBatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		sql := fmt.Sprintf(
			"INSERT INTO fact_sales (event_id, order_id, date_key, business_date, customer_key, product_key, store_key, employee_key, quantity, unit_price, discount_pct, line_amount) VALUES %s ON CONFLICT (event_id) DO NOTHING",
			strings.Join(batch, ", "))
		tag, err := s.pool.Exec(ctx, sql)
		if err != nil {
			return fmt.Errorf("failed to insert fact rows: %w", err)
		}
		inserted += tag.RowsAffected()
		batch = batch[:0]
		return nil
	}

	for _, r := range rows {
		batch = append(batch, fmt.Sprintf("('%s', '%s', %d, '%s', %d, %d, %d, %d, %d, %.2f, %.2f, %.2f)",
			escapeSingleQuote(r.EventID), escapeSingleQuote(r.OrderID), r.DateKey,
			r.BusinessDate.Format("2006-01-02"), r.CustomerKey, r.ProductKey,
			r.StoreKey, r.EmployeeKey, r.Quantity, r.UnitPrice, r.DiscountPct, r.LineAmount))
		if len(batch) >= insertBatchSize {
			if err := flush(); err != nil {
				return inserted, err
			}
		}
	}
	if err := flush(); err != nil {
		return inserted, err
	}
	return inserted, nil
}

// Facts returns all fact rows ordered by event id.
func (s *Store) Facts(ctx context.Context) ([]warehouse.FactRow, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT event_id, order_id, date_key, business_date, customer_key, product_key, store_key, employee_key, quantity, unit_price, discount_pct, line_amount FROM fact_sales ORDER BY event_id")
	if err != nil {
		return nil, fmt.Errorf("failed to read fact rows: %w", err)
	}
	defer rows.Close()

	var facts []warehouse.FactRow
	for rows.Next() {
		var f warehouse.FactRow
		if err := rows.Scan(&f.EventID, &f.OrderID, &f.DateKey, &f.BusinessDate,
			&f.CustomerKey, &f.ProductKey, &f.StoreKey, &f.EmployeeKey,
			&f.Quantity, &f.UnitPrice, &f.DiscountPct, &f.LineAmount); err != nil {
			return nil, fmt.Errorf("failed to scan fact row: %w", err)
		}
		facts = append(facts, f)
	}
	return facts, rows.Err()
}

// ReplaceMonthlySales swaps the monthly sales aggregate wholesale.
func (s *Store) ReplaceMonthlySales(ctx context.Context, rows []warehouse.MonthlySales) error {
	values := make([]string, 0, len(rows))
	for _, r := range rows {
		values = append(values, fmt.Sprintf("(%d, %d, %.2f, %d, %d, %.2f, %d, %.2f)",
			r.Year, r.Month, r.TotalSales, r.OrderCount, r.UnitsSold,
			r.AvgOrderValue, r.DistinctCustomers, r.MovingAvgSales))
	}
	return s.replaceAll(ctx, "agg_monthly_sales",
		"(year, month, total_sales, order_count, units_sold, avg_order_value, distinct_customers, moving_avg_sales)",
		values)
}

// MonthlySales returns the stored monthly sales aggregate ordered by
// year then month.
func (s *Store) MonthlySales(ctx context.Context) ([]warehouse.MonthlySales, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT year, month, total_sales, order_count, units_sold, avg_order_value, distinct_customers, moving_avg_sales FROM agg_monthly_sales ORDER BY year, month")
	if err != nil {
		return nil, fmt.Errorf("failed to read monthly sales: %w", err)
	}
	defer rows.Close()

	var result []warehouse.MonthlySales
	for rows.Next() {
		var m warehouse.MonthlySales
		if err := rows.Scan(&m.Year, &m.Month, &m.TotalSales, &m.OrderCount,
			&m.UnitsSold, &m.AvgOrderValue, &m.DistinctCustomers, &m.MovingAvgSales); err != nil {
			return nil, fmt.Errorf("failed to scan monthly sales row: %w", err)
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

// ReplaceCustomerBehavior swaps the customer RFM aggregate wholesale.
func (s *Store) ReplaceCustomerBehavior(ctx context.Context, rows []warehouse.CustomerBehavior) error {
	values := make([]string, 0, len(rows))
	for _, r := range rows {
		values = append(values, fmt.Sprintf("(%d, '%s', %d, %.2f, '%s', %d, %d, %d, '%s')",
			r.CustomerKey, escapeSingleQuote(r.CustomerID), r.TotalOrders, r.TotalSpent,
			r.LastOrderDate.Format("2006-01-02"), r.RecencyScore, r.FrequencyScore,
			r.MonetaryScore, escapeSingleQuote(r.Segment)))
	}
	return s.replaceAll(ctx, "fact_customer_behavior",
		"(customer_key, customer_id, total_orders, total_spent, last_order_date, recency_score, frequency_score, monetary_score, rfm_segment)",
		values)
}

// CustomerBehavior returns the stored customer RFM aggregate ordered
// by customer id.
func (s *Store) CustomerBehavior(ctx context.Context) ([]warehouse.CustomerBehavior, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT customer_key, customer_id, total_orders, total_spent, last_order_date, recency_score, frequency_score, monetary_score, rfm_segment FROM fact_customer_behavior ORDER BY customer_id")
	if err != nil {
		return nil, fmt.Errorf("failed to read customer behavior: %w", err)
	}
	defer rows.Close()

	var result []warehouse.CustomerBehavior
	for rows.Next() {
		var b warehouse.CustomerBehavior
		if err := rows.Scan(&b.CustomerKey, &b.CustomerID, &b.TotalOrders, &b.TotalSpent,
			&b.LastOrderDate, &b.RecencyScore, &b.FrequencyScore, &b.MonetaryScore,
			&b.Segment); err != nil {
			return nil, fmt.Errorf("failed to scan customer behavior row: %w", err)
		}
		result = append(result, b)
	}
	return result, rows.Err()
}

// replaceAll swaps a table's contents in one transaction, so readers
// never observe a half-loaded aggregate.
func (s *Store) replaceAll(ctx context.Context, table, columns string, values []string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin replace of %s: %w", table, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "DELETE FROM "+table); err != nil {
		return fmt.Errorf("failed to clear %s: %w", table, err)
	}
	for start := 0; start < len(values); start += insertBatchSize {
		end := min(start+insertBatchSize, len(values))
		sql := fmt.Sprintf("INSERT INTO %s %s VALUES %s", table, columns, strings.Join(values[start:end], ", "))
		if _, err := tx.Exec(ctx, sql); err != nil {
			return fmt.Errorf("failed to load %s: %w", table, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit replace of %s: %w", table, err)
	}
	return nil
}

// SetMetadata upserts one warehouse metadata key.
func (s *Store) SetMetadata(ctx context.Context, key, value string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO etl_metadata (key, value, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (key)
		DO UPDATE SET value = EXCLUDED.value, updated_at = now()
	`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set metadata %s: %w", key, err)
	}
	return nil
}

// GetMetadata reads one warehouse metadata key. A missing key returns
// an empty string, not an error.
func (s *Store) GetMetadata(ctx context.Context, key string) (string, error) {
	return readMetadataValue(ctx, s.pool, key)
}

// ReadMetadata reads one warehouse metadata key over a dedicated
// connection, for probes that do not warrant a pool.
func ReadMetadata(ctx context.Context, conn *pgx.Conn, key string) (string, error) {
	return readMetadataValue(ctx, conn, key)
}

func readMetadataValue(ctx context.Context, q querier, key string) (string, error) {
	var value string
	err := q.QueryRow(ctx, "SELECT value FROM etl_metadata WHERE key = $1", key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get metadata %s: %w", key, err)
	}
	return value, nil
}

// querier is the row-query surface shared by the pool and an open
// transaction.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// insertVersionRow writes one version row and scans the assigned
// surrogate key back into v.
func insertVersionRow(ctx context.Context, q querier, d dimension, v *scd.Version) error {
	cols := []string{d.naturalKey}
	args := []any{v.NaturalKey}

	for _, c := range d.columns {
		val, present := v.Attributes[c.name]
		arg, err := bindAttr(c.kind, val, present)
		if err != nil {
			return fmt.Errorf("failed to bind %s.%s: %w", d.table, c.name, err)
		}
		cols = append(cols, c.name)
		args = append(args, arg)
	}
	for _, c := range d.columns {
		p, ok := d.prev[c.name]
		if !ok {
			continue
		}
		val, present := v.PrevValues[c.name]
		arg, err := bindAttr(c.kind, val, present)
		if err != nil {
			return fmt.Errorf("failed to bind %s.%s: %w", d.table, p, err)
		}
		cols = append(cols, p)
		args = append(args, arg)
	}

	cols = append(cols, "effective_from", "effective_to", "is_current", "version_number")
	args = append(args, v.EffectiveFrom, v.EffectiveTo, v.IsCurrent, v.VersionNumber)

	placeholders := make([]string, len(args))
	for i := range placeholders {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING %s",
		d.table, strings.Join(cols, ", "), strings.Join(placeholders, ", "), d.surrogate)

	return q.QueryRow(ctx, sql, args...).Scan(&v.SurrogateKey)
}

// isConflict reports storage failures of the one-current-version
// invariant: unique violations from the partial current index, and
// serialization or deadlock failures from concurrent transitions on
// the same key.
func isConflict(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "23505", "40001", "40P01":
		return true
	}
	return false
}

func escapeSingleQuote(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
