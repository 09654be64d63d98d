//-------------------------------------------------------------------------
//
// Bazaar ETL
//
// Copyright (c) 2025 - 2026, Sialkot Labs
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package retail

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sialkot-labs/bazaar-etl/internal/datagen"
	"github.com/sialkot-labs/bazaar-etl/internal/logging"
	"github.com/sialkot-labs/bazaar-etl/internal/source"
)

const (
	dateFormat = "2006-01-02"
	tsFormat   = "2006-01-02 15:04:05+00"
)

// Reference data
var cityProvinces = []struct {
	City     string
	Province string
}{
	{"Karachi", "Sindh"},
	{"Lahore", "Punjab"},
	{"Faisalabad", "Punjab"},
	{"Rawalpindi", "Punjab"},
	{"Gujranwala", "Punjab"},
	{"Peshawar", "Khyber Pakhtunkhwa"},
	{"Multan", "Punjab"},
	{"Hyderabad", "Sindh"},
	{"Islamabad", "Islamabad Capital Territory"},
	{"Quetta", "Balochistan"},
	{"Sialkot", "Punjab"},
	{"Bahawalpur", "Punjab"},
}

var maleNames = []string{
	"Ahmed", "Ali", "Hassan", "Usman", "Bilal", "Imran", "Faisal", "Kamran",
	"Tariq", "Asad", "Zain", "Hamza", "Omar", "Saad", "Waqar", "Junaid",
}

var femaleNames = []string{
	"Ayesha", "Fatima", "Zainab", "Maryam", "Sana", "Hina", "Rabia", "Amna",
	"Saima", "Nadia", "Mehwish", "Farah", "Iqra", "Bushra", "Sadia", "Komal",
}

var lastNames = []string{
	"Khan", "Ahmed", "Malik", "Sheikh", "Butt", "Chaudhry", "Qureshi", "Syed",
	"Raza", "Hussain", "Javed", "Akhtar", "Siddiqui", "Mirza", "Ansari", "Baig",
}

var streets = []string{
	"Shahrah-e-Faisal", "Mall Road", "Jail Road", "Ferozepur Road", "MM Alam Road",
	"University Road", "Saddar Bazaar", "Liberty Market Road", "Blue Area",
	"Clifton Block 5", "Gulberg III", "DHA Phase 6",
}

var educationLevels = []string{"Matric", "Intermediate", "Bachelors", "Masters", "MPhil", "None"}

var maritalStatuses = []string{"Single", "Married", "Divorced", "Widowed"}

var customerSegments = []string{"Regular", "Occasional", "Premium", "VIP"}
var customerSegmentWeights = []int{50, 25, 18, 7}

var emailDomains = []string{"gmail.com", "yahoo.com", "hotmail.com", "outlook.com"}

var productCatalog = []struct {
	Category string
	Items    []string
}{
	{"Electronics", []string{"LED TV", "Sound Bar", "Bluetooth Speaker", "Smart Watch", "Tablet"}},
	{"Mobile Phones", []string{"Smartphone", "Feature Phone", "Power Bank", "Wireless Charger"}},
	{"Appliances", []string{"Refrigerator", "Washing Machine", "Microwave Oven", "Air Conditioner", "Water Dispenser", "Deep Freezer"}},
	{"Clothing", []string{"Lawn Suit", "Kurta", "Shalwar Kameez", "Winter Shawl", "Denim Jacket"}},
	{"Footwear", []string{"Sneakers", "Peshawari Chappal", "Formal Shoes", "Sandals"}},
	{"Home & Kitchen", []string{"Rice Cooker", "Blender", "Dinner Set", "Electric Kettle", "Pressure Cooker"}},
	{"Grocery", []string{"Basmati Rice Bag", "Cooking Oil Carton", "Tea Pack", "Flour Bag"}},
	{"Sports", []string{"Cricket Bat", "Hockey Stick", "Football", "Badminton Racket"}},
	{"Beauty", []string{"Face Wash", "Perfume", "Hair Dryer", "Skincare Set"}},
	{"Books", []string{"Urdu Novel", "Cookbook", "Children Stories", "Exam Guide"}},
}

var productBrands = []string{
	"Dawlance", "Haier", "PEL", "Orient", "Waves", "Super Asia", "Kenwood",
	"Samsung", "Philips", "Panasonic", "Khaadi", "Gul Ahmed", "Bata", "Servis",
}

var storeSuffixes = []string{"Superstore", "Mega Store", "City Center", "Plaza", "Mall Outlet", "Bazaar Branch"}

var storeTypes = []string{"Flagship", "Outlet", "Express", "Online"}
var storeTypeWeights = []int{15, 40, 30, 15}

var departments = []string{"Sales", "Customer Service", "Inventory", "Finance", "Marketing", "IT"}

var jobTitles = []string{
	"Sales Associate", "Senior Sales Associate", "Cashier", "Store Supervisor",
	"Assistant Manager", "Store Manager", "Inventory Clerk", "Support Officer",
}

// seeder populates and mutates the demo operational store.
type seeder struct {
	pool  *pgxpool.Pool
	faker *datagen.Faker
	cfg   datagen.BatchInsertConfig

	customerIDs      []string
	productIDs       []string
	productPrices    map[string]float64
	storeCodes       []string
	employeesByStore map[string][]string
}

func newSeeder(pool *pgxpool.Pool, randomSeed int64) *seeder {
	faker := datagen.NewFaker()
	if randomSeed != 0 {
		faker = datagen.NewFakerWithSeed(uint64(randomSeed))
	}
	return &seeder{
		pool:  pool,
		faker: faker,
		cfg:   datagen.DefaultBatchConfig(),
	}
}

// Seed recreates the operational schema and populates it.
func (s *Source) Seed(ctx context.Context, cfg source.SeedConfig) error {
	return newSeeder(s.pool, cfg.RandomSeed).seed(ctx, cfg)
}

// Mutate applies n random operational changes to exercise the
// dimension change paths.
func (s *Source) Mutate(ctx context.Context, n int) error {
	return newSeeder(s.pool, 0).mutate(ctx, n)
}

func (s *seeder) seed(ctx context.Context, cfg source.SeedConfig) error {
	logging.Info().
		Int("customers", cfg.Customers).
		Int("products", cfg.Products).
		Int("stores", cfg.Stores).
		Int("employees", cfg.Employees).
		Int("orders", cfg.Orders).
		Int("days", cfg.Days).
		Msg("Seeding operational store")

	if cfg.Orders > 0 && (cfg.Customers <= 0 || cfg.Products <= 0 || cfg.Stores <= 0 || cfg.Employees <= 0) {
		return fmt.Errorf("orders require customers, products, stores, and employees to be seeded")
	}

	if err := DropSchema(ctx, s.pool); err != nil {
		return fmt.Errorf("failed to drop operational schema: %w", err)
	}
	if err := CreateSchema(ctx, s.pool); err != nil {
		return fmt.Errorf("failed to create operational schema: %w", err)
	}

	today := dateUTC(time.Now().UTC())
	windowStart := today.AddDate(0, 0, -cfg.Days)

	if err := s.seedCategories(ctx); err != nil {
		return fmt.Errorf("failed to seed categories: %w", err)
	}
	if err := s.seedCustomers(ctx, cfg.Customers, windowStart); err != nil {
		return fmt.Errorf("failed to seed customers: %w", err)
	}
	if err := s.seedProducts(ctx, cfg.Products, windowStart); err != nil {
		return fmt.Errorf("failed to seed products: %w", err)
	}
	if err := s.seedStores(ctx, cfg.Stores, windowStart); err != nil {
		return fmt.Errorf("failed to seed stores: %w", err)
	}
	if err := s.seedEmployees(ctx, cfg.Employees, windowStart); err != nil {
		return fmt.Errorf("failed to seed employees: %w", err)
	}
	if err := s.seedOrders(ctx, cfg.Orders, windowStart, today); err != nil {
		return fmt.Errorf("failed to seed orders: %w", err)
	}

	logging.Info().Msg("Operational store seeded")
	return nil
}

func (s *seeder) seedCategories(ctx context.Context) error {
	batch := make([]string, 0, len(productCatalog))
	for i, c := range productCatalog {
		batch = append(batch, fmt.Sprintf("(%d, '%s')", i+1, escapeSingleQuote(c.Category)))
	}
	return s.executeBatchInsert(ctx, "src_category", "(category_id, category_name)", batch)
}

func (s *seeder) seedCustomers(ctx context.Context, count int, windowStart time.Time) error {
	logging.Info().Int("count", count).Msg("Seeding customers")
	batch := make([]string, 0, s.cfg.BatchSize)
	addressBatch := make([]string, 0, s.cfg.BatchSize)
	progress := datagen.NewProgressReporter("src_customer", int64(count), s.cfg.ProgressInterval)
	s.customerIDs = make([]string, 0, count)

	for i := 1; i <= count; i++ {
		id := fmt.Sprintf("C-%06d", i)
		s.customerIDs = append(s.customerIDs, id)

		var first string
		gender := "Male"
		if s.faker.Bool() {
			gender = "Female"
			first = datagen.Choose(s.faker, femaleNames)
		} else {
			first = datagen.Choose(s.faker, maleNames)
		}
		last := datagen.Choose(s.faker, lastNames)
		email := s.faker.NullableString(fmt.Sprintf("%s.%s%d@%s",
			strings.ToLower(first), strings.ToLower(last), s.faker.Int(1, 999),
			datagen.Choose(s.faker, emailDomains)), 0.05)
		phone := "03" + s.faker.Digits(9)
		dateOfBirth := s.faker.DateRange(
			time.Date(1955, 1, 1, 0, 0, 0, 0, time.UTC),
			time.Date(2005, 12, 31, 0, 0, 0, 0, time.UTC))
		registered := dateUTC(s.faker.DateRange(windowStart.AddDate(-2, 0, 0), windowStart))

		batch = append(batch, fmt.Sprintf("('%s', '%s', '%s', %s, '%s', '%s', '%s', '%s', '%s', %.2f, '%s', TRUE, '%s', '%s', '%s')",
			id,
			escapeSingleQuote(first),
			escapeSingleQuote(last),
			nullableText(email),
			phone,
			gender,
			dateOfBirth.Format(dateFormat),
			datagen.Choose(s.faker, maritalStatuses),
			datagen.Choose(s.faker, educationLevels),
			s.faker.Float64(25000, 500000),
			datagen.ChooseWeighted(s.faker, customerSegments, customerSegmentWeights),
			registered.Format(dateFormat),
			registered.Format(dateFormat),
			registered.Add(9*time.Hour).Format(tsFormat),
		))

		location := datagen.Choose(s.faker, cityProvinces)
		addressBatch = append(addressBatch, fmt.Sprintf("('%s', '%s', '%s', '%s', '%s', TRUE)",
			id,
			escapeSingleQuote(fmt.Sprintf("House %d, %s", s.faker.Int(1, 900), datagen.Choose(s.faker, streets))),
			escapeSingleQuote(location.City),
			escapeSingleQuote(location.Province),
			s.faker.Digits(5),
		))

		if len(batch) >= s.cfg.BatchSize {
			if err := s.flushCustomerBatches(ctx, batch, addressBatch); err != nil {
				return err
			}
			progress.Update(int64(len(batch)))
			batch = batch[:0]
			addressBatch = addressBatch[:0]
		}
	}

	if len(batch) > 0 {
		if err := s.flushCustomerBatches(ctx, batch, addressBatch); err != nil {
			return err
		}
		progress.Update(int64(len(batch)))
	}
	progress.Done()
	return nil
}

func (s *seeder) flushCustomerBatches(ctx context.Context, batch, addressBatch []string) error {
	err := s.executeBatchInsert(ctx, "src_customer",
		"(customer_id, first_name, last_name, email, phone, gender, date_of_birth, marital_status, education_level, monthly_income, customer_segment, is_active, registered_at, business_date, updated_at)", batch)
	if err != nil {
		return err
	}
	return s.executeBatchInsert(ctx, "src_customer_address",
		"(customer_id, street, city, province, postal_code, is_primary)", addressBatch)
}

func (s *seeder) seedProducts(ctx context.Context, count int, windowStart time.Time) error {
	logging.Info().Int("count", count).Msg("Seeding products")
	batch := make([]string, 0, s.cfg.BatchSize)
	progress := datagen.NewProgressReporter("src_product", int64(count), s.cfg.ProgressInterval)
	s.productIDs = make([]string, 0, count)
	s.productPrices = make(map[string]float64, count)

	for i := 1; i <= count; i++ {
		id := fmt.Sprintf("P-%05d", i)
		s.productIDs = append(s.productIDs, id)

		categoryIdx := s.faker.Int(0, len(productCatalog)-1)
		item := datagen.Choose(s.faker, productCatalog[categoryIdx].Items)
		brand := datagen.Choose(s.faker, productBrands)
		model := fmt.Sprintf("%s-%s", strings.ToUpper(s.faker.StringN(2)), s.faker.Digits(3))
		price := roundMoney(s.faker.Float64(500, 250000))
		cost := roundMoney(price * s.faker.Float64(0.55, 0.8))
		msrp := roundMoney(price * s.faker.Float64(1.0, 1.15))
		launched := dateUTC(s.faker.DateRange(windowStart.AddDate(-2, 0, 0), windowStart))
		s.productPrices[id] = price

		batch = append(batch, fmt.Sprintf("('%s', '%s', %d, '%s', '%s', %.2f, %.2f, %.2f, TRUE, '%s', '%s', '%s')",
			id,
			escapeSingleQuote(fmt.Sprintf("%s %s", brand, item)),
			categoryIdx+1,
			escapeSingleQuote(brand),
			model,
			price,
			cost,
			msrp,
			launched.Format(dateFormat),
			launched.Format(dateFormat),
			launched.Add(9*time.Hour).Format(tsFormat),
		))

		if len(batch) >= s.cfg.BatchSize {
			if err := s.executeBatchInsert(ctx, "src_product",
				"(product_id, product_name, category_id, brand, model, unit_price, unit_cost, msrp, is_active, launched_at, business_date, updated_at)", batch); err != nil {
				return err
			}
			progress.Update(int64(len(batch)))
			batch = batch[:0]
		}
	}

	if len(batch) > 0 {
		if err := s.executeBatchInsert(ctx, "src_product",
			"(product_id, product_name, category_id, brand, model, unit_price, unit_cost, msrp, is_active, launched_at, business_date, updated_at)", batch); err != nil {
			return err
		}
		progress.Update(int64(len(batch)))
	}
	progress.Done()
	return nil
}

func (s *seeder) seedStores(ctx context.Context, count int, windowStart time.Time) error {
	logging.Info().Int("count", count).Msg("Seeding stores")
	batch := make([]string, 0, count)
	s.storeCodes = make([]string, 0, count)

	for i := 1; i <= count; i++ {
		code := fmt.Sprintf("ST-%03d", i)
		s.storeCodes = append(s.storeCodes, code)

		location := datagen.Choose(s.faker, cityProvinces)
		manager := fmt.Sprintf("%s %s", datagen.Choose(s.faker, maleNames), datagen.Choose(s.faker, lastNames))
		opened := dateUTC(s.faker.DateRange(windowStart.AddDate(-5, 0, 0), windowStart))

		batch = append(batch, fmt.Sprintf("('%s', '%s', '%s', '%s', '%s', '%s', TRUE, '%s', '%s', '%s')",
			code,
			escapeSingleQuote(fmt.Sprintf("%s %s", location.City, datagen.Choose(s.faker, storeSuffixes))),
			datagen.ChooseWeighted(s.faker, storeTypes, storeTypeWeights),
			escapeSingleQuote(location.City),
			escapeSingleQuote(location.Province),
			escapeSingleQuote(manager),
			opened.Format(dateFormat),
			opened.Format(dateFormat),
			opened.Add(9*time.Hour).Format(tsFormat),
		))
	}

	return s.executeBatchInsert(ctx, "src_store",
		"(store_code, store_name, store_type, city, province, manager_name, is_active, opened_at, business_date, updated_at)", batch)
}

func (s *seeder) seedEmployees(ctx context.Context, count int, windowStart time.Time) error {
	logging.Info().Int("count", count).Msg("Seeding employees")
	batch := make([]string, 0, s.cfg.BatchSize)
	progress := datagen.NewProgressReporter("src_employee", int64(count), s.cfg.ProgressInterval)
	s.employeesByStore = make(map[string][]string, len(s.storeCodes))

	for i := 1; i <= count; i++ {
		id := fmt.Sprintf("E-%04d", i)

		var first string
		if s.faker.Bool() {
			first = datagen.Choose(s.faker, femaleNames)
		} else {
			first = datagen.Choose(s.faker, maleNames)
		}
		last := datagen.Choose(s.faker, lastNames)
		storeCode := datagen.Choose(s.faker, s.storeCodes)
		hired := dateUTC(s.faker.DateRange(windowStart.AddDate(-3, 0, 0), windowStart))
		s.employeesByStore[storeCode] = append(s.employeesByStore[storeCode], id)

		batch = append(batch, fmt.Sprintf("('%s', '%s', '%s', '%s', '%s', '%s', %.2f, TRUE, '%s', '%s', '%s')",
			id,
			escapeSingleQuote(first),
			escapeSingleQuote(last),
			datagen.Choose(s.faker, departments),
			datagen.Choose(s.faker, jobTitles),
			storeCode,
			s.faker.Float64(30000, 400000),
			hired.Format(dateFormat),
			hired.Format(dateFormat),
			hired.Add(9*time.Hour).Format(tsFormat),
		))

		if len(batch) >= s.cfg.BatchSize {
			if err := s.executeBatchInsert(ctx, "src_employee",
				"(employee_id, first_name, last_name, department, job_title, store_code, monthly_salary, is_active, hired_at, business_date, updated_at)", batch); err != nil {
				return err
			}
			progress.Update(int64(len(batch)))
			batch = batch[:0]
		}
	}

	if len(batch) > 0 {
		if err := s.executeBatchInsert(ctx, "src_employee",
			"(employee_id, first_name, last_name, department, job_title, store_code, monthly_salary, is_active, hired_at, business_date, updated_at)", batch); err != nil {
			return err
		}
		progress.Update(int64(len(batch)))
	}
	progress.Done()
	return nil
}

func (s *seeder) seedOrders(ctx context.Context, count int, windowStart, today time.Time) error {
	logging.Info().Int("count", count).Msg("Seeding orders")
	orderBatch := make([]string, 0, s.cfg.BatchSize)
	lineBatch := make([]string, 0, s.cfg.BatchSize*2)
	progress := datagen.NewProgressReporter("src_order", int64(count), s.cfg.ProgressInterval)

	discounts := []float64{0, 0, 0, 0, 0, 0, 0, 5, 10, 15}

	for i := 1; i <= count; i++ {
		orderID := fmt.Sprintf("O-%08d", i)
		orderDate := dateUTC(s.faker.DateRange(windowStart, today))
		createdAt := orderDate.Add(time.Duration(s.faker.Int(9, 21)) * time.Hour)
		storeCode := datagen.Choose(s.faker, s.storeCodes)

		employees := s.employeesByStore[storeCode]
		var employeeID string
		if len(employees) > 0 {
			employeeID = datagen.Choose(s.faker, employees)
		} else {
			for _, staffed := range s.employeesByStore {
				employeeID = staffed[0]
				break
			}
		}

		orderBatch = append(orderBatch, fmt.Sprintf("('%s', '%s', '%s', '%s', '%s', '%s')",
			orderID,
			datagen.Choose(s.faker, s.customerIDs),
			storeCode,
			employeeID,
			orderDate.Format(dateFormat),
			createdAt.Format(tsFormat),
		))

		lines := s.faker.Int(1, 4)
		for lineNo := 1; lineNo <= lines; lineNo++ {
			productID := datagen.Choose(s.faker, s.productIDs)
			quantity := s.faker.Int(1, 5)
			unitPrice := s.productPrices[productID]
			discount := datagen.Choose(s.faker, discounts)
			amount := roundMoney(float64(quantity) * unitPrice * (1 - discount/100))

			lineBatch = append(lineBatch, fmt.Sprintf("('%s', %d, '%s', %d, %.2f, %.2f, %.2f)",
				orderID, lineNo, productID, quantity, unitPrice, discount, amount))
		}

		if len(orderBatch) >= s.cfg.BatchSize {
			if err := s.flushOrderBatches(ctx, orderBatch, lineBatch); err != nil {
				return err
			}
			progress.Update(int64(len(orderBatch)))
			orderBatch = orderBatch[:0]
			lineBatch = lineBatch[:0]
		}
	}

	if len(orderBatch) > 0 {
		if err := s.flushOrderBatches(ctx, orderBatch, lineBatch); err != nil {
			return err
		}
		progress.Update(int64(len(orderBatch)))
	}
	progress.Done()
	return nil
}

func (s *seeder) flushOrderBatches(ctx context.Context, orderBatch, lineBatch []string) error {
	err := s.executeBatchInsert(ctx, "src_order",
		"(order_id, customer_id, store_code, employee_id, order_date, created_at)", orderBatch)
	if err != nil {
		return err
	}
	return s.executeBatchInsert(ctx, "src_order_line",
		"(order_id, line_no, product_id, quantity, unit_price, discount_pct, line_amount)", lineBatch)
}

// mutation is one kind of random operational change.
type mutation struct {
	name   string
	weight int
	apply  func(ctx context.Context) error
}

func (s *seeder) mutate(ctx context.Context, n int) error {
	mutations := s.mutations()
	weights := make([]int, len(mutations))
	for i, m := range mutations {
		weights[i] = m.weight
	}

	logging.Info().Int("changes", n).Msg("Mutating operational store")
	counts := make(map[string]int)
	for i := 0; i < n; i++ {
		m := datagen.ChooseWeighted(s.faker, mutations, weights)
		if err := m.apply(ctx); err != nil {
			return fmt.Errorf("mutation %s failed: %w", m.name, err)
		}
		counts[m.name]++
	}

	event := logging.Info()
	for name, count := range counts {
		event = event.Int(name, count)
	}
	event.Msg("Operational store mutated")
	return nil
}

func (s *seeder) mutations() []mutation {
	return []mutation{
		{"shift_segment", 20, s.shiftSegment},
		{"move_customer", 15, s.moveCustomer},
		{"fix_contact", 12, s.fixContact},
		{"adjust_income", 10, s.adjustIncome},
		{"toggle_customer", 3, s.toggleCustomer},
		{"reprice_product", 15, s.repriceProduct},
		{"recategorize_product", 8, s.recategorizeProduct},
		{"adjust_msrp", 7, s.adjustMSRP},
		{"change_manager", 4, s.changeManager},
		{"convert_store", 3, s.convertStore},
		{"transfer_employee", 8, s.transferEmployee},
		{"promote_employee", 5, s.promoteEmployee},
	}
}

func (s *seeder) randomID(ctx context.Context, query string) (string, error) {
	var id string
	if err := s.pool.QueryRow(ctx, query).Scan(&id); err != nil {
		if err == pgx.ErrNoRows {
			return "", fmt.Errorf("operational store is empty; run seed first")
		}
		return "", err
	}
	return id, nil
}

// touchTimes returns the business date and timestamp stamped onto
// every mutated row.
func touchTimes() (time.Time, time.Time) {
	now := time.Now().UTC()
	return dateUTC(now), now
}

func (s *seeder) shiftSegment(ctx context.Context) error {
	id, err := s.randomID(ctx, "SELECT customer_id FROM src_customer ORDER BY random() LIMIT 1")
	if err != nil {
		return err
	}
	today, now := touchTimes()
	_, err = s.pool.Exec(ctx, `
		UPDATE src_customer
		SET customer_segment = CASE customer_segment
		        WHEN 'Regular' THEN 'Premium'
		        WHEN 'Premium' THEN 'VIP'
		        WHEN 'VIP' THEN 'Occasional'
		        ELSE 'Regular'
		    END,
		    business_date = $1, updated_at = $2
		WHERE customer_id = $3`, today, now, id)
	return err
}

func (s *seeder) moveCustomer(ctx context.Context) error {
	id, err := s.randomID(ctx, "SELECT customer_id FROM src_customer ORDER BY random() LIMIT 1")
	if err != nil {
		return err
	}
	location := datagen.Choose(s.faker, cityProvinces)
	today, now := touchTimes()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		UPDATE src_customer_address SET city = $1, province = $2
		WHERE customer_id = $3 AND is_primary`, location.City, location.Province, id)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		UPDATE src_customer SET business_date = $1, updated_at = $2
		WHERE customer_id = $3`, today, now, id)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *seeder) fixContact(ctx context.Context) error {
	id, err := s.randomID(ctx, "SELECT customer_id FROM src_customer ORDER BY random() LIMIT 1")
	if err != nil {
		return err
	}
	today, now := touchTimes()
	email := fmt.Sprintf("updated.%s%d@%s", strings.ToLower(datagen.Choose(s.faker, lastNames)),
		s.faker.Int(1, 9999), datagen.Choose(s.faker, emailDomains))
	phone := "03" + s.faker.Digits(9)
	_, err = s.pool.Exec(ctx, `
		UPDATE src_customer SET email = $1, phone = $2, business_date = $3, updated_at = $4
		WHERE customer_id = $5`, email, phone, today, now, id)
	return err
}

func (s *seeder) adjustIncome(ctx context.Context) error {
	id, err := s.randomID(ctx, "SELECT customer_id FROM src_customer ORDER BY random() LIMIT 1")
	if err != nil {
		return err
	}
	factor := datagen.Choose(s.faker, []float64{0.6, 0.8, 1.25, 1.5, 2.0})
	today, now := touchTimes()
	_, err = s.pool.Exec(ctx, `
		UPDATE src_customer
		SET monthly_income = ROUND(COALESCE(monthly_income, 50000) * $1, 2),
		    business_date = $2, updated_at = $3
		WHERE customer_id = $4`, factor, today, now, id)
	return err
}

func (s *seeder) toggleCustomer(ctx context.Context) error {
	id, err := s.randomID(ctx, "SELECT customer_id FROM src_customer ORDER BY random() LIMIT 1")
	if err != nil {
		return err
	}
	today, now := touchTimes()
	_, err = s.pool.Exec(ctx, `
		UPDATE src_customer SET is_active = NOT is_active, business_date = $1, updated_at = $2
		WHERE customer_id = $3`, today, now, id)
	return err
}

func (s *seeder) repriceProduct(ctx context.Context) error {
	id, err := s.randomID(ctx, "SELECT product_id FROM src_product ORDER BY random() LIMIT 1")
	if err != nil {
		return err
	}
	factor := s.faker.Float64(0.85, 1.25)
	today, now := touchTimes()
	_, err = s.pool.Exec(ctx, `
		UPDATE src_product SET unit_price = ROUND(unit_price * $1, 2), business_date = $2, updated_at = $3
		WHERE product_id = $4`, factor, today, now, id)
	return err
}

func (s *seeder) recategorizeProduct(ctx context.Context) error {
	id, err := s.randomID(ctx, "SELECT product_id FROM src_product ORDER BY random() LIMIT 1")
	if err != nil {
		return err
	}
	today, now := touchTimes()
	_, err = s.pool.Exec(ctx, `
		UPDATE src_product
		SET category_id = (category_id % (SELECT COUNT(*) FROM src_category)::int) + 1,
		    business_date = $1, updated_at = $2
		WHERE product_id = $3`, today, now, id)
	return err
}

func (s *seeder) adjustMSRP(ctx context.Context) error {
	id, err := s.randomID(ctx, "SELECT product_id FROM src_product ORDER BY random() LIMIT 1")
	if err != nil {
		return err
	}
	factor := s.faker.Float64(1.05, 1.3)
	today, now := touchTimes()
	_, err = s.pool.Exec(ctx, `
		UPDATE src_product SET msrp = ROUND(unit_price * $1, 2), business_date = $2, updated_at = $3
		WHERE product_id = $4`, factor, today, now, id)
	return err
}

func (s *seeder) changeManager(ctx context.Context) error {
	code, err := s.randomID(ctx, "SELECT store_code FROM src_store ORDER BY random() LIMIT 1")
	if err != nil {
		return err
	}
	manager := fmt.Sprintf("%s %s", datagen.Choose(s.faker, maleNames), datagen.Choose(s.faker, lastNames))
	today, now := touchTimes()
	_, err = s.pool.Exec(ctx, `
		UPDATE src_store SET manager_name = $1, business_date = $2, updated_at = $3
		WHERE store_code = $4`, manager, today, now, code)
	return err
}

func (s *seeder) convertStore(ctx context.Context) error {
	code, err := s.randomID(ctx, "SELECT store_code FROM src_store ORDER BY random() LIMIT 1")
	if err != nil {
		return err
	}
	today, now := touchTimes()
	_, err = s.pool.Exec(ctx, `
		UPDATE src_store
		SET store_type = CASE store_type
		        WHEN 'Flagship' THEN 'Outlet'
		        WHEN 'Outlet' THEN 'Express'
		        WHEN 'Express' THEN 'Online'
		        ELSE 'Flagship'
		    END,
		    business_date = $1, updated_at = $2
		WHERE store_code = $3`, today, now, code)
	return err
}

func (s *seeder) transferEmployee(ctx context.Context) error {
	id, err := s.randomID(ctx, "SELECT employee_id FROM src_employee ORDER BY random() LIMIT 1")
	if err != nil {
		return err
	}
	today, now := touchTimes()
	_, err = s.pool.Exec(ctx, `
		UPDATE src_employee e
		SET store_code = (
		        SELECT store_code FROM src_store
		        WHERE store_code <> e.store_code
		        ORDER BY random() LIMIT 1),
		    business_date = $1, updated_at = $2
		WHERE employee_id = $3
		  AND (SELECT COUNT(*) FROM src_store) > 1`, today, now, id)
	return err
}

func (s *seeder) promoteEmployee(ctx context.Context) error {
	id, err := s.randomID(ctx, "SELECT employee_id FROM src_employee ORDER BY random() LIMIT 1")
	if err != nil {
		return err
	}
	today, now := touchTimes()
	_, err = s.pool.Exec(ctx, `
		UPDATE src_employee
		SET job_title = CASE job_title
		        WHEN 'Sales Associate' THEN 'Senior Sales Associate'
		        WHEN 'Senior Sales Associate' THEN 'Store Supervisor'
		        WHEN 'Cashier' THEN 'Sales Associate'
		        WHEN 'Store Supervisor' THEN 'Assistant Manager'
		        WHEN 'Assistant Manager' THEN 'Store Manager'
		        ELSE 'Store Supervisor'
		    END,
		    monthly_salary = ROUND(COALESCE(monthly_salary, 50000) * 1.2, 2),
		    business_date = $1, updated_at = $2
		WHERE employee_id = $3`, today, now, id)
	return err
}

func (s *seeder) executeBatchInsert(ctx context.Context, table, columns string, values []string) error {
	if len(values) == 0 {
		return nil
	}
	sql := fmt.Sprintf("INSERT INTO %s %s VALUES %s", table, columns, strings.Join(values, ", "))
	_, err := s.pool.Exec(ctx, sql)
	return err
}

func escapeSingleQuote(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

func nullableText(s string) string {
	if s == "" {
		return "NULL"
	}
	return "'" + escapeSingleQuote(s) + "'"
}

func roundMoney(v float64) float64 {
	return math.Round(v*100) / 100
}
