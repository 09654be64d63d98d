//-------------------------------------------------------------------------
//
// Bazaar ETL
//
// Copyright (c) 2025 - 2026, Sialkot Labs
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package postgres

// Schema SQL for the star schema. Each dimension keeps its full version
// history in one table; a partial unique index holds the one-current-
// version-per-key invariant at the storage level. The fact table
// carries no foreign keys so load order stays free; referential
// integrity is the resolver's job.
const createSchemaSQL = `
CREATE TABLE IF NOT EXISTS dim_date (
    date_key    INTEGER PRIMARY KEY,
    full_date   DATE NOT NULL,
    year        INTEGER NOT NULL,
    quarter     INTEGER NOT NULL,
    month       INTEGER NOT NULL,
    month_name  VARCHAR(10) NOT NULL,
    day         INTEGER NOT NULL,
    day_of_week INTEGER NOT NULL,
    day_name    VARCHAR(10) NOT NULL,
    is_weekend  BOOLEAN NOT NULL
);

CREATE TABLE IF NOT EXISTS dim_customer (
    customer_key     BIGSERIAL PRIMARY KEY,
    customer_id      VARCHAR(20) NOT NULL,
    full_name        VARCHAR(120),
    email            VARCHAR(100),
    phone            VARCHAR(20),
    gender           VARCHAR(10),
    marital_status   VARCHAR(20),
    education_level  VARCHAR(50),
    age_group        VARCHAR(20),
    income_band      VARCHAR(30),
    prev_income_band VARCHAR(30),
    customer_segment VARCHAR(20),
    city             VARCHAR(50),
    province         VARCHAR(50),
    is_active        BOOLEAN,
    effective_from   DATE NOT NULL,
    effective_to     DATE,
    is_current       BOOLEAN NOT NULL,
    version_number   INTEGER NOT NULL,
    UNIQUE (customer_id, version_number)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_dim_customer_current
    ON dim_customer(customer_id) WHERE is_current;
CREATE INDEX IF NOT EXISTS idx_dim_customer_range
    ON dim_customer(customer_id, effective_from);

CREATE TABLE IF NOT EXISTS dim_product (
    product_key    BIGSERIAL PRIMARY KEY,
    product_id     VARCHAR(20) NOT NULL,
    product_name   VARCHAR(100),
    category_name  VARCHAR(50),
    brand          VARCHAR(50),
    model          VARCHAR(50),
    unit_price     NUMERIC(12,2),
    unit_cost      NUMERIC(12,2),
    msrp           NUMERIC(12,2),
    prev_msrp      NUMERIC(12,2),
    is_active      BOOLEAN,
    effective_from DATE NOT NULL,
    effective_to   DATE,
    is_current     BOOLEAN NOT NULL,
    version_number INTEGER NOT NULL,
    UNIQUE (product_id, version_number)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_dim_product_current
    ON dim_product(product_id) WHERE is_current;
CREATE INDEX IF NOT EXISTS idx_dim_product_range
    ON dim_product(product_id, effective_from);

CREATE TABLE IF NOT EXISTS dim_store (
    store_key         BIGSERIAL PRIMARY KEY,
    store_code        VARCHAR(20) NOT NULL,
    store_name        VARCHAR(100),
    store_type        VARCHAR(30),
    city              VARCHAR(50),
    province          VARCHAR(50),
    manager_name      VARCHAR(100),
    prev_manager_name VARCHAR(100),
    is_active         BOOLEAN,
    effective_from    DATE NOT NULL,
    effective_to      DATE,
    is_current        BOOLEAN NOT NULL,
    version_number    INTEGER NOT NULL,
    UNIQUE (store_code, version_number)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_dim_store_current
    ON dim_store(store_code) WHERE is_current;
CREATE INDEX IF NOT EXISTS idx_dim_store_range
    ON dim_store(store_code, effective_from);

CREATE TABLE IF NOT EXISTS dim_employee (
    employee_key     BIGSERIAL PRIMARY KEY,
    employee_id      VARCHAR(20) NOT NULL,
    full_name        VARCHAR(120),
    department       VARCHAR(50),
    job_title        VARCHAR(50),
    store_code       VARCHAR(20),
    salary_band      VARCHAR(30),
    prev_salary_band VARCHAR(30),
    is_active        BOOLEAN,
    effective_from   DATE NOT NULL,
    effective_to     DATE,
    is_current       BOOLEAN NOT NULL,
    version_number   INTEGER NOT NULL,
    UNIQUE (employee_id, version_number)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_dim_employee_current
    ON dim_employee(employee_id) WHERE is_current;
CREATE INDEX IF NOT EXISTS idx_dim_employee_range
    ON dim_employee(employee_id, effective_from);

CREATE TABLE IF NOT EXISTS fact_sales (
    sale_key      BIGSERIAL PRIMARY KEY,
    event_id      VARCHAR(30) NOT NULL UNIQUE,
    order_id      VARCHAR(20) NOT NULL,
    date_key      INTEGER NOT NULL,
    business_date DATE NOT NULL,
    customer_key  BIGINT NOT NULL,
    product_key   BIGINT NOT NULL,
    store_key     BIGINT NOT NULL,
    employee_key  BIGINT NOT NULL,
    quantity      INTEGER NOT NULL,
    unit_price    NUMERIC(12,2) NOT NULL,
    discount_pct  NUMERIC(5,2) NOT NULL DEFAULT 0,
    line_amount   NUMERIC(12,2) NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_fact_sales_date ON fact_sales(date_key);
CREATE INDEX IF NOT EXISTS idx_fact_sales_customer ON fact_sales(customer_key);
CREATE INDEX IF NOT EXISTS idx_fact_sales_product ON fact_sales(product_key);

CREATE TABLE IF NOT EXISTS agg_monthly_sales (
    year               INTEGER NOT NULL,
    month              INTEGER NOT NULL,
    total_sales        NUMERIC(14,2) NOT NULL,
    order_count        BIGINT NOT NULL,
    units_sold         BIGINT NOT NULL,
    avg_order_value    NUMERIC(12,2) NOT NULL,
    distinct_customers BIGINT NOT NULL,
    moving_avg_sales   NUMERIC(14,2) NOT NULL,
    PRIMARY KEY (year, month)
);

CREATE TABLE IF NOT EXISTS fact_customer_behavior (
    customer_key    BIGINT PRIMARY KEY,
    customer_id     VARCHAR(20) NOT NULL,
    total_orders    BIGINT NOT NULL,
    total_spent     NUMERIC(14,2) NOT NULL,
    last_order_date DATE NOT NULL,
    recency_score   INTEGER NOT NULL,
    frequency_score INTEGER NOT NULL,
    monetary_score  INTEGER NOT NULL,
    rfm_segment     VARCHAR(30) NOT NULL
);

CREATE TABLE IF NOT EXISTS etl_metadata (
    key        TEXT PRIMARY KEY,
    value      TEXT NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

const dropSchemaSQL = `
DROP TABLE IF EXISTS fact_customer_behavior CASCADE;
DROP TABLE IF EXISTS agg_monthly_sales CASCADE;
DROP TABLE IF EXISTS fact_sales CASCADE;
DROP TABLE IF EXISTS dim_employee CASCADE;
DROP TABLE IF EXISTS dim_store CASCADE;
DROP TABLE IF EXISTS dim_product CASCADE;
DROP TABLE IF EXISTS dim_customer CASCADE;
DROP TABLE IF EXISTS dim_date CASCADE;
DROP TABLE IF EXISTS etl_metadata CASCADE;
`
