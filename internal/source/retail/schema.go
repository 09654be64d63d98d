//-------------------------------------------------------------------------
//
// Bazaar ETL
//
// Copyright (c) 2025 - 2026, Sialkot Labs
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

// Package retail implements the demo change source: a normalized
// Pakistani retail operational store on Postgres.
package retail

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema SQL for the operational store. Entity tables carry a
// business_date column (when the state became true in the business)
// and an updated_at column (when the source recorded it); extraction
// watermarks on updated_at. Orders are immutable and watermark on
// created_at.
const createSchemaSQL = `
CREATE TABLE IF NOT EXISTS src_customer (
    customer_id      VARCHAR(20) PRIMARY KEY,
    first_name       VARCHAR(50) NOT NULL,
    last_name        VARCHAR(50) NOT NULL,
    email            VARCHAR(100),
    phone            VARCHAR(20),
    gender           VARCHAR(10),
    date_of_birth    DATE,
    marital_status   VARCHAR(20),
    education_level  VARCHAR(50),
    monthly_income   NUMERIC(12,2),
    customer_segment VARCHAR(20) NOT NULL,
    is_active        BOOLEAN NOT NULL DEFAULT TRUE,
    registered_at    DATE NOT NULL,
    business_date    DATE NOT NULL,
    updated_at       TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS src_customer_address (
    address_id  BIGSERIAL PRIMARY KEY,
    customer_id VARCHAR(20) NOT NULL REFERENCES src_customer(customer_id),
    street      VARCHAR(200),
    city        VARCHAR(50) NOT NULL,
    province    VARCHAR(50) NOT NULL,
    postal_code VARCHAR(10),
    is_primary  BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS src_category (
    category_id   SERIAL PRIMARY KEY,
    category_name VARCHAR(50) NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS src_product (
    product_id    VARCHAR(20) PRIMARY KEY,
    product_name  VARCHAR(100) NOT NULL,
    category_id   INTEGER REFERENCES src_category(category_id),
    brand         VARCHAR(50),
    model         VARCHAR(50),
    unit_price    NUMERIC(12,2) NOT NULL,
    unit_cost     NUMERIC(12,2),
    msrp          NUMERIC(12,2),
    is_active     BOOLEAN NOT NULL DEFAULT TRUE,
    launched_at   DATE NOT NULL,
    business_date DATE NOT NULL,
    updated_at    TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS src_store (
    store_code    VARCHAR(20) PRIMARY KEY,
    store_name    VARCHAR(100) NOT NULL,
    store_type    VARCHAR(30) NOT NULL,
    city          VARCHAR(50) NOT NULL,
    province      VARCHAR(50) NOT NULL,
    manager_name  VARCHAR(100),
    is_active     BOOLEAN NOT NULL DEFAULT TRUE,
    opened_at     DATE NOT NULL,
    business_date DATE NOT NULL,
    updated_at    TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS src_employee (
    employee_id    VARCHAR(20) PRIMARY KEY,
    first_name     VARCHAR(50) NOT NULL,
    last_name      VARCHAR(50) NOT NULL,
    department     VARCHAR(50) NOT NULL,
    job_title      VARCHAR(50) NOT NULL,
    store_code     VARCHAR(20) NOT NULL REFERENCES src_store(store_code),
    monthly_salary NUMERIC(12,2),
    is_active      BOOLEAN NOT NULL DEFAULT TRUE,
    hired_at       DATE NOT NULL,
    business_date  DATE NOT NULL,
    updated_at     TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS src_order (
    order_id    VARCHAR(20) PRIMARY KEY,
    customer_id VARCHAR(20) NOT NULL REFERENCES src_customer(customer_id),
    store_code  VARCHAR(20) NOT NULL REFERENCES src_store(store_code),
    employee_id VARCHAR(20) NOT NULL REFERENCES src_employee(employee_id),
    order_date  DATE NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS src_order_line (
    order_id     VARCHAR(20) NOT NULL REFERENCES src_order(order_id),
    line_no      INTEGER NOT NULL,
    product_id   VARCHAR(20) NOT NULL REFERENCES src_product(product_id),
    quantity     INTEGER NOT NULL,
    unit_price   NUMERIC(12,2) NOT NULL,
    discount_pct NUMERIC(5,2) NOT NULL DEFAULT 0,
    line_amount  NUMERIC(12,2) NOT NULL,
    PRIMARY KEY (order_id, line_no)
);

CREATE INDEX IF NOT EXISTS idx_src_customer_updated ON src_customer(updated_at);
CREATE INDEX IF NOT EXISTS idx_src_product_updated ON src_product(updated_at);
CREATE INDEX IF NOT EXISTS idx_src_store_updated ON src_store(updated_at);
CREATE INDEX IF NOT EXISTS idx_src_employee_updated ON src_employee(updated_at);
CREATE INDEX IF NOT EXISTS idx_src_order_created ON src_order(created_at);
CREATE INDEX IF NOT EXISTS idx_src_order_date ON src_order(order_date);
CREATE INDEX IF NOT EXISTS idx_src_address_customer ON src_customer_address(customer_id);
`

const dropSchemaSQL = `
DROP TABLE IF EXISTS src_order_line CASCADE;
DROP TABLE IF EXISTS src_order CASCADE;
DROP TABLE IF EXISTS src_employee CASCADE;
DROP TABLE IF EXISTS src_store CASCADE;
DROP TABLE IF EXISTS src_product CASCADE;
DROP TABLE IF EXISTS src_category CASCADE;
DROP TABLE IF EXISTS src_customer_address CASCADE;
DROP TABLE IF EXISTS src_customer CASCADE;
`

// CreateSchema creates the operational store schema.
func CreateSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, createSchemaSQL)
	return err
}

// DropSchema drops the operational store schema.
func DropSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, dropSchemaSQL)
	return err
}
