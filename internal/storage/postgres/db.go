package postgres

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
}

// TableConfig names the tables this service owns. Names come from the
// environment so deployments can share a database with other apps.
type TableConfig struct {
	Intents   string
	Purchases string
	Recipes   string
}

func (t TableConfig) withDefaults() TableConfig {
	if t.Intents == "" {
		t.Intents = "purchase_intents"
	}
	if t.Purchases == "" {
		t.Purchases = "purchases"
	}
	if t.Recipes == "" {
		t.Recipes = "recipes"
	}
	return t
}

// OpenDatabase opens a pooled connection and verifies it with a ping.
func OpenDatabase(config DatabaseConfig) (*sql.DB, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=disable",
		config.Host,
		config.Port,
		config.Database,
		config.User,
		config.Password,
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// EnsureSchema creates the service's tables when they do not exist yet.
// The UNIQUE constraint on purchases.order_id is the idempotency gate for
// webhook deliveries; everything else is plumbing.
func EnsureSchema(db *sql.DB, tables TableConfig) error {
	tables = tables.withDefaults()

	recipesTable := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %s (
		id VARCHAR(255) PRIMARY KEY,
		title TEXT NOT NULL,
		ingredients TEXT[] NOT NULL DEFAULT '{}',
		steps TEXT[] NOT NULL DEFAULT '{}',
		nutrition TEXT,
		poem TEXT,
		sign VARCHAR(50),
		lang VARCHAR(10),
		notes TEXT,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`, pq.QuoteIdentifier(tables.Recipes))
	if _, err := db.Exec(recipesTable); err != nil {
		return fmt.Errorf("failed to create recipes table: %w", err)
	}

	intentsTable := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %s (
		id VARCHAR(255) PRIMARY KEY,
		recipe_id VARCHAR(255) NOT NULL,
		email VARCHAR(255),
		status VARCHAR(50) NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS %s ON %s(status);`,
		pq.QuoteIdentifier(tables.Intents),
		pq.QuoteIdentifier("idx_"+tables.Intents+"_status"),
		pq.QuoteIdentifier(tables.Intents))
	if _, err := db.Exec(intentsTable); err != nil {
		return fmt.Errorf("failed to create intents table: %w", err)
	}

	purchasesTable := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %s (
		id SERIAL PRIMARY KEY,
		order_id VARCHAR(255) UNIQUE,
		recipe_id VARCHAR(255) NOT NULL,
		file_url TEXT,
		customer_email VARCHAR(255),
		status VARCHAR(50) NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS %s ON %s(recipe_id);`,
		pq.QuoteIdentifier(tables.Purchases),
		pq.QuoteIdentifier("idx_"+tables.Purchases+"_recipe_id"),
		pq.QuoteIdentifier(tables.Purchases))
	if _, err := db.Exec(purchasesTable); err != nil {
		return fmt.Errorf("failed to create purchases table: %w", err)
	}

	return nil
}
