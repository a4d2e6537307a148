package database

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/lib/pq"
	"github.com/spf13/viper"
)

var db *sql.DB

// DBConfig holds database configuration
type DBConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// GetConfig returns database configuration with defaults
func GetConfig() *DBConfig {
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", "5432")
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "password")
	viper.SetDefault("database.name", "leadpay_backoffice")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", time.Minute*5)

	return &DBConfig{
		Host:            viper.GetString("database.host"),
		Port:            viper.GetString("database.port"),
		User:            viper.GetString("database.user"),
		Password:        viper.GetString("database.password"),
		Name:            viper.GetString("database.name"),
		SSLMode:         viper.GetString("database.ssl_mode"),
		MaxOpenConns:    viper.GetInt("database.max_open_conns"),
		MaxIdleConns:    viper.GetInt("database.max_idle_conns"),
		ConnMaxLifetime: viper.GetDuration("database.conn_max_lifetime"),
	}
}

// InitDB initializes the database connection
func InitDB() (*sql.DB, error) {
	config := GetConfig()

	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.Name, config.SSLMode,
	)

	var err error
	db, err = sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	log.Println("Database connection established")
	return db, nil
}

// EnsureSchema creates the ledger tables and the uniqueness constraints the
// engine relies on. The partial index on transactions is the backstop that
// turns a concurrent replay into a unique violation instead of a duplicate
// posting.
func EnsureSchema(db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			id UUID PRIMARY KEY,
			user_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			amount NUMERIC(20,2) NOT NULL DEFAULT 0 CHECK (amount >= 0),
			currency TEXT NOT NULL,
			version INTEGER NOT NULL DEFAULT 1,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (user_id, kind)
		)`,
		`CREATE TABLE IF NOT EXISTS transactions (
			id UUID PRIMARY KEY,
			account_id UUID NOT NULL REFERENCES accounts(id),
			user_id TEXT NOT NULL,
			account_kind TEXT NOT NULL,
			kind TEXT NOT NULL,
			amount NUMERIC(20,2) NOT NULL CHECK (amount > 0),
			balance_before NUMERIC(20,2) NOT NULL,
			balance_after NUMERIC(20,2) NOT NULL CHECK (balance_after >= 0),
			is_credit BOOLEAN NOT NULL,
			note TEXT NOT NULL DEFAULT '',
			metadata JSONB,
			lead_id TEXT,
			payout_id UUID,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS transactions_replay_key
			ON transactions (user_id, lead_id, kind, account_kind, is_credit)
			WHERE lead_id IS NOT NULL`,
		`CREATE UNIQUE INDEX IF NOT EXISTS transactions_payout_replay_key
			ON transactions (payout_id, kind)
			WHERE payout_id IS NOT NULL`,
		`CREATE INDEX IF NOT EXISTS transactions_user_created_idx
			ON transactions (user_id, created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS payouts (
			id UUID PRIMARY KEY,
			user_id TEXT NOT NULL,
			account_kind TEXT NOT NULL,
			amount NUMERIC(20,2) NOT NULL CHECK (amount > 0),
			status TEXT NOT NULL,
			card_number TEXT NOT NULL,
			card_holder TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS payouts_user_created_idx
			ON payouts (user_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS payouts_card_idx ON payouts (card_number)`,
		`CREATE TABLE IF NOT EXISTS fraud_checks (
			id UUID PRIMARY KEY,
			user_id TEXT NOT NULL,
			transaction_id UUID,
			reason TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'open',
			score INTEGER NOT NULL DEFAULT 0,
			metadata JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			resolved_at TIMESTAMPTZ,
			resolution_note TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS fraud_checks_user_reason_idx
			ON fraud_checks (user_id, reason) WHERE status IN ('open', 'reviewing')`,
		`CREATE TABLE IF NOT EXISTS activity_log (
			id BIGSERIAL PRIMARY KEY,
			user_id TEXT NOT NULL,
			action TEXT NOT NULL,
			ip TEXT NOT NULL DEFAULT '',
			meta JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS activity_user_action_idx
			ON activity_log (user_id, action, ip, created_at)`,
	}

	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("schema migration failed: %w", err)
		}
	}
	return nil
}

// GetDB returns the database connection
func GetDB() *sql.DB {
	return db
}

// CloseDB closes the database connection
func CloseDB() error {
	if db != nil {
		return db.Close()
	}
	return nil
}

// InitDatabase initializes database with error handling
func InitDatabase() *sql.DB {
	db, err := InitDB()
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	return db
}
