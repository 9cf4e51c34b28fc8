package database

import (
	"database/sql"
	"log"
	"sync"

	_ "github.com/lib/pq"

	"github.com/ledgerguard/ledgerguard/cache"
	"github.com/ledgerguard/ledgerguard/config"
)

// Declare a package-level variable to hold the singleton instance.
// Ensure the instance is not accessible outside the package.
var instance *Datasource
var once sync.Once

type Datasource struct {
	Conn  *sql.DB
	Cache cache.Cache
}

func NewDataSource(configuration *config.Configuration) (IDataSource, error) {
	con, err := GetDBConnection(configuration)
	if err != nil {
		return nil, err
	}
	return con, nil
}

// GetDBConnection provides a global access point to the instance and initializes it if it's not already.
func GetDBConnection(configuration *config.Configuration) (*Datasource, error) {
	var err error
	once.Do(func() {
		con, errConn := ConnectDB(configuration.DataSource.Dns)
		if errConn != nil {
			err = errConn
			return
		}
		ca, errCache := cache.NewCache()
		if errCache != nil {
			log.Printf("cache unavailable, continuing without it: %v", errCache)
		}
		instance = &Datasource{Conn: con, Cache: ca}
	})
	if err != nil {
		return nil, err
	}
	return instance, nil
}

func ConnectDB(dns string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dns)
	if err != nil {
		return nil, err
	}
	err = db.Ping()
	if err != nil {
		log.Printf("database connection error: %v", err)
		return nil, err
	}
	err = createAccountTable(db)
	if err != nil {
		return nil, err
	}
	err = createTransactionTable(db)
	if err != nil {
		return nil, err
	}
	err = createBillerTables(db)
	if err != nil {
		return nil, err
	}
	err = createEventTables(db)
	if err != nil {
		return nil, err
	}
	return db, nil
}

// createAccountTable creates the accounts table. The balance check
// constraint backs the engine's own under-lock validation: a negative
// balance can never be committed, whichever path tries.
func createAccountTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS accounts (
			id SERIAL PRIMARY KEY,
			account_number TEXT NOT NULL UNIQUE,
			owner_id TEXT NOT NULL,
			account_type TEXT NOT NULL,
			currency TEXT NOT NULL,
			balance BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
			active BOOLEAN NOT NULL DEFAULT TRUE,
			bank_name TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			meta_data JSONB
		)
	`)
	return err
}

// createTransactionTable creates the transactions table. Rows are
// immutable after creation; refunds create compensating rows. The unique
// partial index on idempotency_key is what makes concurrent retries safe.
func createTransactionTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS transactions (
			id SERIAL PRIMARY KEY,
			transaction_id TEXT NOT NULL UNIQUE,
			sender TEXT NOT NULL REFERENCES accounts(account_number),
			receiver TEXT NOT NULL REFERENCES accounts(account_number),
			amount BIGINT NOT NULL CHECK (amount > 0),
			currency TEXT NOT NULL,
			fee BIGINT NOT NULL DEFAULT 0,
			idempotency_key TEXT,
			status TEXT NOT NULL,
			sender_balance_after BIGINT NOT NULL,
			receiver_balance_after BIGINT NOT NULL,
			description TEXT,
			parent_transaction TEXT,
			hash TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			meta_data JSONB
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_transactions_idempotency_key
			ON transactions (idempotency_key) WHERE idempotency_key IS NOT NULL;
		CREATE INDEX IF NOT EXISTS idx_transactions_sender_created_at
			ON transactions (sender, created_at);
	`)
	return err
}

func createBillerTables(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS billers (
			id SERIAL PRIMARY KEY,
			biller_id TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			category TEXT,
			fixed_amount BIGINT NOT NULL DEFAULT 0,
			system_account TEXT NOT NULL REFERENCES accounts(account_number),
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE TABLE IF NOT EXISTS bill_payments (
			id SERIAL PRIMARY KEY,
			payment_id TEXT NOT NULL UNIQUE,
			user_id TEXT NOT NULL,
			source_account TEXT NOT NULL REFERENCES accounts(account_number),
			biller_id TEXT NOT NULL REFERENCES billers(biller_id),
			reference_number TEXT NOT NULL,
			amount BIGINT NOT NULL,
			currency TEXT NOT NULL,
			status TEXT NOT NULL,
			transaction_id TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (biller_id, reference_number)
		);
	`)
	return err
}

// createEventTables creates the append-only incident and login-event
// tables, with the window indexes the risk detectors query against.
func createEventTables(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS incidents (
			id SERIAL PRIMARY KEY,
			incident_id TEXT NOT NULL UNIQUE,
			user_id TEXT,
			ip TEXT,
			country TEXT,
			label TEXT NOT NULL,
			severity TEXT NOT NULL,
			dedup_key TEXT,
			details JSONB,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_incidents_created_at ON incidents (created_at);
		CREATE INDEX IF NOT EXISTS idx_incidents_ip_created_at ON incidents (ip, created_at);
		CREATE INDEX IF NOT EXISTS idx_incidents_user_created_at ON incidents (user_id, created_at);
		CREATE INDEX IF NOT EXISTS idx_incidents_dedup ON incidents (label, dedup_key, created_at);

		CREATE TABLE IF NOT EXISTS login_events (
			id SERIAL PRIMARY KEY,
			event_id TEXT NOT NULL UNIQUE,
			user_id TEXT,
			ip TEXT NOT NULL,
			country TEXT,
			success BOOLEAN NOT NULL,
			attempted_email TEXT,
			failure_reason TEXT,
			user_agent TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_login_events_created_at ON login_events (created_at);
		CREATE INDEX IF NOT EXISTS idx_login_events_ip_created_at ON login_events (ip, created_at);
		CREATE INDEX IF NOT EXISTS idx_login_events_user_created_at ON login_events (user_id, created_at);
		CREATE INDEX IF NOT EXISTS idx_login_events_email_created_at ON login_events (attempted_email, created_at);
	`)
	return err
}
