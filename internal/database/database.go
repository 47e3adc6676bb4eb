package database

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/bizmatch-io/bizmatch/internal/config"
	_ "github.com/lib/pq" // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3"
)

// Open opens the database described by cfg, verifies the connection and
// runs the schema migrations. The returned dialect is "postgres" or
// "sqlite" and selects placeholder syntax in the store layer.
func Open(cfg *config.Config) (*sql.DB, string, error) {
	var db *sql.DB
	var err error

	dialect := cfg.Database.Type
	switch dialect {
	case "postgres":
		db, err = openPostgreSQL(cfg)
	case "sqlite", "":
		dialect = "sqlite"
		db, err = openSQLite(cfg)
	default:
		return nil, "", fmt.Errorf("unsupported database type: %s", cfg.Database.Type)
	}
	if err != nil {
		return nil, "", err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, "", fmt.Errorf("failed to ping database: %w", err)
	}

	log.Printf("[DB] Running schema migrations (dialect=%s)", dialect)
	if err := RunMigrations(db, dialect); err != nil {
		db.Close()
		return nil, "", fmt.Errorf("failed to run migrations: %w", err)
	}

	log.Printf("[DB] Database initialized (dialect=%s)", dialect)
	return db, dialect, nil
}

func openPostgreSQL(cfg *config.Config) (*sql.DB, error) {
	log.Printf("[DB] Connecting to PostgreSQL host=%s port=%s db=%s user=%s",
		cfg.Database.Host, cfg.Database.Port, cfg.Database.Name, cfg.Database.User)

	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.Database.Host,
		cfg.Database.Port,
		cfg.Database.User,
		cfg.Database.Password,
		cfg.Database.Name,
		cfg.Database.SSLMode,
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open PostgreSQL connection: %w", err)
	}

	if cfg.Database.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.Database.MaxConns)
	}
	if cfg.Database.MaxIdle > 0 {
		db.SetMaxIdleConns(cfg.Database.MaxIdle)
	}
	if cfg.Database.ConnMaxLifetime != "" && cfg.Database.ConnMaxLifetime != "0" {
		if duration, err := time.ParseDuration(cfg.Database.ConnMaxLifetime); err == nil {
			db.SetConnMaxLifetime(duration)
		}
	}

	return db, nil
}

func openSQLite(cfg *config.Config) (*sql.DB, error) {
	log.Printf("[DB] Opening SQLite database at %s", cfg.Database.Path)

	dataDir := filepath.Dir(cfg.Database.Path)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", dataDir, err)
	}

	// foreign_keys must be on or CASCADE deletes silently do nothing.
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_foreign_keys=on", cfg.Database.Path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	return db, nil
}
