package database

import (
	"database/sql"
	"fmt"
)

// RunMigrations creates the schema if it does not exist. Every owned
// table cascades from users so account deletion cannot leave orphaned
// attempts, payments or refunds behind. The partial unique index on
// payments is the storage-level guarantee that at most one completed
// report-unlock payment exists per quiz attempt.
func RunMigrations(db *sql.DB, dialect string) error {
	var queries []string

	if dialect == "postgres" {
		queries = []string{
			`CREATE TABLE IF NOT EXISTS users (
				id UUID PRIMARY KEY,
				email VARCHAR(255) UNIQUE NOT NULL,
				password VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL DEFAULT '',
				unsubscribed BOOLEAN NOT NULL DEFAULT FALSE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			)`,
			`CREATE TABLE IF NOT EXISTS sessions (
				id UUID PRIMARY KEY,
				user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				token VARCHAR(255) UNIQUE NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				expires_at TIMESTAMP WITH TIME ZONE NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS quiz_attempts (
				id UUID PRIMARY KEY,
				user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				answers JSONB NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			)`,
			`CREATE TABLE IF NOT EXISTS payments (
				id UUID PRIMARY KEY,
				user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				amount_cents BIGINT NOT NULL,
				currency VARCHAR(8) NOT NULL,
				purpose VARCHAR(50) NOT NULL,
				quiz_attempt_id UUID REFERENCES quiz_attempts(id) ON DELETE CASCADE,
				processor_intent_id VARCHAR(255) NOT NULL DEFAULT '',
				status VARCHAR(50) NOT NULL DEFAULT 'pending',
				retakes_granted INTEGER NOT NULL DEFAULT 0,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				completed_at TIMESTAMP WITH TIME ZONE
			)`,
			`CREATE TABLE IF NOT EXISTS refunds (
				id UUID PRIMARY KEY,
				payment_id UUID NOT NULL REFERENCES payments(id) ON DELETE CASCADE,
				amount_cents BIGINT NOT NULL,
				reason TEXT NOT NULL DEFAULT '',
				status VARCHAR(50) NOT NULL DEFAULT 'pending',
				processor_refund_id VARCHAR(255) NOT NULL DEFAULT '',
				admin_note TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			)`,
			`CREATE TABLE IF NOT EXISTS api_tokens (
				id UUID PRIMARY KEY,
				user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				token VARCHAR(255) UNIQUE NOT NULL,
				name VARCHAR(255) NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				expires_at TIMESTAMP WITH TIME ZONE
			)`,
			`CREATE TABLE IF NOT EXISTS password_reset_tokens (
				token VARCHAR(255) PRIMARY KEY,
				user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				expires_at TIMESTAMP WITH TIME ZONE NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			)`,
			`CREATE INDEX IF NOT EXISTS idx_users_email ON users(email)`,
			`CREATE INDEX IF NOT EXISTS idx_sessions_token ON sessions(token)`,
			`CREATE INDEX IF NOT EXISTS idx_sessions_user_id ON sessions(user_id)`,
			`CREATE INDEX IF NOT EXISTS idx_sessions_expires_at ON sessions(expires_at)`,
			`CREATE INDEX IF NOT EXISTS idx_api_tokens_user_id ON api_tokens(user_id)`,
			`CREATE INDEX IF NOT EXISTS idx_api_tokens_token ON api_tokens(token)`,
			`CREATE INDEX IF NOT EXISTS idx_quiz_attempts_user_id ON quiz_attempts(user_id)`,
			`CREATE INDEX IF NOT EXISTS idx_payments_user_id ON payments(user_id)`,
			`CREATE INDEX IF NOT EXISTS idx_payments_intent ON payments(processor_intent_id)`,
			`CREATE INDEX IF NOT EXISTS idx_refunds_payment_id ON refunds(payment_id)`,
			`CREATE UNIQUE INDEX IF NOT EXISTS uniq_completed_unlock_per_attempt
				ON payments(quiz_attempt_id)
				WHERE status = 'completed' AND purpose = 'report-unlock'`,
		}
	} else {
		queries = []string{
			`CREATE TABLE IF NOT EXISTS users (
				id TEXT PRIMARY KEY,
				email TEXT UNIQUE NOT NULL,
				password TEXT NOT NULL,
				name TEXT NOT NULL DEFAULT '',
				unsubscribed BOOLEAN NOT NULL DEFAULT 0,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS sessions (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL,
				token TEXT UNIQUE NOT NULL,
				created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				expires_at DATETIME NOT NULL,
				FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
			)`,
			`CREATE TABLE IF NOT EXISTS quiz_attempts (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL,
				answers TEXT NOT NULL,
				completed_at DATETIME NOT NULL,
				FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
			)`,
			`CREATE TABLE IF NOT EXISTS payments (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL,
				amount_cents INTEGER NOT NULL,
				currency TEXT NOT NULL,
				purpose TEXT NOT NULL,
				quiz_attempt_id TEXT,
				processor_intent_id TEXT NOT NULL DEFAULT '',
				status TEXT NOT NULL DEFAULT 'pending',
				retakes_granted INTEGER NOT NULL DEFAULT 0,
				created_at DATETIME NOT NULL,
				completed_at DATETIME,
				FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE,
				FOREIGN KEY (quiz_attempt_id) REFERENCES quiz_attempts(id) ON DELETE CASCADE
			)`,
			`CREATE TABLE IF NOT EXISTS refunds (
				id TEXT PRIMARY KEY,
				payment_id TEXT NOT NULL,
				amount_cents INTEGER NOT NULL,
				reason TEXT NOT NULL DEFAULT '',
				status TEXT NOT NULL DEFAULT 'pending',
				processor_refund_id TEXT NOT NULL DEFAULT '',
				admin_note TEXT NOT NULL DEFAULT '',
				created_at DATETIME NOT NULL,
				FOREIGN KEY (payment_id) REFERENCES payments(id) ON DELETE CASCADE
			)`,
			`CREATE TABLE IF NOT EXISTS api_tokens (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL,
				token TEXT UNIQUE NOT NULL,
				name TEXT NOT NULL DEFAULT '',
				created_at DATETIME NOT NULL,
				expires_at DATETIME,
				FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
			)`,
			`CREATE TABLE IF NOT EXISTS password_reset_tokens (
				token TEXT PRIMARY KEY,
				user_id TEXT NOT NULL,
				expires_at DATETIME NOT NULL,
				created_at DATETIME NOT NULL,
				FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
			)`,
			`CREATE INDEX IF NOT EXISTS idx_users_email ON users(email)`,
			`CREATE INDEX IF NOT EXISTS idx_sessions_token ON sessions(token)`,
			`CREATE INDEX IF NOT EXISTS idx_sessions_user_id ON sessions(user_id)`,
			`CREATE INDEX IF NOT EXISTS idx_api_tokens_user_id ON api_tokens(user_id)`,
			`CREATE INDEX IF NOT EXISTS idx_api_tokens_token ON api_tokens(token)`,
			`CREATE INDEX IF NOT EXISTS idx_quiz_attempts_user_id ON quiz_attempts(user_id)`,
			`CREATE INDEX IF NOT EXISTS idx_payments_user_id ON payments(user_id)`,
			`CREATE INDEX IF NOT EXISTS idx_payments_intent ON payments(processor_intent_id)`,
			`CREATE INDEX IF NOT EXISTS idx_refunds_payment_id ON refunds(payment_id)`,
			`CREATE UNIQUE INDEX IF NOT EXISTS uniq_completed_unlock_per_attempt
				ON payments(quiz_attempt_id)
				WHERE status = 'completed' AND purpose = 'report-unlock'`,
		}
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute schema query: %w", err)
		}
	}

	return nil
}
