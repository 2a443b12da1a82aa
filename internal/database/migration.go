package database

import (
	"database/sql"
	"fmt"
)

// Migrate creates the ledger schema if it does not exist yet. Statements are
// idempotent so the runner is safe to execute on every startup.
func Migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ledger_accounts (
			user_id            TEXT PRIMARY KEY,
			total_cashback     BIGINT NOT NULL DEFAULT 0,
			available_cashback BIGINT NOT NULL DEFAULT 0 CHECK (available_cashback >= 0),
			pending_cashback   BIGINT NOT NULL DEFAULT 0 CHECK (pending_cashback >= 0),
			version            INTEGER NOT NULL DEFAULT 1,
			created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS cashback_transactions (
			id              TEXT PRIMARY KEY,
			user_id         TEXT NOT NULL,
			store_id        TEXT NOT NULL,
			order_id        TEXT NOT NULL,
			amount          BIGINT NOT NULL,
			cashback_rate   DOUBLE PRECISION NOT NULL,
			cashback_amount BIGINT NOT NULL,
			status          TEXT NOT NULL,
			status_reason   TEXT NOT NULL DEFAULT '',
			created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cashback_transactions_user ON cashback_transactions (user_id, created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS withdrawals (
			id                    TEXT PRIMARY KEY,
			user_id               TEXT NOT NULL,
			amount                BIGINT NOT NULL CHECK (amount > 0),
			method                TEXT NOT NULL,
			status                TEXT NOT NULL,
			admin_notes           TEXT NOT NULL DEFAULT '',
			linked_transaction_id TEXT NOT NULL DEFAULT '',
			created_at            TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			processed_at          TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_withdrawals_user ON withdrawals (user_id, created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS audit_entries (
			account_id      TEXT NOT NULL,
			seq_no          BIGINT NOT NULL,
			operation       TEXT NOT NULL,
			delta_available BIGINT NOT NULL,
			delta_pending   BIGINT NOT NULL,
			reference_id    TEXT NOT NULL,
			created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (account_id, seq_no)
		)`,
		`CREATE TABLE IF NOT EXISTS adjustment_debts (
			id             SERIAL PRIMARY KEY,
			account_id     TEXT NOT NULL,
			transaction_id TEXT NOT NULL,
			amount         BIGINT NOT NULL CHECK (amount > 0),
			reason         TEXT NOT NULL DEFAULT '',
			created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
