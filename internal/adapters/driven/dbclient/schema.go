package dbclient

import (
	"context"
	"database/sql"
	"fmt"
)

// pkColumn returns the auto-increment primary key DDL per driver.
func pkColumn(driver string) string {
	if driver == DriverPostgres {
		return "BIGSERIAL PRIMARY KEY"
	}
	return "INTEGER PRIMARY KEY AUTOINCREMENT"
}

// EnsureSchema creates the tables the storage adapters need when they do
// not exist yet. Deployments with managed migrations can skip this.
func EnsureSchema(ctx context.Context, db *sql.DB, driver string) error {
	pk := pkColumn(driver)
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS idp_configs (
			id %s,
			name TEXT NOT NULL DEFAULT '',
			is_active TEXT NOT NULL DEFAULT '0',
			is_enforced TEXT NOT NULL DEFAULT '0',
			is_strict TEXT NOT NULL DEFAULT '1',
			is_debug TEXT NOT NULL DEFAULT '0',
			is_proxied TEXT NOT NULL DEFAULT '0',
			jit_enabled TEXT NOT NULL DEFAULT '0',
			user_domain TEXT NOT NULL DEFAULT '',
			sp_certificate TEXT NOT NULL DEFAULT '',
			sp_private_key TEXT NOT NULL DEFAULT '',
			idp_entity_id TEXT NOT NULL DEFAULT '',
			idp_sso_url TEXT NOT NULL DEFAULT '',
			idp_slo_url TEXT NOT NULL DEFAULT '',
			idp_certificate TEXT NOT NULL DEFAULT '',
			authn_context TEXT NOT NULL DEFAULT '',
			authn_comparison TEXT NOT NULL DEFAULT '',
			sign_authn_request TEXT NOT NULL DEFAULT '0',
			sign_slo_request TEXT NOT NULL DEFAULT '0',
			sign_slo_response TEXT NOT NULL DEFAULT '0',
			encrypt_nameid TEXT NOT NULL DEFAULT '0'
		)`, pk),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS login_states (
			id %s,
			session_id TEXT NOT NULL UNIQUE,
			cookie_name TEXT NOT NULL DEFAULT '',
			user_id BIGINT NOT NULL DEFAULT 0,
			idp_id BIGINT NOT NULL DEFAULT 0,
			phase INTEGER NOT NULL,
			request_id TEXT NOT NULL DEFAULT '',
			assertion_id TEXT NOT NULL DEFAULT '',
			audit TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`, pk),
		`CREATE INDEX IF NOT EXISTS idx_login_states_request_id ON login_states (request_id)`,
		`CREATE TABLE IF NOT EXISTS used_assertions (
			assertion_id TEXT PRIMARY KEY,
			state_id BIGINT NOT NULL,
			used_at TIMESTAMP NOT NULL
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS exclude_rules (
			id %s,
			name TEXT NOT NULL DEFAULT '',
			path TEXT NOT NULL,
			user_agent TEXT NOT NULL DEFAULT '',
			bypass INTEGER NOT NULL DEFAULT 1,
			sort_order INTEGER NOT NULL DEFAULT 0
		)`, pk),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS local_users (
			id %s,
			name TEXT NOT NULL UNIQUE,
			email TEXT NOT NULL DEFAULT '',
			realname TEXT NOT NULL DEFAULT '',
			firstname TEXT NOT NULL DEFAULT '',
			phone TEXT NOT NULL DEFAULT '',
			mobile TEXT NOT NULL DEFAULT '',
			is_active INTEGER NOT NULL DEFAULT 1,
			is_deleted INTEGER NOT NULL DEFAULT 0,
			password_hash TEXT NOT NULL DEFAULT '',
			profile_id BIGINT NOT NULL DEFAULT 0,
			entity_id BIGINT NOT NULL DEFAULT 0,
			group_id BIGINT NOT NULL DEFAULT 0,
			recursive INTEGER NOT NULL DEFAULT 0
		)`, pk),
	}
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
