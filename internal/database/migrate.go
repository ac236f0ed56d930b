package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// Migration is one versioned schema change. Partial holds statements that
// only run on dialects with partial index support.
type Migration struct {
	Version int64
	Name    string
	Up      []string
	Partial []string
}

// Statements returns the DDL of m rendered for d.
func (m Migration) Statements(d Dialect) []string {
	out := make([]string, 0, len(m.Up)+len(m.Partial))
	for _, s := range m.Up {
		out = append(out, d.Render(s))
	}
	if d.PartialIndexes {
		for _, s := range m.Partial {
			out = append(out, d.Render(s))
		}
	}
	return out
}

const migrationsTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
	version BIGINT PRIMARY KEY,
	name VARCHAR(200) NOT NULL,
	applied_at {{TS}} NOT NULL
)`

// Migrations is the ordered schema history.
var Migrations = []Migration{
	{
		Version: 1,
		Name:    "directory",
		Up: []string{
			`CREATE TABLE IF NOT EXISTS departments (
				id BIGINT PRIMARY KEY,
				parent_id BIGINT NULL,
				name VARCHAR(200) NOT NULL,
				active BOOLEAN NOT NULL DEFAULT TRUE
			)`,
			`CREATE TABLE IF NOT EXISTS employees (
				id BIGINT PRIMARY KEY,
				department_id BIGINT NOT NULL,
				name VARCHAR(200) NOT NULL,
				employment_status VARCHAR(16) NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS admin_users (
				id BIGINT PRIMARY KEY,
				login VARCHAR(100) NOT NULL UNIQUE,
				is_super_admin BOOLEAN NOT NULL DEFAULT FALSE,
				role VARCHAR(32) NULL,
				department_id BIGINT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS permission_grants (
				id BIGINT PRIMARY KEY,
				user_id BIGINT NOT NULL,
				department_id BIGINT NOT NULL,
				scope VARCHAR(16) NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS permission_grant_departments (
				grant_id BIGINT NOT NULL,
				department_id BIGINT NOT NULL,
				PRIMARY KEY (grant_id, department_id)
			)`,
			`CREATE INDEX idx_employees_department ON employees (department_id)`,
			`CREATE INDEX idx_permission_grants_user ON permission_grants (user_id)`,
		},
	},
	{
		Version: 2,
		Name:    "phone_assets",
		Up: []string{
			`CREATE TABLE IF NOT EXISTS phone_assets (
				phone_number VARCHAR(32) PRIMARY KEY,
				status VARCHAR(32) NOT NULL,
				applicant_employee_id BIGINT NOT NULL,
				applicant_status_snapshot VARCHAR(16) NOT NULL,
				current_user_employee_id BIGINT NULL,
				vendor VARCHAR(64) NOT NULL DEFAULT '',
				purpose VARCHAR(500) NOT NULL DEFAULT '',
				department_id BIGINT NOT NULL,
				risk_reason VARCHAR(32) NULL,
				created_at {{TS}} NOT NULL,
				updated_at {{TS}} NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS asset_usage_history (
				phone_number VARCHAR(32) NOT NULL,
				seq INT NOT NULL,
				employee_id BIGINT NOT NULL,
				start_date {{TS}} NOT NULL,
				end_date {{TS}} NULL,
				PRIMARY KEY (phone_number, seq)
			)`,
			`CREATE INDEX idx_phone_assets_department ON phone_assets (department_id, status)`,
			`CREATE INDEX idx_phone_assets_holder ON phone_assets (current_user_employee_id)`,
			`CREATE INDEX idx_usage_history_employee ON asset_usage_history (employee_id)`,
		},
	},
	{
		Version: 3,
		Name:    "transfer_requests",
		Up: []string{
			`CREATE TABLE IF NOT EXISTS transfer_requests (
				id VARCHAR(64) PRIMARY KEY,
				phone_number VARCHAR(32) NOT NULL,
				from_employee_id BIGINT NOT NULL,
				to_employee_id BIGINT NOT NULL,
				remark VARCHAR(500) NOT NULL DEFAULT '',
				state VARCHAR(16) NOT NULL,
				created_at {{TS}} NOT NULL,
				resolved_at {{TS}} NULL
			)`,
			`CREATE INDEX idx_transfer_requests_phone ON transfer_requests (phone_number, state)`,
			`CREATE INDEX idx_transfer_requests_to ON transfer_requests (to_employee_id, state)`,
		},
		Partial: []string{
			`CREATE UNIQUE INDEX uq_transfer_requests_pending ON transfer_requests (phone_number) WHERE state = 'pending'`,
		},
	},
	{
		Version: 4,
		Name:    "inventory",
		Up: []string{
			`CREATE TABLE IF NOT EXISTS inventory_tasks (
				id VARCHAR(64) PRIMARY KEY,
				name VARCHAR(200) NOT NULL,
				due_at {{TS}} NOT NULL,
				scope_type VARCHAR(32) NOT NULL,
				status VARCHAR(16) NOT NULL,
				created_by BIGINT NOT NULL,
				created_at {{TS}} NOT NULL,
				closed_at {{TS}} NULL
			)`,
			`CREATE TABLE IF NOT EXISTS inventory_task_scopes (
				task_id VARCHAR(64) NOT NULL,
				value BIGINT NOT NULL,
				PRIMARY KEY (task_id, value)
			)`,
			`CREATE TABLE IF NOT EXISTS inventory_task_items (
				id VARCHAR(64) NOT NULL,
				task_id VARCHAR(64) NOT NULL,
				phone_number VARCHAR(32) NOT NULL,
				department_id BIGINT NOT NULL,
				employee_id BIGINT NOT NULL,
				status VARCHAR(16) NOT NULL,
				purpose VARCHAR(500) NULL,
				comment VARCHAR(1000) NULL,
				updated_at {{TS}} NOT NULL,
				PRIMARY KEY (task_id, id),
				UNIQUE (task_id, phone_number)
			)`,
			`CREATE TABLE IF NOT EXISTS unlisted_phone_reports (
				id VARCHAR(64) PRIMARY KEY,
				task_id VARCHAR(64) NOT NULL,
				employee_id BIGINT NOT NULL,
				phone_number VARCHAR(32) NOT NULL,
				purpose VARCHAR(500) NOT NULL DEFAULT '',
				comment VARCHAR(1000) NOT NULL DEFAULT '',
				created_at {{TS}} NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS task_submissions (
				task_id VARCHAR(64) NOT NULL,
				employee_id BIGINT NOT NULL,
				submitted_at {{TS}} NOT NULL,
				PRIMARY KEY (task_id, employee_id)
			)`,
			`CREATE INDEX idx_inventory_tasks_status ON inventory_tasks (status, due_at)`,
			`CREATE INDEX idx_inventory_task_items_employee ON inventory_task_items (employee_id)`,
			`CREATE INDEX idx_unlisted_reports_task ON unlisted_phone_reports (task_id)`,
		},
	},
}

// Migrate applies every pending migration to db.
func Migrate(ctx context.Context, db *sqlx.DB, logger *zap.Logger) ([]int64, error) {
	d, err := DialectFor(db.DriverName())
	if err != nil {
		return nil, err
	}
	return MigrateDialect(ctx, db, d, Migrations, logger)
}

// MigrateDialect applies migrations to db using the DDL flavour of d.
// Applied versions are recorded in schema_migrations and skipped later.
func MigrateDialect(ctx context.Context, db *sqlx.DB, d Dialect, migrations []Migration, logger *zap.Logger) ([]int64, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if _, err := db.ExecContext(ctx, d.Render(migrationsTable)); err != nil {
		return nil, fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	var done []int64
	if err := db.SelectContext(ctx, &done, `SELECT version FROM schema_migrations ORDER BY version`); err != nil {
		return nil, fmt.Errorf("failed to read schema_migrations: %w", err)
	}
	seen := make(map[int64]bool, len(done))
	for _, v := range done {
		seen[v] = true
	}

	var applied []int64
	for _, m := range migrations {
		if seen[m.Version] {
			continue
		}
		for _, stmt := range m.Statements(d) {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				return applied, fmt.Errorf("migration %d (%s): %w", m.Version, m.Name, err)
			}
		}
		if _, err := db.ExecContext(ctx, db.Rebind(`
			INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)`),
			m.Version, m.Name, time.Now().UTC()); err != nil {
			return applied, fmt.Errorf("failed to record migration %d: %w", m.Version, err)
		}
		logger.Info("migration applied", zap.Int64("version", m.Version), zap.String("name", m.Name))
		applied = append(applied, m.Version)
	}
	return applied, nil
}
