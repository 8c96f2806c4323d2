// Package excludestore persists the ordered path-exclusion rules that let
// machine-to-machine endpoints bypass SAML enforcement.
package excludestore

import (
	"context"
	"database/sql"

	"github.com/DonutsNL/samlbridge/internal/adapters/driven/dbclient"
	"github.com/DonutsNL/samlbridge/internal/core/domain"
)

// SQLStore is the database-backed exclusion rule store.
type SQLStore struct {
	db     *sql.DB
	driver string
}

// NewSQLStore creates a SQL exclusion rule store.
func NewSQLStore(db *sql.DB, driver string) *SQLStore {
	return &SQLStore{db: db, driver: driver}
}

// List returns all rules in evaluation order.
func (s *SQLStore) List(ctx context.Context) (domain.ExcludeList, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, path, user_agent, bypass FROM exclude_rules ORDER BY sort_order, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var rules domain.ExcludeList
	for rows.Next() {
		var rule domain.ExcludeRule
		var bypass int
		if err := rows.Scan(&rule.ID, &rule.Name, &rule.Path, &rule.UserAgent, &bypass); err != nil {
			return nil, err
		}
		rule.Bypass = bypass != 0
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// Save inserts or updates a rule.
func (s *SQLStore) Save(ctx context.Context, rule *domain.ExcludeRule) error {
	bypass := 0
	if rule.Bypass {
		bypass = 1
	}
	if rule.ID == 0 {
		if s.driver == dbclient.DriverPostgres {
			query := dbclient.Rebind(s.driver,
				`INSERT INTO exclude_rules (name, path, user_agent, bypass) VALUES (?, ?, ?, ?) RETURNING id`)
			return s.db.QueryRowContext(ctx, query, rule.Name, rule.Path, rule.UserAgent, bypass).Scan(&rule.ID)
		}
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO exclude_rules (name, path, user_agent, bypass) VALUES (?, ?, ?, ?)`,
			rule.Name, rule.Path, rule.UserAgent, bypass)
		if err != nil {
			return err
		}
		rule.ID, err = res.LastInsertId()
		return err
	}
	query := dbclient.Rebind(s.driver,
		`UPDATE exclude_rules SET name = ?, path = ?, user_agent = ?, bypass = ? WHERE id = ?`)
	_, err := s.db.ExecContext(ctx, query, rule.Name, rule.Path, rule.UserAgent, bypass, rule.ID)
	return err
}

// Delete removes a rule.
func (s *SQLStore) Delete(ctx context.Context, id int64) error {
	query := dbclient.Rebind(s.driver, `DELETE FROM exclude_rules WHERE id = ?`)
	_, err := s.db.ExecContext(ctx, query, id)
	return err
}
