// Package configstore persists IdP configurations as raw field values.
// Every load runs the rows back through the domain validation pipeline,
// so configurations are re-validated on each use and never cached.
package configstore

import (
	"context"
	"database/sql"
	"errors"
	"sort"

	"github.com/DonutsNL/samlbridge/internal/adapters/driven/dbclient"
	"github.com/DonutsNL/samlbridge/internal/core/domain"
)

// configFields is the column order used by every query in this package.
var configFields = []string{
	domain.FieldName, domain.FieldActive, domain.FieldEnforced, domain.FieldStrict,
	domain.FieldDebug, domain.FieldProxied, domain.FieldJIT, domain.FieldUserDomain,
	domain.FieldSPCertificate, domain.FieldSPPrivateKey, domain.FieldIdPEntityID,
	domain.FieldIdPSSOURL, domain.FieldIdPSLOURL, domain.FieldIdPCertificate,
	domain.FieldAuthnContext, domain.FieldAuthnComparison, domain.FieldSignAuthn,
	domain.FieldSignSLORequest, domain.FieldSignSLOResponse, domain.FieldEncryptNameID,
}

// SQLStore is the database-backed IdP configuration store.
type SQLStore struct {
	db     *sql.DB
	driver string
}

// NewSQLStore creates a SQL configuration store.
func NewSQLStore(db *sql.DB, driver string) *SQLStore {
	return &SQLStore{db: db, driver: driver}
}

func columnList() string {
	cols := "id"
	for _, f := range configFields {
		cols += ", " + f
	}
	return cols
}

func scanConfig(scan func(dest ...any) error) (*domain.IdPConfig, error) {
	var id int64
	values := make([]string, len(configFields))
	dest := make([]any, 0, len(configFields)+1)
	dest = append(dest, &id)
	for i := range values {
		dest = append(dest, &values[i])
	}
	if err := scan(dest...); err != nil {
		return nil, err
	}
	raw := make(map[string]string, len(configFields))
	for i, f := range configFields {
		raw[f] = values[i]
	}
	return domain.LoadIdPConfig(id, raw), nil
}

// GetByID loads and validates one configuration.
func (s *SQLStore) GetByID(ctx context.Context, id int64) (*domain.IdPConfig, error) {
	query := dbclient.Rebind(s.driver, `SELECT `+columnList()+` FROM idp_configs WHERE id = ?`)
	row := s.db.QueryRowContext(ctx, query, id)
	cfg, err := scanConfig(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.IdPNotFoundError(id)
	}
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// List loads every configuration, including invalid ones so field errors
// can be surfaced on the admin screen.
func (s *SQLStore) List(ctx context.Context) ([]*domain.IdPConfig, error) {
	query := `SELECT ` + columnList() + ` FROM idp_configs ORDER BY id`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var configs []*domain.IdPConfig
	for rows.Next() {
		cfg, err := scanConfig(rows.Scan)
		if err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}
	return configs, rows.Err()
}

// Save persists raw field values. Unknown field names are dropped here;
// the validation pipeline already reported them when the form was checked.
func (s *SQLStore) Save(ctx context.Context, id int64, raw map[string]string) (int64, error) {
	fields := make([]string, 0, len(raw))
	for f := range raw {
		if knownField(f) {
			fields = append(fields, f)
		}
	}
	sort.Strings(fields)

	args := make([]any, 0, len(fields)+1)
	if id == 0 {
		cols, marks := "", ""
		for i, f := range fields {
			if i > 0 {
				cols += ", "
				marks += ", "
			}
			cols += f
			marks += "?"
			args = append(args, raw[f])
		}
		if s.driver == dbclient.DriverPostgres {
			query := dbclient.Rebind(s.driver, `INSERT INTO idp_configs (`+cols+`) VALUES (`+marks+`) RETURNING id`)
			var newID int64
			if err := s.db.QueryRowContext(ctx, query, args...).Scan(&newID); err != nil {
				return 0, err
			}
			return newID, nil
		}
		query := `INSERT INTO idp_configs (` + cols + `) VALUES (` + marks + `)`
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return 0, err
		}
		return res.LastInsertId()
	}

	set := ""
	for i, f := range fields {
		if i > 0 {
			set += ", "
		}
		set += f + " = ?"
		args = append(args, raw[f])
	}
	args = append(args, id)
	query := dbclient.Rebind(s.driver, `UPDATE idp_configs SET `+set+` WHERE id = ?`)
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return 0, err
	}
	return id, nil
}

// Delete removes a configuration.
func (s *SQLStore) Delete(ctx context.Context, id int64) error {
	query := dbclient.Rebind(s.driver, `DELETE FROM idp_configs WHERE id = ?`)
	_, err := s.db.ExecContext(ctx, query, id)
	return err
}

func knownField(name string) bool {
	for _, f := range configFields {
		if f == name {
			return true
		}
	}
	return false
}
