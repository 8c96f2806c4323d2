// Package directory implements the user-directory port over the gateway's
// local user table. Real deployments can substitute an adapter backed by
// the protected application's own user store.
package directory

import (
	"context"
	"database/sql"
	"errors"

	"github.com/DonutsNL/samlbridge/internal/adapters/driven/dbclient"
	"github.com/DonutsNL/samlbridge/internal/core/domain"
)

// SQLDirectory is the database-backed user directory.
type SQLDirectory struct {
	db     *sql.DB
	driver string
}

// NewSQLDirectory creates a SQL user directory.
func NewSQLDirectory(db *sql.DB, driver string) *SQLDirectory {
	return &SQLDirectory{db: db, driver: driver}
}

const userColumns = `id, name, email, realname, firstname, phone, mobile, is_active, is_deleted, password_hash, profile_id, entity_id, group_id, recursive`

func (d *SQLDirectory) findBy(ctx context.Context, column, value string) (*domain.LocalUser, error) {
	query := dbclient.Rebind(d.driver, `SELECT `+userColumns+` FROM local_users WHERE `+column+` = ?`)
	row := d.db.QueryRowContext(ctx, query, value)
	user := &domain.LocalUser{}
	var active, deleted, recursive int
	err := row.Scan(&user.ID, &user.Name, &user.Email, &user.RealName, &user.Firstname,
		&user.Phone, &user.Mobile, &active, &deleted, &user.PasswordHash,
		&user.ProfileID, &user.EntityID, &user.GroupID, &recursive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	user.Active = active != 0
	user.Deleted = deleted != 0
	user.Recursive = recursive != 0
	return user, nil
}

// FindByName looks a user up by account name.
func (d *SQLDirectory) FindByName(ctx context.Context, name string) (*domain.LocalUser, error) {
	return d.findBy(ctx, "name", name)
}

// FindByEmail looks a user up by email address.
func (d *SQLDirectory) FindByEmail(ctx context.Context, email string) (*domain.LocalUser, error) {
	return d.findBy(ctx, "email", email)
}

// Create inserts a new account and fills in its id.
func (d *SQLDirectory) Create(ctx context.Context, user *domain.LocalUser) error {
	active, deleted, recursive := 0, 0, 0
	if user.Active {
		active = 1
	}
	if user.Deleted {
		deleted = 1
	}
	if user.Recursive {
		recursive = 1
	}
	args := []any{user.Name, user.Email, user.RealName, user.Firstname, user.Phone, user.Mobile,
		active, deleted, user.PasswordHash, user.ProfileID, user.EntityID, user.GroupID, recursive}
	if d.driver == dbclient.DriverPostgres {
		query := dbclient.Rebind(d.driver, `INSERT INTO local_users
			(name, email, realname, firstname, phone, mobile, is_active, is_deleted, password_hash, profile_id, entity_id, group_id, recursive)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`)
		return d.db.QueryRowContext(ctx, query, args...).Scan(&user.ID)
	}
	res, err := d.db.ExecContext(ctx, `INSERT INTO local_users
		(name, email, realname, firstname, phone, mobile, is_active, is_deleted, password_hash, profile_id, entity_id, group_id, recursive)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...)
	if err != nil {
		return err
	}
	user.ID, err = res.LastInsertId()
	return err
}
