// Package statestore persists per-browser-session login state. The
// replay-sensitive transition is one storage transaction: the assertion id
// insert hits a uniqueness constraint and the phase update is a
// compare-and-swap, so two near-simultaneous assertion consumers for the
// same session cannot both pass.
package statestore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/DonutsNL/samlbridge/internal/adapters/driven/dbclient"
	"github.com/DonutsNL/samlbridge/internal/core/domain"
)

// SQLStore is the database-backed login state store.
type SQLStore struct {
	db     *sql.DB
	driver string
}

// NewSQLStore creates a SQL login state store.
func NewSQLStore(db *sql.DB, driver string) *SQLStore {
	return &SQLStore{db: db, driver: driver}
}

const stateColumns = `id, session_id, cookie_name, user_id, idp_id, phase, request_id, assertion_id, audit, created_at, updated_at`

func (s *SQLStore) getBy(ctx context.Context, column, value string) (*domain.LoginState, error) {
	query := dbclient.Rebind(s.driver, `SELECT `+stateColumns+` FROM login_states WHERE `+column+` = ?`)
	row := s.db.QueryRowContext(ctx, query, value)
	state := &domain.LoginState{}
	var phase int
	err := row.Scan(&state.ID, &state.SessionID, &state.CookieName, &state.UserID, &state.IdPID,
		&phase, &state.RequestID, &state.AssertionID, &state.Audit,
		&state.CreatedAt, &state.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrStateNotFound
	}
	if err != nil {
		return nil, err
	}
	state.Phase = domain.Phase(phase)
	return state, nil
}

// GetBySessionID returns the state for a browser session.
func (s *SQLStore) GetBySessionID(ctx context.Context, sessionID string) (*domain.LoginState, error) {
	return s.getBy(ctx, "session_id", sessionID)
}

// GetByRequestID returns the state that issued an AuthnRequest.
func (s *SQLStore) GetByRequestID(ctx context.Context, requestID string) (*domain.LoginState, error) {
	return s.getBy(ctx, "request_id", requestID)
}

// Save inserts a new state or updates an existing one.
func (s *SQLStore) Save(ctx context.Context, state *domain.LoginState) error {
	now := time.Now().UTC()
	state.UpdatedAt = now
	if state.ID == 0 {
		state.CreatedAt = now
		query := dbclient.Rebind(s.driver, `INSERT INTO login_states
			(session_id, cookie_name, user_id, idp_id, phase, request_id, assertion_id, audit, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		res, err := s.db.ExecContext(ctx, query,
			state.SessionID, state.CookieName, state.UserID, state.IdPID, int(state.Phase),
			state.RequestID, state.AssertionID, state.Audit,
			state.CreatedAt, state.UpdatedAt)
		if err != nil {
			return err
		}
		// Postgres through lib/pq does not support LastInsertId; re-read
		// by the unique session id instead.
		if id, err := res.LastInsertId(); err == nil && id != 0 {
			state.ID = id
			return nil
		}
		saved, err := s.GetBySessionID(ctx, state.SessionID)
		if err != nil {
			return err
		}
		state.ID = saved.ID
		return nil
	}
	query := dbclient.Rebind(s.driver, `UPDATE login_states SET
		session_id = ?, cookie_name = ?, user_id = ?, idp_id = ?, phase = ?,
		request_id = ?, assertion_id = ?, audit = ?, updated_at = ?
		WHERE id = ?`)
	_, err := s.db.ExecContext(ctx, query,
		state.SessionID, state.CookieName, state.UserID, state.IdPID, int(state.Phase),
		state.RequestID, state.AssertionID, state.Audit,
		state.UpdatedAt, state.ID)
	return err
}

// Transition performs a compare-and-swap on the phase.
func (s *SQLStore) Transition(ctx context.Context, stateID int64, from, to domain.Phase) error {
	query := dbclient.Rebind(s.driver, `UPDATE login_states SET phase = ?, updated_at = ? WHERE id = ? AND phase = ?`)
	res, err := s.db.ExecContext(ctx, query, int(to), time.Now().UTC(), stateID, int(from))
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrPhaseConflict
	}
	return nil
}

// TransitionWithAssertion atomically burns the assertion id and advances
// the phase. The assertion insert runs first so a duplicate is rejected
// by the primary key before the phase is touched.
func (s *SQLStore) TransitionWithAssertion(ctx context.Context, stateID int64, from, to domain.Phase, assertionID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	insert := dbclient.Rebind(s.driver, `INSERT INTO used_assertions (assertion_id, state_id, used_at) VALUES (?, ?, ?)`)
	if _, err := tx.ExecContext(ctx, insert, assertionID, stateID, now); err != nil {
		if dbclient.IsUniqueViolation(err) {
			return domain.ErrAssertionReplayed
		}
		return err
	}

	update := dbclient.Rebind(s.driver, `UPDATE login_states SET phase = ?, assertion_id = ?, updated_at = ? WHERE id = ? AND phase = ?`)
	res, err := tx.ExecContext(ctx, update, int(to), assertionID, now, stateID, int(from))
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrPhaseConflict
	}

	return tx.Commit()
}

// DeleteIdle removes states idle since before the cutoff, together with
// their used-assertion records.
func (s *SQLStore) DeleteIdle(ctx context.Context, cutoff time.Time) (int64, error) {
	prune := dbclient.Rebind(s.driver, `DELETE FROM used_assertions WHERE state_id IN (SELECT id FROM login_states WHERE updated_at < ?)`)
	if _, err := s.db.ExecContext(ctx, prune, cutoff.UTC()); err != nil {
		return 0, err
	}
	query := dbclient.Rebind(s.driver, `DELETE FROM login_states WHERE updated_at < ?`)
	res, err := s.db.ExecContext(ctx, query, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
