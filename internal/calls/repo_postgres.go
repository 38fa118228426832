package calls

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"interview-platform/pkg/utils"

	"github.com/jackc/pgx/v5/pgconn"
)

// PostgresRepo persists sessions in the call_sessions / call_events tables
// (see db/schema.sql). The partial unique index on application_id WHERE
// status <> 'ended' is the hard backstop against two live sessions for one
// application; the in-transaction row lock is the fast path.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

const pgUniqueViolation = "23505"

func (r *PostgresRepo) BeginRinging(ctx context.Context, s Session, e Event) error {
	err := utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		var live int
		err := tx.QueryRowContext(ctx, `
			SELECT 1 FROM call_sessions
			WHERE application_id = $1 AND status <> $2
			FOR UPDATE`, s.ApplicationID, StatusEnded).Scan(&live)
		if err == nil {
			return ErrConflict
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO call_sessions
				(session_id, application_id, recruiter_ref, candidate_ref, call_type, status, started_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			s.SessionID, s.ApplicationID, s.RecruiterRef, s.CandidateRef, s.CallType, s.Status, s.StartedAt,
		); err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
				return ErrConflict
			}
			return err
		}

		return insertEvent(ctx, tx, e)
	})
	if err != nil {
		if errors.Is(err, ErrConflict) {
			return ErrConflict
		}
		return fmt.Errorf("calls: begin ringing %s: %w", s.ApplicationID, err)
	}
	return nil
}

func (r *PostgresRepo) Transition(ctx context.Context, applicationID string, expected []Status, next Status, e Event) (Session, error) {
	var out Session
	err := utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		s, err := latestSessionTx(ctx, tx, applicationID, true)
		if err != nil {
			return err
		}

		if !statusIn(s.Status, expected) {
			return ErrConflict
		}

		var endedAt *time.Time
		if next == StatusEnded {
			at := e.At
			endedAt = &at
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE call_sessions
			SET status = $1, ended_at = COALESCE($2, ended_at)
			WHERE session_id = $3 AND status = $4`,
			next, endedAt, s.SessionID, s.Status)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n != 1 {
			// Lost the race despite the row lock; treat as guard failure.
			return ErrConflict
		}

		e.SessionID = s.SessionID
		if err := insertEvent(ctx, tx, e); err != nil {
			return err
		}

		s.Status = next
		s.EndedAt = endedAt
		out = s
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrConflict) || errors.Is(err, ErrNotFound) {
			return Session{}, err
		}
		return Session{}, fmt.Errorf("calls: transition %s -> %s: %w", applicationID, next, err)
	}

	events, err := r.loadEvents(ctx, out.SessionID)
	if err != nil {
		return Session{}, err
	}
	out.Events = events
	return out, nil
}

func (r *PostgresRepo) Latest(ctx context.Context, applicationID string) (Session, error) {
	var out Session
	err := utils.WithTx(ctx, r.db, &sql.TxOptions{ReadOnly: true}, func(ctx context.Context, tx *sql.Tx) error {
		s, err := latestSessionTx(ctx, tx, applicationID, false)
		if err != nil {
			return err
		}
		out = s
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Session{}, ErrNotFound
		}
		return Session{}, fmt.Errorf("calls: latest %s: %w", applicationID, err)
	}

	events, err := r.loadEvents(ctx, out.SessionID)
	if err != nil {
		return Session{}, err
	}
	out.Events = events
	return out, nil
}

func latestSessionTx(ctx context.Context, tx *sql.Tx, applicationID string, forUpdate bool) (Session, error) {
	q := `
		SELECT session_id, application_id, recruiter_ref, candidate_ref, call_type, status, started_at, ended_at
		FROM call_sessions
		WHERE application_id = $1
		ORDER BY started_at DESC, session_id DESC
		LIMIT 1`
	if forUpdate {
		q += `
		FOR UPDATE`
	}

	var s Session
	err := tx.QueryRowContext(ctx, q, applicationID).Scan(
		&s.SessionID, &s.ApplicationID, &s.RecruiterRef, &s.CandidateRef,
		&s.CallType, &s.Status, &s.StartedAt, &s.EndedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, err
	}
	return s, nil
}

func insertEvent(ctx context.Context, tx *sql.Tx, e Event) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO call_events (id, session_id, type, by_role, at, reason)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.SessionID, e.Type, e.ByRole, e.At, e.Reason)
	return err
}

func (r *PostgresRepo) loadEvents(ctx context.Context, sessionID string) ([]Event, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, session_id, type, by_role, at, reason
		FROM call_events
		WHERE session_id = $1
		ORDER BY at ASC, id ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("calls: load events %s: %w", sessionID, err)
	}
	defer rows.Close()

	out := make([]Event, 0, 4)
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Type, &e.ByRole, &e.At, &e.Reason); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func statusIn(s Status, set []Status) bool {
	for _, v := range set {
		if s == v {
			return true
		}
	}
	return false
}
