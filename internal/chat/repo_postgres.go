package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"interview-platform/pkg/utils"
)

// PostgresRepo stores threads in chat_threads and messages in chat_messages
// (see db/schema.sql). Messages carry a bigserial seq column so creation
// order survives equal timestamps.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Append(ctx context.Context, t Thread, m Message) error {
	err := utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO chat_threads (application_id, recruiter_ref, candidate_ref, created_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (application_id) DO NOTHING`,
			t.ApplicationID, t.RecruiterRef, t.CandidateRef, t.CreatedAt,
		); err != nil {
			return err
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO chat_messages (id, application_id, sender_role, sender_ref, text, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			m.ID, m.ApplicationID, m.SenderRole, m.SenderRef, m.Text, m.CreatedAt)
		return err
	})
	if err != nil {
		return fmt.Errorf("chat: append %s: %w", t.ApplicationID, err)
	}
	return nil
}

func (r *PostgresRepo) Messages(ctx context.Context, applicationID string, limit int) ([]Message, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT true FROM chat_threads WHERE application_id = $1`, applicationID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("chat: thread lookup %s: %w", applicationID, err)
	}

	q := `
		SELECT id, application_id, sender_role, sender_ref, text, created_at
		FROM chat_messages
		WHERE application_id = $1
		ORDER BY seq ASC`
	args := []any{applicationID}
	if limit > 0 {
		// Cap from the tail so the newest messages stay readable once the
		// transcript outgrows the limit.
		q = `
		SELECT id, application_id, sender_role, sender_ref, text, created_at
		FROM (
			SELECT seq, id, application_id, sender_role, sender_ref, text, created_at
			FROM chat_messages
			WHERE application_id = $1
			ORDER BY seq DESC
			LIMIT $2
		) tail
		ORDER BY seq ASC`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("chat: messages %s: %w", applicationID, err)
	}
	defer rows.Close()

	out := make([]Message, 0, 32)
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ApplicationID, &m.SenderRole, &m.SenderRef, &m.Text, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
