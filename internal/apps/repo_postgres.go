package apps

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PostgresDirectory reads the applications table owned by the job-board CRUD
// service. Read-only from this process.
type PostgresDirectory struct {
	db *sql.DB
}

func NewPostgresDirectory(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

func (d *PostgresDirectory) Participants(ctx context.Context, applicationID string) (Participants, error) {
	if applicationID == "" {
		return Participants{}, ErrUnknownApplication
	}

	const q = `
		SELECT recruiter_ref, candidate_ref
		FROM applications
		WHERE application_id = $1`

	var out Participants
	err := d.db.QueryRowContext(ctx, q, applicationID).Scan(&out.RecruiterRef, &out.CandidateRef)
	if errors.Is(err, sql.ErrNoRows) {
		return Participants{}, ErrUnknownApplication
	}
	if err != nil {
		return Participants{}, fmt.Errorf("apps: lookup %s: %w", applicationID, err)
	}
	return out, nil
}
