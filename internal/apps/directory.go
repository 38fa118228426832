package apps

import (
	"context"
	"errors"

	"interview-platform/internal/rbac"
)

// Participants are the two parties of a job application. The job-board CRUD
// side owns the applications table; the interview core only reads it to
// authorize room activity and to seed chat threads.
type Participants struct {
	RecruiterRef string
	CandidateRef string
}

var ErrUnknownApplication = errors.New("apps: unknown application")

// Directory resolves an application id to its participants.
type Directory interface {
	Participants(ctx context.Context, applicationID string) (Participants, error)
}

// RoleOf returns the role the given principal plays in the application, or
// "" when the principal is not a party to it.
func (p Participants) RoleOf(userID string) string {
	switch userID {
	case p.RecruiterRef:
		return rbac.RoleProvider
	case p.CandidateRef:
		return rbac.RoleSeeker
	default:
		return ""
	}
}
