package calls

import "time"

// Session is the persisted authoritative record of an interview call.
//
// Invariants:
// - At most one non-ended session per application at any time.
// - Status only moves ringing -> ongoing -> ended (reject/end short-circuit
//   to ended). "idle" is the absence of a session.
// - Events are append-only and strictly time-ordered; exactly one event per
//   successful transition.
//
// A new start after "ended" creates a fresh session row with a new
// SessionID, so a finished interview's event log stays intact.
type Session struct {
	SessionID     string     `json:"session_id" db:"session_id"`
	ApplicationID string     `json:"application_id" db:"application_id"`
	RecruiterRef  string     `json:"recruiter_ref" db:"recruiter_ref"`
	CandidateRef  string     `json:"candidate_ref" db:"candidate_ref"`
	CallType      CallType   `json:"call_type" db:"call_type"`
	Status        Status     `json:"status" db:"status"`
	StartedAt     time.Time  `json:"started_at" db:"started_at"`
	EndedAt       *time.Time `json:"ended_at,omitempty" db:"ended_at"`

	// Events is populated on reads; writes append through the repository.
	Events []Event `json:"events"`
}

type CallType string

const (
	CallTypeVideo CallType = "video"
	CallTypeAudio CallType = "audio"
)

func (t CallType) Valid() bool {
	return t == CallTypeVideo || t == CallTypeAudio
}

type Status string

const (
	StatusRinging Status = "ringing"
	StatusOngoing Status = "ongoing"
	StatusEnded   Status = "ended"
)

// Event is an immutable call lifecycle record. Created only as a side effect
// of a session transition; never mutated or deleted.
type Event struct {
	ID        string    `json:"id" db:"id"`
	SessionID string    `json:"-" db:"session_id"`
	Type      EventType `json:"type" db:"type"`
	ByRole    string    `json:"by_role" db:"by_role"`
	At        time.Time `json:"at" db:"at"`
	Reason    string    `json:"reason,omitempty" db:"reason"`
}

type EventType string

const (
	EventStarted  EventType = "started"
	EventAccepted EventType = "accepted"
	EventRejected EventType = "rejected"
	EventEnded    EventType = "ended"
)
