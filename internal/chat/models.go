package chat

import "time"

// Thread is the per-application transcript container. Created lazily on the
// first send, seeded with the application's participants.
type Thread struct {
	ApplicationID string    `json:"application_id" db:"application_id"`
	RecruiterRef  string    `json:"recruiter_ref" db:"recruiter_ref"`
	CandidateRef  string    `json:"candidate_ref" db:"candidate_ref"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// Message is immutable once created: never edited, never deleted. Ordering
// is creation order, both in storage and in delivery.
type Message struct {
	ID            string    `json:"id" db:"id"`
	ApplicationID string    `json:"application_id" db:"application_id"`
	SenderRole    string    `json:"sender_role" db:"sender_role"`
	SenderRef     string    `json:"sender_ref" db:"sender_ref"`
	Text          string    `json:"text" db:"text"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}
