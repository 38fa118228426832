package rbac

// Role names. Keep these stable; they are part of the auth contract and are
// persisted on call events and chat messages as the acting side.
//
// "provider" is the recruiter side of an application, "seeker" the candidate
// side. "admin" exists for operational tooling only and is never a call
// participant.
const (
	RoleProvider = "provider"
	RoleSeeker   = "seeker"
	RoleAdmin    = "admin"
)

func IsAdmin(role string) bool { return role == RoleAdmin }

// IsParticipantRole reports whether the role can take part in an interview
// room (call or chat).
func IsParticipantRole(role string) bool {
	return role == RoleProvider || role == RoleSeeker
}
