package models

// Role is the caller role carried in the bearer token.
type Role string

const (
	RoleAdmin       Role = "admin"
	RoleInstructor  Role = "instructor"
	RoleParticipant Role = "participant"
)

// CanManage reports whether the role may drive the lifecycle of a live.
func (r Role) CanManage() bool {
	return r == RoleAdmin || r == RoleInstructor
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleInstructor, RoleParticipant:
		return true
	}
	return false
}
