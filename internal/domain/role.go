package domain

// Role is a per-team authorization level.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// Valid reports whether the role is one of the known levels.
func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleMember:
		return true
	}
	return false
}

// Level returns the ordering rank of the role (owner > admin > member).
// Unknown roles rank below member.
func (r Role) Level() int {
	switch r {
	case RoleOwner:
		return 3
	case RoleAdmin:
		return 2
	case RoleMember:
		return 1
	}
	return 0
}

// AtLeast reports whether the role grants at least the other role's level.
func (r Role) AtLeast(other Role) bool {
	return r.Level() >= other.Level()
}
