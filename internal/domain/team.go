package domain

import "time"

// Team is the tenancy boundary for prompts and membership.
type Team struct {
	ID        string
	Name      string
	OwnerID   string
	CreatedAt time.Time
}

// TeamMember links a user to a team with a role. Membership is stored one
// row per member so role changes and removals never rewrite the whole set.
type TeamMember struct {
	TeamID    string
	UserID    string
	Role      Role
	CreatedAt time.Time
}
