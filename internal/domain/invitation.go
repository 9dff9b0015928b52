package domain

import "time"

// InvitationStatus is the lifecycle state of an invitation.
type InvitationStatus string

const (
	InvitationStatusPending  InvitationStatus = "pending"
	InvitationStatusAccepted InvitationStatus = "accepted"
	InvitationStatusRejected InvitationStatus = "rejected"
)

// Terminal reports whether the status permits no further transitions.
func (s InvitationStatus) Terminal() bool {
	return s == InvitationStatusAccepted || s == InvitationStatusRejected
}

// Invitation is a pending grant of team membership addressed to an email.
// Email is stored normalized (trimmed, lower-cased) so the invited user can
// be matched at acceptance time before they ever had an account.
type Invitation struct {
	ID          string
	TeamID      string
	TeamName    string
	Email       string
	Role        Role
	InvitedBy   string
	Status      InvitationStatus
	AcceptedBy  string
	CreatedAt   time.Time
	RespondedAt time.Time
}
