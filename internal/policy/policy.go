// Package policy provides authorization decisions for team actions.
//
// Decisions are pure functions over the acting member's role and, for
// prompt actions, the prompt's creator. Nothing here performs I/O; callers
// load the actor's membership and must treat a denial as final rather than
// downgrading the requested action.
package policy

import (
	"errors"

	"github.com/splax/promptstash/internal/domain"
)

// Action represents an operation subject to a policy decision.
type Action int

const (
	// ActionReadTeam allows reading a team, its members and its prompts.
	ActionReadTeam Action = iota + 1
	// ActionInviteMember allows creating and cancelling invitations.
	ActionInviteMember
	// ActionChangeRole allows changing another member's role.
	ActionChangeRole
	// ActionRemoveMember allows removing a member from the team.
	ActionRemoveMember
	// ActionDeleteTeam allows deleting the team and its resources.
	ActionDeleteTeam
	// ActionCreatePrompt allows adding prompts to the team library.
	ActionCreatePrompt
	// ActionEditPrompt allows editing a prompt's content.
	ActionEditPrompt
	// ActionDeletePrompt allows deleting a prompt.
	ActionDeletePrompt
	// ActionRatePrompt allows rating a prompt.
	ActionRatePrompt
	// ActionComment allows commenting on a prompt.
	ActionComment
)

var (
	// ErrPermissionDenied indicates the actor's role does not allow the action.
	ErrPermissionDenied = errors.New("policy: permission denied")
	// ErrInvalidOperation indicates the action is structurally disallowed
	// regardless of role, such as removing the team owner.
	ErrInvalidOperation = errors.New("policy: invalid operation")
)

// Actor identifies the acting member. A user who is not a member of the
// relevant team has an empty Role and is denied everything.
type Actor struct {
	UserID string
	Role   domain.Role
}

// Target carries the resource attributes a decision may depend on.
// CreatorID is only consulted for prompt edit/delete actions.
type Target struct {
	CreatorID string
}

// Can reports whether the actor may perform the action. Deny by default.
func Can(actor Actor, action Action, target Target) bool {
	if !actor.Role.Valid() {
		return false
	}
	switch action {
	case ActionReadTeam, ActionCreatePrompt, ActionRatePrompt, ActionComment:
		return true
	case ActionEditPrompt, ActionDeletePrompt:
		if actor.Role.AtLeast(domain.RoleAdmin) {
			return true
		}
		return target.CreatorID != "" && target.CreatorID == actor.UserID
	case ActionInviteMember, ActionRemoveMember:
		return actor.Role.AtLeast(domain.RoleAdmin)
	case ActionChangeRole, ActionDeleteTeam:
		return actor.Role == domain.RoleOwner
	}
	return false
}

// Authorize returns ErrPermissionDenied when Can denies the action.
func Authorize(actor Actor, action Action, target Target) error {
	if !Can(actor, action, target) {
		return ErrPermissionDenied
	}
	return nil
}

// AuthorizeRemoveMember checks removal of targetID from the team. The team
// owner can never be removed, and members cannot remove themselves.
func AuthorizeRemoveMember(actor Actor, team domain.Team, targetID string) error {
	if err := Authorize(actor, ActionRemoveMember, Target{}); err != nil {
		return err
	}
	if targetID == team.OwnerID || targetID == actor.UserID {
		return ErrInvalidOperation
	}
	return nil
}

// AuthorizeChangeRole checks a role change for targetID. The owner's role is
// immutable, and no change may produce a second owner.
func AuthorizeChangeRole(actor Actor, team domain.Team, targetID string, newRole domain.Role) error {
	if err := Authorize(actor, ActionChangeRole, Target{}); err != nil {
		return err
	}
	if targetID == team.OwnerID {
		return ErrInvalidOperation
	}
	if newRole == domain.RoleOwner {
		return ErrInvalidOperation
	}
	return nil
}
