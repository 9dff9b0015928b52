// Package invitation owns the invitation lifecycle. Status transitions are
// centralized here: pending is the only live state, accepted and rejected
// are terminal, and nothing resurrects a terminal invitation.
package invitation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/splax/promptstash/internal/domain"
	"github.com/splax/promptstash/internal/mailer"
	"github.com/splax/promptstash/internal/policy"
	"github.com/splax/promptstash/internal/repository"
	"github.com/splax/promptstash/internal/service/activity"
	"github.com/splax/promptstash/pkg/config"
)

var (
	// ErrDuplicateInvitation indicates a pending invitation already exists
	// for the same team and email.
	ErrDuplicateInvitation = errors.New("invitation: pending invitation already exists")
	// ErrInvitationClosed indicates the invitation reached a terminal state
	// that conflicts with the requested transition.
	ErrInvitationClosed = errors.New("invitation: already responded to")
	// ErrInvalidRole indicates an invitation role other than member or admin.
	ErrInvalidRole = errors.New("invitation: role must be member or admin")
)

// Service handles invitation workflows.
type Service struct {
	invitations repository.InvitationRepository
	teams       repository.TeamRepository
	users       repository.UserRepository
	mail        mailer.Mailer
	events      activity.Recorder
	logger      *slog.Logger
	cfg         config.APIConfig
}

// New constructs a Service.
func New(invitations repository.InvitationRepository, teams repository.TeamRepository, users repository.UserRepository, mail mailer.Mailer, events activity.Recorder, logger *slog.Logger, cfg config.APIConfig) Service {
	return Service{invitations: invitations, teams: teams, users: users, mail: mail, events: events, logger: logger, cfg: cfg}
}

// CreateResult reports a created invitation together with the outcome of
// the email side channel. Delivery failure never invalidates the
// invitation; the invitee still finds it by listing their pending
// invitations.
type CreateResult struct {
	Invitation *domain.Invitation
	EmailErr   error
}

// Create persists a new pending invitation and notifies the invitee.
func (s Service) Create(ctx context.Context, actorID, teamID, email string, role domain.Role) (*CreateResult, error) {
	if role != domain.RoleMember && role != domain.RoleAdmin {
		return nil, ErrInvalidRole
	}
	normalized, err := domain.NormalizeEmail(email)
	if err != nil {
		return nil, err
	}
	team, actor, err := s.loadActor(ctx, teamID, actorID)
	if err != nil {
		return nil, err
	}
	if err := policy.Authorize(actor, policy.ActionInviteMember, policy.Target{}); err != nil {
		return nil, err
	}

	invitation := &domain.Invitation{
		ID:        uuid.NewString(),
		TeamID:    team.ID,
		TeamName:  team.Name,
		Email:     normalized,
		Role:      role,
		InvitedBy: actorID,
		Status:    domain.InvitationStatusPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.invitations.CreateInvitation(ctx, invitation); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrDuplicateInvitation
		}
		return nil, err
	}
	s.logger.Info("invitation created", "invitation_id", invitation.ID, "team_id", teamID)
	s.record(ctx, teamID, actorID, "invitation_created", fmt.Sprintf("%s invited as %s", normalized, role))

	result := &CreateResult{Invitation: invitation}
	if err := s.sendEmail(ctx, invitation, actorID); err != nil {
		s.logger.Warn("invitation email delivery failed", "invitation_id", invitation.ID, "error", err)
		result.EmailErr = err
	}
	return result, nil
}

// ListPendingForEmail returns all pending invitations addressed to the
// email, across every team, from the global invitation collection.
func (s Service) ListPendingForEmail(ctx context.Context, email string) ([]domain.Invitation, error) {
	normalized, err := domain.NormalizeEmail(email)
	if err != nil {
		return nil, err
	}
	return s.invitations.ListPendingByEmail(ctx, normalized)
}

// ListPendingForTeam returns a team's open invitations.
func (s Service) ListPendingForTeam(ctx context.Context, actorID, teamID string) ([]domain.Invitation, error) {
	_, actor, err := s.loadActor(ctx, teamID, actorID)
	if err != nil {
		return nil, err
	}
	if err := policy.Authorize(actor, policy.ActionInviteMember, policy.Target{}); err != nil {
		return nil, err
	}
	return s.invitations.ListPendingByTeam(ctx, teamID)
}

// Accept grants the invited role to user. Only the principal whose email
// matches the invitation may accept. Accepting twice is a no-op that still
// reports success; accepting a rejected invitation fails.
func (s Service) Accept(ctx context.Context, user *domain.User, invitationID string) (*domain.Invitation, error) {
	invitation, err := s.invitations.GetInvitationByID(ctx, invitationID)
	if err != nil {
		return nil, err
	}
	if err := s.matchInvitee(user, invitation); err != nil {
		return nil, err
	}
	switch invitation.Status {
	case domain.InvitationStatusAccepted:
		return invitation, nil
	case domain.InvitationStatusRejected:
		return nil, ErrInvitationClosed
	}

	now := time.Now().UTC()
	member := &domain.TeamMember{
		TeamID:    invitation.TeamID,
		UserID:    user.ID,
		Role:      invitation.Role,
		CreatedAt: now,
	}
	if err := s.invitations.AcceptInvitation(ctx, invitation.ID, member, now); err != nil {
		return nil, err
	}
	invitation.Status = domain.InvitationStatusAccepted
	invitation.AcceptedBy = user.ID
	invitation.RespondedAt = now
	s.logger.Info("invitation accepted", "invitation_id", invitation.ID, "team_id", invitation.TeamID, "user_id", user.ID)
	s.record(ctx, invitation.TeamID, user.ID, "member_joined", fmt.Sprintf("%s joined as %s", user.DisplayName, invitation.Role))
	return invitation, nil
}

// Reject declines a pending invitation. Rejecting twice is a no-op;
// rejecting an accepted invitation fails.
func (s Service) Reject(ctx context.Context, user *domain.User, invitationID string) (*domain.Invitation, error) {
	invitation, err := s.invitations.GetInvitationByID(ctx, invitationID)
	if err != nil {
		return nil, err
	}
	if err := s.matchInvitee(user, invitation); err != nil {
		return nil, err
	}
	switch invitation.Status {
	case domain.InvitationStatusRejected:
		return invitation, nil
	case domain.InvitationStatusAccepted:
		return nil, ErrInvitationClosed
	}

	now := time.Now().UTC()
	if err := s.invitations.MarkRejected(ctx, invitation.ID, now); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvitationClosed
		}
		return nil, err
	}
	invitation.Status = domain.InvitationStatusRejected
	invitation.RespondedAt = now
	s.logger.Info("invitation rejected", "invitation_id", invitation.ID, "team_id", invitation.TeamID)
	return invitation, nil
}

// Cancel withdraws a still-pending invitation on behalf of a team admin.
func (s Service) Cancel(ctx context.Context, actorID, teamID, invitationID string) error {
	_, actor, err := s.loadActor(ctx, teamID, actorID)
	if err != nil {
		return err
	}
	if err := policy.Authorize(actor, policy.ActionInviteMember, policy.Target{}); err != nil {
		return err
	}
	invitation, err := s.invitations.GetInvitationByID(ctx, invitationID)
	if err != nil {
		return err
	}
	if invitation.TeamID != teamID {
		return repository.ErrNotFound
	}
	if err := s.invitations.DeletePending(ctx, invitationID); err != nil {
		return err
	}
	s.logger.Info("invitation cancelled", "invitation_id", invitationID, "team_id", teamID)
	s.record(ctx, teamID, actorID, "invitation_cancelled", fmt.Sprintf("invitation to %s withdrawn", invitation.Email))
	return nil
}

// matchInvitee enforces the identity check: the responder's normalized
// email must equal the invitation's. Matching is by email, not user ID,
// because invitations predate the invitee's account in some flows.
func (s Service) matchInvitee(user *domain.User, invitation *domain.Invitation) error {
	normalized, err := domain.NormalizeEmail(user.Email)
	if err != nil {
		return policy.ErrPermissionDenied
	}
	if normalized != invitation.Email {
		return policy.ErrPermissionDenied
	}
	return nil
}

func (s Service) sendEmail(ctx context.Context, invitation *domain.Invitation, actorID string) error {
	invitedBy := actorID
	if inviter, err := s.users.GetUserByID(ctx, actorID); err == nil {
		invitedBy = inviter.DisplayName
	}
	return s.mail.SendInvitation(ctx, mailer.InvitationEmail{
		To:            invitation.Email,
		Link:          fmt.Sprintf("%s/%s", s.cfg.InviteLinkBase, invitation.ID),
		TeamName:      invitation.TeamName,
		InvitedByName: invitedBy,
		Role:          string(invitation.Role),
	})
}

func (s Service) loadActor(ctx context.Context, teamID, userID string) (*domain.Team, policy.Actor, error) {
	team, err := s.teams.GetTeamByID(ctx, teamID)
	if err != nil {
		return nil, policy.Actor{}, err
	}
	actor := policy.Actor{UserID: userID}
	member, err := s.teams.GetMember(ctx, teamID, userID)
	if err == nil {
		actor.Role = member.Role
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, policy.Actor{}, err
	}
	return team, actor, nil
}

func (s Service) record(ctx context.Context, teamID, actorID, kind, message string) {
	if s.events == nil {
		return
	}
	event := domain.ActivityEvent{TeamID: teamID, ActorID: actorID, Kind: kind, Message: message}
	if err := s.events.Record(ctx, event); err != nil {
		s.logger.Warn("failed to record activity", "kind", kind, "team_id", teamID, "error", err)
	}
}
