package team

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/splax/promptstash/internal/domain"
	"github.com/splax/promptstash/internal/policy"
	"github.com/splax/promptstash/internal/repository"
	"github.com/splax/promptstash/internal/service/activity"
)

var (
	// ErrInvalidName indicates an empty team name.
	ErrInvalidName = errors.New("team: name is required")
	// ErrInvalidRole indicates a role outside the known levels.
	ErrInvalidRole = errors.New("team: invalid role")
)

// Service handles team and membership workflows. Membership is only ever
// mutated one row at a time, so two admins editing different members can
// never clobber each other's writes.
type Service struct {
	repo   repository.TeamRepository
	events activity.Recorder
	logger *slog.Logger
}

// New constructs a Service.
func New(repo repository.TeamRepository, events activity.Recorder, logger *slog.Logger) Service {
	return Service{repo: repo, events: events, logger: logger}
}

// Create registers a team owned by ownerID.
func (s Service) Create(ctx context.Context, ownerID, name string) (*domain.Team, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrInvalidName
	}
	team := &domain.Team{
		ID:        uuid.NewString(),
		Name:      name,
		OwnerID:   ownerID,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repo.CreateTeam(ctx, team); err != nil {
		return nil, err
	}
	s.logger.Info("team created", "team_id", team.ID, "owner_id", ownerID)
	s.record(ctx, team.ID, ownerID, "team_created", fmt.Sprintf("team %q created", team.Name))
	return team, nil
}

// Get returns a team the actor is a member of.
func (s Service) Get(ctx context.Context, actorID, teamID string) (*domain.Team, error) {
	team, actor, err := s.loadActor(ctx, teamID, actorID)
	if err != nil {
		return nil, err
	}
	if err := policy.Authorize(actor, policy.ActionReadTeam, policy.Target{}); err != nil {
		return nil, err
	}
	return team, nil
}

// ListMine returns the teams the user belongs to.
func (s Service) ListMine(ctx context.Context, userID string) ([]domain.Team, error) {
	return s.repo.ListTeamsByUser(ctx, userID)
}

// ListMembers returns a team's membership.
func (s Service) ListMembers(ctx context.Context, actorID, teamID string) ([]domain.TeamMember, error) {
	_, actor, err := s.loadActor(ctx, teamID, actorID)
	if err != nil {
		return nil, err
	}
	if err := policy.Authorize(actor, policy.ActionReadTeam, policy.Target{}); err != nil {
		return nil, err
	}
	return s.repo.ListMembers(ctx, teamID)
}

// ChangeRole updates a single member's role. Only the owner may change
// roles; the owner's own role is immutable and no member can be promoted to
// a second owner.
func (s Service) ChangeRole(ctx context.Context, actorID, teamID, targetID string, newRole domain.Role) error {
	if !newRole.Valid() {
		return ErrInvalidRole
	}
	team, actor, err := s.loadActor(ctx, teamID, actorID)
	if err != nil {
		return err
	}
	if err := policy.AuthorizeChangeRole(actor, *team, targetID, newRole); err != nil {
		return err
	}
	target, err := s.repo.GetMember(ctx, teamID, targetID)
	if err != nil {
		return err
	}
	target.Role = newRole
	if err := s.repo.UpsertMember(ctx, target); err != nil {
		return err
	}
	s.logger.Info("member role changed", "team_id", teamID, "target_id", targetID, "role", newRole)
	s.record(ctx, teamID, actorID, "role_changed", fmt.Sprintf("member %s is now %s", targetID, newRole))
	return nil
}

// RemoveMember deletes a single membership row. The owner can never be
// removed and actors cannot remove themselves.
func (s Service) RemoveMember(ctx context.Context, actorID, teamID, targetID string) error {
	team, actor, err := s.loadActor(ctx, teamID, actorID)
	if err != nil {
		return err
	}
	if err := policy.AuthorizeRemoveMember(actor, *team, targetID); err != nil {
		return err
	}
	if err := s.repo.DeleteMember(ctx, teamID, targetID); err != nil {
		return err
	}
	s.logger.Info("member removed", "team_id", teamID, "target_id", targetID)
	s.record(ctx, teamID, actorID, "member_removed", fmt.Sprintf("member %s removed", targetID))
	return nil
}

// Delete tears the team down: pending invitations are cancelled and the team
// row removed in one transaction, so no invitation can outlive its team.
// Favorites are snapshots and deliberately survive.
func (s Service) Delete(ctx context.Context, actorID, teamID string) error {
	_, actor, err := s.loadActor(ctx, teamID, actorID)
	if err != nil {
		return err
	}
	if err := policy.Authorize(actor, policy.ActionDeleteTeam, policy.Target{}); err != nil {
		return err
	}
	if err := s.repo.DeleteTeam(ctx, teamID); err != nil {
		return err
	}
	s.logger.Info("team deleted", "team_id", teamID, "actor_id", actorID)
	return nil
}

// loadActor fetches the team and the actor's membership. A missing team is
// NotFound; a missing membership yields an actor with no role, which the
// policy denies everywhere.
func (s Service) loadActor(ctx context.Context, teamID, userID string) (*domain.Team, policy.Actor, error) {
	team, err := s.repo.GetTeamByID(ctx, teamID)
	if err != nil {
		return nil, policy.Actor{}, err
	}
	actor := policy.Actor{UserID: userID}
	member, err := s.repo.GetMember(ctx, teamID, userID)
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
