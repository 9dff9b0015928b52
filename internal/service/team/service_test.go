package team

import (
	"context"
	"errors"
	"io"
	"testing"

	"log/slog"

	"github.com/splax/promptstash/internal/domain"
	"github.com/splax/promptstash/internal/policy"
	"github.com/splax/promptstash/internal/repository"
)

type teamRepoStub struct {
	teams   map[string]*domain.Team
	members map[string]map[string]*domain.TeamMember

	deletedTeams []string
	upserts      []domain.TeamMember
	removals     []string
}

func newTeamRepoStub() *teamRepoStub {
	return &teamRepoStub{
		teams:   make(map[string]*domain.Team),
		members: make(map[string]map[string]*domain.TeamMember),
	}
}

func (s *teamRepoStub) addTeam(team domain.Team) {
	s.teams[team.ID] = &team
	s.addMember(domain.TeamMember{TeamID: team.ID, UserID: team.OwnerID, Role: domain.RoleOwner})
}

func (s *teamRepoStub) addMember(member domain.TeamMember) {
	if s.members[member.TeamID] == nil {
		s.members[member.TeamID] = make(map[string]*domain.TeamMember)
	}
	m := member
	s.members[member.TeamID][member.UserID] = &m
}

func (s *teamRepoStub) CreateTeam(_ context.Context, team *domain.Team) error {
	s.addTeam(*team)
	return nil
}

func (s *teamRepoStub) GetTeamByID(_ context.Context, teamID string) (*domain.Team, error) {
	team, ok := s.teams[teamID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *team
	return &copied, nil
}

func (s *teamRepoStub) ListTeamsByUser(_ context.Context, userID string) ([]domain.Team, error) {
	var teams []domain.Team
	for id, members := range s.members {
		if _, ok := members[userID]; ok {
			teams = append(teams, *s.teams[id])
		}
	}
	return teams, nil
}

func (s *teamRepoStub) DeleteTeam(_ context.Context, teamID string) error {
	if _, ok := s.teams[teamID]; !ok {
		return repository.ErrNotFound
	}
	delete(s.teams, teamID)
	delete(s.members, teamID)
	s.deletedTeams = append(s.deletedTeams, teamID)
	return nil
}

func (s *teamRepoStub) GetMember(_ context.Context, teamID, userID string) (*domain.TeamMember, error) {
	member, ok := s.members[teamID][userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *member
	return &copied, nil
}

func (s *teamRepoStub) ListMembers(_ context.Context, teamID string) ([]domain.TeamMember, error) {
	var members []domain.TeamMember
	for _, m := range s.members[teamID] {
		members = append(members, *m)
	}
	return members, nil
}

func (s *teamRepoStub) UpsertMember(_ context.Context, member *domain.TeamMember) error {
	s.addMember(*member)
	s.upserts = append(s.upserts, *member)
	return nil
}

func (s *teamRepoStub) DeleteMember(_ context.Context, teamID, userID string) error {
	if _, ok := s.members[teamID][userID]; !ok {
		return repository.ErrNotFound
	}
	delete(s.members[teamID], userID)
	s.removals = append(s.removals, userID)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(repo *teamRepoStub) Service {
	return New(repo, nil, discardLogger())
}

func TestCreateRequiresName(t *testing.T) {
	svc := newTestService(newTeamRepoStub())
	if _, err := svc.Create(context.Background(), "owner", "   "); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("expected ErrInvalidName, got %v", err)
	}
}

func TestCreateMakesOwnerMember(t *testing.T) {
	repo := newTeamRepoStub()
	svc := newTestService(repo)

	team, err := svc.Create(context.Background(), "owner", "research")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	member, err := repo.GetMember(context.Background(), team.ID, "owner")
	if err != nil {
		t.Fatalf("owner membership missing: %v", err)
	}
	if member.Role != domain.RoleOwner {
		t.Fatalf("expected owner role, got %s", member.Role)
	}
}

func TestGetDeniedForNonMember(t *testing.T) {
	repo := newTeamRepoStub()
	repo.addTeam(domain.Team{ID: "t1", Name: "research", OwnerID: "owner"})
	svc := newTestService(repo)

	if _, err := svc.Get(context.Background(), "stranger", "t1"); !errors.Is(err, policy.ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
}

func TestGetMissingTeam(t *testing.T) {
	svc := newTestService(newTeamRepoStub())
	if _, err := svc.Get(context.Background(), "u1", "absent"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestChangeRoleOwnerImmutable(t *testing.T) {
	repo := newTeamRepoStub()
	repo.addTeam(domain.Team{ID: "t1", OwnerID: "owner"})
	svc := newTestService(repo)

	err := svc.ChangeRole(context.Background(), "owner", "t1", "owner", domain.RoleMember)
	if !errors.Is(err, policy.ErrInvalidOperation) {
		t.Fatalf("expected ErrInvalidOperation, got %v", err)
	}
}

func TestChangeRoleNoSecondOwner(t *testing.T) {
	repo := newTeamRepoStub()
	repo.addTeam(domain.Team{ID: "t1", OwnerID: "owner"})
	repo.addMember(domain.TeamMember{TeamID: "t1", UserID: "m1", Role: domain.RoleMember})
	svc := newTestService(repo)

	err := svc.ChangeRole(context.Background(), "owner", "t1", "m1", domain.RoleOwner)
	if !errors.Is(err, policy.ErrInvalidOperation) {
		t.Fatalf("expected ErrInvalidOperation, got %v", err)
	}
}

func TestChangeRoleOnlyOwner(t *testing.T) {
	repo := newTeamRepoStub()
	repo.addTeam(domain.Team{ID: "t1", OwnerID: "owner"})
	repo.addMember(domain.TeamMember{TeamID: "t1", UserID: "a1", Role: domain.RoleAdmin})
	repo.addMember(domain.TeamMember{TeamID: "t1", UserID: "m1", Role: domain.RoleMember})
	svc := newTestService(repo)

	err := svc.ChangeRole(context.Background(), "a1", "t1", "m1", domain.RoleAdmin)
	if !errors.Is(err, policy.ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied for admin, got %v", err)
	}
}

func TestChangeRoleUpdatesSingleRow(t *testing.T) {
	repo := newTeamRepoStub()
	repo.addTeam(domain.Team{ID: "t1", OwnerID: "owner"})
	repo.addMember(domain.TeamMember{TeamID: "t1", UserID: "m1", Role: domain.RoleMember})
	svc := newTestService(repo)

	if err := svc.ChangeRole(context.Background(), "owner", "t1", "m1", domain.RoleAdmin); err != nil {
		t.Fatalf("change role: %v", err)
	}
	if len(repo.upserts) != 1 {
		t.Fatalf("expected exactly one member write, got %d", len(repo.upserts))
	}
	member, _ := repo.GetMember(context.Background(), "t1", "m1")
	if member.Role != domain.RoleAdmin {
		t.Fatalf("expected admin, got %s", member.Role)
	}
}

func TestChangeRoleTargetMustBeMember(t *testing.T) {
	repo := newTeamRepoStub()
	repo.addTeam(domain.Team{ID: "t1", OwnerID: "owner"})
	svc := newTestService(repo)

	err := svc.ChangeRole(context.Background(), "owner", "t1", "ghost", domain.RoleAdmin)
	if !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRemoveMemberGuards(t *testing.T) {
	repo := newTeamRepoStub()
	repo.addTeam(domain.Team{ID: "t1", OwnerID: "owner"})
	repo.addMember(domain.TeamMember{TeamID: "t1", UserID: "a1", Role: domain.RoleAdmin})
	repo.addMember(domain.TeamMember{TeamID: "t1", UserID: "m1", Role: domain.RoleMember})
	svc := newTestService(repo)

	if err := svc.RemoveMember(context.Background(), "a1", "t1", "owner"); !errors.Is(err, policy.ErrInvalidOperation) {
		t.Fatalf("removing the owner should be invalid, got %v", err)
	}
	if err := svc.RemoveMember(context.Background(), "a1", "t1", "a1"); !errors.Is(err, policy.ErrInvalidOperation) {
		t.Fatalf("self removal should be invalid, got %v", err)
	}
	if err := svc.RemoveMember(context.Background(), "m1", "t1", "a1"); !errors.Is(err, policy.ErrPermissionDenied) {
		t.Fatalf("member removal should be denied, got %v", err)
	}
	if err := svc.RemoveMember(context.Background(), "a1", "t1", "m1"); err != nil {
		t.Fatalf("admin removing member: %v", err)
	}
	if len(repo.removals) != 1 || repo.removals[0] != "m1" {
		t.Fatalf("unexpected removals %v", repo.removals)
	}
}

func TestDeleteTeamOwnerOnly(t *testing.T) {
	repo := newTeamRepoStub()
	repo.addTeam(domain.Team{ID: "t1", OwnerID: "owner"})
	repo.addMember(domain.TeamMember{TeamID: "t1", UserID: "a1", Role: domain.RoleAdmin})
	svc := newTestService(repo)

	if err := svc.Delete(context.Background(), "a1", "t1"); !errors.Is(err, policy.ErrPermissionDenied) {
		t.Fatalf("admin delete should be denied, got %v", err)
	}
	if err := svc.Delete(context.Background(), "owner", "t1"); err != nil {
		t.Fatalf("owner delete: %v", err)
	}
	if len(repo.deletedTeams) != 1 {
		t.Fatalf("expected one team deletion, got %v", repo.deletedTeams)
	}
}
