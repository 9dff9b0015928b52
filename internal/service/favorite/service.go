// Package favorite manages user-owned prompt snapshots. A favorite copies
// the prompt's content at save time and carries no foreign key back to it,
// so it outlives both the prompt and the team.
package favorite

import (
	"context"
	"errors"
	"time"

	"log/slog"

	"github.com/splax/promptstash/internal/domain"
	"github.com/splax/promptstash/internal/policy"
	"github.com/splax/promptstash/internal/repository"
)

// Service handles favorite workflows.
type Service struct {
	favorites repository.FavoriteRepository
	prompts   repository.PromptRepository
	teams     repository.TeamRepository
	logger    *slog.Logger
}

// New constructs a Service.
func New(favorites repository.FavoriteRepository, prompts repository.PromptRepository, teams repository.TeamRepository, logger *slog.Logger) Service {
	return Service{favorites: favorites, prompts: prompts, teams: teams, logger: logger}
}

// Toggle flips the favorite state for the user and prompt, and reports
// whether the prompt is favorited afterwards.
func (s Service) Toggle(ctx context.Context, userID, promptID string) (bool, error) {
	_, err := s.favorites.GetFavorite(ctx, userID, promptID)
	switch {
	case err == nil:
		if err := s.favorites.DeleteFavorite(ctx, userID, promptID); err != nil {
			return false, err
		}
		return false, nil
	case errors.Is(err, repository.ErrNotFound):
		if err := s.Add(ctx, userID, promptID); err != nil {
			return false, err
		}
		return true, nil
	default:
		return false, err
	}
}

// Add snapshots the prompt into the user's favorites. Favoriting an already
// favorited prompt is a no-op that keeps the original snapshot.
func (s Service) Add(ctx context.Context, userID, promptID string) error {
	prompt, err := s.prompts.GetPromptByID(ctx, promptID)
	if err != nil {
		return err
	}
	actor := policy.Actor{UserID: userID}
	member, err := s.teams.GetMember(ctx, prompt.TeamID, userID)
	if err == nil {
		actor.Role = member.Role
	} else if !errors.Is(err, repository.ErrNotFound) {
		return err
	}
	if err := policy.Authorize(actor, policy.ActionReadTeam, policy.Target{}); err != nil {
		return err
	}

	favorite := &domain.Favorite{
		UserID:        userID,
		PromptID:      prompt.ID,
		TeamID:        prompt.TeamID,
		SnapshotTitle: prompt.Title,
		SnapshotBody:  prompt.Body,
		SnapshotTags:  prompt.Tags,
		AddedAt:       time.Now().UTC(),
	}
	if err := s.favorites.UpsertFavorite(ctx, favorite); err != nil {
		return err
	}
	s.logger.Info("favorite added", "user_id", userID, "prompt_id", promptID)
	return nil
}

// Remove deletes the snapshot. Removing an absent favorite is a no-op.
func (s Service) Remove(ctx context.Context, userID, promptID string) error {
	return s.favorites.DeleteFavorite(ctx, userID, promptID)
}

// List returns the user's favorites, including snapshots of prompts that no
// longer exist.
func (s Service) List(ctx context.Context, userID string) ([]domain.Favorite, error) {
	return s.favorites.ListFavoritesByUser(ctx, userID)
}
