// Package rating maintains the denormalized rating aggregate on prompts.
//
// The aggregate cannot be updated with a plain increment because a re-rating
// has to retract the rater's previous bucket before filling the new one.
// That forces a read-modify-write cycle, which two concurrent raters could
// interleave into a lost update. Every stats write therefore goes through a
// version-guarded compare-and-swap with a bounded retry loop; exhausting the
// retries surfaces ErrConflictRetryExhausted instead of ever writing stats
// derived from a stale read.
//
// The retracted value itself comes from the rating row write, not a separate
// read: the repository reports the replaced (or deleted) value atomically,
// so two racing submits by the same user cannot both observe "no previous
// rating" and count one rater twice.
package rating

import (
	"context"
	"errors"
	"strings"
	"time"

	"log/slog"

	"github.com/splax/promptstash/internal/domain"
	"github.com/splax/promptstash/internal/policy"
	"github.com/splax/promptstash/internal/repository"
)

// maxStatsAttempts caps the compare-and-swap retry loop.
const maxStatsAttempts = 5

var (
	// ErrInvalidRating indicates a value outside 1..5.
	ErrInvalidRating = errors.New("rating: value must be between 1 and 5")
	// ErrInvalidCounter indicates an empty usage counter name.
	ErrInvalidCounter = errors.New("rating: counter name is required")
	// ErrConflictRetryExhausted indicates the stats kept moving under the
	// writer for every attempt. The caller's contribution was not applied;
	// this is never swallowed because it marks an avoided lost update.
	ErrConflictRetryExhausted = errors.New("rating: stats update retries exhausted")
)

// Service handles rating and usage counter workflows.
type Service struct {
	prompts repository.PromptRepository
	ratings repository.RatingRepository
	teams   repository.TeamRepository
	logger  *slog.Logger
}

// New constructs a Service.
func New(prompts repository.PromptRepository, ratings repository.RatingRepository, teams repository.TeamRepository, logger *slog.Logger) Service {
	return Service{prompts: prompts, ratings: ratings, teams: teams, logger: logger}
}

// Submit records the user's rating of a prompt, replacing any previous
// value, and folds the change into the prompt's stats.
func (s Service) Submit(ctx context.Context, userID, promptID string, value int) (domain.PromptStats, error) {
	if value < 1 || value > 5 {
		return domain.PromptStats{}, ErrInvalidRating
	}
	if _, err := s.authorize(ctx, userID, promptID, policy.ActionRatePrompt); err != nil {
		return domain.PromptStats{}, err
	}

	rating := &domain.Rating{
		PromptID:  promptID,
		UserID:    userID,
		Value:     value,
		UpdatedAt: time.Now().UTC(),
	}
	previous, err := s.ratings.UpsertRating(ctx, rating)
	if err != nil {
		return domain.PromptStats{}, err
	}
	if previous == value {
		return s.prompts.GetPromptStats(ctx, promptID)
	}
	stats, err := s.applyStats(ctx, promptID, previous, value)
	if err != nil {
		return domain.PromptStats{}, err
	}
	s.logger.Info("rating submitted", "prompt_id", promptID, "user_id", userID, "value", value)
	return stats, nil
}

// Remove retracts the user's rating. Removing an absent rating is a no-op.
func (s Service) Remove(ctx context.Context, userID, promptID string) (domain.PromptStats, error) {
	prompt, err := s.authorize(ctx, userID, promptID, policy.ActionRatePrompt)
	if err != nil {
		return domain.PromptStats{}, err
	}
	previous, err := s.ratings.DeleteRating(ctx, promptID, userID)
	if err != nil {
		return domain.PromptStats{}, err
	}
	if previous == 0 {
		return prompt.Stats, nil
	}
	stats, err := s.applyStats(ctx, promptID, previous, 0)
	if err != nil {
		return domain.PromptStats{}, err
	}
	s.logger.Info("rating removed", "prompt_id", promptID, "user_id", userID)
	return stats, nil
}

// IncrementUsage bumps a named usage counter. The repository primitive is a
// single atomic statement, so no retry loop is needed here.
func (s Service) IncrementUsage(ctx context.Context, userID, promptID, counter string) (int64, error) {
	counter = strings.TrimSpace(counter)
	if counter == "" {
		return 0, ErrInvalidCounter
	}
	if _, err := s.authorize(ctx, userID, promptID, policy.ActionReadTeam); err != nil {
		return 0, err
	}
	return s.prompts.IncrementUsageCounter(ctx, promptID, counter)
}

// Stats returns the prompt's current aggregate.
func (s Service) Stats(ctx context.Context, userID, promptID string) (domain.PromptStats, error) {
	if _, err := s.authorize(ctx, userID, promptID, policy.ActionReadTeam); err != nil {
		return domain.PromptStats{}, err
	}
	return s.prompts.GetPromptStats(ctx, promptID)
}

// UsageCounters returns the prompt's usage counters.
func (s Service) UsageCounters(ctx context.Context, userID, promptID string) (map[string]int64, error) {
	if _, err := s.authorize(ctx, userID, promptID, policy.ActionReadTeam); err != nil {
		return nil, err
	}
	return s.prompts.ListUsageCounters(ctx, promptID)
}

// applyStats moves the rater's contribution from previous to next under the
// version guard, retrying on contention.
func (s Service) applyStats(ctx context.Context, promptID string, previous, next int) (domain.PromptStats, error) {
	for attempt := 0; attempt < maxStatsAttempts; attempt++ {
		stats, err := s.prompts.GetPromptStats(ctx, promptID)
		if err != nil {
			return domain.PromptStats{}, err
		}
		updated := stats.WithRating(previous, next)
		swapped, err := s.prompts.CompareAndSwapStats(ctx, promptID, stats.Version, updated)
		if err != nil {
			return domain.PromptStats{}, err
		}
		if swapped {
			updated.Version = stats.Version + 1
			return updated, nil
		}
		s.logger.Debug("stats contention, retrying", "prompt_id", promptID, "attempt", attempt+1)
	}
	return domain.PromptStats{}, ErrConflictRetryExhausted
}

func (s Service) authorize(ctx context.Context, userID, promptID string, action policy.Action) (*domain.Prompt, error) {
	prompt, err := s.prompts.GetPromptByID(ctx, promptID)
	if err != nil {
		return nil, err
	}
	actor := policy.Actor{UserID: userID}
	member, err := s.teams.GetMember(ctx, prompt.TeamID, userID)
	if err == nil {
		actor.Role = member.Role
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	if err := policy.Authorize(actor, action, policy.Target{CreatorID: prompt.CreatorID}); err != nil {
		return nil, err
	}
	return prompt, nil
}
