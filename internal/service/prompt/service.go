package prompt

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
	// ErrInvalidTitle indicates an empty prompt title.
	ErrInvalidTitle = errors.New("prompt: title is required")
	// ErrInvalidBody indicates an empty prompt body.
	ErrInvalidBody = errors.New("prompt: body is required")
	// ErrInvalidComment indicates an empty comment body.
	ErrInvalidComment = errors.New("prompt: comment body is required")
)

// Service handles prompt and comment workflows.
type Service struct {
	prompts  repository.PromptRepository
	comments repository.CommentRepository
	teams    repository.TeamRepository
	events   activity.Recorder
	logger   *slog.Logger
}

// New constructs a Service.
func New(prompts repository.PromptRepository, comments repository.CommentRepository, teams repository.TeamRepository, events activity.Recorder, logger *slog.Logger) Service {
	return Service{prompts: prompts, comments: comments, teams: teams, events: events, logger: logger}
}

// Create adds a prompt to the team library.
func (s Service) Create(ctx context.Context, actorID, teamID, title, body string, tags []string) (*domain.Prompt, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, ErrInvalidTitle
	}
	if strings.TrimSpace(body) == "" {
		return nil, ErrInvalidBody
	}
	actor, err := s.memberActor(ctx, teamID, actorID)
	if err != nil {
		return nil, err
	}
	if err := policy.Authorize(actor, policy.ActionCreatePrompt, policy.Target{}); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	prompt := &domain.Prompt{
		ID:        uuid.NewString(),
		TeamID:    teamID,
		CreatorID: actorID,
		Title:     title,
		Body:      body,
		Tags:      normalizeTags(tags),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.prompts.CreatePrompt(ctx, prompt); err != nil {
		return nil, err
	}
	s.logger.Info("prompt created", "prompt_id", prompt.ID, "team_id", teamID)
	s.record(ctx, teamID, actorID, "prompt_created", fmt.Sprintf("prompt %q added", prompt.Title))
	return prompt, nil
}

// Get returns a prompt visible to the actor.
func (s Service) Get(ctx context.Context, actorID, promptID string) (*domain.Prompt, error) {
	prompt, _, err := s.authorizePrompt(ctx, actorID, promptID, policy.ActionReadTeam)
	return prompt, err
}

// ListByTeam returns the team's prompts.
func (s Service) ListByTeam(ctx context.Context, actorID, teamID string) ([]domain.Prompt, error) {
	actor, err := s.memberActor(ctx, teamID, actorID)
	if err != nil {
		return nil, err
	}
	if err := policy.Authorize(actor, policy.ActionReadTeam, policy.Target{}); err != nil {
		return nil, err
	}
	return s.prompts.ListPromptsByTeam(ctx, teamID)
}

// Update rewrites a prompt's content. Allowed for admins and owners, or for
// the member who created it.
func (s Service) Update(ctx context.Context, actorID, promptID, title, body string, tags []string) (*domain.Prompt, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, ErrInvalidTitle
	}
	if strings.TrimSpace(body) == "" {
		return nil, ErrInvalidBody
	}
	prompt, _, err := s.authorizePrompt(ctx, actorID, promptID, policy.ActionEditPrompt)
	if err != nil {
		return nil, err
	}
	prompt.Title = title
	prompt.Body = body
	prompt.Tags = normalizeTags(tags)
	prompt.UpdatedAt = time.Now().UTC()
	if err := s.prompts.UpdatePromptContent(ctx, prompt); err != nil {
		return nil, err
	}
	s.logger.Info("prompt updated", "prompt_id", prompt.ID)
	s.record(ctx, prompt.TeamID, actorID, "prompt_updated", fmt.Sprintf("prompt %q edited", prompt.Title))
	return prompt, nil
}

// Delete removes a prompt and its ratings and comments.
func (s Service) Delete(ctx context.Context, actorID, promptID string) error {
	prompt, _, err := s.authorizePrompt(ctx, actorID, promptID, policy.ActionDeletePrompt)
	if err != nil {
		return err
	}
	if err := s.prompts.DeletePrompt(ctx, promptID); err != nil {
		return err
	}
	s.logger.Info("prompt deleted", "prompt_id", promptID)
	s.record(ctx, prompt.TeamID, actorID, "prompt_deleted", fmt.Sprintf("prompt %q removed", prompt.Title))
	return nil
}

// AddComment attaches a comment to a prompt.
func (s Service) AddComment(ctx context.Context, actorID, promptID, body string) (*domain.Comment, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, ErrInvalidComment
	}
	prompt, _, err := s.authorizePrompt(ctx, actorID, promptID, policy.ActionComment)
	if err != nil {
		return nil, err
	}
	comment := &domain.Comment{
		ID:        uuid.NewString(),
		PromptID:  prompt.ID,
		AuthorID:  actorID,
		Body:      body,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.comments.CreateComment(ctx, comment); err != nil {
		return nil, err
	}
	return comment, nil
}

// ListComments returns a prompt's comments.
func (s Service) ListComments(ctx context.Context, actorID, promptID string) ([]domain.Comment, error) {
	if _, _, err := s.authorizePrompt(ctx, actorID, promptID, policy.ActionReadTeam); err != nil {
		return nil, err
	}
	return s.comments.ListCommentsByPrompt(ctx, promptID)
}

// DeleteComment removes a comment. Allowed for admins and owners, or for
// the comment's author.
func (s Service) DeleteComment(ctx context.Context, actorID, commentID string) error {
	comment, err := s.comments.GetCommentByID(ctx, commentID)
	if err != nil {
		return err
	}
	prompt, err := s.prompts.GetPromptByID(ctx, comment.PromptID)
	if err != nil {
		return err
	}
	actor, err := s.memberActor(ctx, prompt.TeamID, actorID)
	if err != nil {
		return err
	}
	if err := policy.Authorize(actor, policy.ActionDeletePrompt, policy.Target{CreatorID: comment.AuthorID}); err != nil {
		return err
	}
	return s.comments.DeleteComment(ctx, commentID)
}

func (s Service) authorizePrompt(ctx context.Context, actorID, promptID string, action policy.Action) (*domain.Prompt, policy.Actor, error) {
	prompt, err := s.prompts.GetPromptByID(ctx, promptID)
	if err != nil {
		return nil, policy.Actor{}, err
	}
	actor, err := s.memberActor(ctx, prompt.TeamID, actorID)
	if err != nil {
		return nil, policy.Actor{}, err
	}
	if err := policy.Authorize(actor, action, policy.Target{CreatorID: prompt.CreatorID}); err != nil {
		return nil, policy.Actor{}, err
	}
	return prompt, actor, nil
}

func (s Service) memberActor(ctx context.Context, teamID, userID string) (policy.Actor, error) {
	actor := policy.Actor{UserID: userID}
	member, err := s.teams.GetMember(ctx, teamID, userID)
	if err == nil {
		actor.Role = member.Role
	} else if !errors.Is(err, repository.ErrNotFound) {
		return policy.Actor{}, err
	}
	return actor, nil
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

func normalizeTags(tags []string) []string {
	var cleaned []string
	seen := make(map[string]struct{})
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		cleaned = append(cleaned, tag)
	}
	return cleaned
}
