package repository

import (
	"context"
	"time"

	"github.com/splax/promptstash/internal/domain"
)

// UserRepository persists users.
type UserRepository interface {
	CreateUser(ctx context.Context, user *domain.User) error
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
}

// TeamRepository manages teams and memberships. Membership writes operate on
// a single member row at a time; there is deliberately no operation that
// replaces a team's whole member set.
type TeamRepository interface {
	// CreateTeam inserts the team and its owner membership atomically.
	CreateTeam(ctx context.Context, team *domain.Team) error
	GetTeamByID(ctx context.Context, teamID string) (*domain.Team, error)
	ListTeamsByUser(ctx context.Context, userID string) ([]domain.Team, error)
	// DeleteTeam removes the team and, in the same transaction, its still
	// pending invitations. Prompts, ratings and comments cascade with the
	// team row; favorites are independent snapshots and survive.
	DeleteTeam(ctx context.Context, teamID string) error
	GetMember(ctx context.Context, teamID, userID string) (*domain.TeamMember, error)
	ListMembers(ctx context.Context, teamID string) ([]domain.TeamMember, error)
	UpsertMember(ctx context.Context, member *domain.TeamMember) error
	DeleteMember(ctx context.Context, teamID, userID string) error
}

// PromptRepository persists prompts, their denormalized stats and usage
// counters.
type PromptRepository interface {
	CreatePrompt(ctx context.Context, prompt *domain.Prompt) error
	GetPromptByID(ctx context.Context, promptID string) (*domain.Prompt, error)
	ListPromptsByTeam(ctx context.Context, teamID string) ([]domain.Prompt, error)
	UpdatePromptContent(ctx context.Context, prompt *domain.Prompt) error
	DeletePrompt(ctx context.Context, promptID string) error
	GetPromptStats(ctx context.Context, promptID string) (domain.PromptStats, error)
	// CompareAndSwapStats writes stats only when the stored version still
	// equals expectedVersion, and reports whether the swap happened.
	CompareAndSwapStats(ctx context.Context, promptID string, expectedVersion int64, stats domain.PromptStats) (bool, error)
	// IncrementUsageCounter atomically bumps a named counter and returns
	// the new value.
	IncrementUsageCounter(ctx context.Context, promptID, name string) (int64, error)
	ListUsageCounters(ctx context.Context, promptID string) (map[string]int64, error)
}

// RatingRepository persists individual ratings, keyed by (prompt, user).
type RatingRepository interface {
	GetRating(ctx context.Context, promptID, userID string) (*domain.Rating, error)
	// UpsertRating stores the rating and atomically reports the value it
	// replaced, 0 when the user had none. Concurrent upserts for the same
	// (prompt, user) key serialize, so exactly one of them observes 0.
	UpsertRating(ctx context.Context, rating *domain.Rating) (int, error)
	// DeleteRating removes the rating and reports the removed value, 0 when
	// no rating existed.
	DeleteRating(ctx context.Context, promptID, userID string) (int, error)
}

// InvitationRepository persists invitations in a single global collection so
// a user's pending invitations are one indexed query away, without knowing
// their teams.
type InvitationRepository interface {
	// CreateInvitation returns ErrDuplicate when a pending invitation for
	// the same team and email already exists.
	CreateInvitation(ctx context.Context, invitation *domain.Invitation) error
	GetInvitationByID(ctx context.Context, invitationID string) (*domain.Invitation, error)
	ListPendingByEmail(ctx context.Context, email string) ([]domain.Invitation, error)
	ListPendingByTeam(ctx context.Context, teamID string) ([]domain.Invitation, error)
	// AcceptInvitation applies the membership and flips the invitation to
	// accepted in one transaction, membership first. Flipping an already
	// accepted invitation is a no-op, which keeps acceptance idempotent.
	AcceptInvitation(ctx context.Context, invitationID string, member *domain.TeamMember, respondedAt time.Time) error
	MarkRejected(ctx context.Context, invitationID string, respondedAt time.Time) error
	// DeletePending removes a pending invitation; ErrNotFound when the
	// invitation is absent or already terminal.
	DeletePending(ctx context.Context, invitationID string) error
}

// CommentRepository persists prompt comments.
type CommentRepository interface {
	CreateComment(ctx context.Context, comment *domain.Comment) error
	GetCommentByID(ctx context.Context, commentID string) (*domain.Comment, error)
	ListCommentsByPrompt(ctx context.Context, promptID string) ([]domain.Comment, error)
	DeleteComment(ctx context.Context, commentID string) error
}

// FavoriteRepository persists per-user prompt snapshots.
type FavoriteRepository interface {
	GetFavorite(ctx context.Context, userID, promptID string) (*domain.Favorite, error)
	UpsertFavorite(ctx context.Context, favorite *domain.Favorite) error
	DeleteFavorite(ctx context.Context, userID, promptID string) error
	ListFavoritesByUser(ctx context.Context, userID string) ([]domain.Favorite, error)
}

// ActivityRepository handles activity event persistence and retrieval.
type ActivityRepository interface {
	AppendActivity(ctx context.Context, event domain.ActivityEvent) error
	ListActivityByTeam(ctx context.Context, teamID string, limit, offset int) ([]domain.ActivityEvent, error)
}
