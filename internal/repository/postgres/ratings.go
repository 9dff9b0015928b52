package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/splax/promptstash/internal/domain"
	"github.com/splax/promptstash/internal/repository"
)

// GetRating fetches a user's rating of a prompt.
func (r *Repository) GetRating(ctx context.Context, promptID, userID string) (*domain.Rating, error) {
	const query = `SELECT prompt_id, user_id, value, updated_at FROM ratings WHERE prompt_id = $1 AND user_id = $2`
	row := r.pool.QueryRow(ctx, query, promptID, userID)
	var rating domain.Rating
	if err := row.Scan(&rating.PromptID, &rating.UserID, &rating.Value, &rating.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &rating, nil
}

// UpsertRating replaces the user's rating of a prompt and returns the value
// it replaced, 0 when none existed. The row lock serializes concurrent
// writes for the same (prompt, user) key so only one writer ever observes
// "no previous rating".
func (r *Repository) UpsertRating(ctx context.Context, rating *domain.Rating) (int, error) {
	const lockQuery = `SELECT value FROM ratings WHERE prompt_id = $1 AND user_id = $2 FOR UPDATE`
	const insertQuery = `INSERT INTO ratings (prompt_id, user_id, value, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (prompt_id, user_id) DO NOTHING`
	const updateQuery = `UPDATE ratings SET value = $3, updated_at = $4 WHERE prompt_id = $1 AND user_id = $2`

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	previous := 0
	err = tx.QueryRow(ctx, lockQuery, rating.PromptID, rating.UserID).Scan(&previous)
	switch {
	case err == nil:
		if _, err := tx.Exec(ctx, updateQuery, rating.PromptID, rating.UserID, rating.Value, rating.UpdatedAt); err != nil {
			return 0, err
		}
	case errors.Is(err, pgx.ErrNoRows):
		tag, err := tx.Exec(ctx, insertQuery, rating.PromptID, rating.UserID, rating.Value, rating.UpdatedAt)
		if err != nil {
			return 0, err
		}
		if tag.RowsAffected() == 0 {
			// lost an insert race; the winner's committed row is now visible
			if err := tx.QueryRow(ctx, lockQuery, rating.PromptID, rating.UserID).Scan(&previous); err != nil {
				return 0, err
			}
			if _, err := tx.Exec(ctx, updateQuery, rating.PromptID, rating.UserID, rating.Value, rating.UpdatedAt); err != nil {
				return 0, err
			}
		}
	default:
		return 0, err
	}
	return previous, tx.Commit(ctx)
}

// DeleteRating removes the user's rating and returns the removed value;
// absent rows report 0 without an error so removal stays idempotent.
func (r *Repository) DeleteRating(ctx context.Context, promptID, userID string) (int, error) {
	const query = `DELETE FROM ratings WHERE prompt_id = $1 AND user_id = $2 RETURNING value`
	previous := 0
	if err := r.pool.QueryRow(ctx, query, promptID, userID).Scan(&previous); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return previous, nil
}

// CreateComment inserts a comment.
func (r *Repository) CreateComment(ctx context.Context, comment *domain.Comment) error {
	const query = `INSERT INTO comments (id, prompt_id, author_id, body, created_at)
		VALUES ($1, $2, $3, $4, $5)`
	_, err := r.pool.Exec(ctx, query, comment.ID, comment.PromptID, comment.AuthorID, comment.Body, comment.CreatedAt)
	return err
}

// GetCommentByID retrieves one comment.
func (r *Repository) GetCommentByID(ctx context.Context, commentID string) (*domain.Comment, error) {
	const query = `SELECT id, prompt_id, author_id, body, created_at FROM comments WHERE id = $1`
	row := r.pool.QueryRow(ctx, query, commentID)
	var c domain.Comment
	if err := row.Scan(&c.ID, &c.PromptID, &c.AuthorID, &c.Body, &c.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

// ListCommentsByPrompt returns a prompt's comments, oldest first.
func (r *Repository) ListCommentsByPrompt(ctx context.Context, promptID string) ([]domain.Comment, error) {
	const query = `SELECT id, prompt_id, author_id, body, created_at FROM comments WHERE prompt_id = $1 ORDER BY created_at`
	rows, err := r.pool.Query(ctx, query, promptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var comments []domain.Comment
	for rows.Next() {
		var c domain.Comment
		if err := rows.Scan(&c.ID, &c.PromptID, &c.AuthorID, &c.Body, &c.CreatedAt); err != nil {
			return nil, err
		}
		comments = append(comments, c)
	}
	return comments, rows.Err()
}

// DeleteComment removes a comment.
func (r *Repository) DeleteComment(ctx context.Context, commentID string) error {
	const query = `DELETE FROM comments WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, commentID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}
