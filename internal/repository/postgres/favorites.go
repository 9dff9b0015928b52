package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/splax/promptstash/internal/domain"
	"github.com/splax/promptstash/internal/repository"
)

// GetFavorite fetches one favorite snapshot.
func (r *Repository) GetFavorite(ctx context.Context, userID, promptID string) (*domain.Favorite, error) {
	const query = `SELECT user_id, prompt_id, team_id, snapshot_title, snapshot_body, snapshot_tags, added_at
		FROM favorites WHERE user_id = $1 AND prompt_id = $2`
	row := r.pool.QueryRow(ctx, query, userID, promptID)
	var f domain.Favorite
	if err := row.Scan(&f.UserID, &f.PromptID, &f.TeamID, &f.SnapshotTitle, &f.SnapshotBody, &f.SnapshotTags, &f.AddedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &f, nil
}

// UpsertFavorite writes a favorite snapshot. Re-adding an existing favorite
// leaves the original snapshot untouched.
func (r *Repository) UpsertFavorite(ctx context.Context, favorite *domain.Favorite) error {
	const query = `INSERT INTO favorites (user_id, prompt_id, team_id, snapshot_title, snapshot_body, snapshot_tags, added_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, prompt_id) DO NOTHING`
	_, err := r.pool.Exec(ctx, query, favorite.UserID, favorite.PromptID, favorite.TeamID,
		favorite.SnapshotTitle, favorite.SnapshotBody, favorite.SnapshotTags, favorite.AddedAt)
	return err
}

// DeleteFavorite removes a favorite; absent rows are not an error.
func (r *Repository) DeleteFavorite(ctx context.Context, userID, promptID string) error {
	const query = `DELETE FROM favorites WHERE user_id = $1 AND prompt_id = $2`
	_, err := r.pool.Exec(ctx, query, userID, promptID)
	return err
}

// ListFavoritesByUser returns the user's snapshots, newest first.
func (r *Repository) ListFavoritesByUser(ctx context.Context, userID string) ([]domain.Favorite, error) {
	const query = `SELECT user_id, prompt_id, team_id, snapshot_title, snapshot_body, snapshot_tags, added_at
		FROM favorites WHERE user_id = $1 ORDER BY added_at DESC`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var favorites []domain.Favorite
	for rows.Next() {
		var f domain.Favorite
		if err := rows.Scan(&f.UserID, &f.PromptID, &f.TeamID, &f.SnapshotTitle, &f.SnapshotBody, &f.SnapshotTags, &f.AddedAt); err != nil {
			return nil, err
		}
		favorites = append(favorites, f)
	}
	return favorites, rows.Err()
}
