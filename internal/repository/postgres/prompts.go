package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/splax/promptstash/internal/domain"
	"github.com/splax/promptstash/internal/repository"
)

const promptColumns = `id, team_id, creator_id, title, body, tags,
	rating_count_1, rating_count_2, rating_count_3, rating_count_4, rating_count_5,
	rating_total, rating_average, stats_version, created_at, updated_at`

// CreatePrompt inserts a prompt with zeroed stats.
func (r *Repository) CreatePrompt(ctx context.Context, prompt *domain.Prompt) error {
	const query = `INSERT INTO prompts (id, team_id, creator_id, title, body, tags, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := r.pool.Exec(ctx, query, prompt.ID, prompt.TeamID, prompt.CreatorID, prompt.Title, prompt.Body, prompt.Tags, prompt.CreatedAt, prompt.UpdatedAt)
	return err
}

// GetPromptByID retrieves a prompt including its denormalized stats.
func (r *Repository) GetPromptByID(ctx context.Context, promptID string) (*domain.Prompt, error) {
	const query = `SELECT ` + promptColumns + ` FROM prompts WHERE id = $1`
	row := r.pool.QueryRow(ctx, query, promptID)
	prompt, err := scanPrompt(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return prompt, nil
}

// ListPromptsByTeam returns the team's prompts, newest first.
func (r *Repository) ListPromptsByTeam(ctx context.Context, teamID string) ([]domain.Prompt, error) {
	const query = `SELECT ` + promptColumns + ` FROM prompts WHERE team_id = $1 ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, query, teamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var prompts []domain.Prompt
	for rows.Next() {
		prompt, err := scanPrompt(rows)
		if err != nil {
			return nil, err
		}
		prompts = append(prompts, *prompt)
	}
	return prompts, rows.Err()
}

// UpdatePromptContent rewrites title, body and tags without touching stats.
func (r *Repository) UpdatePromptContent(ctx context.Context, prompt *domain.Prompt) error {
	const query = `UPDATE prompts SET title = $2, body = $3, tags = $4, updated_at = $5 WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, prompt.ID, prompt.Title, prompt.Body, prompt.Tags, prompt.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// DeletePrompt removes a prompt; ratings and comments cascade.
func (r *Repository) DeletePrompt(ctx context.Context, promptID string) error {
	const query = `DELETE FROM prompts WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, promptID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// GetPromptStats reads the stats block and its version.
func (r *Repository) GetPromptStats(ctx context.Context, promptID string) (domain.PromptStats, error) {
	const query = `SELECT rating_count_1, rating_count_2, rating_count_3, rating_count_4, rating_count_5,
		rating_total, rating_average, stats_version
		FROM prompts WHERE id = $1`
	row := r.pool.QueryRow(ctx, query, promptID)
	var s domain.PromptStats
	err := row.Scan(&s.Histogram[0], &s.Histogram[1], &s.Histogram[2], &s.Histogram[3], &s.Histogram[4],
		&s.Total, &s.Average, &s.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.PromptStats{}, repository.ErrNotFound
		}
		return domain.PromptStats{}, err
	}
	return s, nil
}

// CompareAndSwapStats conditionally writes stats. The guard on stats_version
// makes the caller's read-modify-write cycle safe against concurrent raters;
// a false return means the stats moved underneath the caller.
func (r *Repository) CompareAndSwapStats(ctx context.Context, promptID string, expectedVersion int64, stats domain.PromptStats) (bool, error) {
	const query = `UPDATE prompts SET
		rating_count_1 = $2, rating_count_2 = $3, rating_count_3 = $4, rating_count_4 = $5, rating_count_5 = $6,
		rating_total = $7, rating_average = $8, stats_version = stats_version + 1
		WHERE id = $1 AND stats_version = $9`
	tag, err := r.pool.Exec(ctx, query, promptID,
		stats.Histogram[0], stats.Histogram[1], stats.Histogram[2], stats.Histogram[3], stats.Histogram[4],
		stats.Total, stats.Average, expectedVersion)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// IncrementUsageCounter bumps a named counter in a single atomic statement.
func (r *Repository) IncrementUsageCounter(ctx context.Context, promptID, name string) (int64, error) {
	const query = `INSERT INTO prompt_counters (prompt_id, name, count)
		VALUES ($1, $2, 1)
		ON CONFLICT (prompt_id, name) DO UPDATE SET count = prompt_counters.count + 1
		RETURNING count`
	row := r.pool.QueryRow(ctx, query, promptID, name)
	var count int64
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// ListUsageCounters returns all counters recorded for a prompt.
func (r *Repository) ListUsageCounters(ctx context.Context, promptID string) (map[string]int64, error) {
	const query = `SELECT name, count FROM prompt_counters WHERE prompt_id = $1`
	rows, err := r.pool.Query(ctx, query, promptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counters := make(map[string]int64)
	for rows.Next() {
		var name string
		var count int64
		if err := rows.Scan(&name, &count); err != nil {
			return nil, err
		}
		counters[name] = count
	}
	return counters, rows.Err()
}

func scanPrompt(row pgx.Row) (*domain.Prompt, error) {
	var p domain.Prompt
	err := row.Scan(&p.ID, &p.TeamID, &p.CreatorID, &p.Title, &p.Body, &p.Tags,
		&p.Stats.Histogram[0], &p.Stats.Histogram[1], &p.Stats.Histogram[2], &p.Stats.Histogram[3], &p.Stats.Histogram[4],
		&p.Stats.Total, &p.Stats.Average, &p.Stats.Version, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
