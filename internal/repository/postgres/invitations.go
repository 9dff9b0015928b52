package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/splax/promptstash/internal/domain"
	"github.com/splax/promptstash/internal/repository"
)

const pgUniqueViolation = "23505"

const invitationColumns = `id, team_id, team_name, email, role, invited_by, status,
	COALESCE(accepted_by, ''), created_at, COALESCE(responded_at, 'epoch'::timestamptz)`

// CreateInvitation inserts an invitation. The partial unique index on
// (team_id, email) WHERE status = 'pending' turns a racing duplicate into
// ErrDuplicate instead of a second pending row.
func (r *Repository) CreateInvitation(ctx context.Context, invitation *domain.Invitation) error {
	const query = `INSERT INTO invitations (id, team_id, team_name, email, role, invited_by, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := r.pool.Exec(ctx, query, invitation.ID, invitation.TeamID, invitation.TeamName,
		invitation.Email, invitation.Role, invitation.InvitedBy, invitation.Status, invitation.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return repository.ErrDuplicate
		}
		return err
	}
	return nil
}

// GetInvitationByID retrieves one invitation.
func (r *Repository) GetInvitationByID(ctx context.Context, invitationID string) (*domain.Invitation, error) {
	const query = `SELECT ` + invitationColumns + ` FROM invitations WHERE id = $1`
	row := r.pool.QueryRow(ctx, query, invitationID)
	invitation, err := scanInvitation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return invitation, nil
}

// ListPendingByEmail returns all pending invitations addressed to an email.
func (r *Repository) ListPendingByEmail(ctx context.Context, email string) ([]domain.Invitation, error) {
	const query = `SELECT ` + invitationColumns + ` FROM invitations
		WHERE email = $1 AND status = 'pending' ORDER BY created_at`
	return r.listInvitations(ctx, query, email)
}

// ListPendingByTeam returns a team's pending invitations.
func (r *Repository) ListPendingByTeam(ctx context.Context, teamID string) ([]domain.Invitation, error) {
	const query = `SELECT ` + invitationColumns + ` FROM invitations
		WHERE team_id = $1 AND status = 'pending' ORDER BY created_at`
	return r.listInvitations(ctx, query, teamID)
}

// AcceptInvitation grants membership and flips the invitation to accepted in
// one transaction. The membership upsert runs first: if the status update
// matches zero rows the invitation was already accepted, and committing the
// idempotent upsert alone is still correct.
func (r *Repository) AcceptInvitation(ctx context.Context, invitationID string, member *domain.TeamMember, respondedAt time.Time) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	const memberQuery = `INSERT INTO team_members (team_id, user_id, role, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (team_id, user_id) DO NOTHING`
	if _, err := tx.Exec(ctx, memberQuery, member.TeamID, member.UserID, member.Role, member.CreatedAt); err != nil {
		return err
	}
	const statusQuery = `UPDATE invitations SET status = 'accepted', accepted_by = $2, responded_at = $3
		WHERE id = $1 AND status = 'pending'`
	if _, err := tx.Exec(ctx, statusQuery, invitationID, member.UserID, respondedAt); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// MarkRejected flips a pending invitation to rejected.
func (r *Repository) MarkRejected(ctx context.Context, invitationID string, respondedAt time.Time) error {
	const query = `UPDATE invitations SET status = 'rejected', responded_at = $2
		WHERE id = $1 AND status = 'pending'`
	tag, err := r.pool.Exec(ctx, query, invitationID, respondedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// DeletePending removes a pending invitation.
func (r *Repository) DeletePending(ctx context.Context, invitationID string) error {
	const query = `DELETE FROM invitations WHERE id = $1 AND status = 'pending'`
	tag, err := r.pool.Exec(ctx, query, invitationID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *Repository) listInvitations(ctx context.Context, query string, arg any) ([]domain.Invitation, error) {
	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var invitations []domain.Invitation
	for rows.Next() {
		invitation, err := scanInvitation(rows)
		if err != nil {
			return nil, err
		}
		invitations = append(invitations, *invitation)
	}
	return invitations, rows.Err()
}

func scanInvitation(row pgx.Row) (*domain.Invitation, error) {
	var inv domain.Invitation
	err := row.Scan(&inv.ID, &inv.TeamID, &inv.TeamName, &inv.Email, &inv.Role, &inv.InvitedBy,
		&inv.Status, &inv.AcceptedBy, &inv.CreatedAt, &inv.RespondedAt)
	if err != nil {
		return nil, err
	}
	return &inv, nil
}
