// Package mailer delivers invitation notifications through an external
// delivery endpoint. Delivery is a side channel: callers persist their own
// state first and treat a send failure as reportable, never as a reason to
// roll back.
package mailer

import (
	"context"

	"log/slog"
)

// InvitationEmail carries everything the delivery endpoint needs to render
// and send an invitation message.
type InvitationEmail struct {
	To            string `json:"to"`
	Link          string `json:"link"`
	TeamName      string `json:"team_name"`
	InvitedByName string `json:"invited_by_name"`
	Role          string `json:"role"`
}

// Mailer sends invitation emails.
type Mailer interface {
	SendInvitation(ctx context.Context, email InvitationEmail) error
}

// Noop logs instead of sending. Used when no delivery endpoint is configured.
type Noop struct {
	Logger *slog.Logger
}

// SendInvitation logs the message and reports success.
func (n Noop) SendInvitation(_ context.Context, email InvitationEmail) error {
	if n.Logger != nil {
		n.Logger.Info("invitation email skipped, mailer not configured",
			"to", email.To, "team", email.TeamName)
	}
	return nil
}
