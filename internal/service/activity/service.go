package activity

import (
	"context"
	"encoding/json"
	"time"

	"log/slog"

	"github.com/splax/promptstash/internal/domain"
	"github.com/splax/promptstash/internal/repository"
	"github.com/splax/promptstash/internal/ws"
)

// Recorder records team activity events. Mutating services record events
// after their own writes commit; a recording failure is reported but must
// not undo the mutation it describes.
type Recorder interface {
	Record(ctx context.Context, event domain.ActivityEvent) error
}

// Service handles activity persistence and streaming.
type Service struct {
	repo   repository.ActivityRepository
	hub    *ws.Hub
	logger *slog.Logger
}

// New constructs an activity service.
func New(repo repository.ActivityRepository, hub *ws.Hub, logger *slog.Logger) Service {
	return Service{repo: repo, hub: hub, logger: logger}
}

var _ Recorder = Service{}

// Record stores and broadcasts an activity event.
func (s Service) Record(ctx context.Context, event domain.ActivityEvent) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	event.CreatedAt = event.CreatedAt.UTC()
	if err := s.repo.AppendActivity(ctx, event); err != nil {
		return err
	}
	s.broadcast(event)
	return nil
}

// List returns recent activity for a team.
func (s Service) List(ctx context.Context, teamID string, limit, offset int) ([]domain.ActivityEvent, error) {
	return s.repo.ListActivityByTeam(ctx, teamID, limit, offset)
}

func (s Service) broadcast(event domain.ActivityEvent) {
	data, err := MarshalEvent(event)
	if err != nil {
		s.logger.Warn("failed to marshal activity payload", "error", err)
		return
	}
	s.hub.Broadcast(event.TeamID, data)
}

// Hub returns the websocket hub (useful for HTTP handlers).
func (s Service) Hub() *ws.Hub {
	return s.hub
}

// MarshalEvent formats an activity event for streaming payloads.
func MarshalEvent(event domain.ActivityEvent) ([]byte, error) {
	var metadata any
	if len(event.Metadata) > 0 {
		metadata = json.RawMessage(event.Metadata)
	}
	payload := map[string]any{
		"id":         event.ID,
		"team_id":    event.TeamID,
		"actor_id":   event.ActorID,
		"kind":       event.Kind,
		"message":    event.Message,
		"metadata":   metadata,
		"created_at": event.CreatedAt.Format(time.RFC3339Nano),
	}
	return json.Marshal(payload)
}
