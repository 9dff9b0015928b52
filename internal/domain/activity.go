package domain

import "time"

// ActivityEvent records a team mutation for the audit trail and the
// realtime activity stream.
type ActivityEvent struct {
	ID        int64
	TeamID    string
	ActorID   string
	Kind      string
	Message   string
	Metadata  []byte
	CreatedAt time.Time
}
