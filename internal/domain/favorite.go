package domain

import "time"

// Favorite is a user-owned snapshot of a prompt. It copies the prompt's
// content instead of referencing it, so it stays readable after the source
// prompt or team is deleted.
type Favorite struct {
	UserID        string
	PromptID      string
	TeamID        string
	SnapshotTitle string
	SnapshotBody  string
	SnapshotTags  []string
	AddedAt       time.Time
}
