package domain

import "time"

// Comment is a discussion entry on a prompt.
type Comment struct {
	ID        string
	PromptID  string
	AuthorID  string
	Body      string
	CreatedAt time.Time
}
