package domain

import "time"

// Rating is one user's rating of a prompt. A user has at most one rating
// per prompt; re-rating replaces the previous value.
type Rating struct {
	PromptID  string
	UserID    string
	Value     int
	UpdatedAt time.Time
}
