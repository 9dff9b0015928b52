package domain

import "time"

// Prompt is a stored prompt document owned by a team.
type Prompt struct {
	ID        string
	TeamID    string
	CreatorID string
	Title     string
	Body      string
	Tags      []string
	Stats     PromptStats
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PromptStats is the denormalized rating aggregate kept alongside a prompt.
// Version is bumped on every write and guards the read-modify-write cycle:
// writers must pass the version they read, and a mismatch means another
// writer got there first.
type PromptStats struct {
	Histogram [5]int
	Total     int
	Average   float64
	Version   int64
}

// WithRating returns the stats after moving a rater's contribution from
// prev to next. A prev or next of zero means no prior or no new rating.
// Buckets never go negative; total and average are recomputed from the
// histogram rather than adjusted incrementally.
func (s PromptStats) WithRating(prev, next int) PromptStats {
	if prev >= 1 && prev <= 5 && s.Histogram[prev-1] > 0 {
		s.Histogram[prev-1]--
	}
	if next >= 1 && next <= 5 {
		s.Histogram[next-1]++
	}
	s.Total = 0
	sum := 0
	for i, count := range s.Histogram {
		s.Total += count
		sum += (i + 1) * count
	}
	if s.Total > 0 {
		s.Average = float64(sum) / float64(s.Total)
	} else {
		s.Average = 0
	}
	return s
}
