package domain

import "time"

// Analytical row shapes. Identifiers are always salted hashes; no free-text
// fields cross into the warehouse.

// AssessmentRow is one pseudonymized PHQ-9 submission.
type AssessmentRow struct {
	UserHash       string
	AssessedAt     time.Time
	ItemScores     []int
	TotalScore     int
	Severity       string
	RequiresAction bool
}

// EmotionSignalRow is one derived-emotion score observation.
type EmotionSignalRow struct {
	UserHash   string
	ObservedAt time.Time
	Emotion    string
	Score      float64
}

// BehaviorAggregateRow is a per-day usage aggregate.
type BehaviorAggregateRow struct {
	UserHash    string
	Day         string // YYYY-MM-DD
	Sessions    int
	Messages    int
	CrisisFlags int
}

// SessionOutcomeRow records how one screening session ended.
type SessionOutcomeRow struct {
	UserHash    string
	SessionHash string
	StartedAt   time.Time
	EndedAt     time.Time
	Completed   bool
}
