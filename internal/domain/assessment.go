package domain

import "time"

// PHQ9ItemCount is the number of questionnaire items in a submission.
const PHQ9ItemCount = 9

// AssessmentInsights is the optional AI-generated annotation attached to an
// assessment after submission. Attached at most once.
type AssessmentInsights struct {
	Text        string    `json:"text"`
	Model       string    `json:"model"`
	DemoMode    bool      `json:"demoMode"`
	GeneratedAt time.Time `json:"generatedAt"`
}

// AssessmentRecord is one completed PHQ-9 submission. Created once at
// submission time and immutable afterwards except for the Insights
// annotation. Free-text notes are stored only inside EncryptedPayload when
// encryption is active.
type AssessmentRecord struct {
	SessionID               string              `json:"sessionId"`
	UserID                  string              `json:"userId"`
	Timestamp               time.Time           `json:"timestamp"`
	Responses               []int               `json:"responses"`
	Score                   int                 `json:"score"`
	RequiresImmediateAction bool                `json:"requiresImmediateAction"`
	ConsentToResearch       bool                `json:"consentToResearch"`
	Encrypted               bool                `json:"encrypted"`
	EncryptedPayload        string              `json:"encryptedPayload,omitempty"`
	Notes                   string              `json:"notes,omitempty"`
	Insights                *AssessmentInsights `json:"insights,omitempty"`
}

// AssessmentIndex lists a user's assessment session ids, newest first.
type AssessmentIndex struct {
	UserID     string   `json:"userId"`
	SessionIDs []string `json:"sessionIds"`
}

// Profile is the operational user profile document.
type Profile struct {
	UserID    string    `json:"userId"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}
