package domain

import "time"

// ConversationMetadata stores aggregate conversation state.
// HasCrisisIndicator is sticky: once true it is never cleared.
type ConversationMetadata struct {
	StartedAt          time.Time `json:"startedAt"`
	LastMessageAt      time.Time `json:"lastMessageAt"`
	MessageCount       int       `json:"messageCount"`
	HasCrisisIndicator bool      `json:"hasCrisisIndicator"`
}

// ConversationHistory is the full persisted record of one conversation.
// Messages grow by a user/assistant pair per completed turn.
type ConversationHistory struct {
	ConversationID string               `json:"conversationId"`
	UserID         string               `json:"userId"`
	Messages       []ChatMessage        `json:"messages"`
	Metadata       ConversationMetadata `json:"metadata"`
}

// ConversationIndex lists a user's conversation ids, newest first.
type ConversationIndex struct {
	UserID          string   `json:"userId"`
	ConversationIDs []string `json:"conversationIds"`
}

// CrisisAlert is an append-only record written when a user message matches
// the crisis keyword list. It is never deleted, not even on account deletion
// of conversation data, and carries the matched phrase rather than the
// message text.
type CrisisAlert struct {
	AlertID        string    `json:"alertId"`
	UserID         string    `json:"userId"`
	ConversationID string    `json:"conversationId"`
	MatchedPhrase  string    `json:"matchedPhrase"`
	CreatedAt      time.Time `json:"createdAt"`
}
