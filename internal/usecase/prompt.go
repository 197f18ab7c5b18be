package usecase

import (
	"time"

	"mindwell-backend/internal/domain"
)

// systemInstruction frames every new conversation. It travels as a prefix
// on the first user message; established conversations already carry it in
// their first turn and never receive it again.
const systemInstruction = "You are a supportive, empathetic wellbeing companion inside a mental-health " +
	"check-in app. Listen actively, validate feelings, and gently encourage reflection. " +
	"You are not a clinician: never diagnose, never prescribe, and if the user appears to be " +
	"in crisis, encourage them to contact local emergency services or a crisis helpline. " +
	"Keep replies warm, concise, and free of medical jargon."

// promptWindow bounds how much history is sent to the model per turn.
const promptWindow = 20

// buildPromptMessages assembles the role-tagged model input: the most
// recent window of history plus the new user message. The system
// instruction is prepended to the message text only when history is empty.
func buildPromptMessages(history []domain.ChatMessage, userMessage string, now time.Time) []domain.ChatMessage {
	text := userMessage
	if len(history) == 0 {
		text = systemInstruction + "\n\n" + userMessage
	}

	window := history
	if len(window) > promptWindow {
		window = window[len(window)-promptWindow:]
	}

	out := make([]domain.ChatMessage, 0, len(window)+1)
	out = append(out, window...)
	out = append(out, domain.ChatMessage{Role: domain.RoleUser, Content: text, Timestamp: now})
	return out
}
