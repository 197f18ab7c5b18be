package usecase

import "strings"

// crisisKeywords is the fixed phrase list scanned against every inbound
// user message. Matching is plain case-insensitive substring search with no
// stemming or negation handling; changing its sensitivity is a clinical
// decision, not an engineering one.
var crisisKeywords = []string{
	"suicide",
	"suicidal",
	"kill myself",
	"end my life",
	"want to die",
	"wish i was dead",
	"hurt myself",
	"harm myself",
	"self harm",
	"self-harm",
	"no reason to live",
	"better off dead",
	"end it all",
}

// detectCrisis reports whether the message matches the crisis list, and the
// first phrase that matched. The matched phrase (never the message itself)
// is what gets recorded in the alert.
func detectCrisis(message string) (string, bool) {
	lowered := strings.ToLower(message)
	for _, phrase := range crisisKeywords {
		if strings.Contains(lowered, phrase) {
			return phrase, true
		}
	}
	return "", false
}
