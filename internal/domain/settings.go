package domain

import "time"

// Settings is the small mutable per-user configuration consumed by the model
// gateway. A stored value always wins over the environment default; the
// zero value means "never explicitly set".
type Settings struct {
	GeminiAPIKey      string    `json:"geminiApiKey,omitempty"`
	DemoMode          bool      `json:"demoMode"`
	ConsentToResearch bool      `json:"consentToResearch"`
	UpdatedAt         time.Time `json:"updatedAt,omitempty"`
}

// CredentialPresent reports whether a credential is configured.
func (s Settings) CredentialPresent() bool {
	return s.GeminiAPIKey != ""
}

// SettingsView is the credential-free shape returned to callers. The key
// itself never leaves the service.
type SettingsView struct {
	DemoMode          bool `json:"demoMode"`
	ConsentToResearch bool `json:"consentToResearch"`
	CredentialPresent bool `json:"credentialPresent"`
}
