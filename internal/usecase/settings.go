package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"mindwell-backend/internal/domain"
	"mindwell-backend/internal/repository"
)

// credentialPrefix is the fixed format marker Google API keys carry.
// Update rejects anything else up front instead of accepting a key that
// can only fail later.
const credentialPrefix = "AIza"

// CredentialTester verifies a candidate provider credential.
type CredentialTester interface {
	TestCredential(ctx context.Context, apiKey string) error
}

// SettingsService resolves and mutates per-user settings. A stored document
// always wins over the environment default; the default applies only until
// the first explicit update. It is the gateway's SettingsSource.
type SettingsService struct {
	store      RecordStore
	tester     CredentialTester
	envDefault domain.Settings
}

type UpdateSettingsInput struct {
	UserID            string
	GeminiAPIKey      *string
	DemoMode          *bool
	ConsentToResearch *bool
}

func NewSettingsService(store RecordStore, tester CredentialTester, envDefault domain.Settings) (*SettingsService, error) {
	if store == nil {
		return nil, errors.New("usecase: record store must not be nil")
	}
	if tester == nil {
		return nil, errors.New("usecase: credential tester must not be nil")
	}
	return &SettingsService{store: store, tester: tester, envDefault: envDefault}, nil
}

// Resolve returns the effective settings for a user.
func (s *SettingsService) Resolve(ctx context.Context, userID string) (domain.Settings, error) {
	var stored domain.Settings
	found, err := s.store.Get(ctx, repository.SettingsKey(userID), &stored)
	if err != nil {
		return domain.Settings{}, newError(ErrorStoreUnavailable, "load_settings_failed", err)
	}
	if !found {
		return s.envDefault, nil
	}
	return stored, nil
}

// ConsentToResearch reports the user's standing research consent. Consent
// defaults to withheld and only an explicit settings update grants it.
func (s *SettingsService) ConsentToResearch(ctx context.Context, userID string) (bool, error) {
	settings, err := s.Resolve(ctx, userID)
	if err != nil {
		return false, err
	}
	return settings.ConsentToResearch, nil
}

// Get returns the credential-free settings view.
func (s *SettingsService) Get(ctx context.Context, userID string) (domain.SettingsView, error) {
	settings, err := s.Resolve(ctx, userID)
	if err != nil {
		return domain.SettingsView{}, err
	}
	return domain.SettingsView{
		DemoMode:          settings.DemoMode,
		ConsentToResearch: settings.ConsentToResearch,
		CredentialPresent: settings.CredentialPresent(),
	}, nil
}

// Update applies a partial settings change. Setting GeminiAPIKey to the
// empty string clears the credential.
func (s *SettingsService) Update(ctx context.Context, in UpdateSettingsInput) (domain.SettingsView, error) {
	if in.GeminiAPIKey == nil && in.DemoMode == nil && in.ConsentToResearch == nil {
		return domain.SettingsView{}, newError(ErrorInvalidInput, "empty_update", nil)
	}

	settings, err := s.Resolve(ctx, in.UserID)
	if err != nil {
		return domain.SettingsView{}, err
	}

	if in.GeminiAPIKey != nil {
		key := strings.TrimSpace(*in.GeminiAPIKey)
		if key != "" && !strings.HasPrefix(key, credentialPrefix) {
			return domain.SettingsView{}, newError(ErrorInvalidInput, "invalid_credential_format", nil)
		}
		settings.GeminiAPIKey = key
	}
	if in.DemoMode != nil {
		settings.DemoMode = *in.DemoMode
	}
	if in.ConsentToResearch != nil {
		settings.ConsentToResearch = *in.ConsentToResearch
	}
	settings.UpdatedAt = time.Now().UTC()

	if err := s.store.Set(ctx, repository.SettingsKey(in.UserID), settings); err != nil {
		return domain.SettingsView{}, newError(ErrorStoreUnavailable, "persist_settings_failed", err)
	}
	return domain.SettingsView{
		DemoMode:          settings.DemoMode,
		ConsentToResearch: settings.ConsentToResearch,
		CredentialPresent: settings.CredentialPresent(),
	}, nil
}

// TestCredential checks the candidate key's format, then verifies it
// against the provider. The key is never persisted by this operation.
func (s *SettingsService) TestCredential(ctx context.Context, apiKey string) error {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return newError(ErrorInvalidInput, "missing_credential", nil)
	}
	if !strings.HasPrefix(apiKey, credentialPrefix) {
		return newError(ErrorInvalidInput, "invalid_credential_format", nil)
	}
	if err := s.tester.TestCredential(ctx, apiKey); err != nil {
		return newError(ErrorProvider, "credential_test_failed", err)
	}
	return nil
}
