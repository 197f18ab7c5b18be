package usecase

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"mindwell-backend/internal/domain"
)

func newSettingsFixture(t *testing.T, envDefault domain.Settings) (*SettingsService, *memStore, *fakeTester) {
	t.Helper()
	store := newMemStore()
	tester := &fakeTester{}
	svc, err := NewSettingsService(store, tester, envDefault)
	require.NoError(t, err)
	return svc, store, tester
}

func strRef(s string) *string { return &s }
func boolRef(b bool) *bool    { return &b }

func TestSettings_EnvDefaultUntilFirstUpdate(t *testing.T) {
	svc, _, _ := newSettingsFixture(t, domain.Settings{GeminiAPIKey: "AIza-env-default", DemoMode: false})

	view, err := svc.Get(context.Background(), "user-1")
	require.NoError(t, err)
	require.True(t, view.CredentialPresent)
	require.False(t, view.DemoMode)

	settings, err := svc.Resolve(context.Background(), "user-1")
	require.NoError(t, err)
	require.Equal(t, "AIza-env-default", settings.GeminiAPIKey)
}

func TestSettings_StoredValueWinsOverEnvDefault(t *testing.T) {
	svc, _, _ := newSettingsFixture(t, domain.Settings{GeminiAPIKey: "AIza-env-default"})

	_, err := svc.Update(context.Background(), UpdateSettingsInput{UserID: "user-1", GeminiAPIKey: strRef("AIza-user-key")})
	require.NoError(t, err)

	settings, err := svc.Resolve(context.Background(), "user-1")
	require.NoError(t, err)
	require.Equal(t, "AIza-user-key", settings.GeminiAPIKey)
	require.False(t, settings.UpdatedAt.IsZero())
}

func TestSettings_ClearingCredentialStillWinsOverDefault(t *testing.T) {
	svc, _, _ := newSettingsFixture(t, domain.Settings{GeminiAPIKey: "AIza-env-default"})

	view, err := svc.Update(context.Background(), UpdateSettingsInput{UserID: "user-1", GeminiAPIKey: strRef("")})
	require.NoError(t, err)
	require.False(t, view.CredentialPresent)

	// An explicitly cleared credential does not fall back to the default.
	settings, err := svc.Resolve(context.Background(), "user-1")
	require.NoError(t, err)
	require.Empty(t, settings.GeminiAPIKey)
}

func TestSettings_PartialUpdatePreservesOtherField(t *testing.T) {
	svc, _, _ := newSettingsFixture(t, domain.Settings{})

	_, err := svc.Update(context.Background(), UpdateSettingsInput{UserID: "user-1", GeminiAPIKey: strRef("AIza-key")})
	require.NoError(t, err)
	view, err := svc.Update(context.Background(), UpdateSettingsInput{UserID: "user-1", DemoMode: boolRef(true)})
	require.NoError(t, err)
	require.True(t, view.DemoMode)
	require.True(t, view.CredentialPresent)
}

func TestSettings_InvalidCredentialFormatRejected(t *testing.T) {
	svc, store, _ := newSettingsFixture(t, domain.Settings{})

	_, err := svc.Update(context.Background(), UpdateSettingsInput{UserID: "user-1", GeminiAPIKey: strRef("sk-wrong-provider")})
	requireCode(t, err, ErrorInvalidInput)
	require.ErrorContains(t, err, "invalid_credential_format")

	// Rejection happens before anything is persisted.
	require.Empty(t, store.keysWithPrefix("USER#user-1#SETTINGS"))
}

func TestSettings_EmptyUpdateRejected(t *testing.T) {
	svc, _, _ := newSettingsFixture(t, domain.Settings{})
	_, err := svc.Update(context.Background(), UpdateSettingsInput{UserID: "user-1"})
	requireCode(t, err, ErrorInvalidInput)
}

func TestSettings_ViewNeverCarriesKey(t *testing.T) {
	svc, _, _ := newSettingsFixture(t, domain.Settings{})
	view, err := svc.Update(context.Background(), UpdateSettingsInput{UserID: "user-1", GeminiAPIKey: strRef("AIza-secret")})
	require.NoError(t, err)
	require.True(t, view.CredentialPresent)
}

func TestSettings_TestCredential(t *testing.T) {
	svc, _, tester := newSettingsFixture(t, domain.Settings{})
	ctx := context.Background()

	require.NoError(t, svc.TestCredential(ctx, "AIza-candidate"))
	require.Equal(t, []string{"AIza-candidate"}, tester.keys)

	err := svc.TestCredential(ctx, "")
	requireCode(t, err, ErrorInvalidInput)

	err = svc.TestCredential(ctx, "not-a-google-key")
	requireCode(t, err, ErrorInvalidInput)
	// Format failures never reach the provider.
	require.Len(t, tester.keys, 1)

	tester.err = errStoreDown
	err = svc.TestCredential(ctx, "AIza-other")
	requireCode(t, err, ErrorProvider)
}

func TestSettings_StoreUnavailable(t *testing.T) {
	svc, store, _ := newSettingsFixture(t, domain.Settings{})
	store.failOps["get"] = errStoreDown
	_, err := svc.Get(context.Background(), "user-1")
	requireCode(t, err, ErrorStoreUnavailable)
}

func TestSettings_ConsentDefaultsToWithheld(t *testing.T) {
	svc, _, _ := newSettingsFixture(t, domain.Settings{GeminiAPIKey: "AIza-env-default"})
	ctx := context.Background()

	ok, err := svc.ConsentToResearch(ctx, "user-1")
	require.NoError(t, err)
	require.False(t, ok)

	view, err := svc.Update(ctx, UpdateSettingsInput{UserID: "user-1", ConsentToResearch: boolRef(true)})
	require.NoError(t, err)
	require.True(t, view.ConsentToResearch)

	ok, err = svc.ConsentToResearch(ctx, "user-1")
	require.NoError(t, err)
	require.True(t, ok)

	// Withdrawing consent sticks.
	_, err = svc.Update(ctx, UpdateSettingsInput{UserID: "user-1", ConsentToResearch: boolRef(false)})
	require.NoError(t, err)
	ok, err = svc.ConsentToResearch(ctx, "user-1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSettings_ConsentLookupSurfacesStoreFailure(t *testing.T) {
	svc, store, _ := newSettingsFixture(t, domain.Settings{})
	store.failOps["get"] = errStoreDown
	_, err := svc.ConsentToResearch(context.Background(), "user-1")
	requireCode(t, err, ErrorStoreUnavailable)
}
