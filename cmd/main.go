package main

import (
	"context"
	"log/slog"
	"os"
	"strconv"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"mindwell-backend/handler"
	"mindwell-backend/internal/auth"
	"mindwell-backend/internal/crypto"
	"mindwell-backend/internal/domain"
	"mindwell-backend/internal/integrations/gemini"
	"mindwell-backend/internal/integrations/paramstore"
	"mindwell-backend/internal/pseudonym"
	"mindwell-backend/internal/repository"
	"mindwell-backend/internal/usecase"
	"mindwell-backend/internal/warehouse"
)

// settingsSourceFunc adapts a closure to the gateway's SettingsSource, so
// the gateway and the settings service can reference each other without a
// construction cycle.
type settingsSourceFunc func(ctx context.Context, userID string) (domain.Settings, error)

func (f settingsSourceFunc) Resolve(ctx context.Context, userID string) (domain.Settings, error) {
	return f(ctx, userID)
}

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	recordsTable := mustEnv("RECORDS_TABLE")
	saltParam := mustEnv("PSEUDONYM_SALT_PARAM")
	authSecretParam := mustEnv("AUTH_SECRET_PARAM")
	encryptionKeyParam := os.Getenv("ENCRYPTION_KEY_PARAM")
	defaultCredentialParam := os.Getenv("DEFAULT_GEMINI_KEY_PARAM")
	warehouseDSNParam := os.Getenv("WAREHOUSE_DSN_PARAM")
	demoModeDefault := envBool("DEMO_MODE_DEFAULT", false)

	// ---- AWS SDK config ----
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		slog.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	// ---- Secrets ----
	secrets, err := paramstore.New(awsssm.NewFromConfig(cfg))
	if err != nil {
		slog.Error("failed to create SSM client", "err", err)
		os.Exit(1)
	}
	salt, err := secrets.GetSecret(ctx, saltParam)
	if err != nil {
		slog.Error("failed to load pseudonym salt", "err", err)
		os.Exit(1)
	}
	authSecret, err := secrets.GetSecret(ctx, authSecretParam)
	if err != nil {
		slog.Error("failed to load auth secret", "err", err)
		os.Exit(1)
	}

	// ---- Crypto core ----
	var cipher *crypto.Cipher
	if encryptionKeyParam == "" {
		cipher, err = crypto.NewEphemeral(salt)
	} else {
		var key []byte
		key, err = secrets.GetKey(ctx, encryptionKeyParam, crypto.KeySize)
		if err != nil {
			slog.Error("failed to load encryption key", "err", err)
			os.Exit(1)
		}
		cipher, err = crypto.New(key, salt)
	}
	if err != nil {
		slog.Error("failed to create cipher", "err", err)
		os.Exit(1)
	}

	// ---- Record store ----
	store, err := repository.New(awsdynamodb.NewFromConfig(cfg), recordsTable)
	if err != nil {
		slog.Error("failed to create record store", "err", err)
		os.Exit(1)
	}

	// ---- Analytical sink (optional side channel) ----
	var sink pseudonym.RowWriter
	if warehouseDSNParam != "" {
		dsn, err := secrets.GetSecret(ctx, warehouseDSNParam)
		if err != nil {
			slog.Warn("failed to load warehouse DSN, analytical mirroring disabled", "err", err)
		} else if wh, err := warehouse.Open(ctx, dsn); err != nil {
			slog.Warn("failed to open warehouse, analytical mirroring disabled", "err", err)
		} else {
			sink = wh
		}
	}
	// ---- Settings defaults ----
	envDefault := domain.Settings{DemoMode: demoModeDefault}
	if defaultCredentialParam != "" {
		credential, err := secrets.GetOptionalSecret(ctx, defaultCredentialParam)
		if err != nil {
			slog.Error("failed to load default credential", "err", err)
			os.Exit(1)
		}
		envDefault.GeminiAPIKey = credential
	}

	// ---- AI provider gateway ----
	var settingsService *usecase.SettingsService
	gateway, err := gemini.NewClient(settingsSourceFunc(func(ctx context.Context, userID string) (domain.Settings, error) {
		return settingsService.Resolve(ctx, userID)
	}), gemini.NewModelCache())
	if err != nil {
		slog.Error("failed to create gemini client", "err", err)
		os.Exit(1)
	}
	settingsService, err = usecase.NewSettingsService(store, gateway, envDefault)
	if err != nil {
		slog.Error("failed to create settings service", "err", err)
		os.Exit(1)
	}

	// ---- Pseudonymization bridge ----
	// The settings service doubles as the consent source: conversation-derived
	// rows only reach the warehouse for users who opted in via settings.
	bridge, err := pseudonym.New(cipher, settingsService, sink, slog.Default())
	if err != nil {
		slog.Error("failed to create pseudonymization bridge", "err", err)
		os.Exit(1)
	}

	// ---- Application services ----
	chatService, err := usecase.NewChatService(store, gateway, bridge)
	if err != nil {
		slog.Error("failed to create chat service", "err", err)
		os.Exit(1)
	}
	assessmentService, err := usecase.NewAssessmentService(store, cipher, bridge, gateway)
	if err != nil {
		slog.Error("failed to create assessment service", "err", err)
		os.Exit(1)
	}
	accountService, err := usecase.NewAccountService(store, assessmentService, chatService)
	if err != nil {
		slog.Error("failed to create account service", "err", err)
		os.Exit(1)
	}

	// ---- Handler ----
	verifier, err := auth.NewVerifier([]byte(authSecret))
	if err != nil {
		slog.Error("failed to create token verifier", "err", err)
		os.Exit(1)
	}
	h, err := handler.NewHandler(verifier, chatService, settingsService, assessmentService, accountService)
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		slog.Error("required environment variable is not set", "key", key)
		os.Exit(1)
	}
	return v
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
