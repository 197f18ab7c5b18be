// Package gemini is the AI provider gateway: model discovery, preference
// ranking, execution with availability fallback, sticky-success pinning,
// and a fully local demo substitute when no credential is configured.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"mindwell-backend/internal/domain"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	// callTimeout bounds a single provider call when the caller supplied no
	// deadline of its own.
	callTimeout = 20 * time.Second
	// generateContent is the capability models must support to be usable.
	capabilityGenerate = "generateContent"
)

// SettingsSource resolves the effective per-user settings (credential and
// demo flag); the stored value wins over the environment default.
type SettingsSource interface {
	Resolve(ctx context.Context, userID string) (domain.Settings, error)
}

// Reply is one completed generation. DemoMode marks simulated responses so
// callers can label them.
type Reply struct {
	Text     string
	Model    string
	DemoMode bool
}

// Client executes text-completion calls against the Gemini REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	settings   SettingsSource
	cache      *ModelCache

	demoCounter atomic.Uint64
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a Client. The cache is injected so the sticky model
// state is owned explicitly rather than hiding in package globals.
func NewClient(settings SettingsSource, cache *ModelCache, opts ...Option) (*Client, error) {
	if settings == nil {
		return nil, errors.New("gemini: settings source must not be nil")
	}
	if cache == nil {
		return nil, errors.New("gemini: model cache must not be nil")
	}
	c := &Client{
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: callTimeout},
		settings:   settings,
		cache:      cache,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Wire shapes for the generateContent endpoint.

type wireContent struct {
	Role  string     `json:"role,omitempty"`
	Parts []wirePart `json:"parts"`
}

type wirePart struct {
	Text string `json:"text,omitempty"`
}

type wireGenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
	TopP            float64 `json:"topP"`
	TopK            int     `json:"topK"`
}

type generateRequest struct {
	Contents         []wireContent        `json:"contents"`
	GenerationConfig wireGenerationConfig `json:"generationConfig"`
}

// SafetyRating is the provider's per-category safety annotation, carried as
// a diagnostic when no text is produced.
type SafetyRating struct {
	Category    string `json:"category"`
	Probability string `json:"probability"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []wirePart `json:"parts"`
			Role  string     `json:"role"`
		} `json:"content"`
		FinishReason  string         `json:"finishReason"`
		SafetyRatings []SafetyRating `json:"safetyRatings"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason   string         `json:"blockReason"`
		SafetyRatings []SafetyRating `json:"safetyRatings"`
	} `json:"promptFeedback"`
	Error *apiError `json:"error,omitempty"`
}

type listModelsResponse struct {
	Models []struct {
		Name                       string   `json:"name"`
		SupportedGenerationMethods []string `json:"supportedGenerationMethods"`
	} `json:"models"`
	Error *apiError `json:"error,omitempty"`
}

// Generate executes one completion over the ordered candidate models.
// Demo mode and a missing credential are checked before any network I/O.
func (c *Client) Generate(ctx context.Context, userID string, messages []domain.ChatMessage) (Reply, error) {
	if len(messages) == 0 {
		return Reply{}, errors.New("gemini: messages must not be empty")
	}

	settings, err := c.settings.Resolve(ctx, userID)
	if err != nil {
		return Reply{}, fmt.Errorf("gemini: resolve settings: %w", err)
	}
	if settings.DemoMode || !settings.CredentialPresent() {
		return c.demoReply(), nil
	}
	apiKey := settings.GeminiAPIKey

	candidates, err := c.candidateModels(ctx, apiKey)
	if err != nil {
		return Reply{}, err
	}

	pinned := c.cache.Pinned()
	for _, model := range candidates {
		text, err := c.generateOnce(ctx, apiKey, model, messages)
		if err != nil && isTransient(err) {
			// One bounded retry for transient failures, never a loop.
			text, err = c.generateOnce(ctx, apiKey, model, messages)
		}
		if err == nil {
			c.cache.Pin(model)
			return Reply{Text: text, Model: model}, nil
		}

		var notFound *modelNotFoundError
		if errors.As(err, &notFound) {
			// Availability failure: fall through to the next candidate.
			if model == pinned {
				c.cache.Unpin(model)
			}
			continue
		}
		// Quota, credential, content-policy, exhausted-retry transport
		// failures: trying unrelated models cannot help.
		return Reply{}, err
	}
	return Reply{}, newProviderError(CodeNoModelsAvailable, "all_candidates_unavailable", nil)
}

// TestCredential verifies a credential by listing models with it.
func (c *Client) TestCredential(ctx context.Context, apiKey string) error {
	if strings.TrimSpace(apiKey) == "" {
		return newProviderError(CodeNoCredential, "no_credential_configured", nil)
	}
	models, err := c.listModels(ctx, apiKey)
	if err != nil {
		return err
	}
	if len(models) == 0 {
		return newProviderError(CodeNoModelsAvailable, "no_generate_capable_models", nil)
	}
	return nil
}

// candidateModels returns the ordered models to try: the pinned model
// first when one exists, then the ranked catalog for fallback re-entry.
// Discovery runs lazily once per process lifetime.
func (c *Client) candidateModels(ctx context.Context, apiKey string) ([]string, error) {
	discovered, ok := c.cache.Discovered()
	if !ok {
		var err error
		discovered, err = c.listModels(ctx, apiKey)
		if err != nil {
			return nil, err
		}
		c.cache.SetDiscovered(discovered)
	}
	if len(discovered) == 0 {
		return nil, newProviderError(CodeNoModelsAvailable, "discovery_returned_no_models", nil)
	}

	ranked := rankModels(discovered)
	pinned := c.cache.Pinned()
	if pinned == "" {
		return ranked, nil
	}
	out := make([]string, 0, len(ranked)+1)
	out = append(out, pinned)
	for _, m := range ranked {
		if m != pinned {
			out = append(out, m)
		}
	}
	return out, nil
}

func (c *Client) listModels(ctx context.Context, apiKey string) ([]string, error) {
	ctx, cancel := ensureDeadline(ctx)
	defer cancel()

	url := fmt.Sprintf("%s/models?key=%s", strings.TrimRight(c.baseURL, "/"), apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, newProviderError(CodeNoModelsAvailable, "discovery_request_failed", err)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, newProviderError(CodeNoModelsAvailable, "discovery_unreachable", err)
	}
	defer func() { _ = res.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, newProviderError(CodeNoModelsAvailable, "discovery_read_failed", err)
	}
	if res.StatusCode != http.StatusOK {
		classified := classifyHTTPError("", res.StatusCode, raw)
		// Credential and quota classes stay actionable; everything else is
		// a discovery failure.
		var pe *ProviderError
		if errors.As(classified, &pe) && (pe.Code == CodeInvalidCredential || pe.Code == CodeQuotaExceeded) {
			return nil, classified
		}
		return nil, newProviderError(CodeNoModelsAvailable, "discovery_failed", classified)
	}

	var payload listModelsResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, newProviderError(CodeNoModelsAvailable, "discovery_malformed_response", err)
	}

	models := make([]string, 0, len(payload.Models))
	for _, m := range payload.Models {
		if !supportsCapability(m.SupportedGenerationMethods, capabilityGenerate) {
			continue
		}
		models = append(models, strings.TrimPrefix(m.Name, "models/"))
	}
	return models, nil
}

func (c *Client) generateOnce(ctx context.Context, apiKey, model string, messages []domain.ChatMessage) (string, error) {
	ctx, cancel := ensureDeadline(ctx)
	defer cancel()

	reqBody := generateRequest{
		Contents: toWireContents(messages),
		GenerationConfig: wireGenerationConfig{
			Temperature:     0.7,
			MaxOutputTokens: 1024,
			TopP:            0.95,
			TopK:            40,
		},
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("gemini: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", strings.TrimRight(c.baseURL, "/"), model, apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("gemini: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return "", newProviderError(CodeTransientFailure, "request_failed", err)
	}
	defer func() { _ = res.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return "", newProviderError(CodeTransientFailure, "read_response_failed", err)
	}
	if res.StatusCode != http.StatusOK {
		return "", classifyHTTPError(model, res.StatusCode, raw)
	}
	return parseGenerateResponse(raw)
}

// classifyHTTPError maps a non-200 response onto the closed taxonomy.
// Only "model not found" counts as an availability failure for fallback.
func classifyHTTPError(model string, status int, body []byte) error {
	var payload struct {
		Error *apiError `json:"error"`
	}
	_ = json.Unmarshal(body, &payload)

	apiStatus, message := "", ""
	if payload.Error != nil {
		apiStatus = payload.Error.Status
		message = payload.Error.Message
	}

	switch {
	case status == http.StatusNotFound || apiStatus == "NOT_FOUND":
		return &modelNotFoundError{model: model}
	case status == http.StatusTooManyRequests || apiStatus == "RESOURCE_EXHAUSTED":
		return newProviderError(CodeQuotaExceeded, "quota_exceeded", errors.New(apiStatus))
	case status == http.StatusUnauthorized || status == http.StatusForbidden ||
		apiStatus == "UNAUTHENTICATED" || apiStatus == "PERMISSION_DENIED":
		return newProviderError(CodeInvalidCredential, "credential_rejected", errors.New(apiStatus))
	case status == http.StatusBadRequest && strings.Contains(message, "API key"):
		return newProviderError(CodeInvalidCredential, "credential_rejected", errors.New(apiStatus))
	default:
		return newProviderError(CodeTransientFailure, fmt.Sprintf("unexpected_status_%d", status), errors.New(apiStatus))
	}
}

// parseGenerateResponse tries the known response shapes in order: candidate
// text, then prompt-level block, then candidate-level finish diagnostics.
// A 200 with no usable text is never treated as a generic empty response.
func parseGenerateResponse(raw []byte) (string, error) {
	var resp generateResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", newProviderError(CodeTransientFailure, "malformed_response", err)
	}

	if len(resp.Candidates) > 0 {
		var sb strings.Builder
		for _, p := range resp.Candidates[0].Content.Parts {
			sb.WriteString(p.Text)
		}
		if text := strings.TrimSpace(sb.String()); text != "" {
			return text, nil
		}
	}

	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return "", newProviderError(CodeContentBlocked, "blocked_"+strings.ToLower(resp.PromptFeedback.BlockReason), &NoTextError{
			BlockReason:   resp.PromptFeedback.BlockReason,
			SafetyRatings: resp.PromptFeedback.SafetyRatings,
		})
	}
	if len(resp.Candidates) > 0 {
		cand := resp.Candidates[0]
		diag := &NoTextError{FinishReason: cand.FinishReason, SafetyRatings: cand.SafetyRatings}
		if cand.FinishReason == "SAFETY" {
			return "", newProviderError(CodeContentBlocked, "blocked_safety", diag)
		}
		return "", newProviderError(CodeTransientFailure, "no_text_produced", diag)
	}
	return "", newProviderError(CodeTransientFailure, "no_candidates", &NoTextError{})
}

// toWireContents maps domain roles onto the provider's user/model roles.
func toWireContents(messages []domain.ChatMessage) []wireContent {
	contents := make([]wireContent, 0, len(messages))
	for _, m := range messages {
		role := "user"
		if m.Role == domain.RoleAssistant {
			role = "model"
		}
		contents = append(contents, wireContent{
			Role:  role,
			Parts: []wirePart{{Text: m.Content}},
		})
	}
	return contents
}

func supportsCapability(methods []string, capability string) bool {
	for _, m := range methods {
		if m == capability {
			return true
		}
	}
	return false
}

func isTransient(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Code == CodeTransientFailure
}

func ensureDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, callTimeout)
}
