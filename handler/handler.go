// Package handler routes API Gateway events to the application services
// and maps the error taxonomy onto HTTP statuses and JSON envelopes.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"mindwell-backend/internal/auth"
	"mindwell-backend/internal/domain"
	"mindwell-backend/internal/integrations/gemini"
	"mindwell-backend/internal/usecase"
)

type ChatService interface {
	Send(ctx context.Context, in usecase.SendInput) (usecase.SendOutput, error)
	History(ctx context.Context, userID, conversationID string) (domain.ConversationHistory, error)
	List(ctx context.Context, userID string) ([]usecase.ConversationSummary, error)
	Delete(ctx context.Context, userID, conversationID string) error
}

type SettingsService interface {
	Get(ctx context.Context, userID string) (domain.SettingsView, error)
	Update(ctx context.Context, in usecase.UpdateSettingsInput) (domain.SettingsView, error)
	TestCredential(ctx context.Context, apiKey string) error
}

type AssessmentService interface {
	Submit(ctx context.Context, in usecase.SubmitAssessmentInput) (domain.AssessmentRecord, error)
	List(ctx context.Context, userID string) ([]domain.AssessmentRecord, error)
}

type AccountService interface {
	Export(ctx context.Context, userID string) (usecase.AccountExport, error)
	Delete(ctx context.Context, userID string) error
}

type TokenVerifier interface {
	Verify(token string) (auth.Identity, error)
}

type Handler struct {
	verifier    TokenVerifier
	chat        ChatService
	settings    SettingsService
	assessments AssessmentService
	account     AccountService
}

func NewHandler(verifier TokenVerifier, chat ChatService, settings SettingsService, assessments AssessmentService, account AccountService) (*Handler, error) {
	if verifier == nil {
		return nil, errors.New("handler: verifier must not be nil")
	}
	if chat == nil {
		return nil, errors.New("handler: chat service must not be nil")
	}
	if settings == nil {
		return nil, errors.New("handler: settings service must not be nil")
	}
	if assessments == nil {
		return nil, errors.New("handler: assessment service must not be nil")
	}
	if account == nil {
		return nil, errors.New("handler: account service must not be nil")
	}
	return &Handler{
		verifier:    verifier,
		chat:        chat,
		settings:    settings,
		assessments: assessments,
		account:     account,
	}, nil
}

type sendRequest struct {
	ConversationID string `json:"conversationId"`
	Message        string `json:"message"`
}

type sendResponse struct {
	ConversationID string             `json:"conversationId"`
	Reply          domain.ChatMessage `json:"reply"`
	Model          string             `json:"model"`
	DemoMode       bool               `json:"demoMode"`
	CrisisDetected bool               `json:"crisisDetected"`
}

type updateSettingsRequest struct {
	GeminiAPIKey      *string `json:"geminiApiKey"`
	DemoMode          *bool   `json:"demoMode"`
	ConsentToResearch *bool   `json:"consentToResearch"`
}

type testCredentialRequest struct {
	GeminiAPIKey string `json:"geminiApiKey"`
}

type submitAssessmentRequest struct {
	Responses         []int  `json:"responses"`
	Notes             string `json:"notes"`
	ConsentToResearch bool   `json:"consentToResearch"`
	GenerateInsights  bool   `json:"generateInsights"`
}

type statusResponse struct {
	Status string `json:"status"`
}

type errorResponse struct {
	Error        string `json:"error"`
	Reason       string `json:"reason,omitempty"`
	ProviderCode string `json:"providerCode,omitempty"`
}

func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := headerValue(event.Headers, "X-Correlation-Id")
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	token, err := auth.BearerToken(headerValue(event.Headers, "Authorization"))
	if err != nil {
		return respondError(correlationID, &usecase.Error{Code: usecase.ErrorUnauthorized, Reason: "missing_bearer_token"}), nil
	}
	identity, err := h.verifier.Verify(token)
	if err != nil {
		// Verification detail stays server-side.
		return respondError(correlationID, &usecase.Error{Code: usecase.ErrorUnauthorized, Reason: "invalid_token"}), nil
	}

	switch event.HTTPMethod + " " + event.Path {
	case "POST /chat/message":
		return h.handleSend(ctx, correlationID, identity, event.Body), nil
	case "GET /chat/history":
		return h.handleHistory(ctx, correlationID, identity, event.QueryStringParameters["conversationId"]), nil
	case "GET /chat/conversations":
		return h.handleList(ctx, correlationID, identity), nil
	case "DELETE /chat/conversation":
		return h.handleDeleteConversation(ctx, correlationID, identity, event.QueryStringParameters["conversationId"]), nil
	case "GET /settings":
		return h.handleGetSettings(ctx, correlationID, identity), nil
	case "PUT /settings":
		return h.handleUpdateSettings(ctx, correlationID, identity, event.Body), nil
	case "POST /settings/test-credential":
		return h.handleTestCredential(ctx, correlationID, event.Body), nil
	case "POST /assessments":
		return h.handleSubmitAssessment(ctx, correlationID, identity, event.Body), nil
	case "GET /assessments":
		return h.handleListAssessments(ctx, correlationID, identity), nil
	case "GET /account/export":
		return h.handleExport(ctx, correlationID, identity), nil
	case "DELETE /account":
		return h.handleDeleteAccount(ctx, correlationID, identity), nil
	default:
		return respondError(correlationID, &usecase.Error{Code: usecase.ErrorNotFound, Reason: "route_not_found"}), nil
	}
}

func (h *Handler) handleSend(ctx context.Context, correlationID string, identity auth.Identity, body string) events.APIGatewayProxyResponse {
	var req sendRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		return respondError(correlationID, &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "malformed_body"})
	}
	out, err := h.chat.Send(ctx, usecase.SendInput{
		UserID:         identity.UserID,
		ConversationID: req.ConversationID,
		Message:        req.Message,
	})
	if err != nil {
		return respondError(correlationID, err)
	}
	return respondJSON(correlationID, http.StatusOK, sendResponse{
		ConversationID: out.ConversationID,
		Reply:          out.Reply,
		Model:          out.Model,
		DemoMode:       out.DemoMode,
		CrisisDetected: out.CrisisDetected,
	})
}

func (h *Handler) handleHistory(ctx context.Context, correlationID string, identity auth.Identity, conversationID string) events.APIGatewayProxyResponse {
	history, err := h.chat.History(ctx, identity.UserID, conversationID)
	if err != nil {
		return respondError(correlationID, err)
	}
	return respondJSON(correlationID, http.StatusOK, history)
}

func (h *Handler) handleList(ctx context.Context, correlationID string, identity auth.Identity) events.APIGatewayProxyResponse {
	summaries, err := h.chat.List(ctx, identity.UserID)
	if err != nil {
		return respondError(correlationID, err)
	}
	return respondJSON(correlationID, http.StatusOK, summaries)
}

func (h *Handler) handleDeleteConversation(ctx context.Context, correlationID string, identity auth.Identity, conversationID string) events.APIGatewayProxyResponse {
	if err := h.chat.Delete(ctx, identity.UserID, conversationID); err != nil {
		return respondError(correlationID, err)
	}
	return respondJSON(correlationID, http.StatusOK, statusResponse{Status: "deleted"})
}

func (h *Handler) handleGetSettings(ctx context.Context, correlationID string, identity auth.Identity) events.APIGatewayProxyResponse {
	view, err := h.settings.Get(ctx, identity.UserID)
	if err != nil {
		return respondError(correlationID, err)
	}
	return respondJSON(correlationID, http.StatusOK, view)
}

func (h *Handler) handleUpdateSettings(ctx context.Context, correlationID string, identity auth.Identity, body string) events.APIGatewayProxyResponse {
	var req updateSettingsRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		return respondError(correlationID, &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "malformed_body"})
	}
	view, err := h.settings.Update(ctx, usecase.UpdateSettingsInput{
		UserID:            identity.UserID,
		GeminiAPIKey:      req.GeminiAPIKey,
		DemoMode:          req.DemoMode,
		ConsentToResearch: req.ConsentToResearch,
	})
	if err != nil {
		return respondError(correlationID, err)
	}
	return respondJSON(correlationID, http.StatusOK, view)
}

func (h *Handler) handleTestCredential(ctx context.Context, correlationID string, body string) events.APIGatewayProxyResponse {
	var req testCredentialRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		return respondError(correlationID, &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "malformed_body"})
	}
	if err := h.settings.TestCredential(ctx, req.GeminiAPIKey); err != nil {
		return respondError(correlationID, err)
	}
	return respondJSON(correlationID, http.StatusOK, statusResponse{Status: "valid"})
}

func (h *Handler) handleSubmitAssessment(ctx context.Context, correlationID string, identity auth.Identity, body string) events.APIGatewayProxyResponse {
	var req submitAssessmentRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		return respondError(correlationID, &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "malformed_body"})
	}
	rec, err := h.assessments.Submit(ctx, usecase.SubmitAssessmentInput{
		UserID:            identity.UserID,
		Responses:         req.Responses,
		Notes:             req.Notes,
		ConsentToResearch: req.ConsentToResearch,
		GenerateInsights:  req.GenerateInsights,
	})
	if err != nil {
		return respondError(correlationID, err)
	}
	return respondJSON(correlationID, http.StatusCreated, rec)
}

func (h *Handler) handleListAssessments(ctx context.Context, correlationID string, identity auth.Identity) events.APIGatewayProxyResponse {
	records, err := h.assessments.List(ctx, identity.UserID)
	if err != nil {
		return respondError(correlationID, err)
	}
	return respondJSON(correlationID, http.StatusOK, records)
}

func (h *Handler) handleExport(ctx context.Context, correlationID string, identity auth.Identity) events.APIGatewayProxyResponse {
	export, err := h.account.Export(ctx, identity.UserID)
	if err != nil {
		return respondError(correlationID, err)
	}
	return respondJSON(correlationID, http.StatusOK, export)
}

func (h *Handler) handleDeleteAccount(ctx context.Context, correlationID string, identity auth.Identity) events.APIGatewayProxyResponse {
	if err := h.account.Delete(ctx, identity.UserID); err != nil {
		return respondError(correlationID, err)
	}
	return respondJSON(correlationID, http.StatusOK, statusResponse{Status: "deleted"})
}

func respondJSON(correlationID string, status int, payload any) events.APIGatewayProxyResponse {
	body, err := json.Marshal(payload)
	if err != nil {
		return respondError(correlationID, &usecase.Error{Code: usecase.ErrorInternal, Reason: "encode_response_failed", Err: err})
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":     "application/json",
			"X-Correlation-Id": correlationID,
		},
		Body: string(body),
	}
}

// respondError maps the error taxonomy onto statuses. Raw provider payloads
// and credentials never reach the response body.
func respondError(correlationID string, err error) events.APIGatewayProxyResponse {
	var ue *usecase.Error
	if !errors.As(err, &ue) {
		ue = &usecase.Error{Code: usecase.ErrorInternal, Reason: "unexpected_error"}
	}

	status := http.StatusInternalServerError
	envelope := errorResponse{Error: string(ue.Code), Reason: ue.Reason}

	switch ue.Code {
	case usecase.ErrorUnauthorized:
		status = http.StatusUnauthorized
	case usecase.ErrorInvalidInput:
		status = http.StatusBadRequest
	case usecase.ErrorNotFound:
		status = http.StatusNotFound
	case usecase.ErrorStoreUnavailable:
		status = http.StatusServiceUnavailable
	case usecase.ErrorCrypto, usecase.ErrorInternal:
		status = http.StatusInternalServerError
	case usecase.ErrorProvider:
		status, envelope.ProviderCode = providerStatus(ue)
	}

	body, _ := json.Marshal(envelope)
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":     "application/json",
			"X-Correlation-Id": correlationID,
		},
		Body: string(body),
	}
}

// providerStatus picks the status for a provider failure from its sub-code
// so the UI can render a code-specific remediation message.
func providerStatus(err error) (int, string) {
	var pe *gemini.ProviderError
	if !errors.As(err, &pe) {
		return http.StatusBadGateway, ""
	}
	switch pe.Code {
	case gemini.CodeNoCredential, gemini.CodeInvalidCredential:
		return http.StatusBadRequest, string(pe.Code)
	case gemini.CodeQuotaExceeded:
		return http.StatusTooManyRequests, string(pe.Code)
	case gemini.CodeContentBlocked:
		return http.StatusUnprocessableEntity, string(pe.Code)
	case gemini.CodeNoModelsAvailable, gemini.CodeTransientFailure:
		return http.StatusServiceUnavailable, string(pe.Code)
	default:
		return http.StatusBadGateway, string(pe.Code)
	}
}

func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}
