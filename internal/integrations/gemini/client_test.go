package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mindwell-backend/internal/domain"
)

type staticSettings struct {
	settings domain.Settings
	err      error
}

func (s staticSettings) Resolve(_ context.Context, _ string) (domain.Settings, error) {
	return s.settings, s.err
}

func liveSettings(key string) staticSettings {
	return staticSettings{settings: domain.Settings{GeminiAPIKey: key}}
}

// providerStub simulates the Gemini REST API. Responses are keyed by model
// name; every handled call is recorded in order.
type providerStub struct {
	mu        sync.Mutex
	models    []string
	listErr   int // non-zero: discovery responds with this HTTP status
	responses map[string]stubResponse
	calls     []string
	listCalls int
}

type stubResponse struct {
	status int
	body   string
}

func textResponse(text string) stubResponse {
	return stubResponse{status: http.StatusOK, body: fmt.Sprintf(`{"candidates":[{"content":{"parts":[{"text":%q}],"role":"model"},"finishReason":"STOP"}]}`, text)}
}

func (p *providerStub) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		defer p.mu.Unlock()

		if r.URL.Path == "/models" {
			p.listCalls++
			if p.listErr != 0 {
				w.WriteHeader(p.listErr)
				_, _ = w.Write([]byte(`{"error":{"code":500,"message":"boom","status":"INTERNAL"}}`))
				return
			}
			var entries []string
			for _, m := range p.models {
				entries = append(entries, fmt.Sprintf(`{"name":"models/%s","supportedGenerationMethods":["generateContent","countTokens"]}`, m))
			}
			_, _ = fmt.Fprintf(w, `{"models":[%s]}`, strings.Join(entries, ","))
			return
		}

		model := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/models/"), ":generateContent")
		p.calls = append(p.calls, model)
		res, ok := p.responses[model]
		if !ok {
			t.Errorf("unexpected call for model %q", model)
			w.WriteHeader(http.StatusTeapot)
			return
		}
		w.WriteHeader(res.status)
		_, _ = w.Write([]byte(res.body))
	})
}

func (p *providerStub) calledModels() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.calls))
	copy(out, p.calls)
	return out
}

func newStubClient(t *testing.T, stub *providerStub, settings SettingsSource) (*Client, *ModelCache) {
	t.Helper()
	srv := httptest.NewServer(stub.handler(t))
	t.Cleanup(srv.Close)
	cache := NewModelCache()
	c, err := NewClient(settings, cache, WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	return c, cache
}

func userMessage(text string) []domain.ChatMessage {
	return []domain.ChatMessage{{Role: domain.RoleUser, Content: text, Timestamp: time.Now()}}
}

func notFoundResponse() stubResponse {
	return stubResponse{status: http.StatusNotFound, body: `{"error":{"code":404,"message":"model not found","status":"NOT_FOUND"}}`}
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(nil, NewModelCache())
	require.Error(t, err)
	_, err = NewClient(staticSettings{}, nil)
	require.Error(t, err)
}

func TestGenerate_FallbackStopsAtFirstSuccessAndPins(t *testing.T) {
	stub := &providerStub{
		models: []string{"model-a", "model-b", "model-c"},
		responses: map[string]stubResponse{
			"model-a": notFoundResponse(),
			"model-b": textResponse("hello from b"),
		},
	}
	c, cache := newStubClient(t, stub, liveSettings("AIza-test"))

	reply, err := c.Generate(context.Background(), "user-1", userMessage("hi"))
	require.NoError(t, err)
	require.Equal(t, "hello from b", reply.Text)
	require.Equal(t, "model-b", reply.Model)
	require.False(t, reply.DemoMode)
	require.Equal(t, []string{"model-a", "model-b"}, stub.calledModels())
	require.Equal(t, "model-b", cache.Pinned())

	// Next call goes straight to the pinned model; no re-discovery.
	reply, err = c.Generate(context.Background(), "user-1", userMessage("again"))
	require.NoError(t, err)
	require.Equal(t, "model-b", reply.Model)
	require.Equal(t, []string{"model-a", "model-b", "model-b"}, stub.calledModels())
	require.Equal(t, 1, stub.listCalls)
}

func TestGenerate_ContentBlockedStopsFallback(t *testing.T) {
	stub := &providerStub{
		models: []string{"model-a", "model-b", "model-c"},
		responses: map[string]stubResponse{
			"model-a": {status: http.StatusOK, body: `{"promptFeedback":{"blockReason":"SAFETY","safetyRatings":[{"category":"HARM_CATEGORY_SELF_HARM","probability":"HIGH"}]}}`},
		},
	}
	c, cache := newStubClient(t, stub, liveSettings("AIza-test"))

	_, err := c.Generate(context.Background(), "user-1", userMessage("hi"))
	requireProviderCode(t, err, CodeContentBlocked)
	require.Equal(t, []string{"model-a"}, stub.calledModels())
	require.Empty(t, cache.Pinned())
}

func TestGenerate_QuotaStopsFallback(t *testing.T) {
	stub := &providerStub{
		models: []string{"model-a", "model-b"},
		responses: map[string]stubResponse{
			"model-a": {status: http.StatusTooManyRequests, body: `{"error":{"code":429,"message":"quota","status":"RESOURCE_EXHAUSTED"}}`},
		},
	}
	c, _ := newStubClient(t, stub, liveSettings("AIza-test"))

	_, err := c.Generate(context.Background(), "user-1", userMessage("hi"))
	requireProviderCode(t, err, CodeQuotaExceeded)
	require.Equal(t, []string{"model-a"}, stub.calledModels())
}

func TestGenerate_InvalidCredentialStopsFallback(t *testing.T) {
	stub := &providerStub{
		models: []string{"model-a", "model-b"},
		responses: map[string]stubResponse{
			"model-a": {status: http.StatusForbidden, body: `{"error":{"code":403,"message":"key invalid","status":"PERMISSION_DENIED"}}`},
		},
	}
	c, _ := newStubClient(t, stub, liveSettings("AIza-test"))

	_, err := c.Generate(context.Background(), "user-1", userMessage("hi"))
	requireProviderCode(t, err, CodeInvalidCredential)
	require.Equal(t, []string{"model-a"}, stub.calledModels())
}

func TestGenerate_TransientRetriedOnceThenSurfaced(t *testing.T) {
	stub := &providerStub{
		models: []string{"model-a"},
		responses: map[string]stubResponse{
			"model-a": {status: http.StatusInternalServerError, body: `{"error":{"code":500,"message":"boom","status":"INTERNAL"}}`},
		},
	}
	c, _ := newStubClient(t, stub, liveSettings("AIza-test"))

	_, err := c.Generate(context.Background(), "user-1", userMessage("hi"))
	requireProviderCode(t, err, CodeTransientFailure)
	require.Equal(t, []string{"model-a", "model-a"}, stub.calledModels())
}

func TestGenerate_AllCandidatesUnavailable(t *testing.T) {
	stub := &providerStub{
		models: []string{"model-a", "model-b"},
		responses: map[string]stubResponse{
			"model-a": notFoundResponse(),
			"model-b": notFoundResponse(),
		},
	}
	c, _ := newStubClient(t, stub, liveSettings("AIza-test"))

	_, err := c.Generate(context.Background(), "user-1", userMessage("hi"))
	requireProviderCode(t, err, CodeNoModelsAvailable)
}

func TestGenerate_EmptyDiscovery(t *testing.T) {
	stub := &providerStub{models: nil}
	c, _ := newStubClient(t, stub, liveSettings("AIza-test"))

	_, err := c.Generate(context.Background(), "user-1", userMessage("hi"))
	requireProviderCode(t, err, CodeNoModelsAvailable)
}

func TestGenerate_DiscoveryFailure(t *testing.T) {
	stub := &providerStub{listErr: http.StatusInternalServerError}
	c, _ := newStubClient(t, stub, liveSettings("AIza-test"))

	_, err := c.Generate(context.Background(), "user-1", userMessage("hi"))
	requireProviderCode(t, err, CodeNoModelsAvailable)
}

func TestGenerate_PinnedFailureReentersFallback(t *testing.T) {
	stub := &providerStub{
		models: []string{"model-a", "model-b"},
		responses: map[string]stubResponse{
			"model-a": textResponse("from a"),
			"model-b": textResponse("from b"),
		},
	}
	c, cache := newStubClient(t, stub, liveSettings("AIza-test"))

	reply, err := c.Generate(context.Background(), "user-1", userMessage("hi"))
	require.NoError(t, err)
	require.Equal(t, "model-a", reply.Model)

	// Pinned model disappears; gateway falls through to the next candidate
	// and re-pins.
	stub.mu.Lock()
	stub.responses["model-a"] = notFoundResponse()
	stub.mu.Unlock()

	reply, err = c.Generate(context.Background(), "user-1", userMessage("hi"))
	require.NoError(t, err)
	require.Equal(t, "model-b", reply.Model)
	require.Equal(t, "model-b", cache.Pinned())
}

func TestGenerate_DemoModeNeverTouchesNetwork(t *testing.T) {
	stub := &providerStub{models: []string{"model-a"}}
	c, _ := newStubClient(t, stub, staticSettings{settings: domain.Settings{GeminiAPIKey: "AIza-test", DemoMode: true}})

	start := time.Now()
	reply, err := c.Generate(context.Background(), "user-1", userMessage("hi"))
	require.NoError(t, err)
	require.True(t, reply.DemoMode)
	require.NotEmpty(t, reply.Text)
	require.Less(t, time.Since(start), 50*time.Millisecond)
	require.Empty(t, stub.calledModels())

	stub.mu.Lock()
	require.Zero(t, stub.listCalls)
	stub.mu.Unlock()
}

func TestGenerate_NoCredentialFallsBackToDemo(t *testing.T) {
	stub := &providerStub{models: []string{"model-a"}}
	c, _ := newStubClient(t, stub, staticSettings{settings: domain.Settings{}})

	reply, err := c.Generate(context.Background(), "user-1", userMessage("hi"))
	require.NoError(t, err)
	require.True(t, reply.DemoMode)
	require.Equal(t, "demo", reply.Model)
	require.Empty(t, stub.calledModels())
}

func TestGenerate_DemoRepliesRotate(t *testing.T) {
	stub := &providerStub{}
	c, _ := newStubClient(t, stub, staticSettings{settings: domain.Settings{DemoMode: true}})

	first, err := c.Generate(context.Background(), "user-1", userMessage("hi"))
	require.NoError(t, err)
	second, err := c.Generate(context.Background(), "user-1", userMessage("hi"))
	require.NoError(t, err)
	require.NotEqual(t, first.Text, second.Text)
}

func TestGenerate_SettingsResolutionError(t *testing.T) {
	stub := &providerStub{}
	c, _ := newStubClient(t, stub, staticSettings{err: errors.New("store down")})

	_, err := c.Generate(context.Background(), "user-1", userMessage("hi"))
	require.ErrorContains(t, err, "store down")
}

func TestTestCredential(t *testing.T) {
	stub := &providerStub{models: []string{"model-a"}}
	c, _ := newStubClient(t, stub, liveSettings("AIza-test"))
	ctx := context.Background()

	require.NoError(t, c.TestCredential(ctx, "AIza-test"))

	err := c.TestCredential(ctx, " ")
	requireProviderCode(t, err, CodeNoCredential)
}

func TestParseGenerateResponse_NoTextDiagnostics(t *testing.T) {
	_, err := parseGenerateResponse([]byte(`{"candidates":[{"content":{"parts":[],"role":"model"},"finishReason":"MAX_TOKENS"}]}`))
	requireProviderCode(t, err, CodeTransientFailure)
	var diag *NoTextError
	require.ErrorAs(t, err, &diag)
	require.Equal(t, "MAX_TOKENS", diag.FinishReason)

	_, err = parseGenerateResponse([]byte(`{"candidates":[{"content":{"parts":[],"role":"model"},"finishReason":"SAFETY","safetyRatings":[{"category":"HARM_CATEGORY_SELF_HARM","probability":"HIGH"}]}]}`))
	requireProviderCode(t, err, CodeContentBlocked)
	require.ErrorAs(t, err, &diag)
	require.Len(t, diag.SafetyRatings, 1)

	_, err = parseGenerateResponse([]byte(`not json`))
	requireProviderCode(t, err, CodeTransientFailure)
}

func requireProviderCode(t *testing.T, err error, code ErrorCode) {
	t.Helper()
	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, code, pe.Code)
}
