package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"mindwell-backend/internal/domain"
	"mindwell-backend/internal/integrations/gemini"
	"mindwell-backend/internal/pseudonym"
)

// memStore is an in-memory RecordStore. Documents round-trip through JSON
// so stored state is isolated from caller mutations.
type memStore struct {
	mu      sync.Mutex
	items   map[string]json.RawMessage
	failOps map[string]error // "get"/"set"/"delete" -> injected error
}

func newMemStore() *memStore {
	return &memStore{items: make(map[string]json.RawMessage), failOps: make(map[string]error)}
}

func (m *memStore) Get(_ context.Context, key string, out any) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failOps["get"]; err != nil {
		return false, err
	}
	raw, ok := m.items[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, out)
}

func (m *memStore) Set(_ context.Context, key string, doc any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failOps["set"]; err != nil {
		return err
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	m.items[key] = raw
	return nil
}

func (m *memStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failOps["delete"]; err != nil {
		return err
	}
	delete(m.items, key)
	return nil
}

func (m *memStore) keysWithPrefix(prefix string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.items {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys
}

// fakeGateway scripts the AI gateway.
type fakeGateway struct {
	mu      sync.Mutex
	reply   gemini.Reply
	err     error
	calls   int
	prompts [][]domain.ChatMessage
}

func (f *fakeGateway) Generate(_ context.Context, _ string, messages []domain.ChatMessage) (gemini.Reply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	copied := make([]domain.ChatMessage, len(messages))
	copy(copied, messages)
	f.prompts = append(f.prompts, copied)
	if f.err != nil {
		return gemini.Reply{}, f.err
	}
	if f.reply.Text == "" {
		return gemini.Reply{Text: fmt.Sprintf("reply %d", f.calls), Model: "gemini-2.0-flash"}, nil
	}
	return f.reply, nil
}

func (f *fakeGateway) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeGateway) lastPrompt() []domain.ChatMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.prompts) == 0 {
		return nil
	}
	return f.prompts[len(f.prompts)-1]
}

// fakeBehaviorMirror records behavior aggregate and session outcome calls.
type fakeBehaviorMirror struct {
	mu       sync.Mutex
	calls    []behaviorCall
	outcomes []outcomeCall
}

type behaviorCall struct {
	userID                          string
	sessions, messages, crisisFlags int
}

type outcomeCall struct {
	userID, sessionID string
	completed         bool
}

func (f *fakeBehaviorMirror) MirrorBehavior(_ context.Context, userID string, _ time.Time, sessions, messages, crisisFlags int) pseudonym.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, behaviorCall{userID: userID, sessions: sessions, messages: messages, crisisFlags: crisisFlags})
	return pseudonym.OutcomeWritten
}

func (f *fakeBehaviorMirror) MirrorSessionOutcome(_ context.Context, userID, sessionID string, _, _ time.Time, completed bool) pseudonym.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes = append(f.outcomes, outcomeCall{userID: userID, sessionID: sessionID, completed: completed})
	return pseudonym.OutcomeWritten
}

// fakeAssessmentMirror records mirrored assessment records and signals.
type fakeAssessmentMirror struct {
	records []domain.AssessmentRecord
	signals []map[string]float64
}

func (f *fakeAssessmentMirror) MirrorAssessment(_ context.Context, rec domain.AssessmentRecord) pseudonym.Outcome {
	f.records = append(f.records, rec)
	if !rec.ConsentToResearch {
		return pseudonym.OutcomeSkipped
	}
	return pseudonym.OutcomeWritten
}

func (f *fakeAssessmentMirror) MirrorEmotions(_ context.Context, _ string, _ time.Time, scores map[string]float64) pseudonym.Outcome {
	f.signals = append(f.signals, scores)
	return pseudonym.OutcomeWritten
}

// fakeTester scripts credential verification.
type fakeTester struct {
	err  error
	keys []string
}

func (f *fakeTester) TestCredential(_ context.Context, apiKey string) error {
	f.keys = append(f.keys, apiKey)
	return f.err
}

var errStoreDown = errors.New("store down")
