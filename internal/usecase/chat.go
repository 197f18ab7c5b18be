// Package usecase holds the application services: the conversation
// orchestrator, settings, assessment intake, and account export/deletion.
// Services depend on small consumer-side interfaces so each is testable
// with in-memory fakes.
package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"mindwell-backend/internal/domain"
	"mindwell-backend/internal/integrations/gemini"
	"mindwell-backend/internal/pseudonym"
	"mindwell-backend/internal/repository"
)

const (
	maxMessageLen = 4000
	// providerTimeout bounds the generate call; it runs detached from the
	// request context so a caller disconnect cannot cancel it mid-flight.
	providerTimeout = 25 * time.Second
)

// RecordStore is the operational keyed document store surface.
type RecordStore interface {
	Get(ctx context.Context, key string, out any) (bool, error)
	Set(ctx context.Context, key string, doc any) error
	Delete(ctx context.Context, key string) error
}

// AIGateway executes one text completion for a user.
type AIGateway interface {
	Generate(ctx context.Context, userID string, messages []domain.ChatMessage) (gemini.Reply, error)
}

// BehaviorMirror is the analytical side channel for usage aggregates and
// conversation outcomes.
type BehaviorMirror interface {
	MirrorBehavior(ctx context.Context, userID string, day time.Time, sessions, messages, crisisFlags int) pseudonym.Outcome
	MirrorSessionOutcome(ctx context.Context, userID, sessionID string, startedAt, endedAt time.Time, completed bool) pseudonym.Outcome
}

// ChatService is the conversation orchestrator.
type ChatService struct {
	store  RecordStore
	ai     AIGateway
	mirror BehaviorMirror
	locks  *keyedMutex
}

type SendInput struct {
	UserID         string
	ConversationID string
	Message        string
}

type SendOutput struct {
	ConversationID string
	Reply          domain.ChatMessage
	Model          string
	DemoMode       bool
	CrisisDetected bool
}

// ConversationSummary is one row of the conversation listing.
type ConversationSummary struct {
	ConversationID     string    `json:"conversationId"`
	StartedAt          time.Time `json:"startedAt"`
	LastMessageAt      time.Time `json:"lastMessageAt"`
	MessageCount       int       `json:"messageCount"`
	HasCrisisIndicator bool      `json:"hasCrisisIndicator"`
}

func NewChatService(store RecordStore, ai AIGateway, mirror BehaviorMirror) (*ChatService, error) {
	if store == nil {
		return nil, errors.New("usecase: record store must not be nil")
	}
	if ai == nil {
		return nil, errors.New("usecase: ai gateway must not be nil")
	}
	if mirror == nil {
		return nil, errors.New("usecase: behavior mirror must not be nil")
	}
	return &ChatService{
		store:  store,
		ai:     ai,
		mirror: mirror,
		locks:  newKeyedMutex(),
	}, nil
}

// Send turns one inbound user message into a persisted, answered turn.
// On provider failure nothing is persisted except a crisis alert, which is
// written before the call and kept regardless of its outcome.
func (s *ChatService) Send(ctx context.Context, in SendInput) (SendOutput, error) {
	message := strings.TrimSpace(in.Message)
	if message == "" {
		return SendOutput{}, newError(ErrorInvalidInput, "empty_message", nil)
	}
	if len(message) > maxMessageLen {
		return SendOutput{}, newError(ErrorInvalidInput, "message_too_long", nil)
	}
	if strings.TrimSpace(in.UserID) == "" {
		return SendOutput{}, newError(ErrorInvalidInput, "missing_user", nil)
	}

	convID := strings.TrimSpace(in.ConversationID)
	if convID == "" {
		convID = newUUID()
	}

	// Two concurrent turns on the same conversation must not interleave
	// their read-modify-write of history.
	unlock := s.locks.Lock(in.UserID + "/" + convID)
	defer unlock()

	var history domain.ConversationHistory
	found, err := s.store.Get(ctx, repository.ConversationKey(in.UserID, convID), &history)
	if err != nil {
		return SendOutput{}, newError(ErrorStoreUnavailable, "load_history_failed", err)
	}
	now := time.Now().UTC()
	if !found {
		history = domain.ConversationHistory{
			ConversationID: convID,
			UserID:         in.UserID,
			Metadata:       domain.ConversationMetadata{StartedAt: now},
		}
	}

	// The alert persists even when the provider call below fails.
	phrase, crisis := detectCrisis(message)
	if crisis {
		alert := domain.CrisisAlert{
			AlertID:        newUUID(),
			UserID:         in.UserID,
			ConversationID: convID,
			MatchedPhrase:  phrase,
			CreatedAt:      now,
		}
		if err := s.store.Set(ctx, repository.CrisisAlertKey(in.UserID, alert.AlertID), alert); err != nil {
			return SendOutput{}, newError(ErrorStoreUnavailable, "persist_crisis_alert_failed", err)
		}
	}

	prompt := buildPromptMessages(history.Messages, message, now)

	// Detached from the request context so a disconnect does not waste the
	// in-flight provider call or its sticky-model pin.
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), providerTimeout)
	defer cancel()
	reply, err := s.ai.Generate(callCtx, in.UserID, prompt)
	if err != nil {
		// The gateway resolves settings through this package, so a store
		// outage surfaces here already classified. Keep that code instead
		// of relabeling it a provider failure.
		var ue *Error
		if errors.As(err, &ue) {
			return SendOutput{}, ue
		}
		return SendOutput{}, newError(ErrorProvider, "generate_failed", err)
	}
	if ctx.Err() != nil {
		// The caller is gone; the completed reply must not become a turn.
		return SendOutput{}, newError(ErrorInternal, "request_canceled", ctx.Err())
	}

	assistant := domain.ChatMessage{Role: domain.RoleAssistant, Content: reply.Text, Timestamp: time.Now().UTC()}
	history.Messages = append(history.Messages,
		domain.ChatMessage{Role: domain.RoleUser, Content: message, Timestamp: now},
		assistant,
	)
	history.Metadata.LastMessageAt = assistant.Timestamp
	history.Metadata.MessageCount = len(history.Messages)
	if crisis {
		history.Metadata.HasCrisisIndicator = true
	}

	if err := s.store.Set(ctx, repository.ConversationKey(in.UserID, convID), history); err != nil {
		return SendOutput{}, newError(ErrorStoreUnavailable, "persist_history_failed", err)
	}
	if !found {
		// Index written last: a crash here orphans the history, which is a
		// benign leak, instead of leaving an index entry with no document.
		if err := s.registerConversation(ctx, in.UserID, convID); err != nil {
			return SendOutput{}, err
		}
	}

	// Fire-and-forget analytics; the bridge logs its own failures.
	s.mirror.MirrorBehavior(context.WithoutCancel(ctx), in.UserID, now, boolToCount(!found), 2, boolToCount(crisis))

	return SendOutput{
		ConversationID: convID,
		Reply:          assistant,
		Model:          reply.Model,
		DemoMode:       reply.DemoMode,
		CrisisDetected: crisis,
	}, nil
}

// History returns the full persisted conversation.
func (s *ChatService) History(ctx context.Context, userID, conversationID string) (domain.ConversationHistory, error) {
	if strings.TrimSpace(conversationID) == "" {
		return domain.ConversationHistory{}, newError(ErrorInvalidInput, "missing_conversation_id", nil)
	}
	var history domain.ConversationHistory
	found, err := s.store.Get(ctx, repository.ConversationKey(userID, conversationID), &history)
	if err != nil {
		return domain.ConversationHistory{}, newError(ErrorStoreUnavailable, "load_history_failed", err)
	}
	if !found {
		return domain.ConversationHistory{}, newError(ErrorNotFound, "conversation_not_found", nil)
	}
	return history, nil
}

// List returns summaries for the user's conversations, newest first. Index
// entries whose history document is missing are skipped.
func (s *ChatService) List(ctx context.Context, userID string) ([]ConversationSummary, error) {
	var index domain.ConversationIndex
	if _, err := s.store.Get(ctx, repository.ConversationIndexKey(userID), &index); err != nil {
		return nil, newError(ErrorStoreUnavailable, "load_index_failed", err)
	}

	summaries := make([]ConversationSummary, 0, len(index.ConversationIDs))
	for _, id := range index.ConversationIDs {
		var history domain.ConversationHistory
		found, err := s.store.Get(ctx, repository.ConversationKey(userID, id), &history)
		if err != nil {
			return nil, newError(ErrorStoreUnavailable, "load_history_failed", err)
		}
		if !found {
			continue
		}
		summaries = append(summaries, ConversationSummary{
			ConversationID:     id,
			StartedAt:          history.Metadata.StartedAt,
			LastMessageAt:      history.Metadata.LastMessageAt,
			MessageCount:       history.Metadata.MessageCount,
			HasCrisisIndicator: history.Metadata.HasCrisisIndicator,
		})
	}
	return summaries, nil
}

// Delete removes one conversation. The index entry goes first so a crash
// leaves an orphaned history, never a dangling index entry.
func (s *ChatService) Delete(ctx context.Context, userID, conversationID string) error {
	if strings.TrimSpace(conversationID) == "" {
		return newError(ErrorInvalidInput, "missing_conversation_id", nil)
	}

	unlock := s.locks.Lock(userID + "/" + conversationID)
	defer unlock()

	var history domain.ConversationHistory
	hadHistory, err := s.store.Get(ctx, repository.ConversationKey(userID, conversationID), &history)
	if err != nil {
		return newError(ErrorStoreUnavailable, "load_history_failed", err)
	}

	var index domain.ConversationIndex
	found, err := s.store.Get(ctx, repository.ConversationIndexKey(userID), &index)
	if err != nil {
		return newError(ErrorStoreUnavailable, "load_index_failed", err)
	}
	if found {
		kept := index.ConversationIDs[:0]
		for _, id := range index.ConversationIDs {
			if id != conversationID {
				kept = append(kept, id)
			}
		}
		index.ConversationIDs = kept
		index.UserID = userID
		if err := s.store.Set(ctx, repository.ConversationIndexKey(userID), index); err != nil {
			return newError(ErrorStoreUnavailable, "update_index_failed", err)
		}
	}

	if err := s.store.Delete(ctx, repository.ConversationKey(userID, conversationID)); err != nil {
		return newError(ErrorStoreUnavailable, "delete_history_failed", err)
	}

	// A deleted conversation closes its analytical session.
	if hadHistory {
		s.mirror.MirrorSessionOutcome(context.WithoutCancel(ctx), userID, conversationID,
			history.Metadata.StartedAt, history.Metadata.LastMessageAt, history.Metadata.MessageCount > 0)
	}
	return nil
}

func (s *ChatService) registerConversation(ctx context.Context, userID, conversationID string) error {
	var index domain.ConversationIndex
	if _, err := s.store.Get(ctx, repository.ConversationIndexKey(userID), &index); err != nil {
		return newError(ErrorStoreUnavailable, "load_index_failed", err)
	}
	for _, id := range index.ConversationIDs {
		if id == conversationID {
			return nil
		}
	}
	index.UserID = userID
	index.ConversationIDs = append([]string{conversationID}, index.ConversationIDs...)
	if err := s.store.Set(ctx, repository.ConversationIndexKey(userID), index); err != nil {
		return newError(ErrorStoreUnavailable, "update_index_failed", err)
	}
	return nil
}

func boolToCount(b bool) int {
	if b {
		return 1
	}
	return 0
}

var newUUID = func() string {
	return uuid.NewString()
}
