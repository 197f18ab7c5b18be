package usecase

import (
	"context"
	"errors"
	"time"

	"mindwell-backend/internal/domain"
	"mindwell-backend/internal/repository"
)

// AccountService implements user-facing data portability: full export and
// account deletion.
type AccountService struct {
	store       RecordStore
	assessments *AssessmentService
	chat        *ChatService
}

// AccountExport is the complete decrypted picture of a user's operational
// data. Credentials are reduced to their presence flag.
type AccountExport struct {
	Profile       *domain.Profile              `json:"profile,omitempty"`
	Settings      domain.SettingsView          `json:"settings"`
	Assessments   []domain.AssessmentRecord    `json:"assessments"`
	Conversations []domain.ConversationHistory `json:"conversations"`
	ExportedAt    time.Time                    `json:"exportedAt"`
}

func NewAccountService(store RecordStore, assessments *AssessmentService, chat *ChatService) (*AccountService, error) {
	if store == nil {
		return nil, errors.New("usecase: record store must not be nil")
	}
	if assessments == nil {
		return nil, errors.New("usecase: assessment service must not be nil")
	}
	if chat == nil {
		return nil, errors.New("usecase: chat service must not be nil")
	}
	return &AccountService{store: store, assessments: assessments, chat: chat}, nil
}

// Export returns everything the user owns as one decrypted document.
func (s *AccountService) Export(ctx context.Context, userID string) (AccountExport, error) {
	export := AccountExport{ExportedAt: time.Now().UTC()}

	var profile domain.Profile
	found, err := s.store.Get(ctx, repository.ProfileKey(userID), &profile)
	if err != nil {
		return AccountExport{}, newError(ErrorStoreUnavailable, "load_profile_failed", err)
	}
	if found {
		export.Profile = &profile
	}

	var settings domain.Settings
	if _, err := s.store.Get(ctx, repository.SettingsKey(userID), &settings); err != nil {
		return AccountExport{}, newError(ErrorStoreUnavailable, "load_settings_failed", err)
	}
	export.Settings = domain.SettingsView{
		DemoMode:          settings.DemoMode,
		CredentialPresent: settings.CredentialPresent(),
	}

	export.Assessments, err = s.assessments.List(ctx, userID)
	if err != nil {
		return AccountExport{}, err
	}

	summaries, err := s.chat.List(ctx, userID)
	if err != nil {
		return AccountExport{}, err
	}
	export.Conversations = make([]domain.ConversationHistory, 0, len(summaries))
	for _, summary := range summaries {
		history, err := s.chat.History(ctx, userID, summary.ConversationID)
		if err != nil {
			return AccountExport{}, err
		}
		export.Conversations = append(export.Conversations, history)
	}
	return export, nil
}

// Delete removes every operational key the user owns. Index documents go
// first so an interrupted deletion leaves orphaned, unreachable records
// rather than index entries pointing at nothing. Crisis alerts are
// append-only and survive account deletion; pseudonymized analytical rows
// carry no identifier and are out of deletion scope.
func (s *AccountService) Delete(ctx context.Context, userID string) error {
	var convIndex domain.ConversationIndex
	if _, err := s.store.Get(ctx, repository.ConversationIndexKey(userID), &convIndex); err != nil {
		return newError(ErrorStoreUnavailable, "load_index_failed", err)
	}
	var assessIndex domain.AssessmentIndex
	if _, err := s.store.Get(ctx, repository.AssessmentIndexKey(userID), &assessIndex); err != nil {
		return newError(ErrorStoreUnavailable, "load_index_failed", err)
	}

	if err := s.store.Delete(ctx, repository.ConversationIndexKey(userID)); err != nil {
		return newError(ErrorStoreUnavailable, "delete_index_failed", err)
	}
	if err := s.store.Delete(ctx, repository.AssessmentIndexKey(userID)); err != nil {
		return newError(ErrorStoreUnavailable, "delete_index_failed", err)
	}
	for _, id := range convIndex.ConversationIDs {
		if err := s.store.Delete(ctx, repository.ConversationKey(userID, id)); err != nil {
			return newError(ErrorStoreUnavailable, "delete_conversation_failed", err)
		}
	}
	for _, id := range assessIndex.SessionIDs {
		if err := s.store.Delete(ctx, repository.AssessmentKey(userID, id)); err != nil {
			return newError(ErrorStoreUnavailable, "delete_assessment_failed", err)
		}
	}
	if err := s.store.Delete(ctx, repository.SettingsKey(userID)); err != nil {
		return newError(ErrorStoreUnavailable, "delete_settings_failed", err)
	}
	if err := s.store.Delete(ctx, repository.ProfileKey(userID)); err != nil {
		return newError(ErrorStoreUnavailable, "delete_profile_failed", err)
	}
	return nil
}
