package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"mindwell-backend/internal/domain"
	"mindwell-backend/internal/pseudonym"
	"mindwell-backend/internal/repository"
)

// Sealer is the envelope encryption surface assessments depend on.
type Sealer interface {
	Encrypt(payload any) (string, error)
	Decrypt(envelope string, out any) error
}

// AssessmentMirror is the analytical side channel for assessment rows and
// the derived per-item signals.
type AssessmentMirror interface {
	MirrorAssessment(ctx context.Context, rec domain.AssessmentRecord) pseudonym.Outcome
	MirrorEmotions(ctx context.Context, userID string, observedAt time.Time, scores map[string]float64) pseudonym.Outcome
}

// phq9Signals names the symptom dimension behind each questionnaire item,
// mirrored as derived emotion scores normalized to [0,1].
var phq9Signals = [domain.PHQ9ItemCount]string{
	"anhedonia",
	"low_mood",
	"sleep_disturbance",
	"fatigue",
	"appetite_change",
	"low_self_worth",
	"poor_concentration",
	"psychomotor_change",
	"self_harm_ideation",
}

func emotionSignals(responses []int) map[string]float64 {
	scores := make(map[string]float64, len(responses))
	for i, r := range responses {
		scores[phq9Signals[i]] = float64(r) / 3
	}
	return scores
}

// AssessmentService handles PHQ-9 submission, AI insights annotation, and
// retrieval.
type AssessmentService struct {
	store  RecordStore
	sealer Sealer
	mirror AssessmentMirror
	ai     AIGateway
}

type SubmitAssessmentInput struct {
	UserID            string
	Responses         []int
	Notes             string
	ConsentToResearch bool
	GenerateInsights  bool
}

// notesPayload is what goes inside the assessment envelope. Free text never
// persists outside it.
type notesPayload struct {
	Notes string `json:"notes"`
}

func NewAssessmentService(store RecordStore, sealer Sealer, mirror AssessmentMirror, ai AIGateway) (*AssessmentService, error) {
	if store == nil {
		return nil, errors.New("usecase: record store must not be nil")
	}
	if sealer == nil {
		return nil, errors.New("usecase: sealer must not be nil")
	}
	if mirror == nil {
		return nil, errors.New("usecase: assessment mirror must not be nil")
	}
	if ai == nil {
		return nil, errors.New("usecase: ai gateway must not be nil")
	}
	return &AssessmentService{store: store, sealer: sealer, mirror: mirror, ai: ai}, nil
}

// Submit validates and persists one PHQ-9 submission. The total score is
// always recomputed server-side. After the operational write succeeds, the
// record is mirrored to the analytical sink when consented, and insights
// are optionally generated; neither side effect can fail the submission.
func (s *AssessmentService) Submit(ctx context.Context, in SubmitAssessmentInput) (domain.AssessmentRecord, error) {
	if strings.TrimSpace(in.UserID) == "" {
		return domain.AssessmentRecord{}, newError(ErrorInvalidInput, "missing_user", nil)
	}
	if len(in.Responses) != domain.PHQ9ItemCount {
		return domain.AssessmentRecord{}, newError(ErrorInvalidInput, "wrong_response_count", nil)
	}
	score := 0
	for i, r := range in.Responses {
		if r < 0 || r > 3 {
			return domain.AssessmentRecord{}, newError(ErrorInvalidInput, fmt.Sprintf("response_%d_out_of_range", i+1), nil)
		}
		score += r
	}

	now := time.Now().UTC()
	rec := domain.AssessmentRecord{
		SessionID:               newUUID(),
		UserID:                  in.UserID,
		Timestamp:               now,
		Responses:               append([]int(nil), in.Responses...),
		Score:                   score,
		RequiresImmediateAction: in.Responses[domain.PHQ9ItemCount-1] > 0 || score >= 20,
		ConsentToResearch:       in.ConsentToResearch,
	}

	if notes := strings.TrimSpace(in.Notes); notes != "" {
		envelope, err := s.sealer.Encrypt(notesPayload{Notes: notes})
		if err != nil {
			return domain.AssessmentRecord{}, newError(ErrorCrypto, "encrypt_notes_failed", err)
		}
		rec.Encrypted = true
		rec.EncryptedPayload = envelope
	}

	if err := s.store.Set(ctx, repository.AssessmentKey(in.UserID, rec.SessionID), rec); err != nil {
		return domain.AssessmentRecord{}, newError(ErrorStoreUnavailable, "persist_assessment_failed", err)
	}
	if err := s.registerAssessment(ctx, in.UserID, rec.SessionID); err != nil {
		return domain.AssessmentRecord{}, err
	}

	// Side effects after the acknowledged operational write. The consent
	// gate on derived signals matches the one the bridge applies to the
	// assessment row itself.
	s.mirror.MirrorAssessment(context.WithoutCancel(ctx), rec)
	if rec.ConsentToResearch {
		s.mirror.MirrorEmotions(context.WithoutCancel(ctx), rec.UserID, rec.Timestamp, emotionSignals(rec.Responses))
	}
	if in.GenerateInsights {
		if insights, err := s.generateInsights(ctx, rec); err == nil {
			if updated, attachErr := s.AttachInsights(ctx, in.UserID, rec.SessionID, insights); attachErr == nil {
				rec = updated
			}
		}
	}
	return rec, nil
}

// Get returns one assessment record with its notes decrypted.
func (s *AssessmentService) Get(ctx context.Context, userID, sessionID string) (domain.AssessmentRecord, error) {
	if strings.TrimSpace(sessionID) == "" {
		return domain.AssessmentRecord{}, newError(ErrorInvalidInput, "missing_session_id", nil)
	}
	var rec domain.AssessmentRecord
	found, err := s.store.Get(ctx, repository.AssessmentKey(userID, sessionID), &rec)
	if err != nil {
		return domain.AssessmentRecord{}, newError(ErrorStoreUnavailable, "load_assessment_failed", err)
	}
	if !found {
		return domain.AssessmentRecord{}, newError(ErrorNotFound, "assessment_not_found", nil)
	}
	if err := s.openNotes(&rec); err != nil {
		return domain.AssessmentRecord{}, err
	}
	return rec, nil
}

// List returns the user's assessments, newest first, notes decrypted.
func (s *AssessmentService) List(ctx context.Context, userID string) ([]domain.AssessmentRecord, error) {
	var index domain.AssessmentIndex
	if _, err := s.store.Get(ctx, repository.AssessmentIndexKey(userID), &index); err != nil {
		return nil, newError(ErrorStoreUnavailable, "load_index_failed", err)
	}

	records := make([]domain.AssessmentRecord, 0, len(index.SessionIDs))
	for _, id := range index.SessionIDs {
		var rec domain.AssessmentRecord
		found, err := s.store.Get(ctx, repository.AssessmentKey(userID, id), &rec)
		if err != nil {
			return nil, newError(ErrorStoreUnavailable, "load_assessment_failed", err)
		}
		if !found {
			continue
		}
		if err := s.openNotes(&rec); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// AttachInsights adds the one-time AI annotation. A record that already
// carries insights is immutable.
func (s *AssessmentService) AttachInsights(ctx context.Context, userID, sessionID string, insights domain.AssessmentInsights) (domain.AssessmentRecord, error) {
	var rec domain.AssessmentRecord
	found, err := s.store.Get(ctx, repository.AssessmentKey(userID, sessionID), &rec)
	if err != nil {
		return domain.AssessmentRecord{}, newError(ErrorStoreUnavailable, "load_assessment_failed", err)
	}
	if !found {
		return domain.AssessmentRecord{}, newError(ErrorNotFound, "assessment_not_found", nil)
	}
	if rec.Insights != nil {
		return domain.AssessmentRecord{}, newError(ErrorInvalidInput, "insights_already_attached", nil)
	}
	rec.Insights = &insights
	if err := s.store.Set(ctx, repository.AssessmentKey(userID, sessionID), rec); err != nil {
		return domain.AssessmentRecord{}, newError(ErrorStoreUnavailable, "persist_assessment_failed", err)
	}
	return rec, nil
}

// generateInsights asks the model for a short supportive reflection on the
// banded result. Only the band and score cross the wire, never free text.
func (s *AssessmentService) generateInsights(ctx context.Context, rec domain.AssessmentRecord) (domain.AssessmentInsights, error) {
	prompt := fmt.Sprintf(
		"A user completed a PHQ-9 wellbeing check-in with a total score of %d (%s band). "+
			"Write two or three warm, supportive sentences acknowledging their check-in and "+
			"encouraging healthy next steps. Do not diagnose, do not mention the questionnaire "+
			"mechanics, and do not give medical advice.",
		rec.Score, domain.SeverityBand(rec.Score),
	)
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), providerTimeout)
	defer cancel()

	reply, err := s.ai.Generate(callCtx, rec.UserID, []domain.ChatMessage{
		{Role: domain.RoleUser, Content: prompt, Timestamp: time.Now().UTC()},
	})
	if err != nil {
		return domain.AssessmentInsights{}, err
	}
	return domain.AssessmentInsights{
		Text:        reply.Text,
		Model:       reply.Model,
		DemoMode:    reply.DemoMode,
		GeneratedAt: time.Now().UTC(),
	}, nil
}

func (s *AssessmentService) openNotes(rec *domain.AssessmentRecord) error {
	if !rec.Encrypted || rec.EncryptedPayload == "" {
		return nil
	}
	var payload notesPayload
	if err := s.sealer.Decrypt(rec.EncryptedPayload, &payload); err != nil {
		return newError(ErrorCrypto, "decrypt_notes_failed", err)
	}
	rec.Notes = payload.Notes
	return nil
}

func (s *AssessmentService) registerAssessment(ctx context.Context, userID, sessionID string) error {
	var index domain.AssessmentIndex
	if _, err := s.store.Get(ctx, repository.AssessmentIndexKey(userID), &index); err != nil {
		return newError(ErrorStoreUnavailable, "load_index_failed", err)
	}
	index.UserID = userID
	index.SessionIDs = append([]string{sessionID}, index.SessionIDs...)
	if err := s.store.Set(ctx, repository.AssessmentIndexKey(userID), index); err != nil {
		return newError(ErrorStoreUnavailable, "update_index_failed", err)
	}
	return nil
}
