package pseudonym

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mindwell-backend/internal/domain"
)

type fakeHasher struct{}

func (fakeHasher) HashIdentifier(id string) string {
	sum := sha256.Sum256([]byte(id + "test-salt"))
	return hex.EncodeToString(sum[:])
}

type fakeSink struct {
	assessments []domain.AssessmentRow
	emotions    []domain.EmotionSignalRow
	behaviors   []domain.BehaviorAggregateRow
	outcomes    []domain.SessionOutcomeRow
	err         error
}

func (f *fakeSink) InsertAssessment(_ context.Context, row domain.AssessmentRow) error {
	if f.err != nil {
		return f.err
	}
	f.assessments = append(f.assessments, row)
	return nil
}

func (f *fakeSink) InsertEmotionSignal(_ context.Context, row domain.EmotionSignalRow) error {
	if f.err != nil {
		return f.err
	}
	f.emotions = append(f.emotions, row)
	return nil
}

func (f *fakeSink) InsertBehaviorAggregate(_ context.Context, row domain.BehaviorAggregateRow) error {
	if f.err != nil {
		return f.err
	}
	f.behaviors = append(f.behaviors, row)
	return nil
}

func (f *fakeSink) InsertSessionOutcome(_ context.Context, row domain.SessionOutcomeRow) error {
	if f.err != nil {
		return f.err
	}
	f.outcomes = append(f.outcomes, row)
	return nil
}

// fakeConsent grants consent only to the listed users.
type fakeConsent struct {
	granted map[string]bool
	err     error
}

func (f *fakeConsent) ConsentToResearch(_ context.Context, userID string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.granted[userID], nil
}

func allConsenting() *fakeConsent {
	return &fakeConsent{granted: map[string]bool{"user-1": true, "u": true}}
}

func newTestBridge(t *testing.T, sink RowWriter, consents ConsentSource) *Bridge {
	t.Helper()
	if consents == nil {
		consents = allConsenting()
	}
	b, err := New(fakeHasher{}, consents, sink, nil)
	require.NoError(t, err)
	return b
}

func consentedRecord() domain.AssessmentRecord {
	return domain.AssessmentRecord{
		SessionID:         "sess-1",
		UserID:            "user-1",
		Timestamp:         time.Now(),
		Responses:         []int{1, 1, 2, 0, 3, 1, 0, 2, 1},
		Score:             11,
		ConsentToResearch: true,
	}
}

func TestNew_MissingDependencies(t *testing.T) {
	_, err := New(nil, allConsenting(), &fakeSink{}, nil)
	require.Error(t, err)

	_, err = New(fakeHasher{}, nil, &fakeSink{}, nil)
	require.Error(t, err)
}

func TestMirrorAssessment_WritesPseudonymizedRow(t *testing.T) {
	sink := &fakeSink{}
	b := newTestBridge(t, sink, nil)

	out := b.MirrorAssessment(context.Background(), consentedRecord())
	require.Equal(t, OutcomeWritten, out)
	require.Len(t, sink.assessments, 1)

	row := sink.assessments[0]
	require.Equal(t, fakeHasher{}.HashIdentifier("user-1"), row.UserHash)
	require.NotContains(t, row.UserHash, "user-1")
	require.Equal(t, 11, row.TotalScore)
	require.Equal(t, domain.SeverityModerate, row.Severity)
}

func TestMirrorAssessment_ConsentGate(t *testing.T) {
	// Never a row without consent, whatever else the record holds.
	rng := rand.New(rand.NewSource(1))
	sink := &fakeSink{}
	b := newTestBridge(t, sink, nil)

	for i := 0; i < 200; i++ {
		responses := make([]int, domain.PHQ9ItemCount)
		score := 0
		for j := range responses {
			responses[j] = rng.Intn(4)
			score += responses[j]
		}
		rec := domain.AssessmentRecord{
			SessionID:               "sess",
			UserID:                  "user",
			Timestamp:               time.Now(),
			Responses:               responses,
			Score:                   score,
			RequiresImmediateAction: rng.Intn(2) == 0,
			Encrypted:               rng.Intn(2) == 0,
			ConsentToResearch:       false,
		}
		require.Equal(t, OutcomeSkipped, b.MirrorAssessment(context.Background(), rec))
	}
	require.Empty(t, sink.assessments)
}

func TestMirrorAssessment_SeverityBanding(t *testing.T) {
	sink := &fakeSink{}
	b := newTestBridge(t, sink, nil)

	for score, want := range map[int]string{
		0:  domain.SeverityMinimal,
		4:  domain.SeverityMinimal,
		5:  domain.SeverityMild,
		10: domain.SeverityModerate,
		15: domain.SeverityModeratelySevere,
		20: domain.SeveritySevere,
		27: domain.SeveritySevere,
	} {
		rec := consentedRecord()
		rec.Score = score
		require.Equal(t, OutcomeWritten, b.MirrorAssessment(context.Background(), rec))
		require.Equal(t, want, sink.assessments[len(sink.assessments)-1].Severity)
	}
}

func TestMirrorAssessment_SinkFailure(t *testing.T) {
	sink := &fakeSink{err: errors.New("warehouse down")}
	b := newTestBridge(t, sink, nil)

	out := b.MirrorAssessment(context.Background(), consentedRecord())
	require.Equal(t, OutcomeFailed, out)
}

func TestMirror_NilSinkSkips(t *testing.T) {
	b := newTestBridge(t, nil, nil)
	ctx := context.Background()

	require.Equal(t, OutcomeSkipped, b.MirrorAssessment(ctx, consentedRecord()))
	require.Equal(t, OutcomeSkipped, b.MirrorEmotions(ctx, "u", time.Now(), map[string]float64{"sadness": 1}))
	require.Equal(t, OutcomeSkipped, b.MirrorBehavior(ctx, "u", time.Now(), 1, 2, 0))
	require.Equal(t, OutcomeSkipped, b.MirrorSessionOutcome(ctx, "u", "s", time.Now(), time.Now(), true))
}

func TestMirrorEmotions(t *testing.T) {
	sink := &fakeSink{}
	b := newTestBridge(t, sink, nil)

	out := b.MirrorEmotions(context.Background(), "user-1", time.Now(), map[string]float64{"sadness": 0.8, "hope": 0.3})
	require.Equal(t, OutcomeWritten, out)
	require.Len(t, sink.emotions, 2)
	for _, row := range sink.emotions {
		require.Equal(t, fakeHasher{}.HashIdentifier("user-1"), row.UserHash)
	}
}

func TestMirrorBehavior(t *testing.T) {
	sink := &fakeSink{}
	b := newTestBridge(t, sink, nil)

	day := time.Date(2026, 8, 31, 14, 0, 0, 0, time.UTC)
	out := b.MirrorBehavior(context.Background(), "user-1", day, 1, 6, 1)
	require.Equal(t, OutcomeWritten, out)
	require.Equal(t, "2026-08-31", sink.behaviors[0].Day)
	require.Equal(t, 6, sink.behaviors[0].Messages)
}

func TestMirrorSessionOutcome_HashesBothIdentifiers(t *testing.T) {
	sink := &fakeSink{}
	b := newTestBridge(t, sink, nil)

	out := b.MirrorSessionOutcome(context.Background(), "user-1", "sess-1", time.Now(), time.Now(), true)
	require.Equal(t, OutcomeWritten, out)
	require.Equal(t, fakeHasher{}.HashIdentifier("user-1"), sink.outcomes[0].UserHash)
	require.Equal(t, fakeHasher{}.HashIdentifier("sess-1"), sink.outcomes[0].SessionHash)
}

func TestMirrorBehavior_ConsentGate(t *testing.T) {
	// Never a behavior row for a user without standing consent.
	sink := &fakeSink{}
	b := newTestBridge(t, sink, &fakeConsent{granted: map[string]bool{}})

	out := b.MirrorBehavior(context.Background(), "non-consenting-user", time.Now(), 1, 2, 1)
	require.Equal(t, OutcomeSkipped, out)
	require.Empty(t, sink.behaviors)
}

func TestMirrorSessionOutcome_ConsentGate(t *testing.T) {
	sink := &fakeSink{}
	b := newTestBridge(t, sink, &fakeConsent{granted: map[string]bool{}})

	out := b.MirrorSessionOutcome(context.Background(), "non-consenting-user", "sess-1", time.Now(), time.Now(), true)
	require.Equal(t, OutcomeSkipped, out)
	require.Empty(t, sink.outcomes)
}

func TestMirror_ConsentLookupFailureFailsClosed(t *testing.T) {
	sink := &fakeSink{}
	b := newTestBridge(t, sink, &fakeConsent{err: errors.New("settings store down")})
	ctx := context.Background()

	require.Equal(t, OutcomeFailed, b.MirrorBehavior(ctx, "user-1", time.Now(), 1, 2, 0))
	require.Equal(t, OutcomeFailed, b.MirrorSessionOutcome(ctx, "user-1", "sess-1", time.Now(), time.Now(), true))
	require.Empty(t, sink.behaviors)
	require.Empty(t, sink.outcomes)
}
