// Package pseudonym bridges operational records into the analytical sink.
// Identifiers are replaced with salted hashes and free-text fields are
// dropped before anything crosses the trust boundary. Writes are an
// optional side channel: failure is logged and reported, never propagated.
package pseudonym

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"mindwell-backend/internal/domain"
)

// Outcome distinguishes "nothing to do" from "tried and failed" so callers
// never confuse a consent skip with a sink outage.
type Outcome int

const (
	OutcomeWritten Outcome = iota
	OutcomeSkipped
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeWritten:
		return "written"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Hasher is the identifier pseudonymization dependency.
type Hasher interface {
	HashIdentifier(id string) string
}

// ConsentSource reports a user's standing research consent. Assessment
// mirrors carry consent on the record itself; conversation-derived mirrors
// have no source record and consult this instead.
type ConsentSource interface {
	ConsentToResearch(ctx context.Context, userID string) (bool, error)
}

// RowWriter is the analytical sink surface the bridge writes to.
type RowWriter interface {
	InsertAssessment(ctx context.Context, row domain.AssessmentRow) error
	InsertEmotionSignal(ctx context.Context, row domain.EmotionSignalRow) error
	InsertBehaviorAggregate(ctx context.Context, row domain.BehaviorAggregateRow) error
	InsertSessionOutcome(ctx context.Context, row domain.SessionOutcomeRow) error
}

// Bridge converts operational records into pseudonymized analytical rows.
// A nil sink disables the side channel entirely (every mirror is skipped).
type Bridge struct {
	hasher   Hasher
	consents ConsentSource
	sink     RowWriter
	log      *slog.Logger
}

// New creates a Bridge. sink may be nil when no warehouse is configured.
func New(hasher Hasher, consents ConsentSource, sink RowWriter, log *slog.Logger) (*Bridge, error) {
	if hasher == nil {
		return nil, errors.New("pseudonym: hasher must not be nil")
	}
	if consents == nil {
		return nil, errors.New("pseudonym: consent source must not be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Bridge{hasher: hasher, consents: consents, sink: sink, log: log}, nil
}

// MirrorAssessment writes one pseudonymized assessment row. Records without
// research consent are skipped entirely; no partial write happens.
func (b *Bridge) MirrorAssessment(ctx context.Context, rec domain.AssessmentRecord) Outcome {
	if !rec.ConsentToResearch {
		return OutcomeSkipped
	}
	if b.sink == nil {
		return OutcomeSkipped
	}

	row := domain.AssessmentRow{
		UserHash:       b.hasher.HashIdentifier(rec.UserID),
		AssessedAt:     rec.Timestamp,
		ItemScores:     rec.Responses,
		TotalScore:     rec.Score,
		Severity:       domain.SeverityBand(rec.Score),
		RequiresAction: rec.RequiresImmediateAction,
	}
	if err := b.sink.InsertAssessment(ctx, row); err != nil {
		b.log.Warn("analytical mirror dropped assessment row", "err", err)
		return OutcomeFailed
	}
	return OutcomeWritten
}

// MirrorEmotions writes one row per derived-emotion score.
func (b *Bridge) MirrorEmotions(ctx context.Context, userID string, observedAt time.Time, scores map[string]float64) Outcome {
	if b.sink == nil || len(scores) == 0 {
		return OutcomeSkipped
	}

	userHash := b.hasher.HashIdentifier(userID)
	for emotion, score := range scores {
		row := domain.EmotionSignalRow{
			UserHash:   userHash,
			ObservedAt: observedAt,
			Emotion:    emotion,
			Score:      score,
		}
		if err := b.sink.InsertEmotionSignal(ctx, row); err != nil {
			b.log.Warn("analytical mirror dropped emotion row", "emotion", emotion, "err", err)
			return OutcomeFailed
		}
	}
	return OutcomeWritten
}

// MirrorBehavior writes a per-day usage aggregate for users with standing
// research consent.
func (b *Bridge) MirrorBehavior(ctx context.Context, userID string, day time.Time, sessions, messages, crisisFlags int) Outcome {
	if b.sink == nil {
		return OutcomeSkipped
	}
	if out, ok := b.consented(ctx, userID); !ok {
		return out
	}

	row := domain.BehaviorAggregateRow{
		UserHash:    b.hasher.HashIdentifier(userID),
		Day:         day.UTC().Format("2006-01-02"),
		Sessions:    sessions,
		Messages:    messages,
		CrisisFlags: crisisFlags,
	}
	if err := b.sink.InsertBehaviorAggregate(ctx, row); err != nil {
		b.log.Warn("analytical mirror dropped behavior row", "err", err)
		return OutcomeFailed
	}
	return OutcomeWritten
}

// MirrorSessionOutcome writes one session outcome row for users with
// standing research consent. Both identifiers are hashed so sessions join
// to users only inside the warehouse.
func (b *Bridge) MirrorSessionOutcome(ctx context.Context, userID, sessionID string, startedAt, endedAt time.Time, completed bool) Outcome {
	if b.sink == nil {
		return OutcomeSkipped
	}
	if out, ok := b.consented(ctx, userID); !ok {
		return out
	}

	row := domain.SessionOutcomeRow{
		UserHash:    b.hasher.HashIdentifier(userID),
		SessionHash: b.hasher.HashIdentifier(sessionID),
		StartedAt:   startedAt,
		EndedAt:     endedAt,
		Completed:   completed,
	}
	if err := b.sink.InsertSessionOutcome(ctx, row); err != nil {
		b.log.Warn("analytical mirror dropped session outcome row", "err", err)
		return OutcomeFailed
	}
	return OutcomeWritten
}

// consented fails closed: when consent cannot be confirmed, nothing is
// written.
func (b *Bridge) consented(ctx context.Context, userID string) (Outcome, bool) {
	ok, err := b.consents.ConsentToResearch(ctx, userID)
	if err != nil {
		b.log.Warn("analytical mirror could not confirm consent", "err", err)
		return OutcomeFailed, false
	}
	if !ok {
		return OutcomeSkipped, false
	}
	return OutcomeWritten, true
}
