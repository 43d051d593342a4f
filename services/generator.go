// services/generator.go
package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/Smarter-Dev/smarter-dev-sub001/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GeneratedInput is what a participant sees for one challenge: their input
// payload, the cached expected answer, and the scoring clock's zero point.
type GeneratedInput struct {
	Payload       json.RawMessage
	Expected      string
	FirstAccessAt time.Time
	WasCached     bool
}

// InputService orchestrates the sandbox runner and the per-participant input
// cache. Each participant sees exactly one stable input per challenge.
type InputService struct {
	DB     *gorm.DB
	runner ScriptRunner
	clock  Clock
	log    *zap.SugaredLogger
}

func NewInputService(db *gorm.DB, runner ScriptRunner, clock Clock, log *zap.SugaredLogger) *InputService {
	return &InputService{DB: db, runner: runner, clock: clock, log: log}
}

// GetOrGenerate returns the cached input for (challenge, participant), running
// the challenge's generator script on the first request. Two simultaneous
// first-requests race on an insert-if-absent guarded by the cache's unique
// key; the loser discards its result and reads the winner's row back.
func (s *InputService) GetOrGenerate(ctx context.Context, challenge *models.Challenge, participantID string, kind models.ParticipantKind) (*GeneratedInput, error) {
	if cached, err := s.lookupValid(ctx, challenge.ID, participantID, kind); err != nil {
		return nil, err
	} else if cached != nil {
		return cached, nil
	}

	output, err := s.generate(ctx, challenge)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	fresh := models.CachedInput{
		ID:              uuid.NewString(),
		ChallengeID:     challenge.ID,
		ParticipantID:   participantID,
		ParticipantKind: kind,
		InputPayload:    string(output.Input),
		ExpectedResult:  output.Expected,
		Valid:           true,
		GeneratedAt:     now,
		FirstAccessAt:   &now,
	}

	var won bool
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Stale invalidated rows occupy the unique key; drop them before the
		// replacement lands.
		if err := tx.Where(
			"challenge_id = ? AND participant_id = ? AND participant_kind = ? AND valid = ?",
			challenge.ID, participantID, kind, false,
		).Delete(&models.CachedInput{}).Error; err != nil {
			return err
		}

		res := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "challenge_id"}, {Name: "participant_id"}, {Name: "participant_kind"},
			},
			DoNothing: true,
		}).Create(&fresh)
		if res.Error != nil {
			return res.Error
		}
		won = res.RowsAffected == 1
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !won {
		// A concurrent generation won the insert; serve its row so every
		// caller observes the same input and expected result.
		cached, err := s.lookupValid(ctx, challenge.ID, participantID, kind)
		if err != nil {
			return nil, err
		}
		if cached != nil {
			return cached, nil
		}
		return nil, errors.New("cached input vanished after conflicting insert")
	}

	s.log.Infow("generated challenge input",
		"challenge_id", challenge.ID,
		"participant_id", participantID,
		"participant_kind", kind)

	return &GeneratedInput{
		Payload:       json.RawMessage(fresh.InputPayload),
		Expected:      fresh.ExpectedResult,
		FirstAccessAt: now,
		WasCached:     false,
	}, nil
}

// ResolveForSubmission is the pipeline's read path. A participant with no
// cache row at all never started their scoring clock and is rejected; one
// whose row was invalidated by a script edit regenerates with a fresh clock.
func (s *InputService) ResolveForSubmission(ctx context.Context, challenge *models.Challenge, participantID string, kind models.ParticipantKind) (*GeneratedInput, error) {
	var count int64
	if err := s.DB.WithContext(ctx).Model(&models.CachedInput{}).
		Where("challenge_id = ? AND participant_id = ? AND participant_kind = ?",
			challenge.ID, participantID, kind).
		Count(&count).Error; err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, ErrInputNotRequested
	}
	return s.GetOrGenerate(ctx, challenge, participantID, kind)
}

// InvalidateForChallenge flips every cached input for the challenge to
// invalid (not deleted) so in-flight "already cached" reads fail over to
// regeneration. Returns the number of rows invalidated.
func (s *InputService) InvalidateForChallenge(ctx context.Context, challengeID string) (int64, error) {
	res := s.DB.WithContext(ctx).Model(&models.CachedInput{}).
		Where("challenge_id = ? AND valid = ?", challengeID, true).
		Update("valid", false)
	return res.RowsAffected, res.Error
}

// InvalidateForParticipant does the same for a single key, used when an
// operator forces a regeneration.
func (s *InputService) InvalidateForParticipant(ctx context.Context, challengeID, participantID string, kind models.ParticipantKind) (int64, error) {
	res := s.DB.WithContext(ctx).Model(&models.CachedInput{}).
		Where("challenge_id = ? AND participant_id = ? AND participant_kind = ? AND valid = ?",
			challengeID, participantID, kind, true).
		Update("valid", false)
	return res.RowsAffected, res.Error
}

// lookupValid returns the valid cached row for a key, stamping the
// first-access time on the first successful read.
func (s *InputService) lookupValid(ctx context.Context, challengeID, participantID string, kind models.ParticipantKind) (*GeneratedInput, error) {
	var row models.CachedInput
	err := s.DB.WithContext(ctx).
		Where("challenge_id = ? AND participant_id = ? AND participant_kind = ? AND valid = ?",
			challengeID, participantID, kind, true).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if row.FirstAccessAt == nil {
		now := s.clock.Now()
		// Guarded update: only the first reader stamps the clock.
		res := s.DB.WithContext(ctx).Model(&models.CachedInput{}).
			Where("id = ? AND first_access_at IS NULL", row.ID).
			Update("first_access_at", now)
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 1 {
			row.FirstAccessAt = &now
		} else {
			// Lost the stamp race; reload the winner's timestamp.
			if err := s.DB.WithContext(ctx).First(&row, "id = ?", row.ID).Error; err != nil {
				return nil, err
			}
		}
	}

	return &GeneratedInput{
		Payload:       json.RawMessage(row.InputPayload),
		Expected:      row.ExpectedResult,
		FirstAccessAt: *row.FirstAccessAt,
		WasCached:     true,
	}, nil
}

// generatorOutput is the required shape of a script's stdout: exactly two
// fields, a serializable input and a string expected answer.
type generatorOutput struct {
	Input    json.RawMessage
	Expected string
}

func (s *InputService) generate(ctx context.Context, challenge *models.Challenge) (*generatorOutput, error) {
	raw, err := s.runner.Run(ctx, challenge.GeneratorScript)
	if err != nil {
		var genErr *GenerationError
		if errors.As(err, &genErr) {
			s.log.Errorw("input generation failed",
				"challenge_id", challenge.ID,
				"kind", genErr.Kind,
				"detail", genErr.Detail)
			return nil, err
		}
		return nil, &GenerationError{Kind: GenerationExecutionFailed, Detail: "runner error", Err: err}
	}
	out, err := parseGeneratorOutput(raw)
	if err != nil {
		s.log.Errorw("generator output rejected", "challenge_id", challenge.ID, "error", err)
		return nil, err
	}
	return out, nil
}

func parseGeneratorOutput(raw []byte) (*generatorOutput, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, &GenerationError{Kind: GenerationValidationFailed, Detail: "output is not a JSON object", Err: err}
	}
	if len(fields) != 2 {
		return nil, &GenerationError{Kind: GenerationValidationFailed, Detail: "output must have exactly two fields: input, expected"}
	}
	inputRaw, ok := fields["input"]
	if !ok {
		return nil, &GenerationError{Kind: GenerationValidationFailed, Detail: "output missing field: input"}
	}
	expectedRaw, ok := fields["expected"]
	if !ok {
		return nil, &GenerationError{Kind: GenerationValidationFailed, Detail: "output missing field: expected"}
	}

	var expected string
	if err := json.Unmarshal(expectedRaw, &expected); err != nil {
		return nil, &GenerationError{Kind: GenerationValidationFailed, Detail: "expected must be a string", Err: err}
	}

	// Verify the input is a self-contained serializable value.
	var anyValue interface{}
	if err := json.Unmarshal(inputRaw, &anyValue); err != nil {
		return nil, &GenerationError{Kind: GenerationValidationFailed, Detail: "input is not serializable", Err: err}
	}

	return &generatorOutput{Input: inputRaw, Expected: expected}, nil
}
