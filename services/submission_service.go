// services/submission_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/Smarter-Dev/smarter-dev-sub001/models"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SubmitResult is the caller-visible outcome of one answer attempt.
type SubmitResult struct {
	IsCorrect      bool `json:"is_correct"`
	PointsAwarded  int  `json:"points_awarded"`
	IsFirstCorrect bool `json:"is_first_correct"`
}

// SubmissionService is the synchronous per-call path an answer travels:
// rate check → release check → cached-input fetch → correctness → scoring →
// persistence → side effects.
type SubmissionService struct {
	DB      *gorm.DB
	Inputs  *InputService
	Limiter *RateLimiter
	Rewards *RewardClient
	Teams   *TeamClient
	Clock   Clock
	log     *zap.SugaredLogger
}

func NewSubmissionService(db *gorm.DB, inputs *InputService, limiter *RateLimiter, rewards *RewardClient, teams *TeamClient, clock Clock, log *zap.SugaredLogger) *SubmissionService {
	return &SubmissionService{
		DB:      db,
		Inputs:  inputs,
		Limiter: limiter,
		Rewards: rewards,
		Teams:   teams,
		Clock:   clock,
		log:     log,
	}
}

// Submit runs the full pipeline for one answer attempt.
func (s *SubmissionService) Submit(ctx context.Context, campaignID, challengeID, participantID string, kind models.ParticipantKind, text string) (*SubmitResult, error) {
	campaign, challenge, err := s.loadTarget(ctx, campaignID, challengeID)
	if err != nil {
		return nil, err
	}
	return s.submit(ctx, campaign, challenge, participantID, kind, text)
}

// submit is the pipeline over already-loaded targets.
func (s *SubmissionService) submit(ctx context.Context, campaign *models.Campaign, challenge *models.Challenge, participantID string, kind models.ParticipantKind, text string) (*SubmitResult, error) {
	now := s.Clock.Now()

	// 1. Rate check, before any generation or scoring work.
	limited, retryAfter, err := s.Limiter.IsLimited(ctx, participantID, kind, now)
	if err != nil {
		return nil, err
	}
	if limited {
		return nil, &RateLimitedError{RetryAfter: retryAfter}
	}

	// 2. Release check.
	if !campaign.OpenForSubmission(challenge, now) {
		return nil, ErrChallengeNotReleased
	}

	// 3. Resolve the cached input; this is also where a participant who
	// never pulled their input gets rejected.
	input, err := s.Inputs.ResolveForSubmission(ctx, challenge, participantID, kind)
	if err != nil {
		return nil, err
	}

	// 4. Exact-match correctness.
	isCorrect := text == input.Expected

	// 5 + 6. Score if this is the first correct answer, then persist. The
	// completion row's unique key is the race-safe first-correct marker:
	// concurrent resubmissions race on the insert and only one wins.
	submission := models.Submission{
		ID:              uuid.NewString(),
		ChallengeID:     challenge.ID,
		ParticipantID:   participantID,
		ParticipantKind: kind,
		SubmittedText:   text,
		IsCorrect:       isCorrect,
		SubmittedAt:     now,
	}

	points := 0
	firstCorrect := false
	if isCorrect {
		points = ComputeScore(campaign, challenge, now.Sub(input.FirstAccessAt))
	}

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if isCorrect {
			completion := models.ChallengeCompletion{
				ID:              uuid.NewString(),
				ChallengeID:     challenge.ID,
				ParticipantID:   participantID,
				ParticipantKind: kind,
				SubmissionID:    submission.ID,
				PointsAwarded:   points,
				CompletedAt:     now,
			}
			res := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{
					{Name: "challenge_id"}, {Name: "participant_id"}, {Name: "participant_kind"},
				},
				DoNothing: true,
			}).Create(&completion)
			if res.Error != nil {
				return res.Error
			}
			firstCorrect = res.RowsAffected == 1
		}

		// Later correct resubmissions are logged but score zero.
		submission.IsFirstCorrect = firstCorrect
		if firstCorrect {
			submission.PointsAwarded = points
		}
		return tx.Create(&submission).Error
	})
	if err != nil {
		return nil, err
	}

	// 7. An attempt is an attempt, correct or not. A failed marker must not
	// undo the recorded submission.
	if err := s.Limiter.RecordAttempt(ctx, participantID, kind, now); err != nil {
		s.log.Errorw("failed to record rate-limit entry",
			"participant_id", participantID, "error", err)
	}

	// Fire-and-forget reward credit; failure never rolls back the submission.
	if firstCorrect && s.Rewards != nil && submission.PointsAwarded > 0 {
		s.Rewards.CreditAsync(participantID, kind, submission.PointsAwarded,
			fmt.Sprintf("solved %q in campaign %q", challenge.Title, campaign.Title))
	}

	return &SubmitResult{
		IsCorrect:      isCorrect,
		PointsAwarded:  submission.PointsAwarded,
		IsFirstCorrect: firstCorrect,
	}, nil
}

// --- Handlers ---

// SubmitChallenge accepts a participant's answer for a challenge
func (s *SubmissionService) SubmitChallenge(c *fiber.Ctx) error {
	challengeID := c.Params("id")
	campaign, challenge, err := s.loadByChallenge(c.Context(), challengeID)
	if err != nil {
		return s.respondError(c, err)
	}

	participantID, kind, err := s.resolveParticipant(c, campaign)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	var req struct {
		Text string `json:"text"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	result, err := s.submit(c.Context(), campaign, challenge, participantID, kind, req.Text)
	if err != nil {
		return s.respondError(c, err)
	}
	return c.JSON(result)
}

// GetChallengeInput serves the participant's stable input, generating it on
// first request. The expected answer never leaves the server.
func (s *SubmissionService) GetChallengeInput(c *fiber.Ctx) error {
	challengeID := c.Params("id")
	campaign, challenge, err := s.loadByChallenge(c.Context(), challengeID)
	if err != nil {
		return s.respondError(c, err)
	}

	if !campaign.OpenForSubmission(challenge, s.Clock.Now()) {
		return s.respondError(c, ErrChallengeNotReleased)
	}

	participantID, kind, err := s.resolveParticipant(c, campaign)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	input, err := s.Inputs.GetOrGenerate(c.Context(), challenge, participantID, kind)
	if err != nil {
		return s.respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"challenge_id":    challenge.ID,
		"input":           input.Payload,
		"first_access_at": input.FirstAccessAt,
		"was_cached":      input.WasCached,
	})
}

// InvalidateInputCache forces regeneration after a script edit (operator
// only). With participant_id in the body only that key is invalidated.
func (s *SubmissionService) InvalidateInputCache(c *fiber.Ctx) error {
	challengeID := c.Params("id")
	if _, _, err := s.loadByChallenge(c.Context(), challengeID); err != nil {
		return s.respondError(c, err)
	}

	var req struct {
		ParticipantID   string                 `json:"participant_id"`
		ParticipantKind models.ParticipantKind `json:"participant_kind"`
	}
	if err := c.BodyParser(&req); err != nil && len(c.Body()) > 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	var (
		count int64
		err   error
	)
	if req.ParticipantID != "" {
		kind := req.ParticipantKind
		if kind == "" {
			kind = models.ParticipantIndividual
		}
		count, err = s.Inputs.InvalidateForParticipant(c.Context(), challengeID, req.ParticipantID, kind)
	} else {
		count, err = s.Inputs.InvalidateForChallenge(c.Context(), challengeID)
	}
	if err != nil {
		s.log.Errorw("cache invalidation failed", "challenge_id", challengeID, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to invalidate cache"})
	}

	return c.JSON(fiber.Map{"invalidated_count": count})
}

// resolveParticipant picks the submitting identity based on the campaign's
// participant kind: the user themselves, or their team (resolved from the
// gateway header, falling back to the community service).
func (s *SubmissionService) resolveParticipant(c *fiber.Ctx, campaign *models.Campaign) (string, models.ParticipantKind, error) {
	userID, _ := c.Locals("user_id").(string)
	if userID == "" {
		return "", "", errors.New("missing user identity")
	}
	if campaign.ParticipantKindMode != models.ParticipantTeam {
		return userID, models.ParticipantIndividual, nil
	}

	teamID, _ := c.Locals("team_id").(string)
	if s.Teams != nil {
		if teamID == "" {
			resolved, err := s.Teams.TeamOf(c.Context(), userID)
			if err != nil {
				s.log.Warnw("team lookup failed", "user_id", userID, "error", err)
			} else {
				teamID = resolved
			}
		} else {
			// The gateway-forwarded team claim is verified, not trusted.
			member, err := s.Teams.IsMember(c.Context(), userID, teamID)
			if err != nil {
				s.log.Warnw("team membership check failed",
					"user_id", userID, "team_id", teamID, "error", err)
			} else if !member {
				return "", "", errors.New("user is not a member of the claimed team")
			}
		}
	}
	if teamID == "" {
		return "", "", errors.New("team campaign requires a team identity")
	}
	return teamID, models.ParticipantTeam, nil
}

func (s *SubmissionService) respondError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, ErrCampaignNotFound), errors.Is(err, ErrChallengeNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, ErrChallengeNotReleased):
		return c.Status(fiber.StatusTooEarly).JSON(fiber.Map{"error": "Challenge not yet released"})
	case errors.Is(err, ErrRateLimited):
		var rl *RateLimitedError
		if errors.As(err, &rl) {
			c.Set("Retry-After", strconv.Itoa(int(rl.RetryAfter.Round(time.Second).Seconds())))
		}
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "Rate limited, slow down"})
	case errors.Is(err, ErrInputNotRequested):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Fetch the challenge input before submitting"})
	case errors.Is(err, ErrInputUnavailable):
		// Full detail is already in the operator logs; submitters get the
		// single "input unavailable" class.
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "Challenge input unavailable, try again later"})
	default:
		s.log.Errorw("submission pipeline error", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Internal error"})
	}
}

func (s *SubmissionService) loadTarget(ctx context.Context, campaignID, challengeID string) (*models.Campaign, *models.Challenge, error) {
	var campaign models.Campaign
	if err := s.DB.WithContext(ctx).First(&campaign, "id = ?", campaignID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrCampaignNotFound
		}
		return nil, nil, err
	}
	var challenge models.Challenge
	if err := s.DB.WithContext(ctx).First(&challenge, "id = ? AND campaign_id = ?", challengeID, campaignID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrChallengeNotFound
		}
		return nil, nil, err
	}
	return &campaign, &challenge, nil
}

func (s *SubmissionService) loadByChallenge(ctx context.Context, challengeID string) (*models.Campaign, *models.Challenge, error) {
	var challenge models.Challenge
	if err := s.DB.WithContext(ctx).First(&challenge, "id = ?", challengeID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrChallengeNotFound
		}
		return nil, nil, err
	}
	var campaign models.Campaign
	if err := s.DB.WithContext(ctx).First(&campaign, "id = ?", challenge.CampaignID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrCampaignNotFound
		}
		return nil, nil, err
	}
	return &campaign, &challenge, nil
}
