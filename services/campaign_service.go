// services/campaign_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Smarter-Dev/smarter-dev-sub001/models"
	"github.com/Smarter-Dev/smarter-dev-sub001/utils"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type CampaignService struct {
	DB     *gorm.DB
	Inputs *InputService
	Clock  Clock
	log    *zap.SugaredLogger
}

func NewCampaignService(db *gorm.DB, inputs *InputService, clock Clock, log *zap.SugaredLogger) *CampaignService {
	return &CampaignService{DB: db, Inputs: inputs, Clock: clock, log: log}
}

// NextRelease describes the next hidden challenge on a campaign's schedule.
type NextRelease struct {
	Challenge   *models.Challenge `json:"challenge"`
	ReleaseTime time.Time         `json:"release_time"`
	Ready       bool              `json:"ready"`
}

// --- Campaign lifecycle ---

// CreateCampaign creates a campaign in draft state (Admin only)
func (s *CampaignService) CreateCampaign(c *fiber.Ctx) error {
	var req struct {
		CommunityID        string                 `json:"community_id"`
		Title              string                 `json:"title"`
		StartTime          time.Time              `json:"start_time"`
		ReleaseCadenceMins int                    `json:"release_cadence_mins"`
		ParticipantKind    models.ParticipantKind `json:"participant_kind"`
		ScoringMode        models.ScoringMode     `json:"scoring_mode"`
		StartingPoints     int                    `json:"starting_points"`
		DecayIntervalMins  int                    `json:"decay_interval_mins"`
		DecreaseStep       int                    `json:"decrease_step"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	if req.CommunityID == "" || req.Title == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "community_id and title are required"})
	}
	if req.ReleaseCadenceMins <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "release_cadence_mins must be positive"})
	}
	if req.StartTime.IsZero() {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "start_time is required"})
	}

	kind := req.ParticipantKind
	if kind == "" {
		kind = models.ParticipantIndividual
	}
	if kind != models.ParticipantIndividual && kind != models.ParticipantTeam {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "participant_kind must be individual or team"})
	}

	mode := req.ScoringMode
	if mode == "" {
		mode = models.ScoringTimeDecay
	}
	switch mode {
	case models.ScoringTimeDecay:
		if req.StartingPoints <= 0 || req.DecayIntervalMins <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "time_decay scoring requires positive starting_points and decay_interval_mins",
			})
		}
	case models.ScoringFixedPoints:
		// Point values live on each challenge.
	default:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "scoring_mode must be time_decay or fixed_points"})
	}

	id := uuid.NewString()
	campaign := &models.Campaign{
		ID:                  id,
		CommunityID:         req.CommunityID,
		Title:               req.Title,
		Slug:                fmt.Sprintf("%s-%s", slug.Make(req.Title), id[:8]),
		StartTime:           req.StartTime,
		ReleaseCadenceMins:  req.ReleaseCadenceMins,
		ParticipantKindMode: kind,
		Status:              models.CampaignStatusDraft,
		ScoringMode:         mode,
		StartingPoints:      req.StartingPoints,
		DecayIntervalMins:   req.DecayIntervalMins,
		DecreaseStep:        req.DecreaseStep,
	}

	if err := s.DB.Create(campaign).Error; err != nil {
		s.log.Errorw("failed to create campaign", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to create campaign"})
	}

	return c.Status(fiber.StatusCreated).JSON(campaign)
}

// GetAllCampaigns lists campaigns, optionally filtered by community or status
func (s *CampaignService) GetAllCampaigns(c *fiber.Ctx) error {
	query := s.DB.Model(&models.Campaign{})
	if communityID := c.Query("community_id"); communityID != "" {
		query = query.Where("community_id = ?", communityID)
	}
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	var campaigns []models.Campaign
	if err := query.Order("start_time DESC").Find(&campaigns).Error; err != nil {
		s.log.Errorw("failed to list campaigns", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch campaigns"})
	}
	return c.JSON(campaigns)
}

// GetAllCampaignsMini lists campaign summaries for dashboards
func (s *CampaignService) GetAllCampaignsMini(c *fiber.Ctx) error {
	var campaigns []models.Campaign
	query := s.DB.Model(&models.Campaign{})
	if communityID := c.Query("community_id"); communityID != "" {
		query = query.Where("community_id = ?", communityID)
	}
	if err := query.Order("start_time DESC").Find(&campaigns).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch campaigns"})
	}

	minis := make([]models.MiniCampaign, 0, len(campaigns))
	for _, cp := range campaigns {
		var count int64
		if err := s.DB.Model(&models.Challenge{}).Where("campaign_id = ?", cp.ID).Count(&count).Error; err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to count challenges"})
		}
		minis = append(minis, models.MiniCampaign{
			ID:                 cp.ID,
			CommunityID:        cp.CommunityID,
			Title:              cp.Title,
			Slug:               cp.Slug,
			Status:             cp.Status,
			StartTime:          cp.StartTime,
			ReleaseCadenceMins: cp.ReleaseCadenceMins,
			ParticipantKind:    cp.ParticipantKindMode,
			ScoringMode:        cp.ScoringMode,
			ChallengeCount:     count,
		})
	}
	return c.JSON(minis)
}

// GetCampaignByID returns a campaign with its challenges
func (s *CampaignService) GetCampaignByID(c *fiber.Ctx) error {
	id := c.Params("id")
	campaign, err := s.loadCampaign(c.Context(), id)
	if err != nil {
		if errors.Is(err, ErrCampaignNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Campaign not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
	}

	var challenges []models.Challenge
	if err := s.DB.Where("campaign_id = ?", id).Order("position ASC").Find(&challenges).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch challenges"})
	}
	campaign.Challenges = challenges
	return c.JSON(campaign)
}

// UpdateCampaignStatus advances the lifecycle (draft → active → completed).
// Transitions are monotonic; anything else is rejected.
func (s *CampaignService) UpdateCampaignStatus(c *fiber.Ctx) error {
	id := c.Params("id")
	var req struct {
		Status models.CampaignStatus `json:"status"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	if err := s.TransitionStatus(c.Context(), id, req.Status); err != nil {
		switch {
		case errors.Is(err, ErrCampaignNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Campaign not found"})
		case errors.Is(err, ErrInvalidTransition):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
		default:
			s.log.Errorw("failed to update campaign status", "campaign_id", id, "error", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to update status"})
		}
	}
	return c.JSON(fiber.Map{"message": "Campaign status updated", "status": req.Status})
}

// TransitionStatus applies one monotonic lifecycle step.
func (s *CampaignService) TransitionStatus(ctx context.Context, campaignID string, next models.CampaignStatus) error {
	campaign, err := s.loadCampaign(ctx, campaignID)
	if err != nil {
		return err
	}
	if !campaign.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, campaign.Status, next)
	}
	return s.DB.WithContext(ctx).Model(campaign).Update("status", next).Error
}

// DeleteCampaign removes a campaign and everything it owns in one transaction
func (s *CampaignService) DeleteCampaign(c *fiber.Ctx) error {
	id := c.Params("id")
	campaign, err := s.loadCampaign(c.Context(), id)
	if err != nil {
		if errors.Is(err, ErrCampaignNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Campaign not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
	}

	err = s.DB.Transaction(func(tx *gorm.DB) error {
		var challengeIDs []string
		if err := tx.Model(&models.Challenge{}).
			Where("campaign_id = ?", id).
			Pluck("id", &challengeIDs).Error; err != nil {
			return err
		}
		if len(challengeIDs) > 0 {
			if err := tx.Where("challenge_id IN ?", challengeIDs).Delete(&models.ChallengeCompletion{}).Error; err != nil {
				return err
			}
			if err := tx.Where("challenge_id IN ?", challengeIDs).Delete(&models.Submission{}).Error; err != nil {
				return err
			}
			if err := tx.Where("challenge_id IN ?", challengeIDs).Delete(&models.CachedInput{}).Error; err != nil {
				return err
			}
			if err := tx.Where("campaign_id = ?", id).Delete(&models.Challenge{}).Error; err != nil {
				return err
			}
		}
		return tx.Delete(campaign).Error
	})
	if err != nil {
		s.log.Errorw("failed to delete campaign", "campaign_id", id, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to delete campaign"})
	}

	return c.JSON(fiber.Map{"message": "Campaign deleted"})
}

// --- Challenges ---

// CreateChallenge adds a challenge to a campaign (Admin only)
func (s *CampaignService) CreateChallenge(c *fiber.Ctx) error {
	campaignID := c.Params("id")
	if _, err := s.loadCampaign(c.Context(), campaignID); err != nil {
		if errors.Is(err, ErrCampaignNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Campaign not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
	}

	var req struct {
		Position        int    `json:"position"`
		Title           string `json:"title"`
		ProblemText     string `json:"problem_text"`
		GeneratorScript string `json:"generator_script"`
		Points          int    `json:"points"`
		Difficulty      string `json:"difficulty"`
		Category        string `json:"category"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if req.Position < 1 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "position must be 1 or greater"})
	}
	if req.Title == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "title is required"})
	}
	if strings.TrimSpace(req.GeneratorScript) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "generator_script is required"})
	}

	challenge := &models.Challenge{
		ID:              uuid.NewString(),
		CampaignID:      campaignID,
		Position:        req.Position,
		Title:           req.Title,
		ProblemText:     req.ProblemText,
		GeneratorScript: req.GeneratorScript,
		ScriptUpdatedAt: s.Clock.Now(),
		Points:          req.Points,
		Difficulty:      req.Difficulty,
		Category:        req.Category,
	}
	if err := s.DB.Create(challenge).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(strings.ToLower(err.Error()), "unique") {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Position already taken in this campaign"})
		}
		s.log.Errorw("failed to create challenge", "campaign_id", campaignID, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to create challenge"})
	}
	return c.Status(fiber.StatusCreated).JSON(challenge)
}

// UpdateChallenge edits a challenge; a script change bumps the revision
// timestamp and invalidates every cached input for the challenge
func (s *CampaignService) UpdateChallenge(c *fiber.Ctx) error {
	id := c.Params("id")
	var challenge models.Challenge
	if err := s.DB.First(&challenge, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Challenge not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
	}

	var req struct {
		Title           *string `json:"title"`
		ProblemText     *string `json:"problem_text"`
		GeneratorScript *string `json:"generator_script"`
		Points          *int    `json:"points"`
		Difficulty      *string `json:"difficulty"`
		Category        *string `json:"category"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	if req.Title != nil {
		challenge.Title = *req.Title
	}
	if req.ProblemText != nil {
		challenge.ProblemText = *req.ProblemText
	}
	if req.Points != nil {
		challenge.Points = *req.Points
	}
	if req.Difficulty != nil {
		challenge.Difficulty = *req.Difficulty
	}
	if req.Category != nil {
		challenge.Category = *req.Category
	}

	scriptChanged := req.GeneratorScript != nil && *req.GeneratorScript != challenge.GeneratorScript
	if scriptChanged {
		challenge.GeneratorScript = *req.GeneratorScript
		challenge.ScriptUpdatedAt = s.Clock.Now()
	}

	if err := s.DB.Save(&challenge).Error; err != nil {
		s.log.Errorw("failed to update challenge", "challenge_id", id, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to update challenge"})
	}

	if scriptChanged {
		count, err := s.Inputs.InvalidateForChallenge(c.Context(), challenge.ID)
		if err != nil {
			s.log.Errorw("cache invalidation after script edit failed", "challenge_id", id, "error", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Script saved but cache invalidation failed"})
		}
		s.log.Infow("script edited, cached inputs invalidated", "challenge_id", id, "invalidated", count)
	}

	return c.JSON(challenge)
}

// UploadChallengeAttachment stores a problem-statement asset (diagram,
// sample archive) on the object store and returns its public URL
func (s *CampaignService) UploadChallengeAttachment(c *fiber.Ctx) error {
	id := c.Params("id")
	var challenge models.Challenge
	if err := s.DB.First(&challenge, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Challenge not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
	}

	if !utils.AssetStoreReady() {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "Asset store not configured"})
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "file field is required"})
	}

	key := fmt.Sprintf("attachments/%s/%s-%s", challenge.ID, uuid.NewString()[:8], fileHeader.Filename)
	url, err := utils.UploadAttachment(fileHeader, key)
	if err != nil {
		s.log.Errorw("attachment upload failed", "challenge_id", id, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to upload attachment"})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"url": url})
}

// --- Schedule inspection ---

// ListReleasedChallenges returns the campaign's released challenges in
// position order, scripts stripped.
func (s *CampaignService) ListReleasedChallenges(ctx context.Context, campaignID string) ([]models.Challenge, error) {
	if _, err := s.loadCampaign(ctx, campaignID); err != nil {
		return nil, err
	}
	var challenges []models.Challenge
	if err := s.DB.WithContext(ctx).
		Where("campaign_id = ? AND released = ?", campaignID, true).
		Order("position ASC").
		Find(&challenges).Error; err != nil {
		return nil, err
	}
	for i := range challenges {
		challenges[i].GeneratorScript = ""
	}
	return challenges, nil
}

// GetReleasedChallenges is the handler for schedule inspection
func (s *CampaignService) GetReleasedChallenges(c *fiber.Ctx) error {
	challenges, err := s.ListReleasedChallenges(c.Context(), c.Params("id"))
	if err != nil {
		if errors.Is(err, ErrCampaignNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Campaign not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch challenges"})
	}
	return c.JSON(challenges)
}

// NextReleaseFor finds the first hidden challenge and whether its time has
// arrived. Returns nil when everything is already released.
func (s *CampaignService) NextReleaseFor(ctx context.Context, campaignID string) (*NextRelease, error) {
	campaign, err := s.loadCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	var next models.Challenge
	err = s.DB.WithContext(ctx).
		Where("campaign_id = ? AND released = ?", campaignID, false).
		Order("position ASC").
		First(&next).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	next.GeneratorScript = ""
	releaseAt := campaign.ReleaseTimeFor(next.Position)
	return &NextRelease{
		Challenge:   &next,
		ReleaseTime: releaseAt,
		Ready:       !s.Clock.Now().Before(releaseAt),
	}, nil
}

// GetNextRelease is the handler wrapping NextReleaseFor
func (s *CampaignService) GetNextRelease(c *fiber.Ctx) error {
	next, err := s.NextReleaseFor(c.Context(), c.Params("id"))
	if err != nil {
		if errors.Is(err, ErrCampaignNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Campaign not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to inspect schedule"})
	}
	if next == nil {
		return c.JSON(fiber.Map{"message": "All challenges released"})
	}
	return c.JSON(next)
}

func (s *CampaignService) loadCampaign(ctx context.Context, id string) (*models.Campaign, error) {
	var campaign models.Campaign
	err := s.DB.WithContext(ctx).First(&campaign, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCampaignNotFound
	}
	if err != nil {
		return nil, err
	}
	return &campaign, nil
}
