// services/leaderboard_service.go
package services

import (
	"context"
	"errors"
	"time"

	"github.com/Smarter-Dev/smarter-dev-sub001/models"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// LeaderboardService is the read side: point totals and completion order,
// computed from completion rows without ever locking writers.
type LeaderboardService struct {
	DB  *gorm.DB
	log *zap.SugaredLogger
}

func NewLeaderboardService(db *gorm.DB, log *zap.SugaredLogger) *LeaderboardService {
	return &LeaderboardService{DB: db, log: log}
}

// LeaderboardFilter narrows the board to one challenge and/or one participant
// kind within a campaign.
type LeaderboardFilter struct {
	CampaignID      string
	ChallengeID     string
	ParticipantKind models.ParticipantKind
}

type leaderboardRow struct {
	ParticipantID   string
	ParticipantKind models.ParticipantKind
	TotalPoints     int64
	CompletedCount  int64
	FirstCompletion time.Time
}

// GetLeaderboard ranks participants by total points over correct
// first-of-kind submissions only; ties break on earliest completion.
func (s *LeaderboardService) GetLeaderboard(ctx context.Context, filter LeaderboardFilter) ([]models.RankedEntry, error) {
	var exists int64
	if err := s.DB.WithContext(ctx).Model(&models.Campaign{}).
		Where("id = ?", filter.CampaignID).
		Count(&exists).Error; err != nil {
		return nil, err
	}
	if exists == 0 {
		return nil, ErrCampaignNotFound
	}

	query := s.DB.WithContext(ctx).
		Table("challenge_completions").
		Select("challenge_completions.participant_id, challenge_completions.participant_kind, " +
			"SUM(challenge_completions.points_awarded) AS total_points, " +
			"COUNT(*) AS completed_count, " +
			"MIN(challenge_completions.completed_at) AS first_completion").
		Joins("JOIN challenges ON challenges.id = challenge_completions.challenge_id").
		Where("challenges.campaign_id = ?", filter.CampaignID)

	if filter.ChallengeID != "" {
		query = query.Where("challenge_completions.challenge_id = ?", filter.ChallengeID)
	}
	if filter.ParticipantKind != "" {
		query = query.Where("challenge_completions.participant_kind = ?", filter.ParticipantKind)
	}

	var rows []leaderboardRow
	if err := query.
		Group("challenge_completions.participant_id, challenge_completions.participant_kind").
		Order("total_points DESC, first_completion ASC").
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	entries := make([]models.RankedEntry, 0, len(rows))
	for i, row := range rows {
		entries = append(entries, models.RankedEntry{
			Rank:            i + 1,
			ParticipantID:   row.ParticipantID,
			ParticipantKind: row.ParticipantKind,
			TotalPoints:     row.TotalPoints,
			CompletedCount:  row.CompletedCount,
			FirstCompletion: row.FirstCompletion,
		})
	}
	return entries, nil
}

// GetCampaignLeaderboard is the handler for leaderboard reads
func (s *LeaderboardService) GetCampaignLeaderboard(c *fiber.Ctx) error {
	filter := LeaderboardFilter{
		CampaignID:  c.Params("id"),
		ChallengeID: c.Query("challenge_id"),
	}
	if kind := c.Query("participant_kind"); kind != "" {
		pk := models.ParticipantKind(kind)
		if pk != models.ParticipantIndividual && pk != models.ParticipantTeam {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "participant_kind must be individual or team"})
		}
		filter.ParticipantKind = pk
	}

	entries, err := s.GetLeaderboard(c.Context(), filter)
	if err != nil {
		if errors.Is(err, ErrCampaignNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Campaign not found"})
		}
		s.log.Errorw("leaderboard query failed", "campaign_id", filter.CampaignID, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to compute leaderboard"})
	}
	return c.JSON(entries)
}
