// handlers/campaign_routes.go
package handlers

import (
	"github.com/Smarter-Dev/smarter-dev-sub001/middleware"
	"github.com/Smarter-Dev/smarter-dev-sub001/services"
	"github.com/gofiber/fiber/v2"
)

func SetupCampaignRoutes(app *fiber.App, campaignService *services.CampaignService, leaderboardService *services.LeaderboardService) {
	// 🔓 Read-only routes — *no participant context*, but **still require Gateway auth**
	app.Get("/campaigns", campaignService.GetAllCampaigns)
	app.Get("/campaigns/mini", campaignService.GetAllCampaignsMini)
	app.Get("/campaigns/:id", campaignService.GetCampaignByID)
	app.Get("/campaigns/:id/challenges/released", campaignService.GetReleasedChallenges)
	app.Get("/campaigns/:id/next-release", campaignService.GetNextRelease)
	app.Get("/campaigns/:id/leaderboard", leaderboardService.GetCampaignLeaderboard)

	// 🔐 Operator routes — require participant context from the Gateway
	secured := app.Group("/", middleware.ParticipantContextMiddleware())

	secured.Post("/campaigns", campaignService.CreateCampaign)
	secured.Patch("/campaigns/:id/status", campaignService.UpdateCampaignStatus)
	secured.Delete("/campaigns/:id", campaignService.DeleteCampaign)

	secured.Post("/campaigns/:id/challenges", campaignService.CreateChallenge)
	secured.Put("/challenges/:id", campaignService.UpdateChallenge)
	secured.Post("/challenges/:id/attachments", campaignService.UploadChallengeAttachment)
}
