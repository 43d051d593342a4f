// handlers/submission_routes.go
package handlers

import (
	"github.com/Smarter-Dev/smarter-dev-sub001/middleware"
	"github.com/Smarter-Dev/smarter-dev-sub001/services"
	"github.com/gofiber/fiber/v2"
)

func SetupSubmissionRoutes(app *fiber.App, submissionService *services.SubmissionService) {
	// Every submission-side route needs a participant identity
	secured := app.Group("/", middleware.ParticipantContextMiddleware())

	secured.Get("/challenges/:id/input", submissionService.GetChallengeInput)
	secured.Post("/challenges/:id/submissions", submissionService.SubmitChallenge)

	// Operator-triggered regeneration after a script edit
	secured.Post("/challenges/:id/cache/invalidate", submissionService.InvalidateInputCache)
}
