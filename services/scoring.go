// services/scoring.go
package services

import (
	"time"

	"github.com/Smarter-Dev/smarter-dev-sub001/models"
)

// ComputeScore maps a correct first submission to its point award. Pure, no
// side effects; zero or negative results clamp to zero.
//
// elapsed is measured from the participant's first input access, never from
// the challenge's release time — fast solvers are rewarded from the moment
// they actually pulled the problem.
func ComputeScore(campaign *models.Campaign, challenge *models.Challenge, elapsed time.Duration) int {
	switch campaign.ScoringMode {
	case models.ScoringFixedPoints:
		if challenge.Points < 0 {
			return 0
		}
		return challenge.Points
	case models.ScoringTimeDecay:
		return timeDecayScore(campaign.StartingPoints, campaign.DecayIntervalMins, campaign.DecreaseStep, elapsed)
	default:
		return 0
	}
}

// timeDecayScore: starting − floor(elapsedMinutes / interval) × step, floored
// at zero. A non-positive interval or step means no decay.
func timeDecayScore(starting, intervalMins, step int, elapsed time.Duration) int {
	if starting <= 0 {
		return 0
	}
	if intervalMins <= 0 || step <= 0 {
		return starting
	}
	if elapsed < 0 {
		elapsed = 0
	}
	elapsedMins := int(elapsed / time.Minute)
	points := starting - (elapsedMins/intervalMins)*step
	if points < 0 {
		return 0
	}
	return points
}
