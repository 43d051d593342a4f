package models

import (
	"time"
)

type CampaignStatus string

const (
	CampaignStatusDraft     CampaignStatus = "draft"
	CampaignStatusActive    CampaignStatus = "active"
	CampaignStatusCompleted CampaignStatus = "completed"
)

type ScoringMode string

const (
	ScoringTimeDecay   ScoringMode = "time_decay"
	ScoringFixedPoints ScoringMode = "fixed_points"
)

type ParticipantKind string

const (
	ParticipantIndividual ParticipantKind = "individual"
	ParticipantTeam       ParticipantKind = "team"
)

// Campaign is one timed competition: an ordered sequence of challenges that
// unlock on a fixed cadence from StartTime.
type Campaign struct {
	ID          string `json:"id" gorm:"primaryKey"`
	CommunityID string `json:"community_id" gorm:"index;not null"`
	Title       string `json:"title" gorm:"not null"`
	Slug        string `json:"slug" gorm:"uniqueIndex"`

	StartTime           time.Time       `json:"start_time" gorm:"not null"`
	ReleaseCadenceMins  int             `json:"release_cadence_mins" gorm:"not null"`
	ParticipantKindMode ParticipantKind `json:"participant_kind" gorm:"column:participant_kind;type:varchar(16);default:'individual'"`
	Status              CampaignStatus  `json:"status" gorm:"type:varchar(16);default:'draft';index"`

	// Scoring configuration. StartingPoints/DecayIntervalMins/DecreaseStep are
	// only meaningful in time_decay mode; fixed_points uses each challenge's
	// own point value.
	ScoringMode       ScoringMode `json:"scoring_mode" gorm:"type:varchar(16);default:'time_decay'"`
	StartingPoints    int         `json:"starting_points" gorm:"default:0"`
	DecayIntervalMins int         `json:"decay_interval_mins" gorm:"default:0"`
	DecreaseStep      int         `json:"decrease_step" gorm:"default:0"`

	Timestamps

	// Relationships
	Challenges []Challenge `json:"challenges,omitempty" gorm:"foreignKey:CampaignID"`
}

// ReleaseTimeFor computes when the challenge at a 1-based position unlocks.
// Position 1 always unlocks at campaign start.
func (c *Campaign) ReleaseTimeFor(position int) time.Time {
	return c.StartTime.Add(time.Duration(position-1) * time.Duration(c.ReleaseCadenceMins) * time.Minute)
}

// OpenForSubmission reports whether a challenge accepts input fetches and
// submissions at now: either the scheduler already released it, or the
// campaign is active and the challenge's computed release time has passed.
// The time fallback never applies to draft or completed campaigns — a draft
// with a past start time is still being authored, not live.
func (c *Campaign) OpenForSubmission(ch *Challenge, now time.Time) bool {
	if ch.Released {
		return true
	}
	return c.Status == CampaignStatusActive && !now.Before(c.ReleaseTimeFor(ch.Position))
}

// campaignTransitions encodes the one-directional lifecycle; skipping states
// (draft → completed) is not allowed.
var campaignTransitions = map[CampaignStatus]CampaignStatus{
	CampaignStatusDraft:  CampaignStatusActive,
	CampaignStatusActive: CampaignStatusCompleted,
}

// CanTransitionTo reports whether moving the campaign to next is a legal
// lifecycle step.
func (s CampaignStatus) CanTransitionTo(next CampaignStatus) bool {
	return campaignTransitions[s] == next
}

// Challenge is one problem inside a campaign. Its input is produced
// per-participant by running GeneratorScript in the sandbox.
type Challenge struct {
	ID         string `json:"id" gorm:"primaryKey"`
	CampaignID string `json:"campaign_id" gorm:"not null;uniqueIndex:idx_challenge_campaign_position"`
	Position   int    `json:"position" gorm:"not null;uniqueIndex:idx_challenge_campaign_position"`

	Title       string `json:"title" gorm:"not null"`
	ProblemText string `json:"problem_text" gorm:"type:text"`

	// GeneratorScript is untrusted code; it only ever runs inside the sandbox
	// runner. ScriptUpdatedAt bumps on every edit and every edit invalidates
	// the challenge's cached inputs.
	GeneratorScript string    `json:"generator_script" gorm:"type:text"`
	ScriptUpdatedAt time.Time `json:"script_updated_at"`

	// Points is the award in fixed_points mode.
	Points     int    `json:"points" gorm:"default:0"`
	Difficulty string `json:"difficulty,omitempty" gorm:"type:varchar(32)"`
	Category   string `json:"category,omitempty" gorm:"type:varchar(64)"`

	Released   bool       `json:"released" gorm:"default:false;index"`
	ReleasedAt *time.Time `json:"released_at,omitempty"`

	Timestamps
}

// MiniCampaign is a brief summary of a campaign for listing views.
type MiniCampaign struct {
	ID                 string          `json:"id"`
	CommunityID        string          `json:"community_id"`
	Title              string          `json:"title"`
	Slug               string          `json:"slug"`
	Status             CampaignStatus  `json:"status"`
	StartTime          time.Time       `json:"start_time"`
	ReleaseCadenceMins int             `json:"release_cadence_mins"`
	ParticipantKind    ParticipantKind `json:"participant_kind"`
	ScoringMode        ScoringMode     `json:"scoring_mode"`
	ChallengeCount     int64           `json:"challenge_count"`
}
