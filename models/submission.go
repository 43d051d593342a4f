package models

import (
	"time"
)

// Submission is an immutable record of one answer attempt. Every attempt is
// persisted, including incorrect ones, for audit history.
type Submission struct {
	ID              string          `json:"id" gorm:"primaryKey"`
	ChallengeID     string          `json:"challenge_id" gorm:"not null;index:idx_submission_challenge_participant"`
	ParticipantID   string          `json:"participant_id" gorm:"not null;index:idx_submission_challenge_participant"`
	ParticipantKind ParticipantKind `json:"participant_kind" gorm:"type:varchar(16);not null"`

	SubmittedText  string `json:"submitted_text" gorm:"type:text"`
	IsCorrect      bool   `json:"is_correct"`
	IsFirstCorrect bool   `json:"is_first_correct"`
	PointsAwarded  int    `json:"points_awarded" gorm:"default:0"`

	SubmittedAt time.Time `json:"submitted_at" gorm:"index"`
}

// ChallengeCompletion marks a participant's first correct submission for a
// challenge. The unique index is the storage-level guard for first-correct
// exclusivity: concurrent resubmissions race on the insert and only one row
// lands, so at most one submission per key ever awards points.
type ChallengeCompletion struct {
	ID              string          `json:"id" gorm:"primaryKey"`
	ChallengeID     string          `json:"challenge_id" gorm:"not null;uniqueIndex:idx_completion_key"`
	ParticipantID   string          `json:"participant_id" gorm:"not null;uniqueIndex:idx_completion_key"`
	ParticipantKind ParticipantKind `json:"participant_kind" gorm:"type:varchar(16);not null;uniqueIndex:idx_completion_key"`

	SubmissionID  string    `json:"submission_id" gorm:"not null"`
	PointsAwarded int       `json:"points_awarded" gorm:"default:0"`
	CompletedAt   time.Time `json:"completed_at" gorm:"index"`
}

// RateLimitEntry is a timestamped marker of one accepted submission attempt,
// used only for sliding-window counting. Entries older than the longest
// window are purged by the retention worker.
type RateLimitEntry struct {
	ID              string          `json:"id" gorm:"primaryKey"`
	ParticipantID   string          `json:"participant_id" gorm:"not null;index:idx_rate_limit_participant"`
	ParticipantKind ParticipantKind `json:"participant_kind" gorm:"type:varchar(16);not null;index:idx_rate_limit_participant"`
	AttemptedAt     time.Time       `json:"attempted_at" gorm:"index"`
}

// RankedEntry is one leaderboard row: totals over correct first-of-kind
// submissions only.
type RankedEntry struct {
	Rank            int             `json:"rank"`
	ParticipantID   string          `json:"participant_id"`
	ParticipantKind ParticipantKind `json:"participant_kind"`
	TotalPoints     int64           `json:"total_points"`
	CompletedCount  int64           `json:"completed_count"`
	FirstCompletion time.Time       `json:"first_completion"`
}
