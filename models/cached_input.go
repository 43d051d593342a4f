package models

import (
	"time"
)

// CachedInput is the materialized, per-participant problem instance for one
// challenge. The composite unique index is what makes the generator's
// "insert if absent" atomic: two concurrent first-requests race on the insert
// and exactly one wins.
//
// Invalidated rows are excluded from lookups (Valid=false) and hard-deleted
// right before a replacement row is created, so two valid rows for the same
// key never coexist.
type CachedInput struct {
	ID              string          `json:"id" gorm:"primaryKey"`
	ChallengeID     string          `json:"challenge_id" gorm:"not null;uniqueIndex:idx_cached_input_key"`
	ParticipantID   string          `json:"participant_id" gorm:"not null;uniqueIndex:idx_cached_input_key"`
	ParticipantKind ParticipantKind `json:"participant_kind" gorm:"type:varchar(16);not null;uniqueIndex:idx_cached_input_key"`

	// InputPayload holds the generated input as raw JSON text.
	InputPayload   string `json:"input_payload" gorm:"type:text"`
	ExpectedResult string `json:"expected_result" gorm:"not null"`

	Valid       bool      `json:"valid" gorm:"default:true;index"`
	GeneratedAt time.Time `json:"generated_at"`

	// FirstAccessAt is the scoring clock's zero point: the moment the
	// participant first pulled this input. Set once, never rewound.
	FirstAccessAt *time.Time `json:"first_access_at,omitempty"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}
