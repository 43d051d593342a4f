// services/rate_limiter.go
package services

import (
	"context"
	"errors"
	"time"

	"github.com/Smarter-Dev/smarter-dev-sub001/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RateWindow is one sliding window: at most Limit accepted attempts per Span.
type RateWindow struct {
	Limit int
	Span  time.Duration
}

// DefaultRateWindows matches the submission endpoint's policy: at most one
// attempt per minute and three per five minutes.
func DefaultRateWindows() []RateWindow {
	return []RateWindow{
		{Limit: 1, Span: time.Minute},
		{Limit: 3, Span: 5 * time.Minute},
	}
}

// RateLimiter answers "is this participant over the sliding-window limit
// right now?" against persisted RateLimitEntry rows. A participant is limited
// if either window's count, inclusive of the attempt about to be made, would
// exceed its threshold.
type RateLimiter struct {
	DB      *gorm.DB
	windows []RateWindow
	clock   Clock
}

func NewRateLimiter(db *gorm.DB, windows []RateWindow, clock Clock) *RateLimiter {
	if len(windows) == 0 {
		windows = DefaultRateWindows()
	}
	return &RateLimiter{DB: db, windows: windows, clock: clock}
}

// IsLimited reports whether the participant is over any window, and if so how
// long until the tightest violated window frees a slot.
func (l *RateLimiter) IsLimited(ctx context.Context, participantID string, kind models.ParticipantKind, now time.Time) (bool, time.Duration, error) {
	var retryAfter time.Duration
	limited := false

	for _, w := range l.windows {
		windowStart := now.Add(-w.Span)

		var count int64
		if err := l.DB.WithContext(ctx).Model(&models.RateLimitEntry{}).
			Where("participant_id = ? AND participant_kind = ? AND attempted_at > ?",
				participantID, kind, windowStart).
			Count(&count).Error; err != nil {
			return false, 0, err
		}
		if count+1 <= int64(w.Limit) {
			continue
		}
		limited = true

		// The window frees a slot when its oldest in-window entry expires.
		var oldest models.RateLimitEntry
		err := l.DB.WithContext(ctx).
			Where("participant_id = ? AND participant_kind = ? AND attempted_at > ?",
				participantID, kind, windowStart).
			Order("attempted_at ASC").
			First(&oldest).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				continue
			}
			return false, 0, err
		}
		if wait := oldest.AttemptedAt.Add(w.Span).Sub(now); wait > retryAfter {
			retryAfter = wait
		}
	}

	return limited, retryAfter, nil
}

// RecordAttempt logs one accepted submission attempt. An attempt is an
// attempt: correctness does not matter.
func (l *RateLimiter) RecordAttempt(ctx context.Context, participantID string, kind models.ParticipantKind, now time.Time) error {
	entry := models.RateLimitEntry{
		ID:              uuid.NewString(),
		ParticipantID:   participantID,
		ParticipantKind: kind,
		AttemptedAt:     now,
	}
	return l.DB.WithContext(ctx).Create(&entry).Error
}

// Retention is how long entries stay relevant: the longest window's span.
func (l *RateLimiter) Retention() time.Duration {
	var longest time.Duration
	for _, w := range l.windows {
		if w.Span > longest {
			longest = w.Span
		}
	}
	return longest
}

// PurgeExpired deletes entries older than the retention horizon. Entries
// still inside an active window are never touched.
func (l *RateLimiter) PurgeExpired(ctx context.Context) (int64, error) {
	horizon := l.clock.Now().Add(-l.Retention())
	res := l.DB.WithContext(ctx).
		Where("attempted_at < ?", horizon).
		Delete(&models.RateLimitEntry{})
	return res.RowsAffected, res.Error
}
