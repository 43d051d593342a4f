// services/scheduler.go
package services

import (
	"context"
	"time"

	"github.com/Smarter-Dev/smarter-dev-sub001/models"
	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ReleaseScheduler is the one long-lived background task: once per interval
// it walks every active campaign and flips due challenges from hidden to
// released, in position order. Shutdown is cooperative — the stop signal is
// observed between ticks and between campaigns, never mid-write: a campaign's
// batch of due releases always lands whole.
type ReleaseScheduler struct {
	DB       *gorm.DB
	notifier ReleaseNotifier
	clock    Clock
	interval time.Duration
	log      *zap.SugaredLogger
}

func NewReleaseScheduler(db *gorm.DB, notifier ReleaseNotifier, clock Clock, interval time.Duration, log *zap.SugaredLogger) *ReleaseScheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &ReleaseScheduler{
		DB:       db,
		notifier: notifier,
		clock:    clock,
		interval: interval,
		log:      log,
	}
}

// Start runs the recurring tick until ctx is cancelled. An in-progress tick
// completes its batch before the scheduler shuts down.
func (s *ReleaseScheduler) Start(ctx context.Context) error {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return err
	}

	_, err = sched.NewJob(
		gocron.DurationJob(s.interval),
		gocron.NewTask(func() {
			s.Tick(ctx)
		}),
	)
	if err != nil {
		return err
	}

	sched.Start()
	s.log.Infow("release scheduler started", "interval", s.interval)

	go func() {
		<-ctx.Done()
		if err := sched.Shutdown(); err != nil {
			s.log.Warnw("release scheduler shutdown error", "error", err)
		} else {
			s.log.Infow("release scheduler stopped")
		}
	}()

	return nil
}

// Tick releases every due challenge across all active campaigns. An error in
// one campaign is logged and does not abort the others; the loop itself never
// dies on a bad tick.
func (s *ReleaseScheduler) Tick(ctx context.Context) {
	now := s.clock.Now()

	// Database work runs on a detached context: cancellation is honored
	// between campaigns, never mid-batch, so a shutdown cannot leave a
	// campaign's due releases half-applied.
	dbCtx := context.WithoutCancel(ctx)

	var campaigns []models.Campaign
	if err := s.DB.WithContext(dbCtx).
		Where("status = ? AND start_time <= ?", models.CampaignStatusActive, now).
		Find(&campaigns).Error; err != nil {
		s.log.Errorw("scheduler tick: campaign query failed", "error", err)
		return
	}

	for i := range campaigns {
		if ctx.Err() != nil {
			s.log.Infow("scheduler tick stopped between campaigns",
				"remaining", len(campaigns)-i)
			return
		}
		if err := s.releaseDue(dbCtx, &campaigns[i], now); err != nil {
			s.log.Errorw("scheduler tick: campaign release failed",
				"campaign_id", campaigns[i].ID, "error", err)
		}
	}
}

func (s *ReleaseScheduler) releaseDue(ctx context.Context, campaign *models.Campaign, now time.Time) error {
	var challenges []models.Challenge
	if err := s.DB.WithContext(ctx).
		Where("campaign_id = ?", campaign.ID).
		Order("position ASC").
		Find(&challenges).Error; err != nil {
		return err
	}

	for i := range challenges {
		ch := &challenges[i]
		if ch.Released {
			continue
		}
		releaseAt := campaign.ReleaseTimeFor(ch.Position)
		if now.Before(releaseAt) {
			// Release times are strictly increasing in position; nothing
			// later in this campaign can be due either.
			break
		}

		// Guarded update keeps the flip idempotent across overlapping ticks.
		res := s.DB.WithContext(ctx).Model(&models.Challenge{}).
			Where("id = ? AND released = ?", ch.ID, false).
			Updates(map[string]interface{}{
				"released":    true,
				"released_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			continue
		}

		s.log.Infow("challenge released",
			"campaign_id", campaign.ID,
			"challenge_id", ch.ID,
			"position", ch.Position)

		if err := s.notifier.AnnounceRelease(ctx, campaign, ch); err != nil {
			s.log.Warnw("release announcement failed",
				"campaign_id", campaign.ID,
				"challenge_id", ch.ID,
				"error", err)
		}
	}

	return nil
}
