package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Smarter-Dev/smarter-dev-sub001/models"
	"gorm.io/gorm"
)

type recordingNotifier struct {
	mu         sync.Mutex
	announced  []string
	err        error
	onAnnounce func()
}

func (n *recordingNotifier) AnnounceRelease(ctx context.Context, campaign *models.Campaign, challenge *models.Challenge) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.announced = append(n.announced, challenge.ID)
	if n.onAnnounce != nil {
		n.onAnnounce()
	}
	return n.err
}

func (n *recordingNotifier) announcedIDs() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.announced...)
}

func newSchedulerFixture(t *testing.T) (*ReleaseScheduler, *gorm.DB, *fakeClock, *recordingNotifier) {
	t.Helper()
	db := newTestDB(t)
	clock := newFakeClock(time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC))
	notifier := &recordingNotifier{}
	sched := NewReleaseScheduler(db, notifier, clock, time.Minute, testLogger())
	return sched, db, clock, notifier
}

func releasedPositions(t *testing.T, db *gorm.DB, campaignID string) []int {
	t.Helper()
	var challenges []models.Challenge
	if err := db.Where("campaign_id = ? AND released = ?", campaignID, true).
		Order("position ASC").Find(&challenges).Error; err != nil {
		t.Fatal(err)
	}
	positions := make([]int, len(challenges))
	for i, ch := range challenges {
		positions[i] = ch.Position
	}
	return positions
}

func TestTickReleasesOnlyDueChallenges(t *testing.T) {
	sched, db, clock, _ := newSchedulerFixture(t)

	campaign := seedCampaign(t, db, nil) // starts at clock time, cadence 60
	for pos := 1; pos <= 3; pos++ {
		seedChallenge(t, db, campaign, pos, nil)
	}

	// At start time only position 1 is due.
	sched.Tick(context.Background())
	if got := releasedPositions(t, db, campaign.ID); len(got) != 1 || got[0] != 1 {
		t.Fatalf("released positions = %v, want [1]", got)
	}

	// One minute past the second release point: 1 and 2, not 3.
	clock.Advance(61 * time.Minute)
	sched.Tick(context.Background())
	if got := releasedPositions(t, db, campaign.ID); len(got) != 2 || got[1] != 2 {
		t.Fatalf("released positions = %v, want [1 2]", got)
	}
}

func TestTickIsIdempotent(t *testing.T) {
	sched, db, _, notifier := newSchedulerFixture(t)

	campaign := seedCampaign(t, db, nil)
	challenge := seedChallenge(t, db, campaign, 1, nil)

	sched.Tick(context.Background())

	var first models.Challenge
	if err := db.First(&first, "id = ?", challenge.ID).Error; err != nil {
		t.Fatal(err)
	}
	if !first.Released || first.ReleasedAt == nil {
		t.Fatal("challenge should be released after first tick")
	}

	sched.Tick(context.Background())

	var second models.Challenge
	if err := db.First(&second, "id = ?", challenge.ID).Error; err != nil {
		t.Fatal(err)
	}
	if !second.ReleasedAt.Equal(*first.ReleasedAt) {
		t.Errorf("released_at moved on repeat tick: %s vs %s", second.ReleasedAt, first.ReleasedAt)
	}
	if got := notifier.announcedIDs(); len(got) != 1 {
		t.Errorf("announcements = %d, want 1", len(got))
	}
}

func TestTickSkipsInactiveAndFutureCampaigns(t *testing.T) {
	sched, db, clock, _ := newSchedulerFixture(t)

	draft := seedCampaign(t, db, func(c *models.Campaign) {
		c.Status = models.CampaignStatusDraft
	})
	seedChallenge(t, db, draft, 1, nil)

	future := seedCampaign(t, db, func(c *models.Campaign) {
		c.StartTime = clock.Now().Add(24 * time.Hour)
	})
	seedChallenge(t, db, future, 1, nil)

	completed := seedCampaign(t, db, func(c *models.Campaign) {
		c.Status = models.CampaignStatusCompleted
	})
	seedChallenge(t, db, completed, 1, nil)

	sched.Tick(context.Background())

	for _, campaign := range []*models.Campaign{draft, future, completed} {
		if got := releasedPositions(t, db, campaign.ID); len(got) != 0 {
			t.Errorf("campaign %s (%s) released %v, want none", campaign.ID, campaign.Status, got)
		}
	}
}

func TestTickAnnouncesInPositionOrder(t *testing.T) {
	sched, db, clock, notifier := newSchedulerFixture(t)

	campaign := seedCampaign(t, db, nil)
	first := seedChallenge(t, db, campaign, 1, nil)
	second := seedChallenge(t, db, campaign, 2, nil)

	clock.Advance(2 * time.Hour)
	sched.Tick(context.Background())

	got := notifier.announcedIDs()
	if len(got) != 2 || got[0] != first.ID || got[1] != second.ID {
		t.Fatalf("announcements = %v, want [%s %s]", got, first.ID, second.ID)
	}
}

func TestTickReleaseSurvivesNotifierFailure(t *testing.T) {
	sched, db, _, notifier := newSchedulerFixture(t)
	notifier.err = errors.New("telegram unreachable")

	campaign := seedCampaign(t, db, nil)
	seedChallenge(t, db, campaign, 1, nil)

	sched.Tick(context.Background())

	if got := releasedPositions(t, db, campaign.ID); len(got) != 1 {
		t.Fatalf("released positions = %v, want [1]", got)
	}
}

func TestTickCompletesBatchAfterCancellation(t *testing.T) {
	sched, db, clock, notifier := newSchedulerFixture(t)

	campaign := seedCampaign(t, db, nil)
	seedChallenge(t, db, campaign, 1, nil)
	seedChallenge(t, db, campaign, 2, nil)
	clock.Advance(2 * time.Hour) // both positions due

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// Shutdown arrives mid-batch, right after the first release.
	notifier.onAnnounce = cancel

	sched.Tick(ctx)

	if got := releasedPositions(t, db, campaign.ID); len(got) != 2 {
		t.Fatalf("released positions = %v, want the full batch [1 2]", got)
	}
}

func TestReleaseTimeForIsStrictlyIncreasing(t *testing.T) {
	campaign := &models.Campaign{
		StartTime:          time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC),
		ReleaseCadenceMins: 90,
	}

	if got := campaign.ReleaseTimeFor(1); !got.Equal(campaign.StartTime) {
		t.Errorf("position 1 releases at %s, want campaign start %s", got, campaign.StartTime)
	}
	prev := campaign.ReleaseTimeFor(1)
	for pos := 2; pos <= 10; pos++ {
		at := campaign.ReleaseTimeFor(pos)
		if !at.After(prev) {
			t.Fatalf("release time not increasing at position %d: %s then %s", pos, prev, at)
		}
		if at.Sub(prev) != 90*time.Minute {
			t.Fatalf("cadence gap at position %d = %s, want 90m", pos, at.Sub(prev))
		}
		prev = at
	}
}
