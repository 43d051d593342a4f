package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Smarter-Dev/smarter-dev-sub001/models"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	// One writer keeps the in-memory database alive and makes concurrent
	// test traffic deterministic.
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(
		&models.Campaign{},
		&models.Challenge{},
		&models.CachedInput{},
		&models.Submission{},
		&models.ChallengeCompletion{},
		&models.RateLimitEntry{},
	); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}

func testLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// stubRunner returns canned output without spawning a process.
type stubRunner struct {
	mu     sync.Mutex
	output []byte
	err    error
	calls  int
}

func (r *stubRunner) Run(ctx context.Context, script string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	return r.output, nil
}

func (r *stubRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func seedCampaign(t *testing.T, db *gorm.DB, mutate func(*models.Campaign)) *models.Campaign {
	t.Helper()
	campaign := &models.Campaign{
		ID:                  uuid.NewString(),
		CommunityID:         "community-1",
		Title:               "Winter Sprint",
		Slug:                "winter-sprint-" + uuid.NewString()[:8],
		StartTime:           time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC),
		ReleaseCadenceMins:  60,
		ParticipantKindMode: models.ParticipantIndividual,
		Status:              models.CampaignStatusActive,
		ScoringMode:         models.ScoringFixedPoints,
	}
	if mutate != nil {
		mutate(campaign)
	}
	if err := db.Create(campaign).Error; err != nil {
		t.Fatalf("failed to seed campaign: %v", err)
	}
	return campaign
}

func seedChallenge(t *testing.T, db *gorm.DB, campaign *models.Campaign, position int, mutate func(*models.Challenge)) *models.Challenge {
	t.Helper()
	challenge := &models.Challenge{
		ID:              uuid.NewString(),
		CampaignID:      campaign.ID,
		Position:        position,
		Title:           "Challenge",
		ProblemText:     "Solve it.",
		GeneratorScript: "print('{}')",
		ScriptUpdatedAt: campaign.StartTime,
		Points:          100,
	}
	if mutate != nil {
		mutate(challenge)
	}
	if err := db.Create(challenge).Error; err != nil {
		t.Fatalf("failed to seed challenge: %v", err)
	}
	return challenge
}
