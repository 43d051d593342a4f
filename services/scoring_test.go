package services

import (
	"testing"
	"time"

	"github.com/Smarter-Dev/smarter-dev-sub001/models"
)

func decayCampaign(starting, interval, step int) *models.Campaign {
	return &models.Campaign{
		ScoringMode:       models.ScoringTimeDecay,
		StartingPoints:    starting,
		DecayIntervalMins: interval,
		DecreaseStep:      step,
	}
}

func TestComputeScoreFixedPoints(t *testing.T) {
	campaign := &models.Campaign{ScoringMode: models.ScoringFixedPoints}
	challenge := &models.Challenge{Points: 100}

	for _, elapsed := range []time.Duration{0, time.Minute, 48 * time.Hour} {
		if got := ComputeScore(campaign, challenge, elapsed); got != 100 {
			t.Errorf("elapsed %s: got %d, want 100", elapsed, got)
		}
	}

	if got := ComputeScore(campaign, &models.Challenge{Points: -5}, 0); got != 0 {
		t.Errorf("negative point value: got %d, want 0", got)
	}
}

func TestComputeScoreTimeDecay(t *testing.T) {
	challenge := &models.Challenge{Points: 999} // irrelevant in decay mode

	cases := []struct {
		name    string
		elapsed time.Duration
		want    int
	}{
		{"immediate", 0, 100},
		{"under one interval", 9 * time.Minute, 100},
		{"exactly one interval", 10 * time.Minute, 90},
		{"twenty five minutes", 25 * time.Minute, 80},
		{"just under full decay", 99 * time.Minute, 10},
		{"clamped at zero", 100 * time.Minute, 0},
		{"far past full decay", 30 * time.Hour, 0},
	}

	campaign := decayCampaign(100, 10, 10)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ComputeScore(campaign, challenge, tc.elapsed); got != tc.want {
				t.Errorf("got %d, want %d", got, tc.want)
			}
		})
	}
}

func TestComputeScoreTimeDecayMonotonic(t *testing.T) {
	campaign := decayCampaign(100, 7, 13)
	challenge := &models.Challenge{}

	prev := ComputeScore(campaign, challenge, 0)
	for mins := 1; mins <= 120; mins++ {
		score := ComputeScore(campaign, challenge, time.Duration(mins)*time.Minute)
		if score > prev {
			t.Fatalf("score increased with elapsed time: %d minutes gives %d, previous %d", mins, score, prev)
		}
		if score < 0 {
			t.Fatalf("score went negative at %d minutes: %d", mins, score)
		}
		prev = score
	}
}

func TestComputeScoreTimeDecayDegenerateConfig(t *testing.T) {
	challenge := &models.Challenge{}

	if got := ComputeScore(decayCampaign(0, 10, 10), challenge, 0); got != 0 {
		t.Errorf("zero starting points: got %d, want 0", got)
	}
	// No interval or step means no decay.
	if got := ComputeScore(decayCampaign(50, 0, 10), challenge, time.Hour); got != 50 {
		t.Errorf("zero interval: got %d, want 50", got)
	}
	if got := ComputeScore(decayCampaign(50, 10, 0), challenge, time.Hour); got != 50 {
		t.Errorf("zero step: got %d, want 50", got)
	}
	// Negative elapsed clamps to zero elapsed.
	if got := ComputeScore(decayCampaign(100, 10, 10), challenge, -time.Hour); got != 100 {
		t.Errorf("negative elapsed: got %d, want 100", got)
	}
}
