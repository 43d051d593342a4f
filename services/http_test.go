package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Smarter-Dev/smarter-dev-sub001/models"
	"github.com/gofiber/fiber/v2"
)

func newSubmissionApp(t *testing.T) (*fiber.App, *SubmissionService, *fakeClock, *models.Campaign, *models.Challenge) {
	t.Helper()
	svc, _, clock, campaign, challenge := newSubmissionFixture(t, nil)

	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		if userID := c.Get("X-User-ID"); userID != "" {
			c.Locals("user_id", userID)
		}
		return c.Next()
	})
	app.Get("/challenges/:id/input", svc.GetChallengeInput)
	app.Post("/challenges/:id/submissions", svc.SubmitChallenge)
	return app, svc, clock, campaign, challenge
}

func doJSON(t *testing.T, app *fiber.App, method, path, userID string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

func TestGetChallengeInputHandler(t *testing.T) {
	app, _, _, _, challenge := newSubmissionApp(t)

	resp := doJSON(t, app, "GET", "/challenges/"+challenge.ID+"/input", "alice", nil)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body struct {
		ChallengeID string          `json:"challenge_id"`
		Input       json.RawMessage `json:"input"`
		Expected    *string         `json:"expected"`
		WasCached   bool            `json:"was_cached"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.ChallengeID != challenge.ID || len(body.Input) == 0 {
		t.Errorf("body = %+v, want challenge id and input payload", body)
	}
	if body.Expected != nil {
		t.Error("expected answer must never appear in the input response")
	}

	repeat := doJSON(t, app, "GET", "/challenges/"+challenge.ID+"/input", "alice", nil)
	if err := json.NewDecoder(repeat.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if !body.WasCached {
		t.Error("second fetch should serve the cached input")
	}
}

func TestGetChallengeInputHandlerBeforeRelease(t *testing.T) {
	app, svc, _, campaign, _ := newSubmissionApp(t)
	locked := seedChallenge(t, svc.DB, campaign, 2, nil)

	resp := doJSON(t, app, "GET", "/challenges/"+locked.ID+"/input", "alice", nil)
	if resp.StatusCode != fiber.StatusTooEarly {
		t.Errorf("status = %d, want 425", resp.StatusCode)
	}
}

func TestSubmitChallengeHandlerFlow(t *testing.T) {
	app, _, clock, _, challenge := newSubmissionApp(t)
	path := fmt.Sprintf("/challenges/%s/submissions", challenge.ID)

	// Must pull the input before submitting.
	resp := doJSON(t, app, "POST", path, "alice", fiber.Map{"text": "9"})
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("unfetched input: status = %d, want 400", resp.StatusCode)
	}

	doJSON(t, app, "GET", "/challenges/"+challenge.ID+"/input", "alice", nil)

	resp = doJSON(t, app, "POST", path, "alice", fiber.Map{"text": "9"})
	if resp.StatusCode != fiber.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		t.Fatalf("submit: status = %d, body %s", resp.StatusCode, raw)
	}
	var result SubmitResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatal(err)
	}
	if !result.IsCorrect || !result.IsFirstCorrect || result.PointsAwarded != 100 {
		t.Errorf("result = %+v, want first correct with 100 points", result)
	}

	// Immediate resubmission trips the per-minute window.
	resp = doJSON(t, app, "POST", path, "alice", fiber.Map{"text": "9"})
	if resp.StatusCode != fiber.StatusTooManyRequests {
		t.Fatalf("rate limit: status = %d, want 429", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Error("429 response must carry Retry-After")
	}

	clock.Advance(6 * time.Minute)
	resp = doJSON(t, app, "POST", path, "alice", fiber.Map{"text": "9"})
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("resubmit after window: status = %d, want 200", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatal(err)
	}
	if result.PointsAwarded != 0 || result.IsFirstCorrect {
		t.Errorf("repeat result = %+v, want zero points", result)
	}
}

func TestGetChallengeInputHandlerDraftCampaign(t *testing.T) {
	app, svc, _, _, _ := newSubmissionApp(t)
	draft := seedCampaign(t, svc.DB, func(c *models.Campaign) {
		c.Status = models.CampaignStatusDraft
		c.Title = "Draft Sprint"
		c.StartTime = time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)
	})
	challenge := seedChallenge(t, svc.DB, draft, 1, nil)

	resp := doJSON(t, app, "GET", "/challenges/"+challenge.ID+"/input", "alice", nil)
	if resp.StatusCode != fiber.StatusTooEarly {
		t.Errorf("status = %d, want 425 on a draft campaign with a past start", resp.StatusCode)
	}
}

func newTeamSubmissionApp(t *testing.T) (*fiber.App, *SubmissionService, *models.Challenge) {
	t.Helper()
	db := newTestDB(t)
	clock := newFakeClock(time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC))
	runner := &stubRunner{output: []byte(`{"input": [4, 5], "expected": "9"}`)}
	inputs := NewInputService(db, runner, clock, testLogger())
	limiter := NewRateLimiter(db, DefaultRateWindows(), clock)

	// Every user belongs to team-red.
	teamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"team_id": "team-red"}`)
	}))
	t.Cleanup(teamSrv.Close)

	svc := NewSubmissionService(db, inputs, limiter, nil,
		NewTeamClient(teamSrv.URL, "service-token"), clock, testLogger())

	campaign := seedCampaign(t, db, func(c *models.Campaign) {
		c.ParticipantKindMode = models.ParticipantTeam
	})
	challenge := seedChallenge(t, db, campaign, 1, nil)

	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		if v := c.Get("X-User-ID"); v != "" {
			c.Locals("user_id", v)
		}
		if v := c.Get("X-Team-ID"); v != "" {
			c.Locals("team_id", v)
		}
		return c.Next()
	})
	app.Get("/challenges/:id/input", svc.GetChallengeInput)
	app.Post("/challenges/:id/submissions", svc.SubmitChallenge)
	return app, svc, challenge
}

func doTeamJSON(t *testing.T, app *fiber.App, method, path, userID, teamID string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", userID)
	if teamID != "" {
		req.Header.Set("X-Team-ID", teamID)
	}
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

func TestTeamCampaignVerifiesClaimedTeam(t *testing.T) {
	app, svc, challenge := newTeamSubmissionApp(t)
	inputPath := "/challenges/" + challenge.ID + "/input"

	// A claim for a team the user is not in is rejected.
	resp := doTeamJSON(t, app, "GET", inputPath, "alice", "team-blue", nil)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("forged team claim: status = %d, want 400", resp.StatusCode)
	}

	// The verified claim works, keyed to the team.
	resp = doTeamJSON(t, app, "GET", inputPath, "alice", "team-red", nil)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("verified team claim: status = %d, want 200", resp.StatusCode)
	}

	var row models.CachedInput
	if err := svc.DB.First(&row, "challenge_id = ?", challenge.ID).Error; err != nil {
		t.Fatal(err)
	}
	if row.ParticipantID != "team-red" || row.ParticipantKind != models.ParticipantTeam {
		t.Errorf("cache keyed to %s/%s, want team-red/team", row.ParticipantID, row.ParticipantKind)
	}

	// A teammate without a forwarded claim resolves via the team service and
	// shares the team's cached input.
	resp = doTeamJSON(t, app, "GET", inputPath, "bob", "", nil)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("teammate fallback: status = %d, want 200", resp.StatusCode)
	}
	var body struct {
		WasCached bool `json:"was_cached"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if !body.WasCached {
		t.Error("teammate should see the team's cached input")
	}

	// Submission lands under the team identity.
	resp = doTeamJSON(t, app, "POST", "/challenges/"+challenge.ID+"/submissions", "alice", "team-red", fiber.Map{"text": "9"})
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("team submit: status = %d, want 200", resp.StatusCode)
	}
	var sub models.Submission
	if err := svc.DB.First(&sub, "challenge_id = ?", challenge.ID).Error; err != nil {
		t.Fatal(err)
	}
	if sub.ParticipantID != "team-red" || sub.ParticipantKind != models.ParticipantTeam {
		t.Errorf("submission keyed to %s/%s, want team-red/team", sub.ParticipantID, sub.ParticipantKind)
	}
}

func TestSubmitChallengeHandlerMissingIdentity(t *testing.T) {
	app, _, _, _, challenge := newSubmissionApp(t)

	resp := doJSON(t, app, "POST", "/challenges/"+challenge.ID+"/submissions", "", fiber.Map{"text": "9"})
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Errorf("status = %d, want 400 without identity", resp.StatusCode)
	}
}
