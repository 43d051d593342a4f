// services/team_client.go
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// TeamClient resolves team membership on the community service. The core
// uses it only to pick the participant-kind context for a submission, never
// to alter scoring.
type TeamClient struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

func NewTeamClient(baseURL, token string) *TeamClient {
	return &TeamClient{
		BaseURL: baseURL,
		Token:   token,
		Client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type teamOfResponse struct {
	TeamID string `json:"team_id"`
}

// TeamOf returns the team a participant belongs to, or "" when they have
// none.
func (c *TeamClient) TeamOf(ctx context.Context, participantID string) (string, error) {
	endpoint := fmt.Sprintf("%s/teams/of/%s", c.BaseURL, url.PathEscape(participantID))

	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("X-Service-Token", c.Token)

	resp, err := c.Client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode == http.StatusNotFound {
		return "", nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("team service returned %d: %s", resp.StatusCode, string(body))
	}

	var out teamOfResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.TeamID, nil
}

// IsMember reports whether a participant belongs to the given team.
func (c *TeamClient) IsMember(ctx context.Context, participantID, teamID string) (bool, error) {
	resolved, err := c.TeamOf(ctx, participantID)
	if err != nil {
		return false, err
	}
	return resolved != "" && resolved == teamID, nil
}
