// services/reward_client.go
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Smarter-Dev/smarter-dev-sub001/models"
	"go.uber.org/zap"
)

// RewardClient credits reward units on the community's economy service after
// a correct first submission. The core only knows "credit N units to
// participant X with a reason"; the ledger itself lives elsewhere.
type RewardClient struct {
	BaseURL string
	Token   string
	Client  *http.Client
	log     *zap.SugaredLogger
}

func NewRewardClient(baseURL, token string, log *zap.SugaredLogger) *RewardClient {
	return &RewardClient{
		BaseURL: baseURL,
		Token:   token,
		Client: &http.Client{
			Timeout: 10 * time.Second,
		},
		log: log,
	}
}

// Credit calls the economy service synchronously.
func (c *RewardClient) Credit(ctx context.Context, participantID string, kind models.ParticipantKind, amount int, reason string) error {
	url := fmt.Sprintf("%s/rewards/credit", c.BaseURL)

	reqBody := map[string]interface{}{
		"participant_id":   participantID,
		"participant_kind": kind,
		"amount":           amount,
		"reason":           reason,
	}
	jsonData, _ := json.Marshal(reqBody)

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Service-Token", c.Token)

	resp, err := c.Client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("reward service returned %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// CreditAsync fires the credit in the background. A failed credit is logged
// and never invalidates the submission that triggered it.
func (c *RewardClient) CreditAsync(participantID string, kind models.ParticipantKind, amount int, reason string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := c.Credit(ctx, participantID, kind, amount, reason); err != nil {
			c.log.Errorw("reward credit failed",
				"participant_id", participantID,
				"amount", amount,
				"error", err)
		}
	}()
}
