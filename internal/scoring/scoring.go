package scoring

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bizmatch-io/bizmatch/internal/models"
)

// Scorer turns quiz answers into ranked business-model recommendations.
type Scorer interface {
	ScoreBusinessModels(answers json.RawMessage) ([]models.RankedMatch, error)
}

// HTTPScorer calls the external scoring service.
type HTTPScorer struct {
	baseURL string
	client  *http.Client
}

func NewHTTPScorer(baseURL string) *HTTPScorer {
	return &HTTPScorer{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

type scoreRequest struct {
	Answers json.RawMessage `json:"answers"`
}

type scoreResponse struct {
	Matches []models.RankedMatch `json:"matches"`
}

func (s *HTTPScorer) ScoreBusinessModels(answers json.RawMessage) ([]models.RankedMatch, error) {
	body, err := json.Marshal(scoreRequest{Answers: answers})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal score request: %w", err)
	}

	resp, err := s.client.Post(s.baseURL+"/v1/score", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("scoring request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("scoring service returned status %d", resp.StatusCode)
	}

	var out scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode score response: %w", err)
	}
	if len(out.Matches) == 0 {
		return nil, fmt.Errorf("scoring service returned no matches")
	}
	return out.Matches, nil
}
