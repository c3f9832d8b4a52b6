package reward

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pulserank/pulserank/internal/faults"
	"github.com/pulserank/pulserank/internal/model"
)

// Publisher hands the finished reward vector to the ledger sink.
type Publisher interface {
	Publish(ctx context.Context, runID string, roster []int, vector model.RewardVector) error
}

// LogPublisher records the vector and goes no further. It is the default
// when no publish endpoint is configured.
type LogPublisher struct{}

func (LogPublisher) Publish(_ context.Context, runID string, roster []int, vector model.RewardVector) error {
	log.Info().Str("run_id", runID).
		Int("identities", len(roster)).
		Float64("sum", vector.Sum()).
		Msg("reward vector computed (publish disabled)")
	return nil
}

// HTTPPublisher POSTs the vector to a submission endpoint.
type HTTPPublisher struct {
	url    string
	client *http.Client
}

// NewHTTPPublisher builds a publisher for the given endpoint.
func NewHTTPPublisher(url string) *HTTPPublisher {
	return &HTTPPublisher{
		url:    url,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

type publishPayload struct {
	RunID     string             `json:"run_id"`
	Roster    []int              `json:"roster"`
	Vector    model.RewardVector `json:"vector"`
	Sum       float64            `json:"sum"`
	Submitted time.Time          `json:"submitted_at"`
}

func (p *HTTPPublisher) Publish(ctx context.Context, runID string, roster []int, vector model.RewardVector) error {
	body, err := json.Marshal(publishPayload{
		RunID:     runID,
		Roster:    roster,
		Vector:    vector,
		Sum:       vector.Sum(),
		Submitted: time.Now().UTC(),
	})
	if err != nil {
		return faults.Integrity(err, "reward vector unmarshalable")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return faults.Configuration(err, "invalid publish URL %s", p.url)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return faults.Transient(err, "vector submission failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return faults.Transient(nil, "vector submission returned status %d", resp.StatusCode)
	}
	log.Info().Str("run_id", runID).Float64("sum", vector.Sum()).Msg("reward vector submitted")
	return nil
}
