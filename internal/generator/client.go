package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/pixelmint/genstudio/internal/config"
	"github.com/pixelmint/genstudio/internal/domain"
)

// ErrAccepted is returned when the generator took the job for
// out-of-band processing and will report back via the completion
// callbacks instead of this call's response.
var ErrAccepted = errors.New("generator accepted job for async completion")

// Request is the wire request for one generation attempt
type Request struct {
	JobID     string          `json:"job_id"`
	JobType   string          `json:"type"`
	BatchSize int             `json:"batch_size"`
	Payload   json.RawMessage `json:"payload"`
}

// Response is the generator's wire response
type Response struct {
	Success  bool            `json:"success"`
	Artifact json.RawMessage `json:"artifact,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// Client calls the external generator. The generator is an unreliable
// collaborator: timeouts, 5xx responses and malformed bodies are all
// classified retryable; an explicit success=false is permanent.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a generator client with a bounded request timeout
func NewClient(cfg *config.GeneratorConfig, logger *slog.Logger) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
		logger: logger,
	}
}

// Generate runs one generation attempt and returns the artifact
// descriptor as a JSON string.
func (c *Client) Generate(ctx context.Context, job *domain.Job) (string, error) {
	payload := json.RawMessage(job.Payload)
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}

	body, err := json.Marshal(&Request{
		JobID:     job.JobID,
		JobType:   job.JobType,
		BatchSize: job.BatchSize,
		Payload:   payload,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal generator request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build generator request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Timeouts and connection failures are transient
		return "", domain.NewRetryableError(fmt.Errorf("generator request failed: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusAccepted:
		return "", ErrAccepted
	case resp.StatusCode >= 500:
		return "", domain.NewRetryableError(fmt.Errorf("generator returned %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("generator rejected request with status %d", resp.StatusCode)
	}

	var genResp Response
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return "", domain.NewRetryableError(fmt.Errorf("malformed generator response: %w", err))
	}

	if !genResp.Success {
		return "", fmt.Errorf("generator failed: %s", genResp.Error)
	}

	c.logger.Debug("Generator call succeeded",
		slog.String("job_id", job.JobID),
		slog.Int("artifact_bytes", len(genResp.Artifact)),
	)

	return string(genResp.Artifact), nil
}
