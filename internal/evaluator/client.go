package evaluator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/meridian-health/claims-platform/internal/shared/config"
	"github.com/meridian-health/claims-platform/internal/shared/errors"
)

// Client talks to the external decision evaluator service over HTTP.
// The service owns the language model; this side owns what gets asked
// and what happens with the answer.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a new evaluator client
func NewClient(cfg config.EvaluatorConfig) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	return &Client{
		baseURL: cfg.URL,
		http:    &http.Client{Timeout: timeout},
	}
}

// Evaluate asks the service to review a claim for one stage
func (c *Client) Evaluate(ctx context.Context, req EvaluationRequest) (*EvaluationResponse, error) {
	var resp EvaluationResponse
	if err := c.post(ctx, "/v1/evaluate", req, &resp); err != nil {
		return nil, err
	}

	if !resp.Recommendation.IsValid() {
		return nil, errors.Internal(fmt.Errorf("evaluator returned unknown recommendation %q", resp.Recommendation))
	}
	if resp.Confidence < 0 || resp.Confidence > 1 {
		return nil, errors.Internal(fmt.Errorf("evaluator returned confidence %f outside [0,1]", resp.Confidence))
	}

	return &resp, nil
}

// Ask sends a free-form policy question to the service
func (c *Client) Ask(ctx context.Context, question string) (*AskResponse, error) {
	var resp AskResponse
	if err := c.post(ctx, "/v1/ask", AskRequest{Question: question}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Health checks evaluator service health
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return errors.Wrap(err, "failed to create health request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "evaluator service unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Internal(fmt.Errorf("evaluator service unhealthy: status %d", resp.StatusCode))
	}

	return nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "failed to marshal evaluator request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "failed to create evaluator request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "evaluator request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return errors.Internal(fmt.Errorf("evaluator returned status %d: %s", resp.StatusCode, string(data)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "failed to decode evaluator response")
	}

	return nil
}
