package authority

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/legalmesh/warden/pkg/merkle"
	"github.com/legalmesh/warden/pkg/plan"
)

const (
	defaultTimeout    = 5 * time.Second
	defaultCommitPath = "/v1/commit"
	defaultVerifyPath = "/v1/verify"
)

// HTTPConfig configures the remote authority client.
type HTTPConfig struct {
	// URL is the base URL of the signing service.
	URL string `json:"url"`
	// APIKey is sent as a bearer token when set.
	APIKey string `json:"api_key,omitempty"`
	// Timeout bounds each call. Default 5s. A timeout is treated
	// identically to a verification failure by callers.
	Timeout time.Duration `json:"timeout,omitempty"`
	// RequestsPerSecond rate-limits outbound calls. Zero disables.
	RequestsPerSecond float64 `json:"requests_per_second,omitempty"`
}

// HTTPAuthority talks to a remote signing service. Strict fail-closed
// semantics: any error, timeout, or non-200 response surfaces as an error
// the verifier maps to "not trustworthy".
type HTTPAuthority struct {
	config  HTTPConfig
	client  *http.Client
	limiter *rate.Limiter
}

// NewHTTPAuthority creates a remote authority client.
func NewHTTPAuthority(cfg HTTPConfig) *HTTPAuthority {
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return &HTTPAuthority{
		config:  cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: limiter,
	}
}

type commitRequest struct {
	Steps           []string `json:"steps"`
	ValiditySeconds float64  `json:"validity_seconds"`
}

type commitResponse struct {
	Token      string          `json:"token"`
	PlanHash   string          `json:"plan_hash"`
	MerkleRoot string          `json:"merkle_root,omitempty"`
	Proofs     []*merkle.Proof `json:"step_proofs,omitempty"`
}

type verifyRequest struct {
	Token string `json:"token"`
}

type verifyResponse struct {
	Verified bool `json:"verified"`
}

// Commit implements plan.Authority against the remote service.
func (h *HTTPAuthority) Commit(ctx context.Context, steps []string, validity time.Duration) (*plan.Commitment, error) {
	if len(steps) == 0 {
		return nil, fmt.Errorf("authority: refusing to commit an empty plan")
	}
	if validity <= 0 {
		validity = 5 * time.Minute
	}

	var resp commitResponse
	err := h.post(ctx, defaultCommitPath, commitRequest{
		Steps:           steps,
		ValiditySeconds: validity.Seconds(),
	}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.Token == "" {
		return nil, fmt.Errorf("authority: commit returned no token")
	}
	return &plan.Commitment{
		Token:      resp.Token,
		PlanHash:   resp.PlanHash,
		Steps:      append([]string(nil), steps...),
		MerkleRoot: resp.MerkleRoot,
		Proofs:     resp.Proofs,
	}, nil
}

// Verify implements plan.Authority against the remote service.
func (h *HTTPAuthority) Verify(ctx context.Context, token string) (bool, error) {
	var resp verifyResponse
	if err := h.post(ctx, defaultVerifyPath, verifyRequest{Token: token}, &resp); err != nil {
		return false, err
	}
	return resp.Verified, nil
}

func (h *HTTPAuthority) post(ctx context.Context, path string, body, out any) error {
	if h.limiter != nil {
		if err := h.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("authority: rate limit wait: %w", err)
		}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("authority: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.config.URL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("authority: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.config.APIKey)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("authority: unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("authority: http %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("authority: read response: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("authority: parse response: %w", err)
	}
	return nil
}
