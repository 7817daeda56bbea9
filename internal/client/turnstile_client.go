package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrChallengeFailed is the sentinel every bot-challenge failure unwraps to.
var ErrChallengeFailed = errors.New("challenge verification failed")

// ChallengeError describes why a challenge token was not accepted. Codes are
// the remote service's error-codes when it returned any.
type ChallengeError struct {
	Codes []string
	Err   error
}

func (e *ChallengeError) Error() string {
	switch {
	case len(e.Codes) > 0:
		return "turnstile verification failed: " + strings.Join(e.Codes, ", ")
	case e.Err != nil:
		return "turnstile verification failed: " + e.Err.Error()
	}
	return "turnstile verification failed"
}

func (e *ChallengeError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrChallengeFailed, e.Err}
	}
	return []error{ErrChallengeFailed}
}

type turnstileRequest struct {
	Secret   string `json:"secret"`
	Response string `json:"response"`
	RemoteIP string `json:"remoteip,omitempty"`
}

type turnstileResponse struct {
	Success     bool     `json:"success"`
	ErrorCodes  []string `json:"error-codes"`
	ChallengeTS string   `json:"challenge_ts"`
	Hostname    string   `json:"hostname"`
}

// TurnstileClient verifies Cloudflare Turnstile tokens against siteverify.
// Every call is bounded by the configured timeout and is never retried.
type TurnstileClient struct {
	httpClient *http.Client
	secretKey  string
	verifyURL  string
	logger     *zap.Logger
}

func NewTurnstileClient(secretKey, verifyURL string, timeout time.Duration, logger *zap.Logger) *TurnstileClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &TurnstileClient{
		httpClient: &http.Client{Timeout: timeout},
		secretKey:  secretKey,
		verifyURL:  verifyURL,
		logger:     logger,
	}
}

// Verify returns nil only when siteverify reports success. remoteIP may be
// empty.
func (c *TurnstileClient) Verify(ctx context.Context, token, remoteIP string) error {
	if strings.TrimSpace(token) == "" {
		return &ChallengeError{Codes: []string{"missing-input-response"}}
	}

	body, err := json.Marshal(turnstileRequest{
		Secret:   c.secretKey,
		Response: token,
		RemoteIP: remoteIP,
	})
	if err != nil {
		return &ChallengeError{Err: fmt.Errorf("encode request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.verifyURL, bytes.NewReader(body))
	if err != nil {
		return &ChallengeError{Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("Turnstile request failed", zap.Error(err))
		return &ChallengeError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &ChallengeError{Err: fmt.Errorf("siteverify returned status %d", resp.StatusCode)}
	}

	var result turnstileResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return &ChallengeError{Err: fmt.Errorf("decode response: %w", err)}
	}

	if !result.Success {
		return &ChallengeError{Codes: result.ErrorCodes}
	}

	return nil
}
