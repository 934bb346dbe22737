package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
)

// Credential is a short-lived token authorizing exactly one relay session.
type Credential struct {
	Token     string
	ExpiresAt time.Time
}

// CredentialSource issues ephemeral credentials.
type CredentialSource interface {
	Credential(ctx context.Context) (Credential, error)
}

// HTTPCredentialSource obtains credentials from the session endpoint of the
// backend: POST {BaseURL}/api/session.
type HTTPCredentialSource struct {
	baseURL    string
	client     *http.Client
	maxRetries uint64
	backoff    time.Duration
}

func NewHTTPCredentialSource(baseURL string) *HTTPCredentialSource {
	return &HTTPCredentialSource{
		baseURL:    strings.TrimRight(baseURL, "/"),
		client:     &http.Client{Timeout: 15 * time.Second},
		maxRetries: 2,
		backoff:    200 * time.Millisecond,
	}
}

type sessionResponse struct {
	ClientSecret struct {
		Value     string `json:"value"`
		ExpiresAt int64  `json:"expires_at"`
	} `json:"client_secret"`
}

func (s *HTTPCredentialSource) Credential(ctx context.Context) (Credential, error) {
	var cred Credential

	b := retry.WithMaxRetries(s.maxRetries, retry.NewExponential(s.backoff))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		c, err := s.requestCredential(ctx)
		if err != nil {
			return err
		}
		cred = c
		return nil
	})
	if err != nil {
		return Credential{}, fmt.Errorf("%w: %v", ErrCredential, err)
	}
	return cred, nil
}

func (s *HTTPCredentialSource) requestCredential(ctx context.Context) (Credential, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", s.baseURL+"/api/session", nil)
	if err != nil {
		return Credential{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return Credential{}, retry.RetryableError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		err := fmt.Errorf("session endpoint error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
		if isRetryableStatus(resp.StatusCode) {
			return Credential{}, retry.RetryableError(err)
		}
		return Credential{}, err
	}

	var result sessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Credential{}, fmt.Errorf("decode session response: %w", err)
	}
	if result.ClientSecret.Value == "" {
		return Credential{}, fmt.Errorf("session response has no client secret")
	}

	cred := Credential{Token: result.ClientSecret.Value}
	if result.ClientSecret.ExpiresAt > 0 {
		cred.ExpiresAt = time.Unix(result.ClientSecret.ExpiresAt, 0)
	}
	return cred, nil
}

// SessionConfig fetches the optional session configuration document from
// GET {BaseURL}/api/session/config and returns it undecoded.
func (s *HTTPCredentialSource) SessionConfig(ctx context.Context) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", s.baseURL+"/api/session/config", nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to get session config: status %d", resp.StatusCode)
	}

	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func isRetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}
