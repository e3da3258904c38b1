// Package identity is the client for the identity service that issues this
// system's service token and answers scope checks on caller tokens.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"anchor-payout/config"
	"anchor-payout/internal/core/ports"
	"anchor-payout/pkg/breaker"
	"anchor-payout/pkg/logger"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

const (
	defaultTokenExpiry = 5 * time.Minute
	expirySkew         = 30 * time.Second
	maxErrorBody       = 512
)

// Client implements ports.IdentityClient.
type Client struct {
	baseURL    string
	accessKey  string
	secretKey  string
	httpClient *http.Client
	cache      ports.TokenCache
	cb         *gobreaker.CircuitBreaker
	log        zerolog.Logger
}

// NewClient creates an identity client. cache may be nil, in which case
// every ServiceToken call authenticates.
func NewClient(cfg config.IdentityConfig, cache ports.TokenCache, log zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	log = logger.Component(log, "identity")
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		accessKey:  cfg.AccessKey,
		secretKey:  cfg.SecretKey,
		httpClient: &http.Client{Timeout: timeout},
		cache:      cache,
		cb:         breaker.New("identity", log),
		log:        log,
	}
}

type authenticateRequest struct {
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
}

type authenticateResponse struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expires_in"` // seconds
}

type scopeRequest struct {
	SubjectToken string `json:"subject_token"`
	Scope        string `json:"scope"`
}

type scopeResponse struct {
	Authorised bool   `json:"authorised"`
	Message    string `json:"message"`
}

func (c *Client) cacheKey() string {
	return "service:" + c.accessKey
}

// ServiceToken returns a cached service token or authenticates for a new
// one. Cache failures fall back to authenticating.
func (c *Client) ServiceToken(ctx context.Context) (string, error) {
	if c.baseURL == "" {
		return "", errors.New("identity service is not configured")
	}

	if c.cache != nil {
		token, err := c.cache.Get(ctx, c.cacheKey())
		if err != nil {
			c.log.Warn().Err(err).Msg("Token cache read failed; authenticating directly")
		} else if token != "" {
			return token, nil
		}
	}

	var resp authenticateResponse
	if _, err := c.post(ctx, "/authenticate/app", "", authenticateRequest{
		AccessKey: c.accessKey,
		SecretKey: c.secretKey,
	}, &resp); err != nil {
		return "", fmt.Errorf("authenticate service: %w", err)
	}
	if resp.Token == "" {
		return "", errors.New("authenticate service: empty token in response")
	}

	if c.cache != nil {
		if err := c.cache.Set(ctx, c.cacheKey(), resp.Token, tokenTTL(resp.ExpiresIn)); err != nil {
			c.log.Warn().Err(err).Msg("Token cache write failed")
		}
	}
	return resp.Token, nil
}

// tokenTTL keeps a cached token a little shorter than its real lifetime.
func tokenTTL(expiresIn int64) time.Duration {
	expiry := defaultTokenExpiry
	if expiresIn > 0 {
		expiry = time.Duration(expiresIn) * time.Second
	}
	ttl := expiry - expirySkew
	if ttl < time.Second {
		ttl = time.Second
	}
	return ttl
}

// CheckScope asks whether subjectToken carries scope. A 401 or 403 from the
// identity service is an answer, not an error.
func (c *Client) CheckScope(ctx context.Context, serviceToken, subjectToken, scope string) (*ports.ScopeCheck, error) {
	if subjectToken == "" {
		return &ports.ScopeCheck{Authorised: false, Message: "message carries no token"}, nil
	}

	var resp scopeResponse
	status, err := c.post(ctx, "/authorise/scope", serviceToken, scopeRequest{
		SubjectToken: subjectToken,
		Scope:        scope,
	}, &resp)
	if err != nil {
		if status == http.StatusUnauthorized || status == http.StatusForbidden {
			msg := resp.Message
			if msg == "" {
				msg = http.StatusText(status)
			}
			return &ports.ScopeCheck{Authorised: false, Message: msg}, nil
		}
		return nil, fmt.Errorf("check scope %s: %w", scope, err)
	}
	return &ports.ScopeCheck{Authorised: resp.Authorised, Message: resp.Message}, nil
}

// statusError is a non-2xx answer. 401 and 403 do not count against the
// breaker.
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("identity service returned %d: %s", e.status, e.body)
}

// post sends body as JSON and decodes the response into out. It returns
// the HTTP status when one was received; out is decoded for error
// statuses too when the body is JSON.
func (c *Client) post(ctx context.Context, path, bearer string, body, out any) (int, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("marshal request: %w", err)
	}

	var status int
	var rejected error
	_, err = c.cb.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		if bearer != "" {
			req.Header.Set("Authorization", "Bearer "+bearer)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("request %s: %w", path, err)
		}
		defer resp.Body.Close()
		status = resp.StatusCode

		raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			_ = json.Unmarshal(raw, out)
			snippet := string(raw)
			if len(snippet) > maxErrorBody {
				snippet = snippet[:maxErrorBody]
			}
			serr := &statusError{status: resp.StatusCode, body: snippet}
			if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
				rejected = serr
				return nil, nil
			}
			return nil, serr
		}

		if err := json.Unmarshal(raw, out); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		return nil, nil
	})
	if err != nil && breaker.IsOpen(err) {
		return 0, fmt.Errorf("identity service unavailable: %w", err)
	}
	if err == nil && rejected != nil {
		return status, rejected
	}
	return status, err
}
