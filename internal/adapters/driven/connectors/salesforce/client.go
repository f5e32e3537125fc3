package salesforce

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/custodia-labs/sercha-poller/internal/core/domain"
)

var (
	// ErrNotAuthorized is returned by data calls made before a successful Authorize.
	ErrNotAuthorized = errors.New("salesforce: gateway not authorized")

	// ErrMissingCredentials indicates the username or password is empty.
	ErrMissingCredentials = errors.New("salesforce: username and password are required")

	// ErrNoInstanceURL indicates the login response did not name an instance.
	ErrNoInstanceURL = errors.New("salesforce: login response has no instance_url")
)

// APIError is a non-2xx response from the REST API.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("salesforce API error %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("salesforce API error %d: %s", e.StatusCode, e.Message)
}

// session is the state established by a successful login.
type session struct {
	instanceURL string
	httpClient  *http.Client
}

// login runs the OAuth username-password flow against the login URL.
// The security token is appended to the password as Salesforce expects.
func (g *Gateway) login(ctx context.Context, creds domain.Credentials) (*session, error) {
	if creds.Username == "" || creds.Password == "" {
		return nil, ErrMissingCredentials
	}

	loginURL := creds.LoginURL
	if loginURL == "" {
		loginURL = DefaultLoginURL
	}

	oc := &oauth2.Config{
		ClientID:     g.config.ClientID,
		ClientSecret: g.config.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  strings.TrimSuffix(loginURL, "/") + "/services/oauth2/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, g.httpClient)
	tok, err := oc.PasswordCredentialsToken(ctx, creds.Username, creds.Password+creds.SecurityToken)
	if err != nil {
		return nil, fmt.Errorf("salesforce login: %w", err)
	}

	instanceURL, _ := tok.Extra("instance_url").(string)
	if instanceURL == "" {
		return nil, ErrNoInstanceURL
	}

	// The session client outlives the login request, so it must not inherit its context.
	base := context.WithValue(context.Background(), oauth2.HTTPClient, g.httpClient)
	return &session{
		instanceURL: strings.TrimSuffix(instanceURL, "/"),
		httpClient:  oauth2.NewClient(base, oauth2.StaticTokenSource(tok)),
	}, nil
}

// dataPath returns the versioned REST path for the given suffix.
func (g *Gateway) dataPath(format string, args ...any) string {
	return "/services/data/" + g.config.APIVersion + fmt.Sprintf(format, args...)
}

// getJSON issues a GET and decodes the response body into out.
func (g *Gateway) getJSON(ctx context.Context, path string, out any) error {
	return g.sendJSON(ctx, http.MethodGet, path, nil, out)
}

// sendJSON issues a request with an optional JSON body and decodes the response into out.
func (g *Gateway) sendJSON(ctx context.Context, method, path string, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		body, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	resp, err := g.doRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// doRequest performs an HTTP request against the instance with retry logic.
// Retries honour Retry-After when present.
func (g *Gateway) doRequest(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	sess := g.current()
	if sess == nil {
		return nil, ErrNotAuthorized
	}

	var resp *http.Response
	for attempt := 0; attempt <= g.config.MaxRetries; attempt++ {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, sess.instanceURL+path, reader)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err = sess.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("do request: %w", err)
		}

		if !shouldRetry(method, resp.StatusCode) || attempt == g.config.MaxRetries {
			break
		}

		wait := time.Duration(attempt+1) * g.config.RetryBackoff
		if after := retryAfter(resp.Header.Get("Retry-After")); after > 0 && after < 5*time.Minute {
			wait = after
		}
		resp.Body.Close()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}

	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, parseAPIError(resp)
	}

	return resp, nil
}

// shouldRetry reports whether a response is worth another attempt. Throttling
// is always retried. Server errors are retried except for POST, which may
// already have created records.
func shouldRetry(method string, status int) bool {
	if status == http.StatusTooManyRequests {
		return true
	}
	return status >= 500 && method != http.MethodPost
}

func retryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	secs, err := strconv.Atoi(header)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// parseAPIError reads the standard [{"errorCode","message"}] error body.
func parseAPIError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}

	var body []struct {
		ErrorCode string `json:"errorCode"`
		Message   string `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && len(body) > 0 {
		apiErr.Code = body[0].ErrorCode
		apiErr.Message = body[0].Message
	}
	return apiErr
}
