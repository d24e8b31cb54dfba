// Package contestapi talks to the remote contest service: contest documents
// are read from GET /contests/{id}, final results go to POST /final-results.
package contestapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"offline-contest/internal/domain"
)

const maxBodyBytes = 8 << 20

// TokenSource supplies the bearer token for authenticated calls.
type TokenSource interface {
	Token() (string, error)
}

// StatusError is a non-success HTTP answer other than 401.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("contest api: status %d", e.StatusCode)
	}
	return fmt.Sprintf("contest api: status %d: %s", e.StatusCode, e.Message)
}

type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
}

func New(baseURL string, httpClient *http.Client, tokens TokenSource) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		tokens:  tokens,
	}
}

// FetchContest returns the raw contest document. Responses wrapped as
// {"contest": {...}} are unwrapped.
func (c *Client) FetchContest(ctx context.Context, contestID string) ([]byte, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/contests/"+url.PathEscape(contestID), nil)
	if err != nil {
		return nil, err
	}
	body, err := c.do(req)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", domain.ErrContestNotFound, contestID)
		}
		return nil, err
	}

	var envelope struct {
		Contest json.RawMessage `json:"contest"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && len(envelope.Contest) > 0 && envelope.Contest[0] == '{' {
		return envelope.Contest, nil
	}
	return body, nil
}

type submitResponse struct {
	Success *bool  `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

// SubmitFinalResult posts one final result. It does not retry; the caller
// owns the retry policy.
func (c *Client) SubmitFinalResult(ctx context.Context, result domain.FinalResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode final result: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/final-results", payload)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := c.do(req)
	if err != nil {
		return err
	}
	var resp submitResponse
	if len(bytes.TrimSpace(body)) == 0 || json.Unmarshal(body, &resp) != nil {
		return nil
	}
	if resp.Success != nil && !*resp.Success {
		msg := resp.Error
		if msg == "" {
			msg = resp.Message
		}
		return &StatusError{StatusCode: http.StatusOK, Message: msg}
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body []byte) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.tokens != nil {
		token, err := c.tokens.Token()
		if err != nil {
			return nil, err
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
	return req, nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, domain.ErrUnauthorized
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		var msg submitResponse
		_ = json.Unmarshal(body, &msg)
		text := msg.Error
		if text == "" {
			text = msg.Message
		}
		return nil, &StatusError{StatusCode: resp.StatusCode, Message: text}
	}
	return body, nil
}
