// Package normalize maps source-local identifiers and predicates to their
// canonical forms via the remote normalization services, and rewrites parser
// output files accordingly.
package normalize

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// HTTP client defaults. The normalization services answer large batch
// requests slowly under load, hence the generous per-request timeout.
const (
	requestTimeout = 45 * time.Second

	// NormServiceAttempts caps retries against the normalization services.
	NormServiceAttempts = 8

	// AuxServiceAttempts caps retries against auxiliary endpoints (graph
	// spec URLs, information-resource catalogs).
	AuxServiceAttempts = 3

	maxIdleConns       = 32
	maxConnsPerHost    = 16
	initialBackoff     = 500 * time.Millisecond
	maxBackoffInterval = 30 * time.Second
)

// ErrServiceFailure wraps a normalization-service failure that survived the
// retry budget. The owning stage transitions to failed.
var ErrServiceFailure = errors.New("normalization service failure")

// httpStatusError marks a response status that should be retried.
type httpStatusError struct {
	status int
	url    string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("http %d from %s", e.status, e.url)
}

// Client is the shared HTTP client for the normalization services. One
// instance per stage is sufficient; it is safe for concurrent use.
type Client struct {
	http     *http.Client
	attempts uint64
}

// NewClient creates a client with a bounded connection pool and the
// normalization-service retry budget.
func NewClient() *Client {
	return NewClientWithAttempts(NormServiceAttempts)
}

// NewClientWithAttempts creates a client with an explicit retry budget.
func NewClientWithAttempts(attempts int) *Client {
	transport := &http.Transport{
		MaxIdleConns:    maxIdleConns,
		MaxConnsPerHost: maxConnsPerHost,
	}

	return &Client{
		http: &http.Client{
			Timeout:   requestTimeout,
			Transport: transport,
		},
		attempts: uint64(attempts),
	}
}

// PostJSON POSTs a JSON request body and decodes the JSON response into out,
// retrying transient failures with exponential backoff.
func (c *Client) PostJSON(ctx context.Context, url string, request, out any) error {
	body, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	return c.retry(ctx, url, func() (*http.Response, error) {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if reqErr != nil {
			return nil, backoff.Permanent(reqErr)
		}

		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")

		return c.http.Do(req)
	}, out)
}

// GetJSON GETs a URL and decodes the JSON response into out, retrying
// transient failures with exponential backoff.
func (c *Client) GetJSON(ctx context.Context, url string, out any) error {
	return c.retry(ctx, url, func() (*http.Response, error) {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if reqErr != nil {
			return nil, backoff.Permanent(reqErr)
		}

		req.Header.Set("Accept", "application/json")

		return c.http.Do(req)
	}, out)
}

// GetRaw GETs a URL and returns the raw response body, retrying transient
// failures with exponential backoff. Used for non-JSON resources such as
// remote graph spec documents.
func (c *Client) GetRaw(ctx context.Context, url string) ([]byte, error) {
	var body []byte

	policy := backoff.WithContext(
		backoff.WithMaxRetries(newExponentialPolicy(), c.attempts-1),
		ctx,
	)

	operation := func() error {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if reqErr != nil {
			return backoff.Permanent(reqErr)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}

		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
			io.Copy(io.Discard, resp.Body)

			return &httpStatusError{status: resp.StatusCode, url: url}
		}

		if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
			return backoff.Permanent(&httpStatusError{status: resp.StatusCode, url: url})
		}

		data, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return readErr
		}

		body = data

		return nil
	}

	err := backoff.Retry(operation, policy)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrServiceFailure, err)
	}

	return body, nil
}

// retry drives one logical request through the backoff policy. Connection
// errors, 5xx, and 429 are transient; other non-2xx statuses are permanent;
// an empty 2xx body is a service error and transient.
func (c *Client) retry(ctx context.Context, url string, do func() (*http.Response, error), out any) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(newExponentialPolicy(), c.attempts-1),
		ctx,
	)

	operation := func() error {
		resp, err := do()
		if err != nil {
			// Connection-level failure: transient.
			return err
		}

		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
			io.Copy(io.Discard, resp.Body)

			return &httpStatusError{status: resp.StatusCode, url: url}
		}

		if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
			return backoff.Permanent(&httpStatusError{status: resp.StatusCode, url: url})
		}

		data, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return readErr
		}

		if len(bytes.TrimSpace(data)) == 0 {
			// A 2xx with no body is a service malfunction, not a result.
			return fmt.Errorf("empty response body from %s", url)
		}

		decodeErr := json.Unmarshal(data, out)
		if decodeErr != nil {
			return backoff.Permanent(fmt.Errorf("decode response from %s: %w", url, decodeErr))
		}

		return nil
	}

	err := backoff.Retry(operation, policy)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrServiceFailure, err)
	}

	return nil
}

func newExponentialPolicy() *backoff.ExponentialBackOff {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = initialBackoff
	policy.MaxInterval = maxBackoffInterval
	policy.MaxElapsedTime = 0 // Attempt count is the budget, not wall time.

	return policy
}
