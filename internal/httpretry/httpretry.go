// Package httpretry sends JSON API requests with capped exponential backoff.
// It is shared by the embeddings and chat completion clients.
package httpretry

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Policy bounds how often and how long a request is retried.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	// MaxDelay caps a single backoff step; zero means 5s.
	MaxDelay time.Duration
}

// Response is a fully read response that is not worth retrying.
type Response struct {
	StatusCode int
	Status     string
	Body       []byte
}

// Retryable reports whether a status means the server may succeed later.
func Retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// retryAfterBackOff lets a Retry-After header replace the next step.
type retryAfterBackOff struct {
	backoff.BackOff
	hint time.Duration
}

func (b *retryAfterBackOff) NextBackOff() time.Duration {
	if b.hint > 0 {
		d := b.hint
		b.hint = 0
		return d
	}
	return b.BackOff.NextBackOff()
}

func newBackOff(p Policy) *retryAfterBackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.BaseDelay
	exp.RandomizationFactor = 0
	exp.Multiplier = 2
	exp.MaxInterval = p.MaxDelay
	if exp.MaxInterval <= 0 {
		exp.MaxInterval = 5 * time.Second
	}
	exp.Reset()
	return &retryAfterBackOff{BackOff: exp}
}

// Do sends the request built by newRequest until the server answers with a
// status that is neither 429 nor 5xx. Transport errors are retried unless ctx
// is done. The request is rebuilt on every attempt so its body can be replayed.
func Do(ctx context.Context, client *http.Client, p Policy, newRequest func(context.Context) (*http.Request, error)) (*Response, error) {
	b := newBackOff(p)
	attempts := 0
	res, err := backoff.Retry(ctx, func() (*Response, error) {
		attempts++
		req, err := newRequest(ctx)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		body, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if Retryable(resp.StatusCode) {
			if secs, convErr := strconv.Atoi(resp.Header.Get("Retry-After")); convErr == nil && secs > 0 {
				b.hint = time.Duration(secs) * time.Second
			}
			return nil, fmt.Errorf("request failed: %s", resp.Status)
		}
		if err != nil {
			return nil, err
		}
		return &Response{StatusCode: resp.StatusCode, Status: resp.Status, Body: body}, nil
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(p.MaxRetries+1)))
	if err != nil {
		if attempts > 1 {
			return nil, fmt.Errorf("giving up after %d attempts: %w", attempts, err)
		}
		return nil, err
	}
	return res, nil
}

// Preview shortens a response body for error messages.
func Preview(body []byte) string {
	if len(body) > 200 {
		return string(body[:200])
	}
	return string(body)
}
