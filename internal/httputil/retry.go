// Package httputil runs outbound calls to the price source, the vision
// extractor and alarm webhooks with bounded retries.
package httputil

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kjannette/botdash-backend/internal/logging"
	"github.com/kjannette/botdash-backend/internal/observability"
)

var log = logging.For("http")

// Policy describes how one upstream is retried. Upstream labels logs and metrics.
type Policy struct {
	Upstream   string
	Attempts   int
	Backoff    time.Duration
	MaxBackoff time.Duration
}

// StatusError is a non-2xx answer from an upstream.
type StatusError struct {
	Upstream string
	Status   int
	Body     string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s returned status %d", e.Upstream, e.Status)
	}
	return fmt.Sprintf("%s returned status %d: %s", e.Upstream, e.Status, e.Body)
}

// Rejected reports a client-side refusal: the request itself was wrong.
func (e *StatusError) Rejected() bool {
	return e.Status >= 400 && e.Status < 500 && e.Status != http.StatusTooManyRequests
}

// Retryable reports whether a status is worth another attempt.
func Retryable(status int) bool {
	return status >= 500 || status == http.StatusTooManyRequests
}

func (p Policy) name() string {
	if p.Upstream == "" {
		return "upstream"
	}
	return p.Upstream
}

// Do sends the request built by build, rebuilding it for every attempt since
// bodies are consumed. Transport errors, 5xx and 429 are retried with doubling
// backoff; any other response is returned to the caller as is.
func (p Policy) Do(ctx context.Context, client *http.Client, build func() (*http.Request, error)) (*http.Response, error) {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 3
	}
	backoff := p.Backoff
	if backoff <= 0 {
		backoff = time.Second
	}

	var lastErr error
	for attempt := 1; ; attempt++ {
		req, err := build()
		if err != nil {
			return nil, fmt.Errorf("build %s request: %w", p.name(), err)
		}

		resp, err := client.Do(req)
		if err == nil && !Retryable(resp.StatusCode) {
			return resp, nil
		}

		wait := backoff
		if err != nil {
			lastErr = err
		} else {
			if ra := retryAfter(resp.Header.Get("Retry-After"), time.Now()); ra > 0 {
				wait = ra
			}
			lastErr = statusError(p.name(), resp)
		}
		if p.MaxBackoff > 0 && wait > p.MaxBackoff {
			wait = p.MaxBackoff
		}

		if attempt >= attempts {
			return nil, fmt.Errorf("%s: giving up after %d attempts: %w", p.name(), attempts, lastErr)
		}

		observability.RecordUpstreamRetry(p.name())
		log.WithFields(map[string]any{"upstream": p.name(), "attempt": attempt}).
			Warnf("%v, retrying in %s", lastErr, wait)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
		backoff *= 2
	}
}

// JSON performs the call and decodes a 2xx body into out. A nil out discards
// the body. Other statuses surface as *StatusError.
func (p Policy) JSON(ctx context.Context, client *http.Client, build func() (*http.Request, error), out any) error {
	resp, err := p.Do(ctx, client, build)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(p.name(), resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", p.name(), err)
	}
	return nil
}

// statusError drains and closes resp, keeping a short body excerpt.
func statusError(upstream string, resp *http.Response) *StatusError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	resp.Body.Close()
	return &StatusError{
		Upstream: upstream,
		Status:   resp.StatusCode,
		Body:     strings.TrimSpace(string(body)),
	}
}

// retryAfter reads a Retry-After header in either delta-seconds or HTTP-date form.
func retryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil && at.After(now) {
		return at.Sub(now)
	}
	return 0
}
