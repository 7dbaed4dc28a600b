// Package fetchers implements the bounded, retrying HTTP clients for
// weather and holiday data that front the enrichment pipeline (spec.md
// §4.B). Unlike the teacher's exchangerate client, these do not fall
// back to stale cache data on failure: enrichment freshness matters more
// here, so a retry-exhausted fetch surfaces a typed error for the job
// queue to retry or fail outright.
package fetchers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/jengu/pricing-core/internal/apperr"
)

// Config controls timeout, retry, and concurrency limits shared by every
// fetcher (spec.md §4.B).
type Config struct {
	Timeout       time.Duration // default 15s
	MaxAttempts   int           // default 3
	BackoffBaseMs int           // default 500
	MaxInFlight   int           // default 4
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BackoffBaseMs <= 0 {
		c.BackoffBaseMs = 500
	}
	if c.MaxInFlight <= 0 {
		c.MaxInFlight = 4
	}
	return c
}

// httpClient is the shared retry/backoff/semaphore machinery both the
// weather and holiday fetchers embed.
type httpClient struct {
	http *http.Client
	cfg  Config
	sem  chan struct{}
	log  zerolog.Logger
}

func newHTTPClient(cfg Config, log zerolog.Logger, name string) *httpClient {
	cfg = cfg.withDefaults()
	return &httpClient{
		http: &http.Client{Timeout: cfg.Timeout},
		cfg:  cfg,
		sem:  make(chan struct{}, cfg.MaxInFlight),
		log:  log.With().Str("client", name).Logger(),
	}
}

// doJSON performs a GET against url, retrying transient failures with
// exponential backoff up to cfg.MaxAttempts, and decodes the JSON body
// into out. It classifies failures per spec.md §4.B / §7.
func (c *httpClient) doJSON(ctx context.Context, url string, out any) error {
	select {
	case c.sem <- struct{}{}:
		defer func() { <-c.sem }()
	case <-ctx.Done():
		return apperr.Timeout("context cancelled waiting for fetcher slot: %v", ctx.Err())
	}

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		err := c.attempt(ctx, url, out)
		if err == nil {
			return nil
		}
		lastErr = err

		if apperr.KindOf(err) != apperr.KindTransientUpstream {
			return err
		}
		if attempt == c.cfg.MaxAttempts {
			break
		}

		backoff := time.Duration(c.cfg.BackoffBaseMs) * time.Millisecond * time.Duration(1<<(attempt-1))
		c.log.Warn().Err(err).Int("attempt", attempt).Dur("backoff", backoff).Msg("transient fetch error, retrying")
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return apperr.Timeout("context cancelled during backoff: %v", ctx.Err())
		}
	}
	return lastErr
}

func (c *httpClient) attempt(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return apperr.PermanentUpstream("build request: %v", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return apperr.TransientUpstream("request failed: %v", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return apperr.QuotaExceeded("upstream rate limit (status %d)", resp.StatusCode)
	case resp.StatusCode >= 500:
		return apperr.TransientUpstream("upstream server error (status %d)", resp.StatusCode)
	case resp.StatusCode >= 400:
		return apperr.PermanentUpstream("upstream rejected request (status %d)", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperr.TransientUpstream("decode response: %v", err)
	}
	return nil
}

// buildURL is a tiny helper so fetchers don't hand-roll query encoding.
func buildURL(base string, query map[string]string) string {
	u := base + "?"
	first := true
	for k, v := range query {
		if !first {
			u += "&"
		}
		u += k + "=" + v
		first = false
	}
	return u
}
