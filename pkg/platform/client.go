package platform

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	cberrors "cloud-chargeback/pkg/errors"
)

// BasicCredential encodes an API key pair for a basic Authorization header.
func BasicCredential(key, secret string) string {
	return base64.StdEncoding.EncodeToString([]byte(key + ":" + secret))
}

// HTTPClient is a retrying JSON client for upstream APIs. Requests are
// paced by a shared rate limiter; 429 responses sleep a fixed interval
// and retry the same request instead of failing the cycle.
type HTTPClient struct {
	Client           *http.Client
	Retries          int
	RateLimitBackoff time.Duration
	Limiter          *rate.Limiter
	Logger           *slog.Logger
}

func NewHTTPClient(retries int, timeout time.Duration, requestsPerSecond float64) *HTTPClient {
	return &HTTPClient{
		Client: &http.Client{
			Timeout: timeout,
		},
		Retries:          retries,
		RateLimitBackoff: GetEnvDuration("CHARGEBACK_RATE_LIMIT_BACKOFF", 5*time.Second),
		Limiter:          rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
		Logger:           slog.Default(),
	}
}

// GetJSON fetches url and decodes the response body into out.
func (c *HTTPClient) GetJSON(ctx context.Context, url string, headers map[string]string, out interface{}) error {
	var lastErr error

	for i := 0; i <= c.Retries; i++ {
		if err := c.Limiter.Wait(ctx); err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := c.Client.Do(req)
		if err != nil {
			lastErr = err
			c.Logger.Warn("HTTP request failed, retrying", "url", url, "attempt", i+1, "error", err)
			if i < c.Retries {
				sleepCtx(ctx, time.Duration(1<<i)*200*time.Millisecond)
			}
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			lastErr = cberrors.NewRateLimited(url)
			c.Logger.Warn("Upstream rate limit, backing off", "url", url, "backoff", c.RateLimitBackoff)
			sleepCtx(ctx, c.RateLimitBackoff)
			i-- // rate limiting does not consume a retry
			continue
		}

		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			resp.Body.Close()
			lastErr = fmt.Errorf("unexpected status %d from %s: %s", resp.StatusCode, url, string(body))
			if resp.StatusCode < 500 {
				return lastErr
			}
			if i < c.Retries {
				sleepCtx(ctx, time.Duration(1<<i)*200*time.Millisecond)
			}
			continue
		}

		err = json.NewDecoder(resp.Body).Decode(out)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("decoding response from %s: %w", url, err)
		}
		return nil
	}

	return fmt.Errorf("request failed after %d retries: %w", c.Retries, lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
