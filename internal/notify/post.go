package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
	"unicode/utf8"
)

// maxRetryWait bounds how long a rate-limited send waits before its single
// retry.
const maxRetryWait = 10 * time.Second

// rateLimitBody covers the retry hint both chat APIs put in a 429 body:
// Discord at the top level, Telegram under parameters.
type rateLimitBody struct {
	RetryAfter float64 `json:"retry_after"`
	Parameters struct {
		RetryAfter float64 `json:"retry_after"`
	} `json:"parameters"`
}

// postJSON posts payload to url. A 429 is retried once after the server's
// retry hint when that fits within maxRetryWait and ctx.
func postJSON(ctx context.Context, client *http.Client, service, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%s: marshal payload: %w", service, err)
	}

	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("%s: create request: %w", service, err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("%s: send request: %w", service, err)
		}
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		if resp.StatusCode == http.StatusTooManyRequests && attempt == 0 {
			wait := retryAfter(resp.Header, respBody)
			if wait <= maxRetryWait {
				select {
				case <-ctx.Done():
					return fmt.Errorf("%s: rate limited: %w", service, ctx.Err())
				case <-time.After(wait):
				}
				continue
			}
		}
		return fmt.Errorf("%s: unexpected status %d: %s", service, resp.StatusCode, string(respBody))
	}
}

func retryAfter(h http.Header, body []byte) time.Duration {
	var rl rateLimitBody
	if json.Unmarshal(body, &rl) == nil {
		if s := max(rl.RetryAfter, rl.Parameters.RetryAfter); s > 0 {
			return time.Duration(s * float64(time.Second))
		}
	}
	if s, err := strconv.Atoi(h.Get("Retry-After")); err == nil && s >= 0 {
		return time.Duration(s) * time.Second
	}
	return time.Second
}

// truncate shortens s to at most n runes, marking the cut with "...".
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-3]) + "..."
}
