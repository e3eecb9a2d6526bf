// Package steam is the venue client: inventory, price feeds, listings and
// order placement against the Steam Community Market.
package steam

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/smtbot/internal/crypto"
	"github.com/alanyoungcy/smtbot/internal/domain"
)

const (
	defaultCommunityURL = "https://steamcommunity.com"

	// Community market endpoints throttle aggressively; stay well below.
	defaultReadsPerMinute  = 20
	defaultWritesPerMinute = 10

	maxBodyBytes = 8 << 20
)

// Config holds the venue client settings.
type Config struct {
	CommunityURL    string
	Credentials     crypto.Credentials
	Currency        int
	Country         string
	Language        string
	ReadsPerMinute  int
	WritesPerMinute int
	HTTPTimeout     time.Duration

	// SessionTTL bounds how long a login is trusted before re-validating.
	SessionTTL time.Duration
	// LoginAttempts bounds both login retries and re-login-and-retry on
	// transient failures.
	LoginAttempts int
	LoginBackoff  time.Duration
}

func (c Config) withDefaults() Config {
	if c.CommunityURL == "" {
		c.CommunityURL = defaultCommunityURL
	}
	if c.Currency == 0 {
		c.Currency = 1
	}
	if c.Country == "" {
		c.Country = "US"
	}
	if c.Language == "" {
		c.Language = "english"
	}
	if c.ReadsPerMinute <= 0 {
		c.ReadsPerMinute = defaultReadsPerMinute
	}
	if c.WritesPerMinute <= 0 {
		c.WritesPerMinute = defaultWritesPerMinute
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 30 * time.Second
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = 12 * time.Hour
	}
	if c.LoginAttempts <= 0 {
		c.LoginAttempts = 3
	}
	if c.LoginBackoff <= 0 {
		c.LoginBackoff = 2 * time.Second
	}
	return c
}

// endpoint classes share a token bucket.
type endpointClass string

const (
	classRead  endpointClass = "read"
	classWrite endpointClass = "write"
)

// SharedLimit throttles all processes through a distributed limiter on top
// of the local token buckets.
type SharedLimit struct {
	Limiter domain.RateLimiter
	Limit   int
	Window  time.Duration
}

// Client implements domain.Venue.
type Client struct {
	cfg      Config
	base     *url.URL
	session  *Session
	limiters map[endpointClass]*rate.Limiter
	shared   *SharedLimit
	logger   *slog.Logger
	now      func() time.Time
}

var _ domain.Venue = (*Client)(nil)

// New creates a venue client. The session logs in lazily on first use.
func New(cfg Config, shared *SharedLimit, logger *slog.Logger) (*Client, error) {
	cfg = cfg.withDefaults()
	base, err := url.Parse(strings.TrimRight(cfg.CommunityURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("steam: parse community url: %w", err)
	}
	session, err := newSession(cfg, base, logger)
	if err != nil {
		return nil, err
	}
	return &Client{
		cfg:     cfg,
		base:    base,
		session: session,
		limiters: map[endpointClass]*rate.Limiter{
			classRead:  rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.ReadsPerMinute)), 3),
			classWrite: rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.WritesPerMinute)), 1),
		},
		shared: shared,
		logger: logger,
		now:    time.Now,
	}, nil
}

// Session exposes the owned session, e.g. for a health probe.
func (c *Client) Session() *Session {
	return c.session
}

// errSessionExpired marks responses that prove the request was refused for
// want of a session: 401/403 or the login page served instead of JSON.
var errSessionExpired = fmt.Errorf("%w: session expired", domain.ErrVenueTransient)

// call runs a read inside a valid session. Transient failures invalidate the
// session and retry after a fresh login; rate limiting backs off without
// re-login. Rejections surface immediately.
func (c *Client) call(ctx context.Context, op string, fn func() error) error {
	return c.run(ctx, op, func(err error) bool {
		return errors.Is(err, domain.ErrVenueTransient) || errors.Is(err, domain.ErrRateLimited)
	}, fn)
}

// callWrite runs an order placement. It is retried only when the venue
// provably did not act on it; 5xx, network errors, empty bodies and 429s
// surface as-is since the order may already exist.
func (c *Client) callWrite(ctx context.Context, op string, fn func() error) error {
	return c.run(ctx, op, func(err error) bool {
		return errors.Is(err, errSessionExpired)
	}, fn)
}

func (c *Client) run(ctx context.Context, op string, retryable func(error) bool, fn func() error) error {
	for attempt := 1; ; attempt++ {
		if err := c.session.EnsureValid(ctx); err != nil {
			return fmt.Errorf("steam: %s: %w", op, err)
		}

		err := fn()
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return fmt.Errorf("steam: %s: %w", op, err)
		}
		if attempt >= c.cfg.LoginAttempts {
			return fmt.Errorf("steam: %s: giving up after %d attempts: %w", op, attempt, err)
		}

		c.logger.WarnContext(ctx, "steam: retrying call",
			slog.String("op", op),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
		if errors.Is(err, domain.ErrVenueTransient) {
			c.session.Invalidate()
		}
		if err := sleepCtx(ctx, c.cfg.LoginBackoff); err != nil {
			return fmt.Errorf("steam: %s: %w", op, err)
		}
	}
}

// request describes one HTTP exchange with the community site.
type request struct {
	class   endpointClass
	method  string
	path    string
	query   url.Values
	form    url.Values
	referer string
}

// do throttles, sends and classifies a request. It returns the raw body on
// 2xx.
func (c *Client) do(ctx context.Context, r request) ([]byte, error) {
	if err := c.limiters[r.class].Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}
	if c.shared != nil && c.shared.Limiter != nil {
		if err := c.shared.Limiter.Wait(ctx, "steam:"+string(r.class), c.shared.Limit, c.shared.Window); err != nil {
			return nil, fmt.Errorf("shared rate limiter: %w", err)
		}
	}

	u := *c.base
	u.Path = strings.TrimRight(c.base.Path, "/") + r.path
	if r.query != nil {
		u.RawQuery = r.query.Encode()
	}

	var body io.Reader
	if r.form != nil {
		r.form.Set("sessionid", c.session.ID())
		body = strings.NewReader(r.form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, r.method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if r.form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
	}
	if r.referer != "" {
		req.Header.Set("Referer", r.referer)
	}

	resp, err := c.session.HTTP().Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%s %s: %w: %v", r.method, r.path, domain.ErrVenueTransient, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%s %s: read body: %w: %v", r.method, r.path, domain.ErrVenueTransient, err)
	}
	if err := classifyStatus(resp.StatusCode); err != nil {
		return nil, fmt.Errorf("%s %s: status %d: %w", r.method, r.path, resp.StatusCode, err)
	}
	return raw, nil
}

// classifyStatus maps HTTP status codes onto the venue error kinds.
func classifyStatus(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return errSessionExpired
	case code == http.StatusTooManyRequests:
		return domain.ErrRateLimited
	case code >= 400 && code < 500:
		return domain.ErrVenueRejected
	default:
		return domain.ErrVenueTransient
	}
}

func (c *Client) listingReferer(pair domain.VenuePair, name string) string {
	u := *c.base
	u.Path = strings.TrimRight(c.base.Path, "/") + "/market/listings/" + pair.AppID + "/" + name
	return u.String()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
