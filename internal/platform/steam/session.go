package steam

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/smtbot/internal/crypto"
	"github.com/alanyoungcy/smtbot/internal/domain"
)

// Session is the authenticated cookie session with the community site. It
// is owned by one Client, logs in lazily and re-logs in on demand.
type Session struct {
	cfg    Config
	base   *url.URL
	http   *http.Client
	logger *slog.Logger
	now    func() time.Time

	mu         sync.Mutex
	sessionID  string
	steamID    string
	loggedInAt time.Time
}

func newSession(cfg Config, base *url.URL, logger *slog.Logger) (*Session, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("steam: cookie jar: %w", err)
	}
	return &Session{
		cfg:     cfg,
		base:    base,
		http:    &http.Client{Timeout: cfg.HTTPTimeout, Jar: jar},
		logger:  logger,
		now:     time.Now,
		steamID: cfg.Credentials.SteamID,
	}, nil
}

// HTTP returns the cookie-carrying client.
func (s *Session) HTTP() *http.Client {
	return s.http
}

// ID returns the sessionid value the community site expects echoed in forms.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// SteamID returns the account id, known from config or learned at login.
func (s *Session) SteamID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.steamID
}

// Valid reports whether the session can be used without logging in.
func (s *Session) Valid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.validLocked()
}

func (s *Session) validLocked() bool {
	return !s.loggedInAt.IsZero() && s.now().Sub(s.loggedInAt) < s.cfg.SessionTTL
}

// Invalidate forces the next EnsureValid to log in again.
func (s *Session) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loggedInAt = time.Time{}
}

// EnsureValid logs in unless the session is already valid. Concurrent
// callers wait for a single login. Failed logins are retried up to
// LoginAttempts with a fixed backoff; rejected credentials are not retried.
func (s *Session) EnsureValid(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.validLocked() {
		return nil
	}

	var err error
	for attempt := 1; attempt <= s.cfg.LoginAttempts; attempt++ {
		if err = s.login(ctx); err == nil {
			s.loggedInAt = s.now()
			s.logger.InfoContext(ctx, "steam: session established",
				slog.String("user", s.cfg.Credentials.Username),
				slog.Int("attempt", attempt),
			)
			return nil
		}
		if errors.Is(err, domain.ErrVenueRejected) || ctx.Err() != nil {
			break
		}
		s.logger.WarnContext(ctx, "steam: login failed",
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
		if attempt < s.cfg.LoginAttempts {
			if serr := sleepCtx(ctx, s.cfg.LoginBackoff); serr != nil {
				return fmt.Errorf("login: %w", serr)
			}
		}
	}
	return fmt.Errorf("login: %w", err)
}

type rsaKeyResponse struct {
	Success   bool   `json:"success"`
	Modulus   string `json:"publickey_mod"`
	Exponent  string `json:"publickey_exp"`
	Timestamp string `json:"timestamp"`
}

type loginResponse struct {
	Success           bool   `json:"success"`
	LoginComplete     bool   `json:"login_complete"`
	RequiresTwoFactor bool   `json:"requires_twofactor"`
	Message           string `json:"message"`
	Transfer          struct {
		SteamID string `json:"steamid"`
	} `json:"transfer_parameters"`
}

// login runs the RSA key + dologin exchange. Caller holds s.mu.
func (s *Session) login(ctx context.Context) error {
	creds := s.cfg.Credentials
	if !creds.Complete() {
		return fmt.Errorf("%w: credentials incomplete", domain.ErrVenueRejected)
	}

	var key rsaKeyResponse
	if err := s.postForm(ctx, "/login/getrsakey/", url.Values{"username": {creds.Username}}, &key); err != nil {
		return fmt.Errorf("get rsa key: %w", err)
	}
	if !key.Success {
		return fmt.Errorf("%w: rsa key request refused", domain.ErrVenueTransient)
	}

	encrypted, err := encryptPassword(creds.Password, key.Modulus, key.Exponent)
	if err != nil {
		return err
	}

	code, err := crypto.GuardCode(creds.SharedSecret, s.now())
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrVenueRejected, err)
	}

	form := url.Values{
		"username":       {creds.Username},
		"password":       {encrypted},
		"twofactorcode":  {code},
		"rsatimestamp":   {key.Timestamp},
		"remember_login": {"true"},
		"captchagid":     {"-1"},
		"donotcache":     {fmt.Sprint(s.now().UnixMilli())},
	}
	var res loginResponse
	if err := s.postForm(ctx, "/login/dologin/", form, &res); err != nil {
		return fmt.Errorf("dologin: %w", err)
	}
	switch {
	case res.Success && res.LoginComplete:
	case res.RequiresTwoFactor:
		// Code was rejected, most likely a clock edge. Worth another try.
		return fmt.Errorf("%w: guard code not accepted", domain.ErrVenueTransient)
	default:
		return fmt.Errorf("%w: login refused: %s", domain.ErrVenueRejected, res.Message)
	}

	if res.Transfer.SteamID != "" {
		s.steamID = res.Transfer.SteamID
	}
	s.sessionID = newSessionID()
	s.http.Jar.SetCookies(s.base, []*http.Cookie{{Name: "sessionid", Value: s.sessionID, Path: "/"}})
	return nil
}

func (s *Session) postForm(ctx context.Context, path string, form url.Values, out any) error {
	u := *s.base
	u.Path = strings.TrimRight(s.base.Path, "/") + path

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
	req.Header.Set("Accept", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrVenueTransient, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", domain.ErrVenueTransient, err)
	}
	if err := classifyStatus(resp.StatusCode); err != nil {
		return fmt.Errorf("status %d: %w", resp.StatusCode, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", domain.ErrVenueTransient, path, err)
	}
	return nil
}

// encryptPassword applies the site's RSA PKCS#1 v1.5 password wrapping.
func encryptPassword(password, modHex, expHex string) (string, error) {
	mod, ok := new(big.Int).SetString(modHex, 16)
	if !ok {
		return "", fmt.Errorf("%w: bad rsa modulus", domain.ErrVenueTransient)
	}
	exp, ok := new(big.Int).SetString(expHex, 16)
	if !ok || !exp.IsInt64() {
		return "", fmt.Errorf("%w: bad rsa exponent", domain.ErrVenueTransient)
	}
	pub := &rsa.PublicKey{N: mod, E: int(exp.Int64())}
	out, err := rsa.EncryptPKCS1v15(rand.Reader, pub, []byte(password))
	if err != nil {
		return "", fmt.Errorf("encrypt password: %w", err)
	}
	return base64.StdEncoding.EncodeToString(out), nil
}

func newSessionID() string {
	b := make([]byte, 12)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
