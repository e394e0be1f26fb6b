// Package auth exchanges hub credentials for a bearer token and caches it
// until shortly before it expires.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Aaron-Gardien/homebridge-rti-proxy/errors"
	"github.com/Aaron-Gardien/homebridge-rti-proxy/metric"
)

// LoginPath is the hub's credential exchange endpoint.
const LoginPath = "/api/auth/login"

// DefaultRefreshMargin is how long before expiry a cached token stops being reused.
const DefaultRefreshMargin = 60 * time.Second

const maxResponseBytes = 1 << 20

// Credentials identify the proxy to the hub.
type Credentials struct {
	Host     string
	Port     int
	Username string
	Password string
	OTP      string
}

// Token is a bearer token with its absolute expiry.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// UsableAt reports whether t may still be used at now, keeping margin in reserve.
func (t Token) UsableAt(now time.Time, margin time.Duration) bool {
	return t.Value != "" && now.Before(t.ExpiresAt.Add(-margin))
}

// Mask shortens a token for logging.
func Mask(token string) string {
	if len(token) <= 8 {
		return "***"
	}
	return token[:8] + "..."
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	OTP      string `json:"otp"`
}

type loginResponse struct {
	AccessToken *string  `json:"access_token"`
	TokenType   string   `json:"token_type"`
	ExpiresIn   *float64 `json:"expires_in"`
}

// Option configures an Authenticator.
type Option func(*Authenticator) error

// WithHTTPClient replaces the HTTP client used for the login request.
func WithHTTPClient(client *http.Client) Option {
	return func(a *Authenticator) error {
		if client == nil {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "Authenticator", "WithHTTPClient", "nil http client")
		}
		a.client = client
		return nil
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(a *Authenticator) error {
		a.now = now
		return nil
	}
}

// WithRefreshMargin sets how early a token is considered expired.
func WithRefreshMargin(d time.Duration) Option {
	return func(a *Authenticator) error {
		if d < 0 {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "Authenticator", "WithRefreshMargin", "negative margin")
		}
		a.margin = d
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Authenticator) error {
		if logger != nil {
			a.logger = logger
		}
		return nil
	}
}

// WithMetrics registers login counters with registry.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(a *Authenticator) error {
		if registry == nil {
			return nil
		}
		logins := prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "auth",
			Name:      "logins_total",
			Help:      "Credential exchanges with the hub, by result",
		}, []string{"result"})
		if err := registry.RegisterCounterVec("authenticator", "logins_total", logins); err != nil {
			return err
		}
		a.logins = logins
		return nil
	}
}

// Authenticator acquires hub tokens. It never refreshes in the background;
// Acquire logs in only when the cached token is missing or about to expire.
type Authenticator struct {
	creds  Credentials
	client *http.Client
	margin time.Duration
	now    func() time.Time
	logger *slog.Logger
	logins *prometheus.CounterVec

	mu    sync.Mutex
	token Token
}

// New creates an Authenticator for creds.
func New(creds Credentials, opts ...Option) (*Authenticator, error) {
	if creds.Host == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Authenticator", "New", "hub host required")
	}

	a := &Authenticator{
		creds:  creds,
		client: &http.Client{Timeout: 10 * time.Second},
		margin: DefaultRefreshMargin,
		now:    time.Now,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		if err := opt(a); err != nil {
			return nil, err
		}
	}
	a.logger = a.logger.With("component", "authenticator")

	return a, nil
}

// LoginURL returns the hub's login endpoint.
func (a *Authenticator) LoginURL() string {
	return "http://" + net.JoinHostPort(a.creds.Host, strconv.Itoa(a.creds.Port)) + LoginPath
}

// Acquire returns a usable token, logging in if the cached one is absent or
// within the refresh margin of its expiry. Failures wrap errors.ErrAuth.
func (a *Authenticator) Acquire(ctx context.Context) (Token, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.token.UsableAt(a.now(), a.margin) {
		return a.token, nil
	}

	token, err := a.login(ctx)
	if err != nil {
		a.record("failure")
		return Token{}, err
	}

	a.token = token
	a.record("success")
	a.logger.Info("Obtained hub token",
		"token", Mask(token.Value),
		"expires_at", token.ExpiresAt.Format(time.RFC3339))

	return token, nil
}

// BearerToken satisfies the link's token source.
func (a *Authenticator) BearerToken(ctx context.Context) (string, error) {
	token, err := a.Acquire(ctx)
	if err != nil {
		return "", err
	}
	return token.Value, nil
}

// Invalidate drops the cached token so the next Acquire logs in again.
func (a *Authenticator) Invalidate() {
	a.mu.Lock()
	a.token = Token{}
	a.mu.Unlock()
}

func (a *Authenticator) login(ctx context.Context) (Token, error) {
	body, err := json.Marshal(loginRequest{
		Username: a.creds.Username,
		Password: a.creds.Password,
		OTP:      a.creds.OTP,
	})
	if err != nil {
		return Token{}, authError("encode credentials", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.LoginURL(), bytes.NewReader(body))
	if err != nil {
		return Token{}, authError("build login request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "*/*")

	issuedAt := a.now()
	resp, err := a.client.Do(req)
	if err != nil {
		return Token{}, authError("login request", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Token{}, authError("read login response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Token{}, authError("login request", fmt.Errorf("hub returned status %d", resp.StatusCode))
	}

	var parsed loginResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return Token{}, authError("decode login response", err)
	}
	if parsed.AccessToken == nil || *parsed.AccessToken == "" {
		return Token{}, authError("decode login response", fmt.Errorf("access_token missing"))
	}
	if parsed.ExpiresIn == nil || *parsed.ExpiresIn <= 0 {
		return Token{}, authError("decode login response", fmt.Errorf("expires_in missing or not positive"))
	}

	return Token{
		Value:     *parsed.AccessToken,
		ExpiresAt: issuedAt.Add(time.Duration(*parsed.ExpiresIn * float64(time.Second))),
	}, nil
}

func (a *Authenticator) record(result string) {
	if a.logins != nil {
		a.logins.WithLabelValues(result).Inc()
	}
}

func authError(action string, cause error) error {
	return errors.WrapTransient(fmt.Errorf("%w: %v", errors.ErrAuth, cause), "Authenticator", "Acquire", action)
}
