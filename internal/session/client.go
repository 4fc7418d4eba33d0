package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/medimantra/telehealth/internal/domain"
	apperrors "github.com/medimantra/telehealth/pkg/errors"
	"github.com/medimantra/telehealth/pkg/httpclient"
)

const apiName = "auth-api"

// RequestDecorator adjusts an outgoing request, typically to attach a bearer token.
type RequestDecorator func(req *http.Request)

// ClientConfig configures the API client.
type ClientConfig struct {
	Timeout        time.Duration
	CircuitBreaker httpclient.CircuitBreakerConfig
}

// DefaultClientConfig returns a 15s timeout and the default breaker.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:        15 * time.Second,
		CircuitBreaker: httpclient.DefaultCircuitBreakerConfig(apiName),
	}
}

// Client calls the auth API. Auth calls are never retried: a replayed
// login or refresh could consume a rotated token twice.
type Client struct {
	doer     httpclient.Doer
	baseURL  string
	decorate RequestDecorator
}

// NewClient creates a client for the API rooted at baseURL (".../api").
func NewClient(baseURL string, cfg ClientConfig, logger *slog.Logger) *Client {
	httpCfg := httpclient.DefaultConfig()
	httpCfg.Timeout = cfg.Timeout
	httpCfg.MaxRetries = 0
	if cfg.CircuitBreaker.Name == "" {
		cfg.CircuitBreaker = httpclient.DefaultCircuitBreakerConfig(apiName)
	}
	doer := httpclient.NewCircuitBreakerClient(httpclient.New(httpCfg), cfg.CircuitBreaker, logger)
	return NewClientWithDoer(baseURL, doer)
}

// NewClientWithDoer creates a client sending requests through doer.
func NewClientWithDoer(baseURL string, doer httpclient.Doer) *Client {
	return &Client{doer: doer, baseURL: strings.TrimRight(baseURL, "/")}
}

// WithDecorator returns a copy of c that passes every request through d.
func (c *Client) WithDecorator(d RequestDecorator) *Client {
	cp := *c
	cp.decorate = d
	return &cp
}

// --- Wire types ---

// Credentials is the body of both login endpoints.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Registration is the body of patient registration.
type Registration struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Phone     string `json:"phone,omitempty"`
}

// DoctorRegistration is the body of doctor registration.
type DoctorRegistration struct {
	Registration
	Specialties     []string                  `json:"specialties"`
	LicenseNumber   string                    `json:"licenseNumber"`
	ExperienceYears int                       `json:"experienceYears"`
	ConsultationFee int64                     `json:"consultationFee"`
	Bio             string                    `json:"bio,omitempty"`
	Availability    []domain.AvailabilitySlot `json:"availability,omitempty"`
}

// DoctorProfileUpdate is the body of the complete-profile call.
type DoctorProfileUpdate struct {
	Specialties           []string                  `json:"specialties"`
	LicenseNumber         string                    `json:"licenseNumber"`
	ExperienceYears       int                       `json:"experienceYears"`
	ConsultationFee       int64                     `json:"consultationFee"`
	Bio                   string                    `json:"bio,omitempty"`
	Availability          []domain.AvailabilitySlot `json:"availability,omitempty"`
	VerificationDocuments []string                  `json:"verificationDocuments,omitempty"`
}

// AuthPayload is the body returned by register, login and refresh.
type AuthPayload struct {
	Success       bool                  `json:"success"`
	Message       string                `json:"message"`
	Token         string                `json:"token"`
	AccessToken   string                `json:"accessToken"`
	RefreshToken  string                `json:"refreshToken"`
	User          *domain.Identity      `json:"user"`
	DoctorProfile *domain.DoctorProfile `json:"doctorProfile"`
	UserID        string                `json:"userId"`
}

// accessToken prefers accessToken and falls back to token.
func (p *AuthPayload) accessToken() string {
	if p.AccessToken != "" {
		return p.AccessToken
	}
	return p.Token
}

type currentUserPayload struct {
	Success bool             `json:"success"`
	User    *domain.Identity `json:"user"`
	Data    *domain.Identity `json:"data"`
}

type dataPayload[T any] struct {
	Success bool `json:"success"`
	Data    T    `json:"data"`
}

// --- Calls ---

func (c *Client) Register(ctx context.Context, reg Registration) (*AuthPayload, error) {
	var out AuthPayload
	return &out, c.Call(ctx, http.MethodPost, "/auth/register", reg, &out)
}

func (c *Client) RegisterDoctor(ctx context.Context, reg DoctorRegistration) (*AuthPayload, error) {
	var out AuthPayload
	return &out, c.Call(ctx, http.MethodPost, "/auth/doctor/register", reg, &out)
}

func (c *Client) Login(ctx context.Context, creds Credentials) (*AuthPayload, error) {
	var out AuthPayload
	return &out, c.Call(ctx, http.MethodPost, "/auth/login", creds, &out)
}

func (c *Client) LoginDoctor(ctx context.Context, creds Credentials) (*AuthPayload, error) {
	var out AuthPayload
	return &out, c.Call(ctx, http.MethodPost, "/auth/doctor/login", creds, &out)
}

// Refresh exchanges a refresh token. The response carries the identity.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*AuthPayload, error) {
	var out AuthPayload
	body := map[string]string{"refreshToken": refreshToken}
	return &out, c.Call(ctx, http.MethodPost, "/auth/refresh-token", body, &out)
}

// CurrentUser returns the identity behind the attached bearer token.
func (c *Client) CurrentUser(ctx context.Context) (*domain.Identity, error) {
	var out currentUserPayload
	if err := c.Call(ctx, http.MethodGet, "/auth/current-user", nil, &out); err != nil {
		return nil, err
	}
	if out.User != nil {
		return out.User, nil
	}
	if out.Data != nil {
		return out.Data, nil
	}
	return nil, apperrors.Transport(fmt.Errorf("current-user response without identity"))
}

// Logout notifies the server. refreshToken may be empty.
func (c *Client) Logout(ctx context.Context, refreshToken string) error {
	var body any
	if refreshToken != "" {
		body = map[string]string{"refreshToken": refreshToken}
	}
	return c.Call(ctx, http.MethodPost, "/auth/logout", body, nil)
}

// Call sends one request to path below the base URL. A non-nil body is
// JSON-encoded unless it is already an io.Reader. Non-2xx answers come back
// as *apperrors.AppError carrying the server's code and message.
func (c *Client) Call(ctx context.Context, method, path string, body, out any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if c.decorate != nil {
		c.decorate(req)
	}

	resp, err := c.doer.Do(ctx, req)
	if err != nil {
		return err
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return httpclient.ParseResponseError(resp, apiName)
	}
	defer func() { _ = resp.Body.Close() }()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.Transport(fmt.Errorf("decode %s %s response: %w", method, path, err))
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case io.Reader:
		reader = b
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("encode %s %s request: %w", method, path, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create %s %s request: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}
