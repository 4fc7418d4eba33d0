package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/medimantra/telehealth/internal/domain"
)

// Purpose markers carried in the "typ" claim so a refresh token can never
// stand in for an access token and vice versa.
const (
	typeAccess  = "access"
	typeRefresh = "refresh"
)

type accessClaims struct {
	UserID string      `json:"uid"`
	Email  string      `json:"email"`
	Role   domain.Role `json:"role"`
	Type   string      `json:"typ"`
	jwt.RegisteredClaims
}

type refreshClaims struct {
	UserID string `json:"uid"`
	Type   string `json:"typ"`
	jwt.RegisteredClaims
}

// Principal is the identity resolved from a valid access token.
type Principal struct {
	UserID    string
	Email     string
	Role      domain.Role
	TokenID   string
	ExpiresAt time.Time
}

// RefreshPrincipal is the identity resolved from a valid refresh token.
type RefreshPrincipal struct {
	UserID    string
	TokenID   string
	ExpiresAt time.Time
}

// Issuer signs and verifies HS256 token pairs. It holds no mutable state
// after construction and is safe for concurrent use.
type Issuer struct {
	secret     []byte
	name       string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// Option configures an Issuer.
type Option func(*Issuer)

// WithClock replaces time.Now for both signing and validation.
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) { i.now = now }
}

// WithIssuerName sets the "iss" claim written and required.
func WithIssuerName(name string) Option {
	return func(i *Issuer) { i.name = name }
}

// NewIssuer creates an issuer signing with secret.
func NewIssuer(secret string, accessTTL, refreshTTL time.Duration, opts ...Option) *Issuer {
	i := &Issuer{
		secret:     []byte(secret),
		name:       "medimantra-auth",
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// AccessTTL returns the lifetime of issued access tokens.
func (i *Issuer) AccessTTL() time.Duration { return i.accessTTL }

// Issue creates a fresh access and refresh token for identity.
func (i *Issuer) Issue(identity *domain.Identity) (*domain.TokenPair, error) {
	if identity == nil || identity.ID == "" {
		return nil, errors.New("issue tokens: identity without id")
	}
	if !identity.Role.Valid() {
		return nil, fmt.Errorf("issue tokens: %w", domain.ErrUnknownRole)
	}

	now := i.now().UTC().Truncate(time.Second)
	accessExp := now.Add(i.accessTTL)
	refreshExp := now.Add(i.refreshTTL)

	access, err := i.sign(&accessClaims{
		UserID:           identity.ID,
		Email:            identity.Email,
		Role:             identity.Role,
		Type:             typeAccess,
		RegisteredClaims: i.registered(identity.ID, now, accessExp),
	})
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	refresh, err := i.sign(&refreshClaims{
		UserID:           identity.ID,
		Type:             typeRefresh,
		RegisteredClaims: i.registered(identity.ID, now, refreshExp),
	})
	if err != nil {
		return nil, fmt.Errorf("sign refresh token: %w", err)
	}

	return &domain.TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// Verify validates an access token.
func (i *Issuer) Verify(token string) (*Principal, error) {
	var claims accessClaims
	if err := i.parse(token, &claims); err != nil {
		return nil, err
	}
	if claims.Type != typeAccess {
		return nil, &TokenError{Kind: KindMalformed, Err: fmt.Errorf("token purpose %q is not %q", claims.Type, typeAccess)}
	}
	if claims.UserID == "" || !claims.Role.Valid() {
		return nil, &TokenError{Kind: KindMalformed, Err: errors.New("access token without identity or role")}
	}

	return &Principal{
		UserID:    claims.UserID,
		Email:     claims.Email,
		Role:      claims.Role,
		TokenID:   claims.ID,
		ExpiresAt: claims.ExpiresAt.Time.UTC(),
	}, nil
}

// VerifyRefresh validates a refresh token. It does not consult revocation
// records; the caller does that against the store.
func (i *Issuer) VerifyRefresh(token string) (*RefreshPrincipal, error) {
	var claims refreshClaims
	if err := i.parse(token, &claims); err != nil {
		return nil, err
	}
	if claims.Type != typeRefresh {
		return nil, &TokenError{Kind: KindMalformed, Err: fmt.Errorf("token purpose %q is not %q", claims.Type, typeRefresh)}
	}
	if claims.UserID == "" {
		return nil, &TokenError{Kind: KindMalformed, Err: errors.New("refresh token without identity")}
	}

	return &RefreshPrincipal{
		UserID:    claims.UserID,
		TokenID:   claims.ID,
		ExpiresAt: claims.ExpiresAt.Time.UTC(),
	}, nil
}

func (i *Issuer) registered(subject string, now, exp time.Time) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   subject,
		Issuer:    i.name,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
}

func (i *Issuer) sign(claims jwt.Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
}

func (i *Issuer) parse(token string, claims jwt.Claims) error {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
		jwt.WithIssuer(i.name),
		jwt.WithExpirationRequired(),
	)
	_, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return i.secret, nil
	})
	if err != nil {
		return classify(err)
	}
	return nil
}
