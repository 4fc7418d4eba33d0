package auth

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

// Kind classifies why a token was rejected.
type Kind int

const (
	KindUnknown Kind = iota
	KindExpired
	KindMalformed
	KindRevoked
)

func (k Kind) String() string {
	switch k {
	case KindExpired:
		return "expired"
	case KindMalformed:
		return "malformed"
	case KindRevoked:
		return "revoked"
	default:
		return "unknown"
	}
}

// TokenError is returned by every verification failure.
type TokenError struct {
	Kind Kind
	Err  error
}

func (e *TokenError) Error() string {
	if e.Err == nil {
		return "token " + e.Kind.String()
	}
	return "token " + e.Kind.String() + ": " + e.Err.Error()
}

func (e *TokenError) Unwrap() error { return e.Err }

// KindOf returns the Kind of a *TokenError in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var te *TokenError
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindUnknown
}

// classify maps jwt parse errors onto kinds. Signature checks run before
// claim validation, so a foreign token is malformed even when also expired.
func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return &TokenError{Kind: KindExpired, Err: err}
	case errors.Is(err, jwt.ErrTokenMalformed),
		errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable),
		errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return &TokenError{Kind: KindMalformed, Err: err}
	default:
		return &TokenError{Kind: KindUnknown, Err: err}
	}
}
