// Package session is the client side of the auth API: the persisted session
// state, the HTTP client and the controller driving the session lifecycle.
package session

import "github.com/medimantra/telehealth/internal/domain"

// State is the lifecycle stage of a session.
type State int

const (
	Anonymous State = iota
	Authenticating
	Authenticated
	Refreshing
)

func (s State) String() string {
	switch s {
	case Anonymous:
		return "anonymous"
	case Authenticating:
		return "authenticating"
	case Authenticated:
		return "authenticated"
	case Refreshing:
		return "refreshing"
	}
	return "unknown"
}

// Keys under which the session survives restarts.
const (
	KeyAccessToken  = "accessToken"
	KeyRefreshToken = "refreshToken"
	KeyUserID       = "userId"
	KeyDoctorID     = "doctorId"
)

// persistedKeys lists every key the controller writes.
var persistedKeys = []string{KeyAccessToken, KeyRefreshToken, KeyUserID, KeyDoctorID}

// Tokens is the client's copy of the current token pair.
type Tokens struct {
	AccessToken  string
	RefreshToken string
}

// Session is a point-in-time snapshot of the controller's state.
type Session struct {
	Identity *domain.Identity
	Tokens   *Tokens
	Loading  bool
	State    State
}

// IsAuthenticated reports whether the session holds a signed-in identity.
func (s Session) IsAuthenticated() bool {
	return s.Identity != nil && s.Tokens != nil && s.Tokens.AccessToken != ""
}

// IsDoctor reports whether the signed-in identity is a doctor.
func (s Session) IsDoctor() bool {
	return s.IsAuthenticated() && s.Identity.IsDoctor()
}
