package domain

import (
	"errors"
	"fmt"
)

// Role is the single, closed role of an identity.
type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
	RoleAdmin   Role = "admin"
)

// ErrUnknownRole is returned for any value outside the three roles.
var ErrUnknownRole = errors.New("unknown role")

// Roles lists every valid role.
func Roles() []Role {
	return []Role{RolePatient, RoleDoctor, RoleAdmin}
}

// ParseRole converts s into a Role.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, s)
	}
	return r, nil
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RolePatient, RoleDoctor, RoleAdmin:
		return true
	}
	return false
}

func (r Role) String() string { return string(r) }

// MarshalText refuses to encode an invalid role.
func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRole, string(r))
	}
	return []byte(r), nil
}

// UnmarshalText refuses to decode an invalid role.
func (r *Role) UnmarshalText(b []byte) error {
	parsed, err := ParseRole(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// MatchRole calls the arm for r. Every caller must supply all three arms,
// so adding a role breaks every call site at compile time.
func MatchRole[T any](r Role, patient, doctor, admin func() T) (T, error) {
	switch r {
	case RolePatient:
		return patient(), nil
	case RoleDoctor:
		return doctor(), nil
	case RoleAdmin:
		return admin(), nil
	}
	var zero T
	return zero, fmt.Errorf("%w: %q", ErrUnknownRole, string(r))
}
