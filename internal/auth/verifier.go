// Package auth authenticates incoming connections and API requests.
//
// A credential is pulled from the handshake by an Extractor, verified and
// resolved to an Identity by a Verifier, and the two are run together, once
// per connection, by an Authenticator.
package auth

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNoCredential is returned when no source carries a credential
	ErrNoCredential = errors.New("no credential")
	// ErrUnknownUser is returned when a valid credential names a user that no longer exists
	ErrUnknownUser = errors.New("unknown user")
	// ErrLookupFailed is returned when the user directory could not be queried
	ErrLookupFailed = errors.New("user lookup failed")
	// ErrUserNotFound is returned by a UserDirectory when no user has the ID
	ErrUserNotFound = errors.New("user not found")
)

// Identity is the principal behind a connection or request
type Identity struct {
	UserID      string `json:"_id"`
	DisplayName string `json:"fullName"`
	ProfileRef  string `json:"profilePic,omitempty"`
}

// UserDirectory looks users up by ID. Implementations must never return the
// stored password, and must return ErrUserNotFound when no user matches.
type UserDirectory interface {
	FindUserByID(ctx context.Context, userID string) (*Identity, error)
}

// Verifier checks a credential and resolves it to an Identity
type Verifier struct {
	validator *JWTValidator
	directory UserDirectory
}

// NewVerifier creates a verifier over a validator and a user directory
func NewVerifier(validator *JWTValidator, directory UserDirectory) *Verifier {
	return &Verifier{validator: validator, directory: directory}
}

// Verify validates the credential and looks its user up exactly once.
// A missing user is a permanent refusal, so the lookup is never retried.
func (v *Verifier) Verify(ctx context.Context, credential string) (*Identity, error) {
	claims, err := v.validator.ValidateToken(credential)
	if err != nil {
		return nil, err
	}

	identity, err := v.directory.FindUserByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownUser, claims.UserID)
		}
		return nil, fmt.Errorf("%w: %w", ErrLookupFailed, err)
	}
	// No else needed: early return pattern (guard clause)
	if identity == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownUser, claims.UserID)
	}

	if identity.UserID == "" {
		identity.UserID = claims.UserID
	}
	return identity, nil
}
