package util

import (
	"errors"
	"strings"

	"github.com/real-rm/livechat/internal/constants"
)

var (
	// ErrMissingAuthHeader is returned when the Authorization header is missing
	ErrMissingAuthHeader = errors.New("missing Authorization header")
	// ErrInvalidAuthHeader is returned when the Authorization header format is invalid
	ErrInvalidAuthHeader = errors.New("invalid Authorization header format")
)

// ExtractBearerToken extracts the JWT token from an Authorization header.
// It expects the format "Bearer <token>" and returns the token part.
//
// Example:
//
//	token, err := util.ExtractBearerToken(r.Header.Get("Authorization"))
//	if err != nil {
//	    return err
//	}
func ExtractBearerToken(authHeader string) (string, error) {
	if authHeader == "" {
		return "", ErrMissingAuthHeader
	}

	if len(authHeader) <= constants.BearerPrefixLength || authHeader[:constants.BearerPrefixLength] != constants.BearerPrefix {
		return "", ErrInvalidAuthHeader
	}

	token := authHeader[constants.BearerPrefixLength:]
	if token == "" {
		return "", ErrInvalidAuthHeader
	}

	return token, nil
}

// ContainsWeakPattern reports whether s contains one of the well-known
// placeholder secrets, and which one. Comparison is case-insensitive.
func ContainsWeakPattern(s string) (bool, string) {
	lower := strings.ToLower(s)
	for _, pattern := range constants.WeakSecrets {
		if strings.Contains(lower, pattern) {
			return true, pattern
		}
	}
	return false, ""
}
