package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidCredential is returned when the token is malformed, badly signed, or incomplete
	ErrInvalidCredential = errors.New("invalid credential")
	// ErrExpired is returned when the token is past its expiry
	ErrExpired = errors.New("credential has expired")
	// ErrInvalidSignature is returned when the token signature does not verify
	ErrInvalidSignature = fmt.Errorf("%w: signature does not verify", ErrInvalidCredential)
	// ErrMissingClaims is returned when the userId or exp claim is absent
	ErrMissingClaims = fmt.Errorf("%w: missing required claims", ErrInvalidCredential)
)

// UserIDClaim is the claim carrying the user identifier
const UserIDClaim = "userId"

// Claims represents the JWT claims carried by a credential
type Claims struct {
	UserID string `json:"userId"`
	jwt.RegisteredClaims
}

// JWTValidator verifies HMAC-signed credentials with a shared secret
type JWTValidator struct {
	secret []byte
	parser *jwt.Parser
}

// NewJWTValidator creates a new JWT validator with the given secret
func NewJWTValidator(secret string) *JWTValidator {
	return &JWTValidator{
		secret: []byte(secret),
		parser: jwt.NewParser(jwt.WithExpirationRequired()),
	}
}

// ValidateToken validates a JWT token and extracts the claims.
// It verifies the signature, that exp is present and not past, and that
// userId is present.
func (v *JWTValidator) ValidateToken(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, fmt.Errorf("%w: empty token", ErrInvalidCredential)
	}

	claims := &Claims{}
	token, err := v.parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		// No else needed: early return pattern (guard clause)
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("%w: unexpected signing method: %v", ErrInvalidSignature, token.Header["alg"])
		}
		return v.secret, nil
	})

	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
			return nil, fmt.Errorf("%w: %v", ErrMissingClaims, err)
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, fmt.Errorf("%w: %v", ErrExpired, err)
		case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, ErrInvalidSignature):
			return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		default:
			return nil, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
		}
	}

	// No else needed: early return pattern (guard clause)
	if !token.Valid {
		return nil, fmt.Errorf("%w: token is not valid", ErrInvalidCredential)
	}

	// No else needed: early return pattern (guard clause)
	if claims.UserID == "" {
		return nil, fmt.Errorf("%w: %s claim missing or empty", ErrMissingClaims, UserIDClaim)
	}

	return claims, nil
}

// SignToken issues an HS256 credential for userID expiring after ttl.
// Production credentials come from the login flow; this shares its claim layout.
func (v *JWTValidator) SignToken(userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
