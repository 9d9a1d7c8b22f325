package auth

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret-key-for-jwt-validation-0123456789"

// fakeDirectory is an in-memory UserDirectory that counts lookups
type fakeDirectory struct {
	users map[string]*Identity
	err   error
	delay time.Duration
	calls atomic.Int32
}

func newFakeDirectory(ids ...string) *fakeDirectory {
	d := &fakeDirectory{users: map[string]*Identity{}}
	for _, id := range ids {
		d.users[id] = &Identity{UserID: id, DisplayName: "User " + id}
	}
	return d
}

func (d *fakeDirectory) FindUserByID(ctx context.Context, userID string) (*Identity, error) {
	d.calls.Add(1)
	if d.delay > 0 {
		select {
		case <-time.After(d.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if d.err != nil {
		return nil, d.err
	}
	u, ok := d.users[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	copied := *u
	return &copied, nil
}

// createTestToken signs MapClaims with secret; a zero expiresIn omits exp
func createTestToken(claims jwt.MapClaims, secret string) string {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, _ := token.SignedString([]byte(secret))
	return s
}

func userToken(userID string, expiresIn time.Duration, secret string) string {
	return createTestToken(jwt.MapClaims{
		"userId": userID,
		"iat":    time.Now().Unix(),
		"exp":    time.Now().Add(expiresIn).Unix(),
	}, secret)
}
