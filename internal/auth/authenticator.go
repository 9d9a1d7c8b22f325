package auth

import (
	"context"
	"errors"
	"time"

	"github.com/real-rm/livechat/internal/constants"
	"github.com/real-rm/livechat/internal/metrics"
	"go.uber.org/zap"
)

// Authenticator is the admission gate run once per incoming connection,
// before any other component sees it.
type Authenticator struct {
	extractor *Extractor
	verifier  *Verifier
	timeout   time.Duration
	logger    *zap.SugaredLogger
}

// NewAuthenticator creates an authenticator. A non-positive timeout uses
// constants.DefaultAuthTimeout.
func NewAuthenticator(extractor *Extractor, verifier *Verifier, timeout time.Duration, logger *zap.SugaredLogger) *Authenticator {
	if timeout <= 0 {
		timeout = constants.DefaultAuthTimeout
	}
	return &Authenticator{
		extractor: extractor,
		verifier:  verifier,
		timeout:   timeout,
		logger:    logger.Named("auth"),
	}
}

// Authenticate extracts and verifies the handshake's credential.
// It returns ErrNoCredential when no credential is present; verifier errors
// are returned unchanged. Verification is bounded by the authenticator's timeout
// and abandoned when ctx is cancelled.
func (a *Authenticator) Authenticate(ctx context.Context, h Handshake) (*Identity, error) {
	start := time.Now()
	defer func() {
		metrics.AuthDuration.Observe(time.Since(start).Seconds())
	}()

	token, source, ok := a.extractor.ExtractWithSource(h)
	if !ok {
		a.logger.Infow("Connection has no credential",
			"claimed_user_id", h.ClaimedUserID())
		return nil, ErrNoCredential
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	identity, err := a.verifier.Verify(ctx, token)
	if err != nil {
		a.logRefusal(err, source)
		return nil, err
	}

	// Verification finished but the caller went away meanwhile
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.logger.Debugw("Connection authenticated",
		"user_id", identity.UserID,
		"source", source)
	return identity, nil
}

func (a *Authenticator) logRefusal(err error, source string) {
	switch {
	case errors.Is(err, ErrExpired):
		a.logger.Infow("Connection refused: credential expired", "source", source)
	case errors.Is(err, ErrInvalidCredential):
		a.logger.Warnw("Connection refused: invalid credential", "source", source, "error", err)
	case errors.Is(err, ErrUnknownUser):
		a.logger.Warnw("Connection refused: user not found", "source", source, "error", err)
	default:
		a.logger.Errorw("Failed to verify connection credential", "source", source, "error", err)
	}
}
