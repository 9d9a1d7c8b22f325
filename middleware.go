package livechat

import (
	"net"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/real-rm/livechat/internal/auth"
	"github.com/real-rm/livechat/internal/constants"
	chaterrors "github.com/real-rm/livechat/internal/errors"
	"github.com/real-rm/livechat/internal/httperrors"
	"github.com/real-rm/livechat/internal/metrics"
	"github.com/real-rm/livechat/internal/util"
	"go.uber.org/zap"
)

// identityKey is the gin context key of the authenticated identity
const identityKey = "identity"

// authMiddleware admits API requests with the same credential chain and
// verifier as WebSocket upgrades. A refusal answers the request and leaves
// the transport reusable.
func authMiddleware(authenticator *auth.Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, err := authenticator.Authenticate(c.Request.Context(), auth.HandshakeFromRequest(c.Request))
		if err != nil {
			httperrors.RespondChatError(c, chaterrors.FromAuthError(err))
			return
		}

		c.Request = c.Request.WithContext(auth.WithIdentity(c.Request.Context(), identity))
		c.Set(identityKey, identity)
		c.Next()
	}
}

// identityFrom returns the identity set by authMiddleware
func identityFrom(c *gin.Context) *auth.Identity {
	if v, ok := c.Get(identityKey); ok {
		if identity, ok := v.(*auth.Identity); ok {
			return identity
		}
	}
	identity, _ := auth.IdentityFromContext(c.Request.Context())
	return identity
}

// queryTokenMiddleware moves a query-string credential into the
// Authorization header and removes it from the URL, so it never reaches
// access logs or handlers. An existing Authorization header wins; cookie
// precedence is unchanged.
func queryTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		q := c.Request.URL.Query()
		if token := q.Get(constants.HandshakeTokenField); token != "" {
			if c.Request.Header.Get(constants.HeaderAuthorization) == "" {
				c.Request.Header.Set(constants.HeaderAuthorization, constants.BearerPrefix+token)
			}
		}
		if q.Has(constants.HandshakeTokenField) {
			q.Del(constants.HandshakeTokenField)
			c.Request.URL.RawQuery = q.Encode()
		}
		c.Next()
	}
}

// headerRequestID carries the request's trace ID in both directions
const headerRequestID = "X-Request-ID"

// traceMiddleware tags each request context with a trace ID, reusing the
// caller's X-Request-ID when present.
func traceMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if id := c.GetHeader(headerRequestID); id != "" && len(id) <= 128 {
			ctx = util.ContextWithTraceID(ctx, id)
		} else {
			ctx = util.NewContextWithTraceID(ctx)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Header(headerRequestID, util.TraceIDFromContext(ctx))
		c.Next()
	}
}

// securityHeadersMiddleware adds standard HTTP security headers to all responses.
func securityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	}
}

// metricsMiddleware records HTTP request duration
func metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		metrics.HTTPRequestDuration.With(prometheus.Labels{
			"endpoint": c.FullPath(),
			"method":   c.Request.Method,
		}).Observe(time.Since(start).Seconds())
	}
}

// parseNetworks parses CIDR network strings, skipping invalid ones
func parseNetworks(cidrs []string, logger *zap.SugaredLogger) []*net.IPNet {
	var nets []*net.IPNet
	for _, cidr := range cidrs {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			logger.Warnw("Invalid CIDR in metrics_allowed_networks", "cidr", cidr, "error", err)
			continue
		}
		nets = append(nets, ipNet)
	}
	return nets
}

// metricsNetworkMiddleware restricts access to the metrics endpoint to configured networks.
// With no networks configured every client is allowed.
func metricsNetworkMiddleware(allowedNets []*net.IPNet, logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(allowedNets) == 0 {
			c.Next()
			return
		}

		clientIP := net.ParseIP(c.ClientIP())
		if clientIP != nil {
			for _, ipNet := range allowedNets {
				if ipNet.Contains(clientIP) {
					c.Next()
					return
				}
			}
		}

		logger.Warnw("Metrics access denied from unauthorized network", "client_ip", c.ClientIP())
		httperrors.RespondForbidden(c)
	}
}
