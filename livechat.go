// Package livechat wires the real-time presence and message-delivery
// subsystem into a gin engine: the WebSocket endpoint, the message API that
// pushes to live connections, and health and metrics endpoints.
package livechat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/real-rm/livechat/internal/auth"
	"github.com/real-rm/livechat/internal/bus"
	"github.com/real-rm/livechat/internal/config"
	"github.com/real-rm/livechat/internal/constants"
	"github.com/real-rm/livechat/internal/message"
	"github.com/real-rm/livechat/internal/presence"
	"github.com/real-rm/livechat/internal/router"
	"github.com/real-rm/livechat/internal/util"
	"github.com/real-rm/livechat/internal/websocket"
	"go.uber.org/zap"
)

// UserStore resolves identities and checks that message receivers exist
type UserStore interface {
	auth.UserDirectory
	Exists(ctx context.Context, userID string) (bool, error)
}

// MessageStore persists chat messages
type MessageStore interface {
	Create(ctx context.Context, msg *message.Message) error
	Get(ctx context.Context, id string) (*message.Message, error)
	ListConversation(ctx context.Context, userA, userB string) ([]*message.Message, error)
	UpdateText(ctx context.Context, id, text string, now time.Time) (*message.Message, error)
	Delete(ctx context.Context, id string) error
}

// PresenceMirror publishes this node's presence for the rest of the cluster
type PresenceMirror interface {
	presence.Mirror
	OnlineUsers(ctx context.Context) ([]string, error)
	Clear(ctx context.Context) error
	Checker
}

// DeliveryBus forwards deliveries to and from other nodes
type DeliveryBus interface {
	router.Publisher
	SubscribeDeliveries(handler bus.Handler) error
	Close() error
	Checker
}

// Checker is a dependency the readiness probe pings
type Checker interface {
	Ping(ctx context.Context) error
}

// CheckFunc adapts a function to Checker
type CheckFunc func(ctx context.Context) error

// Ping calls f
func (f CheckFunc) Ping(ctx context.Context) error {
	return f(ctx)
}

// Dependencies are the collaborators Register wires together. Users and
// Messages are required; Mirror and Bus are optional cluster features.
type Dependencies struct {
	Users    UserStore
	Messages MessageStore
	Mirror   PresenceMirror
	Bus      DeliveryBus
	// Checks are extra readiness checks by name, e.g. "mongodb"
	Checks map[string]Checker
}

// Service is a registered livechat instance
type Service struct {
	cfg         *config.Config
	logger      *zap.SugaredLogger
	users       UserStore
	messages    MessageStore
	mirror      PresenceMirror
	bus         DeliveryBus
	checks      map[string]Checker
	registry    *presence.Registry
	broadcaster *presence.Broadcaster
	router      *router.MessageRouter
	ws          *websocket.Handler
	now         func() time.Time

	shutdownOnce sync.Once
	shutdownErr  error
}

// Register validates cfg, builds the subsystem and registers its routes on r
// under cfg.Server.PathPrefix.
func Register(r *gin.Engine, cfg *config.Config, logger *zap.SugaredLogger, deps Dependencies) (*Service, error) {
	logger = logger.Named("livechat")
	logger.Infow("Initializing livechat service")

	if err := cfg.Validate(); err != nil {
		logger.Errorw("Configuration validation failed", "error", err)
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	if deps.Users == nil || deps.Messages == nil {
		return nil, fmt.Errorf("user and message stores are required")
	}

	s := &Service{
		cfg:      cfg,
		logger:   logger,
		users:    deps.Users,
		messages: deps.Messages,
		mirror:   deps.Mirror,
		bus:      deps.Bus,
		checks:   make(map[string]Checker),
		now:      time.Now,
	}
	for name, check := range deps.Checks {
		s.checks[name] = check
	}

	validator := auth.NewJWTValidator(cfg.Auth.JWTSecret)
	authenticator := auth.NewAuthenticator(
		auth.NewCookieExtractor(cfg.Auth.CookieName),
		auth.NewVerifier(validator, deps.Users),
		cfg.Auth.Timeout,
		logger,
	)

	s.registry = presence.NewRegistry(logger)
	var broadcasterOpts []presence.BroadcasterOption
	if deps.Mirror != nil {
		broadcasterOpts = append(broadcasterOpts, presence.WithMirror(deps.Mirror))
		s.checks["redis"] = deps.Mirror
	}
	s.broadcaster = presence.NewBroadcaster(s.registry, logger, broadcasterOpts...)

	var routerOpts []router.Option
	if deps.Bus != nil {
		routerOpts = append(routerOpts, router.WithPublisher(deps.Bus))
		s.checks["nats"] = deps.Bus
	}
	s.router = router.NewMessageRouter(s.registry, logger, routerOpts...)
	if deps.Bus != nil {
		if err := deps.Bus.SubscribeDeliveries(s.router.HandleRemoteDelivery); err != nil {
			s.broadcaster.Close()
			return nil, fmt.Errorf("subscribe to delivery bus: %w", err)
		}
	}

	s.ws = websocket.NewHandler(authenticator, s.broadcaster, logger, cfg.Server.MaxMessageSize)
	s.ws.SetAllowedOrigins(cfg.Server.AllowedOrigins)
	if s.ws.IsOpenOrigin() && !cfg.Server.DevMode {
		logger.Warnw("No allowed origins configured, any website can open WebSocket connections")
	}

	if len(cfg.Server.AllowedOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.Server.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
			ExposeHeaders:    []string{"Content-Length"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
		logger.Infow("CORS middleware configured", "allowed_origins", cfg.Server.AllowedOrigins)
	}

	if len(cfg.Server.TrustedProxies) > 0 {
		if err := r.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
			util.LogWarn(logger, "livechat", "set trusted proxies", err)
		}
	}

	r.Use(queryTokenMiddleware())
	r.Use(traceMiddleware())
	r.Use(securityHeadersMiddleware())
	r.Use(metricsMiddleware())

	prefix := cfg.Server.PathPrefix
	group := r.Group(prefix)
	{
		group.GET("/ws", s.handleWebSocket)
		group.GET("/healthz", handleHealthCheck)
		group.GET("/readyz", s.handleReadyCheck)
		group.GET("/metrics/prometheus",
			metricsNetworkMiddleware(parseNetworks(cfg.Server.MetricsAllowedNetworks, logger), logger),
			gin.WrapH(promhttp.Handler()))

		api := group.Group("/api")
		api.Use(authMiddleware(authenticator))
		{
			api.GET("/presence", s.handleOnlineUsers)
			api.POST("/presence/logout", s.handleLogout)
			api.GET("/messages/:id", s.handleListConversation)
			api.POST("/messages/send/:id", s.handleSendMessage)
			api.PUT("/messages/:messageId", s.handleEditMessage)
			api.DELETE("/messages/:messageId", s.handleDeleteMessage)
		}
	}

	logger.Infow("Livechat service registered",
		"websocket_endpoint", prefix+"/ws",
		"api_endpoints", prefix+"/api/*",
		"health_endpoints", prefix+"/healthz, "+prefix+"/readyz",
		"metrics_endpoint", prefix+"/metrics/prometheus",
		"redis_mirror", deps.Mirror != nil,
		"nats_bus", deps.Bus != nil)

	return s, nil
}

// Registry returns the presence registry, for embedding applications and tests
func (s *Service) Registry() *presence.Registry {
	return s.registry
}

// Router returns the message router, so other components can push events
func (s *Service) Router() *router.MessageRouter {
	return s.router
}

// DisconnectUser closes every live connection of userID on this node
func (s *Service) DisconnectUser(userID string) int {
	return s.ws.DisconnectUser(userID)
}

// Shutdown closes all WebSocket connections, stops the presence mirror and
// the delivery bus, and removes this node's presence from Redis. It is safe
// to call more than once.
func (s *Service) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		s.logger.Infow("Starting graceful shutdown of livechat service")

		if err := s.ws.ShutdownWithContext(ctx); err != nil {
			util.LogWarn(s.logger, "livechat", "close websocket connections", err)
			s.shutdownErr = err
		}

		s.broadcaster.Close()

		if s.bus != nil {
			if err := s.bus.Close(); err != nil {
				util.LogWarn(s.logger, "livechat", "close delivery bus", err)
			}
		}

		if s.mirror != nil {
			clearCtx, cancel := context.WithTimeout(context.Background(), constants.MirrorSyncTimeout)
			defer cancel()
			if err := s.mirror.Clear(clearCtx); err != nil {
				util.LogWarn(s.logger, "livechat", "clear presence mirror", err)
			}
		}

		s.logger.Infow("Livechat service shutdown complete")
	})
	return s.shutdownErr
}
