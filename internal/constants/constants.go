// Package constants provides centralized constant definitions for the livechat service.
// This eliminates magic numbers and strings throughout the codebase.
package constants

import "time"

// HTTP Status Codes
const (
	StatusOK                 = 200
	StatusCreated            = 201
	StatusUnauthorized       = 401
	StatusServiceUnavailable = 503
)

// Timeouts for various operations
const (
	DefaultContextTimeout = 10 * time.Second // Standard database operations
	MongoIndexTimeout     = 30 * time.Second // MongoDB index creation
	MongoConnectTimeout   = 15 * time.Second // Initial MongoDB connection
	HealthCheckTimeout    = 2 * time.Second  // Health check operations
	DefaultAuthTimeout    = 5 * time.Second  // Credential verification + user lookup per connection
	MirrorSyncTimeout     = 2 * time.Second  // Redis presence mirror writes
	ShutdownTimeout       = 10 * time.Second // Graceful shutdown of connections and HTTP server
)

// WebSocket connection lifecycle
const (
	PongWait         = 60 * time.Second      // Time allowed to read the next pong from the peer
	PingPeriod       = (PongWait * 9) / 10   // Must be less than PongWait
	WriteWait        = 10 * time.Second      // Time allowed to write a frame to the peer
	SendQueueSize    = 256                   // Buffered outbound frames per connection
	HandshakeTimeout = 10 * time.Second      // Client-side upgrade handshake timeout
	ReadBufferSize   = 1024                  // Upgrader read buffer
	WriteBufferSize  = 1024                  // Upgrader write buffer
	MirrorQueueSize  = 1024                  // Pending presence mirror updates
)

// Client reconnection schedule. Fixed literals, not configurable at runtime.
const (
	ReconnectDelay    = 1 * time.Second // Delay before the first retry
	ReconnectDelayMax = 5 * time.Second // Cap for the doubling delay
	ReconnectAttempts = 5               // Retries before settling in Disconnected
)

// Sizes and Limits
const (
	DefaultMaxMessageSize = 65536 // Max inbound WebSocket frame in bytes
	MaxMessageTextLength  = 2000  // Max chat message text length in characters
	MaxImageRefLength     = 2048  // Max image reference (URL) length
	MaxRetryAttempts      = 3     // Maximum retry attempts for transient storage errors
)

// Durations for storage retries
const (
	InitialRetryDelay = 100 * time.Millisecond
	MaxRetryDelay     = 2 * time.Second
	RetryMultiplier   = 2.0
)

// HTTP Server Timeouts
const (
	HTTPReadHeaderTimeout = 10 * time.Second  // Evicts clients that never finish the upgrade request
	HTTPReadTimeout       = 15 * time.Second  // Maximum time to read the entire request
	HTTPWriteTimeout      = 30 * time.Second  // Maximum time to write the response
	HTTPIdleTimeout       = 120 * time.Second // Maximum time to keep idle connections alive
)

// Default Configuration Values
const (
	DefaultPort          = 8080
	DefaultPathPrefix    = "/livechat"
	DefaultMongoURI      = "mongodb://localhost:27017"
	DefaultDatabase      = "chatify"
	DefaultUsersColl     = "users"
	DefaultMessagesColl  = "messages"
	DefaultLogLevel      = "info"
	DefaultLogFormat     = "json"
	DefaultNodeID        = "node-1"
	DefaultCookieName    = "jwt"
	DefaultRedisPoolSize = 10
	DefaultNATSReconnect = 2 * time.Second
)

// HTTP Headers and credential locations
const (
	HeaderAuthorization = "Authorization"
	HeaderRetryAfter    = "Retry-After"
	BearerPrefix        = "Bearer "
	BearerPrefixLength  = 7
	HandshakeTokenField = "token"
	HandshakeUserField  = "userId"
)

// MongoDB Field Names (BSON tags)
const (
	MongoFieldID         = "_id"
	MongoFieldPassword   = "password"
	MongoFieldSenderID   = "senderId"
	MongoFieldReceiverID = "receiverId"
	MongoFieldCreatedAt  = "createdAt"
	MongoFieldText       = "text"
	MongoFieldUpdatedAt  = "updatedAt"
	MongoFieldEdited     = "edited"
)

// MongoDB Index Names
const (
	IndexConversation = "idx_sender_receiver_created"
	IndexReceiver     = "idx_receiver_created"
)

// Redis keys
const (
	RedisPresenceKeyPrefix = "livechat:presence:" // + nodeID, hash userID -> connection count
	RedisPresenceTTL       = 2 * time.Minute
)

// NATS subjects
const (
	SubjectDeliver = "livechat.deliver"
)

// Weak Secrets for validation (security check)
var WeakSecrets = []string{
	"secret", "test", "test123", "password", "admin",
	"changeme", "default", "example", "demo", "12345",
	"placeholder",
}

// Minimum Security Requirements
const (
	MinJWTSecretLength = 32 // Minimum length for JWT secret (256 bits)
)

// Network configuration defaults
const (
	DefaultTrustedProxies         = "10.0.0.0/8,172.16.0.0/12,192.168.0.0/16"
	DefaultMetricsAllowedNetworks = "10.0.0.0/8,172.16.0.0/12,192.168.0.0/16,127.0.0.0/8"
)
