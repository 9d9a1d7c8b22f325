package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/pflag"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/real-rm/livechat"
	"github.com/real-rm/livechat/internal/bus"
	"github.com/real-rm/livechat/internal/config"
	"github.com/real-rm/livechat/internal/constants"
	"github.com/real-rm/livechat/internal/logging"
	"github.com/real-rm/livechat/internal/presence"
	"github.com/real-rm/livechat/internal/storage"
)

// parseFlags returns the config file path given on the command line
func parseFlags(args []string) (string, error) {
	fs := pflag.NewFlagSet("livechat", pflag.ContinueOnError)
	path := fs.StringP("config", "c", "", "path to a YAML config file")
	if err := fs.Parse(args); err != nil {
		return "", err
	}
	return *path, nil
}

// loadConfiguration loads and validates the configuration
func loadConfiguration(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// initializeLogger builds the process logger from the log section
func initializeLogger(cfg *config.Config) (*zap.SugaredLogger, error) {
	return logging.New(cfg.Log.Level, cfg.Log.Format)
}

// connectDependencies opens the stores and the optional cluster backends.
// The returned cleanup releases whatever was opened.
func connectDependencies(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) (livechat.Dependencies, func(), error) {
	var deps livechat.Dependencies
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	connectCtx, cancel := context.WithTimeout(ctx, constants.MongoConnectTimeout)
	defer cancel()
	client, err := storage.Connect(connectCtx, cfg.Database.URI)
	if err != nil {
		return deps, cleanup, err
	}
	closers = append(closers, func() {
		ctx, cancel := context.WithTimeout(context.Background(), constants.DefaultContextTimeout)
		defer cancel()
		_ = client.Disconnect(ctx)
	})

	db := client.Database(cfg.Database.Name)
	messages := storage.NewMessageStore(db.Collection(cfg.Database.MessagesCollection), logger)
	indexCtx, indexCancel := context.WithTimeout(ctx, constants.MongoIndexTimeout)
	defer indexCancel()
	if err := messages.EnsureIndexes(indexCtx); err != nil {
		return deps, cleanup, err
	}

	deps.Users = storage.NewUserStore(db.Collection(cfg.Database.UsersCollection))
	deps.Messages = messages
	deps.Checks = map[string]livechat.Checker{"mongodb": mongoCheck(client)}

	if cfg.Redis.Addr != "" {
		rdb := presence.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.PoolSize)
		closers = append(closers, func() { _ = rdb.Close() })
		deps.Mirror = presence.NewRedisMirror(rdb, cfg.Server.NodeID)
		logger.Infow("Presence mirror enabled", "addr", cfg.Redis.Addr)
	}

	if cfg.NATS.URL != "" {
		b, err := bus.Connect(cfg.NATS.URL, cfg.Server.NodeID, logger)
		if err != nil {
			return deps, cleanup, err
		}
		closers = append(closers, func() { _ = b.Close() })
		deps.Bus = b
		logger.Infow("Delivery bus enabled", "url", cfg.NATS.URL)
	}

	return deps, cleanup, nil
}

func mongoCheck(client *mongo.Client) livechat.CheckFunc {
	return func(ctx context.Context) error {
		return storage.Ping(ctx, client)
	}
}

// NewHTTPServer creates an HTTP server with production-safe timeout defaults
func NewHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: constants.HTTPReadHeaderTimeout,
		ReadTimeout:       constants.HTTPReadTimeout,
		WriteTimeout:      constants.HTTPWriteTimeout,
		IdleTimeout:       constants.HTTPIdleTimeout,
	}
}

// setupSignalHandler sets up signal handling for graceful shutdown
func setupSignalHandler() chan os.Signal {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	return sigChan
}

// serve runs the engine until a signal arrives or the listener fails,
// then shuts the service and the server down.
func serve(listener net.Listener, engine *gin.Engine, service *livechat.Service, logger *zap.SugaredLogger, sigChan <-chan os.Signal) error {
	server := NewHTTPServer(listener.Addr().String(), engine)

	errChan := make(chan error, 1)
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
		close(errChan)
	}()
	logger.Infow("Server started", "addr", listener.Addr().String())

	var serveErr error
	select {
	case sig := <-sigChan:
		logger.Infow("Shutting down gracefully", "signal", sig.String())
	case serveErr = <-errChan:
		logger.Errorw("Server stopped unexpectedly", "error", serveErr)
	}

	ctx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
	defer cancel()
	if err := service.Shutdown(ctx); err != nil {
		logger.Warnw("Service shutdown incomplete", "error", err)
	}
	if err := server.Shutdown(ctx); err != nil {
		logger.Warnw("HTTP server shutdown incomplete", "error", err)
	}
	return serveErr
}

// runWithSignalChannel is a testable version of run that accepts a signal channel
func runWithSignalChannel(configPath string, sigChan chan os.Signal) error {
	cfg, err := loadConfiguration(configPath)
	if err != nil {
		return err
	}

	logger, err := initializeLogger(cfg)
	if err != nil {
		return err
	}
	defer logging.Sync(logger)

	if !cfg.Server.DevMode {
		gin.SetMode(gin.ReleaseMode)
	}

	deps, cleanup, err := connectDependencies(context.Background(), cfg, logger)
	defer cleanup()
	if err != nil {
		return err
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	service, err := livechat.Register(engine, cfg, logger, deps)
	if err != nil {
		return err
	}

	listener, err := net.Listen("tcp", ":"+strconv.Itoa(cfg.Server.Port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", cfg.Server.Port, err)
	}
	return serve(listener, engine, service, logger, sigChan)
}

func main() {
	if err := runMain(os.Args[1:]); err != nil {
		log.Fatalf("Failed to run server: %v", err)
	}
}

// runMain is the testable main function
func runMain(args []string) error {
	path, err := parseFlags(args)
	if err != nil {
		return err
	}
	return runWithSignalChannel(path, setupSignalHandler())
}
