// cmd/api/main.go
// Chat gateway: REST API, websocket event stream and ops endpoints

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/imadgeboyega/kiekky-chat/internal/auth"
	"github.com/imadgeboyega/kiekky-chat/internal/common/database"
	"github.com/imadgeboyega/kiekky-chat/internal/config"
	"github.com/imadgeboyega/kiekky-chat/internal/messaging"
	"github.com/imadgeboyega/kiekky-chat/internal/ops"
)

func main() {
	envErr := godotenv.Load()
	cfg := config.Load()
	logger := newLogger(cfg)

	if envErr != nil {
		logger.Debug().Err(envErr).Msg("no .env file, using environment variables")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx := context.Background()
	var checks []ops.Check

	// Storage
	var repo messaging.Repository
	switch cfg.StorageDriver {
	case "memory":
		repo = messaging.NewMemoryRepository()
		logger.Warn().Msg("using in-memory storage, data is lost on restart")
	default:
		db, err := database.NewPostgresDBFromURL(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres connection failed")
		}
		defer db.Close()
		logger.Info().Msg("connected to PostgreSQL")

		if err := messaging.Migrate(ctx, db); err != nil {
			logger.Fatal().Err(err).Msg("migration failed")
		}
		logger.Info().Msg("migrations completed")

		repo = messaging.NewPostgresRepository(db)
		checks = append(checks, ops.Check{Name: "postgres", Ping: pingDB(db)})
	}

	// Presence and fan-out
	presenceCtx, stopPresence := context.WithCancel(ctx)
	defer stopPresence()
	broker := messaging.NewLocalBroker()
	presence := messaging.NewMemoryPresence()
	if cfg.RedisURL != "" {
		client, err := database.NewRedisClientFromURL(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		defer client.Close()
		logger.Info().Msg("connected to Redis")

		broker = messaging.NewRedisBroker(client, "", logger)
		redisPresence := messaging.NewRedisPresence(client, "", cfg.PresenceTTL)
		go func() {
			if err := redisPresence.Run(presenceCtx); err != nil {
				logger.Error().Err(err).Msg("presence heartbeat stopped")
			}
		}()
		presence = redisPresence
		checks = append(checks, ops.Check{Name: "redis", Ping: pingRedis(client)})
	}

	storage, err := newStorage(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("avatar storage setup failed")
	}
	notifier, err := newNotifier(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("notifier setup failed")
	}

	// Messaging
	hub := messaging.NewHub(broker, presence, messaging.HubConfig{
		CommandRate:  rate.Limit(cfg.WSCommandRate),
		CommandBurst: cfg.WSCommandBurst,
	}, logger)
	if err := hub.Start(); err != nil {
		logger.Fatal().Err(err).Msg("hub subscription failed")
	}

	service := messaging.NewService(repo, storage, notifier, logger)
	service.SetHub(hub)

	tokens := auth.NewTokenService(cfg.JWTSecret, cfg.AccessTokenExpiry)
	authMiddleware := auth.NewMiddleware(tokens)

	router := mux.NewRouter()
	if !cfg.UseS3 {
		router.PathPrefix("/uploads/").Handler(
			http.StripPrefix("/uploads/", http.FileServer(http.Dir(cfg.LocalUploadDir))))
	}
	messaging.RegisterRoutes(router, messaging.NewHandler(service, hub, logger), authMiddleware.Authenticate)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      corsMiddleware(loggingMiddleware(logger)(router)),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	opsSrv := &http.Server{
		Addr:    ":" + cfg.OpsPort,
		Handler: ops.NewRouter(ops.Options{Checks: checks, Connections: hub.ActiveConnections}),
	}

	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Environment).
			Str("storage", cfg.StorageDriver).
			Msg("starting chat gateway")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()
	go func() {
		if err := opsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("ops server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server...")

	// Close websockets first so their handlers return
	hub.Shutdown()
	stopPresence()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}
	opsSrv.Shutdown(shutdownCtx)

	logger.Info().Msg("server stopped")
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stdout)
	}
	return logger.Level(level).With().Timestamp().Logger()
}

func newStorage(cfg *config.Config) (messaging.StorageService, error) {
	if !cfg.UseS3 {
		return messaging.NewLocalStorage(cfg.LocalUploadDir, cfg.BaseURL), nil
	}

	awsConfig := &aws.Config{Region: aws.String(cfg.AWSRegion)}
	if cfg.AWSAccessKeyID != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey, "")
	}
	awsSession, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("create AWS session: %w", err)
	}
	return messaging.NewS3Storage(awsSession, cfg.S3BucketName, ""), nil
}

func newNotifier(cfg *config.Config, logger zerolog.Logger) (messaging.Notifier, error) {
	switch cfg.NotifyProvider {
	case "sendgrid":
		return messaging.NewSendGridNotifier(cfg.SendGridAPIKey, cfg.EmailFrom), nil
	case "twilio":
		return messaging.NewTwilioNotifier(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber)
	default:
		return messaging.NewLogNotifier(logger), nil
	}
}

func pingDB(db *sqlx.DB) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		return db.PingContext(ctx)
	}
}

func pingRedis(client *redis.Client) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}
}
