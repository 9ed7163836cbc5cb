package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/Sternrassler/search-poller/pkg/archive"
	"github.com/Sternrassler/search-poller/pkg/client"
	"github.com/Sternrassler/search-poller/pkg/logging"
	"github.com/Sternrassler/search-poller/pkg/pagination"
	"github.com/Sternrassler/search-poller/pkg/search"
	"github.com/Sternrassler/search-poller/pkg/session"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// config is the process configuration read from the environment.
type config struct {
	Port           string
	RedisURL       string
	BaseURL        string
	Token          string
	UserAgent      string
	ArchiveDir     string
	PageSize       int
	RateLimit      float64
	RequestTimeout time.Duration
	SessionIdle    time.Duration
}

func loadConfig() (config, error) {
	cfg := config{
		Port:       getEnv("PORT", "8080"),
		RedisURL:   getEnv("REDIS_URL", "localhost:6379"),
		BaseURL:    getEnv("SEARCH_BASE_URL", ""),
		Token:      getEnv("SEARCH_TOKEN", ""),
		UserAgent:  getEnv("USER_AGENT", "search-poller/0.1.0"),
		ArchiveDir: getEnv("ARCHIVE_DIR", "."),
	}

	var err error
	if cfg.PageSize, err = strconv.Atoi(getEnv("PAGE_SIZE", "100")); err != nil {
		return cfg, fmt.Errorf("invalid PAGE_SIZE: %w", err)
	}
	if cfg.PageSize < 1 || cfg.PageSize > search.MaxPageSize {
		return cfg, fmt.Errorf("invalid PAGE_SIZE: must be between 1 and %d (got %d)", search.MaxPageSize, cfg.PageSize)
	}
	if cfg.RateLimit, err = strconv.ParseFloat(getEnv("RATE_LIMIT", "5"), 64); err != nil {
		return cfg, fmt.Errorf("invalid RATE_LIMIT: %w", err)
	}
	if cfg.RequestTimeout, err = time.ParseDuration(getEnv("REQUEST_TIMEOUT", "60s")); err != nil {
		return cfg, fmt.Errorf("invalid REQUEST_TIMEOUT: %w", err)
	}
	if cfg.RequestTimeout <= 0 {
		return cfg, fmt.Errorf("invalid REQUEST_TIMEOUT: must be > 0 (got %s)", cfg.RequestTimeout)
	}
	if cfg.SessionIdle, err = time.ParseDuration(getEnv("SESSION_IDLE_TIMEOUT", "30m")); err != nil {
		return cfg, fmt.Errorf("invalid SESSION_IDLE_TIMEOUT: %w", err)
	}
	if cfg.SessionIdle <= 0 {
		return cfg, fmt.Errorf("invalid SESSION_IDLE_TIMEOUT: must be > 0 (got %s)", cfg.SessionIdle)
	}

	return cfg, nil
}

// loadEnvFile merges the variables of an optional dotenv file into the
// environment. Variables already set are not overridden.
func loadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

func main() {
	envErr := loadEnvFile(getEnv("ENV_FILE", ".env"))

	logger := logging.Setup(logging.Config{
		Level:   logging.LogLevel(getEnv("LOG_LEVEL", "info")),
		Pretty:  logging.ParseBool(getEnv("LOG_PRETTY", "false")),
		Output:  os.Stderr,
		Service: "search-poller",
	})

	if envErr != nil {
		logger.Fatal().Err(envErr).Msg("Invalid env file")
	}

	cfg, err := loadConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid configuration")
	}

	// Setup Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.RedisURL,
	})
	defer redisClient.Close()

	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Str("addr", cfg.RedisURL).Msg("Failed to connect to Redis")
	}
	logger.Info().Str("addr", cfg.RedisURL).Msg("Connected to Redis")

	// Create search client
	clientCfg := client.DefaultConfig(redisClient, cfg.BaseURL, cfg.UserAgent)
	clientCfg.Token = cfg.Token
	clientCfg.RateLimit = cfg.RateLimit

	searchClient, err := client.New(clientCfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create search client")
	}
	defer searchClient.Close()

	writer, err := archive.NewWriter(cfg.ArchiveDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create archive writer")
	}

	pager := pagination.NewPager(searchClient, pagination.Config{PageSize: cfg.PageSize})

	a := &app{
		redis:    redisClient,
		pager:    pager,
		sessions: session.NewRegistry(pager, session.NewRedisStore(redisClient)),
		archive:  writer,
		timeout:  cfg.RequestTimeout,
		logger:   logging.NewLogger("server"),
	}

	// Idle sessions are dropped; their watermarks stay in Redis.
	pruneCtx, stopPrune := context.WithCancel(context.Background())
	defer stopPrune()
	go a.sessions.PruneEvery(pruneCtx, cfg.SessionIdle, cfg.SessionIdle)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           a.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", srv.Addr).
			Str("base_url", cfg.BaseURL).
			Str("user_agent", cfg.UserAgent).
			Str("archive_dir", writer.Dir()).
			Msg("Starting search poller")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	waitForShutdown(logger, srv, errChan)
}

// waitForShutdown blocks until a signal or a server error, then drains the server.
func waitForShutdown(logger zerolog.Logger, srv *http.Server, errChan <-chan error) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		logger.Error().Err(err).Msg("Server failed")
	case sig := <-quit:
		logger.Info().Str("signal", sig.String()).Msg("Shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	}

	logger.Info().Msg("Search poller stopped")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
