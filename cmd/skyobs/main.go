package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/stone17/my-sky-observer/internal/api"
	"github.com/stone17/my-sky-observer/internal/auth"
	"github.com/stone17/my-sky-observer/internal/catalog"
	"github.com/stone17/my-sky-observer/internal/fetcher"
	"github.com/stone17/my-sky-observer/internal/imagecache"
	"github.com/stone17/my-sky-observer/internal/stream"
	"github.com/stone17/my-sky-observer/internal/survey"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: loadLogLevel(),
	}))

	addr := os.Getenv("SKYOBS_HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	authCfg, err := loadAuthConfig(logger)
	if err != nil {
		logger.Error("invalid auth configuration", "error", err)
		os.Exit(1)
	}

	catalogDir := os.Getenv("SKYOBS_CATALOG_DIR")
	if catalogDir == "" {
		catalogDir = "data/catalogs"
	}
	store := catalog.NewStore(catalogDir, logger)
	logger.Info("catalog config", "dir", catalogDir, "available", store.Catalogs())

	surveyCfg := loadSurveyConfig(logger)
	client := survey.NewClient(surveyCfg, logger)

	cacheDir, targetMean := loadCacheConfig(logger)
	cache := imagecache.New(cacheDir, client, targetMean, logger)

	maxConcurrent := fetcher.DefaultMaxConcurrent
	if v := os.Getenv("SKYOBS_MAX_CONCURRENT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			logger.Warn("invalid SKYOBS_MAX_CONCURRENT value, using default", "value", v, "default", maxConcurrent)
		} else {
			maxConcurrent = n
		}
	}
	pool := fetcher.New(cache, maxConcurrent, logger)

	streamCfg := loadStreamConfig(logger)
	planHandler := stream.NewHandler(store, cache, pool, client.Params(), streamCfg, logger)

	srv := api.NewServer(addr, planHandler, store, cache, logger, authCfg)

	// Graceful shutdown on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting server",
			"addr", addr,
			"auth_enabled", authCfg.Enabled,
			"cache_dir", cacheDir,
			"max_concurrent_downloads", maxConcurrent,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server listen error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.HTTPServer().Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

func loadLogLevel() slog.Level {
	switch os.Getenv("SKYOBS_LOG_LEVEL") {
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelDebug
	}
}

func loadAuthConfig(logger *slog.Logger) (auth.Config, error) {
	cfg := auth.Config{}

	enabledStr := os.Getenv("SKYOBS_AUTH_ENABLED")
	if enabledStr != "" {
		enabled, err := strconv.ParseBool(enabledStr)
		if err != nil {
			return cfg, errors.New("SKYOBS_AUTH_ENABLED must be a boolean value (true/false/1/0)")
		}
		cfg.Enabled = enabled
	}

	if cfg.Enabled {
		cfg.Token = os.Getenv("SKYOBS_AUTH_TOKEN")
		if cfg.Token == "" {
			return cfg, errors.New("SKYOBS_AUTH_TOKEN is required when auth is enabled")
		}
		logger.Info("auth enabled")
	}

	return cfg, nil
}

func loadSurveyConfig(logger *slog.Logger) survey.Config {
	cfg := survey.Config{
		Survey:       "dss2r",
		ResolutionPx: 512,
		Padding:      1.5,
	}

	if v := os.Getenv("SKYOBS_SURVEY"); v != "" {
		cfg.Survey = v
	}
	if v := os.Getenv("SKYOBS_SURVEY_URL"); v != "" {
		cfg.BaseURL = v
	}
	if v := os.Getenv("SKYOBS_IMAGE_RESOLUTION"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 64 || n > 2048 {
			logger.Warn("invalid SKYOBS_IMAGE_RESOLUTION value, using default", "value", v, "default", cfg.ResolutionPx)
		} else {
			cfg.ResolutionPx = n
		}
	}
	if v := os.Getenv("SKYOBS_IMAGE_PADDING"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 1.0 || f > 4.0 {
			logger.Warn("invalid SKYOBS_IMAGE_PADDING value, using default", "value", v, "default", cfg.Padding)
		} else {
			cfg.Padding = f
		}
	}

	logger.Info("survey config",
		"survey", cfg.Survey,
		"resolution_px", cfg.ResolutionPx,
		"padding", cfg.Padding,
	)

	return cfg
}

func loadCacheConfig(logger *slog.Logger) (dir string, targetMean float64) {
	dir = "/tmp/skyobs/images"
	if v := os.Getenv("SKYOBS_CACHE_DIR"); v != "" {
		dir = v
	}

	targetMean = imagecache.DefaultTargetMean
	if v := os.Getenv("SKYOBS_STRETCH_TARGET_MEAN"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 || f >= 255 {
			logger.Warn("invalid SKYOBS_STRETCH_TARGET_MEAN value, using default", "value", v, "default", targetMean)
		} else {
			targetMean = f
		}
	}

	logger.Info("image cache config", "dir", dir, "stretch_target_mean", targetMean)
	return dir, targetMean
}

func loadStreamConfig(logger *slog.Logger) stream.Config {
	cfg := stream.Config{
		MaxConcurrentPerIP: 4,
		CurvePoints:        48,
		FrameSamples:       60,
	}

	if v := os.Getenv("SKYOBS_STREAM_MAX_CONCURRENT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			logger.Warn("invalid SKYOBS_STREAM_MAX_CONCURRENT value, using default", "value", v, "default", cfg.MaxConcurrentPerIP)
		} else {
			cfg.MaxConcurrentPerIP = n
		}
	}
	if v := os.Getenv("SKYOBS_CURVE_POINTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 2 || n > 500 {
			logger.Warn("invalid SKYOBS_CURVE_POINTS value, using default", "value", v, "default", cfg.CurvePoints)
		} else {
			cfg.CurvePoints = n
		}
	}
	if v := os.Getenv("SKYOBS_FRAME_SAMPLES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 2 || n > 1000 {
			logger.Warn("invalid SKYOBS_FRAME_SAMPLES value, using default", "value", v, "default", cfg.FrameSamples)
		} else {
			cfg.FrameSamples = n
		}
	}
	if v := os.Getenv("SKYOBS_TRUST_PROXY"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			logger.Warn("invalid SKYOBS_TRUST_PROXY value, defaulting to false", "value", v)
		} else {
			cfg.TrustProxy = b
		}
	}

	logger.Info("stream config",
		"max_concurrent_per_ip", cfg.MaxConcurrentPerIP,
		"curve_points", cfg.CurvePoints,
		"frame_samples", cfg.FrameSamples,
		"trust_proxy", cfg.TrustProxy,
	)

	return cfg
}
