package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/JonMunkholm/cycler/internal/archive"
	"github.com/JonMunkholm/cycler/internal/config"
	"github.com/JonMunkholm/cycler/internal/core"
	_ "github.com/JonMunkholm/cycler/internal/core/drivers" // Register all drivers
	"github.com/JonMunkholm/cycler/internal/harvester"
	"github.com/JonMunkholm/cycler/internal/logging"
	"github.com/JonMunkholm/cycler/internal/store"
	"github.com/JonMunkholm/cycler/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"harvester", cfg.Harvest.Name,
		"roots", cfg.Harvest.Roots,
		"schedule", cfg.Harvest.Schedule,
		"watch", cfg.Harvest.Watch,
		"archive_enabled", cfg.Archive.Enabled,
		"http_enabled", cfg.Server.Enabled,
	)
	slog.Debug("effective configuration", "config", cfg.String())
	slog.Info("drivers registered", "count", core.DriverCount())

	poolConfig, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		slog.Error("failed to parse database URL", "error", err)
		os.Exit(1)
	}
	poolConfig.MaxConns = int32(cfg.Database.MaxConns)
	poolConfig.MinConns = int32(cfg.Database.MinConns)
	poolConfig.MaxConnLifetime = cfg.Database.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.Database.MaxConnIdleTime

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		slog.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	if u, err := url.Parse(cfg.Database.URL); err == nil {
		slog.Info("connected to database", "name", strings.TrimPrefix(u.Path, "/"))
	} else {
		slog.Info("connected to database")
	}

	if cfg.Database.Migrate {
		if err := store.Migrate(pool); err != nil {
			slog.Error("failed to apply migrations", "error", err)
			os.Exit(1)
		}
		slog.Info("migrations applied")
	}
	st := store.New(pool)

	overrides, err := harvester.LoadOverrides(cfg.Harvest.OverridesFile)
	if err != nil {
		slog.Error("failed to load column overrides", "error", err)
		os.Exit(1)
	}

	var archiver harvester.Archiver
	if cfg.Archive.Enabled {
		a, err := newArchiver(ctx, cfg)
		if err != nil {
			slog.Error("failed to set up raw file archive", "error", err)
			os.Exit(1)
		}
		archiver = a
	}

	// Harvest imports and HTTP exports share one limiter.
	limiter := core.NewLimiter(cfg.Harvest.MaxConcurrent, cfg.Harvest.MaxWait)

	h := harvester.New(harvester.Options{
		Name:          cfg.Harvest.Name,
		Roots:         cfg.Harvest.Roots,
		Schedule:      cfg.Harvest.Schedule,
		Watch:         cfg.Harvest.Watch,
		StableAge:     cfg.Harvest.StableAge,
		MaxConcurrent: cfg.Harvest.MaxConcurrent,
		FileTimeout:   cfg.Harvest.FileTimeout,
		ParquetDir:    cfg.Harvest.ParquetDir,
	}, st, limiter, overrides, archiver)

	var server *web.Server
	if cfg.Server.Enabled {
		server = web.NewServer(cfg, h, limiter, st)
		go func() {
			if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("http server failed", "error", err)
				stop()
			}
		}()
	}

	runErr := h.Run(ctx, cfg.Server.ShutdownTimeout)

	slog.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// Wait for open exports to finish (with timeout)
	if status := limiter.Status(); status.Active > 0 {
		slog.Info("waiting for exports to complete", "active", status.Active)
		if err := limiter.WaitForDrain(shutdownCtx); err != nil {
			slog.Warn("exports did not complete in time", "error", err)
		}
	}
	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}

	if runErr != nil {
		slog.Error("harvester stopped", "error", runErr)
		cancel()
		pool.Close()
		os.Exit(1)
	}
}

func newArchiver(ctx context.Context, cfg *config.Config) (*archive.Archiver, error) {
	client, err := archive.NewS3Client(archive.S3Config{
		Endpoint:  cfg.Archive.Endpoint,
		AccessKey: cfg.Archive.AccessKey,
		SecretKey: cfg.Archive.SecretKey,
		Region:    cfg.Archive.Region,
		UseSSL:    cfg.Archive.UseSSL,
	})
	if err != nil {
		return nil, err
	}
	a := archive.NewArchiver(client, cfg.Archive.Bucket, path.Join(cfg.Archive.Prefix, cfg.Harvest.Name), cfg.Archive.ZstdLevel)
	if err := a.Init(ctx); err != nil {
		return nil, err
	}
	slog.Info("raw file archive ready", "bucket", cfg.Archive.Bucket, "endpoint", cfg.Archive.Endpoint)
	return a, nil
}
