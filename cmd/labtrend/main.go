package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/labtrend/labtrend/internal/config"
	"github.com/labtrend/labtrend/internal/domain/labresult"
	"github.com/labtrend/labtrend/internal/platform/auth"
	"github.com/labtrend/labtrend/internal/platform/db"
	"github.com/labtrend/labtrend/internal/platform/middleware"
	"github.com/labtrend/labtrend/internal/platform/telemetry"
	"github.com/labtrend/labtrend/internal/platform/vocab"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:          "labtrend",
		Short:        "Lab report reconciliation and trend data server",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().String("env-file", ".env", "Path to an optional .env file")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(importCmd())
	rootCmd.AddCommand(normalizeCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(reconcileCmd())
	rootCmd.AddCommand(checkCmd())
	rootCmd.AddCommand(scheduleCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// app holds what every command needs once configuration is loaded.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger
	engine *labresult.Engine
}

func loadApp(cmd *cobra.Command, out io.Writer) (*app, error) {
	envFile, _ := cmd.Flags().GetString("env-file")
	cfg, err := config.LoadFile(envFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg, out)
	if err != nil {
		return nil, err
	}

	v := vocab.Default()
	if cfg.VocabularyFile != "" {
		v, err = vocab.LoadFile(cfg.VocabularyFile)
		if err != nil {
			return nil, fmt.Errorf("load vocabulary: %w", err)
		}
		logger.Info().Str("file", cfg.VocabularyFile).Msg("loaded vocabulary")
	}

	engine := labresult.NewEngine(labresult.Options{
		Vocabulary:      v,
		StartDate:       cfg.NormalizedStartDate(),
		CycleLengthDays: cfg.CycleLengthDays,
		Logger:          &logger,
	})
	return &app{cfg: cfg, logger: logger, engine: engine}, nil
}

func newLogger(cfg *config.Config, out io.Writer) (zerolog.Logger, error) {
	level, err := cfg.Level()
	if err != nil {
		return zerolog.Nop(), err
	}
	logger := zerolog.New(out).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: out}).With().Timestamp().Logger()
	}
	return logger.Level(level), nil
}

func (a *app) openPool(ctx context.Context) (*pgxpool.Pool, error) {
	if err := a.cfg.RequireDatabase(); err != nil {
		return nil, err
	}
	pool, err := db.NewPool(ctx, a.cfg.DatabaseURL, a.cfg.DBSchema, a.cfg.DBMaxConns, a.cfg.DBMinConns)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	return pool, nil
}

// openService connects to the database and returns a store-backed service.
// The caller closes the pool.
func (a *app) openService(ctx context.Context) (*labresult.Service, *pgxpool.Pool, error) {
	pool, err := a.openPool(ctx)
	if err != nil {
		return nil, nil, err
	}
	return labresult.NewService(labresult.NewRepoPG(pool), a.engine, a.logger), pool, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd, os.Stdout)
			if err != nil {
				return err
			}
			return runServer(a)
		},
	}
}

func runServer(a *app) error {
	logger, cfg := a.logger, a.cfg

	ctx := context.Background()
	pool, err := a.openPool(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Str("schema", cfg.DBSchema).Msg("connected to database")

	metrics := telemetry.NewMetrics()
	svc := labresult.NewService(labresult.NewRepoPG(pool), a.engine, logger).WithRecorder(metrics)

	e := newServer(a, svc, metrics)
	e.GET("/health/db", db.HealthHandler(pool, db.NewMigrator(pool, cfg.MigrationsDir, cfg.DBSchema)))

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("version", version).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

// newServer builds the echo instance with its middleware chain and every
// route except the database health check.
func newServer(a *app, svc *labresult.Service, metrics *telemetry.Metrics) *echo.Echo {
	cfg := a.cfg

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(a.logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(a.logger))
	e.Use(metrics.Middleware())
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit(cfg.MaxUpload))
	if len(cfg.CORSOrigins) > 0 {
		e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
			AllowOrigins: cfg.CORSOrigins,
			AllowMethods: []string{http.MethodGet, http.MethodPost},
			AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
		}))
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/metrics", metrics.Handler())

	api := e.Group("/api")
	if cfg.AuthEnabled() {
		api.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: []byte(cfg.AuthSigningKey),
		}))
	} else {
		a.logger.Warn().Msg("authentication disabled; /api is open")
	}
	labresult.NewHandler(svc, cfg.AuthEnabled()).RegisterRoutes(api)
	return e
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Create the schema if needed and apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd, os.Stderr)
			if err != nil {
				return err
			}
			ctx := context.Background()
			pool, err := a.openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			fmt.Printf("Running migrations on schema: %s\n", a.cfg.DBSchema)
			count, err := db.EnsureSchema(ctx, pool, a.cfg.DBSchema, a.cfg.MigrationsDir)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd, os.Stderr)
			if err != nil {
				return err
			}
			ctx := context.Background()
			pool, err := a.openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, a.cfg.MigrationsDir, a.cfg.DBSchema).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("Migration status for schema: %s\n", a.cfg.DBSchema)
			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	cmd.AddCommand(statusCmd)

	return cmd
}
