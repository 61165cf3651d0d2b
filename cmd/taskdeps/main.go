package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"taskdeps/api/internal/app"
	"taskdeps/api/internal/auth"
	"taskdeps/api/internal/config"
	"taskdeps/api/internal/depgraph"
	"taskdeps/api/internal/graphcache"
	"taskdeps/api/internal/log"
	"taskdeps/api/internal/store"
	"taskdeps/api/internal/util"
)

func main() {
	cfg := config.Load()
	log.Configure(cfg.LogLevel, cfg.LogFormat)

	rootCmd := &cobra.Command{
		Use:           "taskdeps",
		Short:         "Task dependency graph API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(serveCmd(cfg), migrateCmd(cfg), tokenCmd(cfg))

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		log.GetLogger().Error(err)
		os.Exit(1)
	}
}

func serveCmd(cfg config.Config) *cobra.Command {
	var inMemory bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), cfg, inMemory)
		},
	}
	cmd.Flags().BoolVar(&inMemory, "in-memory", false, "keep all data in process instead of Postgres")
	return cmd
}

func serve(ctx context.Context, cfg config.Config, inMemory bool) error {
	logger := log.GetLogger()

	var dataStore app.DataStore
	if inMemory {
		logger.Warn("using in-memory store; data is lost on exit")
		dataStore = store.NewMemoryStore()
	} else {
		db, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("database connection failed: %w", err)
		}
		defer db.Close()

		if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
			return fmt.Errorf("migrations failed: %w", err)
		}
		dataStore = store.NewPostgresStore(db)
	}

	var cache depgraph.Cache
	if cfg.RedisURL != "" {
		redisCache, err := graphcache.NewRedisCache(cfg.RedisURL, cfg.GraphCacheTTL)
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		defer redisCache.Close()
		cache = redisCache
		logger.WithField("ttl", cfg.GraphCacheTTL).Info("graph cache enabled")
	}

	service := app.New(cfg, dataStore, cache, logger)
	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("taskdeps API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-sigCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

func migrateCmd(cfg config.Config) *cobra.Command {
	var down bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			db, err := store.Open(ctx, cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("database connection failed: %w", err)
			}
			defer db.Close()

			logger := log.GetLogger()
			if down {
				version, err := store.RollbackMigration(ctx, db, cfg.MigrationsDir)
				if err != nil {
					return err
				}
				if version == "" {
					logger.Info("no migrations to roll back")
					return nil
				}
				logger.WithField("version", version).Info("migration rolled back")
				return nil
			}

			if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
				return err
			}
			logger.Info("migrations applied")
			return nil
		},
	}
	cmd.Flags().BoolVar(&down, "down", false, "roll back the most recent migration")
	return cmd
}

func tokenCmd(cfg config.Config) *cobra.Command {
	var (
		userID    string
		name      string
		role      string
		workspace string
		ttl       time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a development bearer token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				return errors.New("--user is required")
			}
			token, err := auth.NewVerifier(cfg.JWTSecret).Issue(auth.Claims{
				Sub:       userID,
				Name:      name,
				Role:      role,
				Workspace: workspace,
				JTI:       util.NewID("jti"),
				Exp:       time.Now().Add(ttl).Unix(),
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id (sub claim)")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&role, "role", "member", "role in the personal scope")
	cmd.Flags().StringVar(&workspace, "workspace", "", "default workspace id")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
