package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tbourn/go-pattern-backend/internal/jobs"
	"github.com/tbourn/go-pattern-backend/internal/observability"
	"github.com/tbourn/go-pattern-backend/internal/repo"

	httpapi "github.com/tbourn/go-pattern-backend/internal/http"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			otelShutdown, err := observability.SetupOTel(ctx, cfg.OTEL, appVersion())
			if err != nil {
				return fmt.Errorf("otel: %w", err)
			}
			defer observability.Shutdown(otelShutdown, 5*time.Second)

			a, err := build(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			if cfg.Maintenance.Enabled {
				m, err := jobs.New(a.DB, a.Sweeper, jobs.Config{
					Schedule: cfg.Maintenance.Schedule,
					Location: cfg.Quota.Location,
				})
				if err != nil {
					return err
				}
				m.Start(ctx)
				defer m.Stop()
			}

			gin.SetMode(cfg.GinMode)
			r := gin.New()
			httpapi.RegisterRoutes(r, a.Deps(), cfg)

			srv := &http.Server{
				Addr:              net.JoinHostPort("", cfg.Port),
				Handler:           r,
				ReadTimeout:       cfg.ReadTimeout,
				ReadHeaderTimeout: cfg.ReadHeaderTimeout,
				WriteTimeout:      cfg.WriteTimeout,
				IdleTimeout:       cfg.IdleTimeout,
				MaxHeaderBytes:    cfg.MaxHeaderBytes,
				BaseContext:       func(net.Listener) context.Context { return ctx },
			}

			errCh := make(chan error, 1)
			go func() {
				log.Info().Str("addr", srv.Addr).Str("api_base", cfg.APIBasePath).Msg("listening")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("http server: %w", err)
				}
				return nil
			case <-ctx.Done():
			}

			log.Info().Msg("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("graceful shutdown failed")
				return err
			}
			log.Info().Msg("server stopped")
			return nil
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := repo.OpenDatabase(cfg.Database.Driver, cfg.Database.DSN)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			if err := repo.AutoMigrate(db); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			log.Info().Str("driver", cfg.Database.Driver).Msg("migrations applied")
			return closeDB(db)
		},
	}
}

func newMaintainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "maintain",
		Short: "Purge expired idempotency keys and reset elapsed quota windows once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := build(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			m, err := jobs.New(a.DB, a.Sweeper, jobs.Config{Location: cfg.Quota.Location})
			if err != nil {
				return err
			}
			_, err = m.RunOnce(cmd.Context())
			return err
		},
	}
}
