package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/upb/auditron/app"
	"github.com/upb/auditron/config"
	"github.com/upb/auditron/routes"
)

func newServeCommand(root *rootOptions) *cobra.Command {
	var initSchema bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Run the HTTP API on SERVER_HOST:PORT until interrupted.

Endpoints: GET /, GET /healthz, GET /readyz, GET /tools, POST /audit/{provider}
and GET /metrics when METRICS_ENABLED is true.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := bootstrap(cmd, root)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx := cmd.Context()
			deps, err := app.NewDependencies(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
				defer cancel()
				if err := deps.Close(shutdownCtx); err != nil {
					logger.Error("failed to close dependencies", zap.Error(err))
				}
			}()

			if initSchema {
				if deps.DB == nil {
					return errors.New("--init-schema requires a configured credential store")
				}
				if err := deps.DB.InitSchema(ctx); err != nil {
					return err
				}
			}

			return runServer(ctx, cfg, routes.SetupRoutes(deps), logger)
		},
	}

	cmd.Flags().BoolVar(&initSchema, "init-schema", false, "create the credentials table before serving (local development)")

	return cmd
}

// runServer serves handler until ctx is cancelled, then drains in-flight
// requests for up to the configured shutdown timeout
func runServer(ctx context.Context, cfg *config.Config, handler http.Handler, logger *zap.Logger) error {
	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	if worst, limit := cfg.Audit.WorstCase(), cfg.Server.RequestTimeout(); worst > limit {
		logger.Warn("audits at the control limit may be cut short by the request timeout",
			zap.Duration("worst_case", worst),
			zap.Duration("request_timeout", limit))
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server",
			zap.String("addr", srv.Addr),
			zap.Bool("tls", cfg.Server.TLS.Enabled),
			zap.String("environment", cfg.Environment))

		var err error
		if cfg.Server.TLS.Enabled {
			err = srv.ListenAndServeTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logger.Info("server stopped")
	return nil
}
