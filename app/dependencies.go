package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/upb/auditron/config"
	"github.com/upb/auditron/handlers"
	"github.com/upb/auditron/internal/observability"
	"github.com/upb/auditron/middleware"
	"github.com/upb/auditron/repositories"
	"github.com/upb/auditron/repositories/postgres"
	"github.com/upb/auditron/services/audit"
	"github.com/upb/auditron/services/checkers/aws"
	"github.com/upb/auditron/services/checkers/azure"
	"github.com/upb/auditron/services/checkers/gcp"
	"github.com/upb/auditron/services/controls"
	"github.com/upb/auditron/services/credentials"
	"github.com/upb/auditron/supabase"
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config          *config.Config
	DB              *postgres.DB // nil when no credential store is configured
	Logger          *zap.Logger
	MetricsRegistry *prometheus.Registry
	Metrics         *observability.Metrics

	// Repositories
	Credentials repositories.CredentialRepository

	// Audit engine
	Registry   *controls.Registry
	Resolver   *credentials.Resolver
	Dispatcher *audit.Dispatcher

	// Auth; nil when token verification is not configured
	AuthMiddleware *middleware.AuthMiddleware
}

// NewDependencies creates and wires up all application dependencies
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	deps.initMetrics()

	if err := deps.initDatabase(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	registry, err := NewRegistry(cfg, logger)
	if err != nil {
		_ = deps.closeDB()
		return nil, fmt.Errorf("failed to build control registry: %w", err)
	}
	deps.Registry = registry

	if err := deps.initAudit(cfg); err != nil {
		_ = deps.closeDB()
		return nil, fmt.Errorf("failed to initialize audit engine: %w", err)
	}

	deps.initAuth(cfg)

	logger.Info("all dependencies initialized successfully",
		zap.Int("controls", registry.Count()),
		zap.Bool("credential_store", deps.DB != nil),
		zap.Bool("auth", deps.AuthMiddleware != nil))
	return deps, nil
}

// NewRegistry builds the control catalog for every provider
func NewRegistry(cfg *config.Config, logger *zap.Logger) (*controls.Registry, error) {
	awsChecks := aws.NewChecks(aws.LoadConfig(cfg.Cloud.AWS.Region), aws.SDKClients(), logger.Named("aws"))
	azureChecks := azure.NewChecks(azure.PublicCloud(), logger.Named("azure"))
	gcpChecks := gcp.NewChecks(gcp.StorageClients(), cfg.Cloud.GCP.ProjectID, logger.Named("gcp"))

	var defs []controls.Control
	defs = append(defs, aws.Definitions(awsChecks)...)
	defs = append(defs, gcp.Definitions(gcpChecks)...)
	defs = append(defs, azure.Definitions(azureChecks)...)
	return controls.NewRegistry(defs...)
}

func (d *Dependencies) initMetrics() {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	d.MetricsRegistry = reg
	d.Metrics = observability.NewMetrics(reg)
}

// initDatabase connects the credential store when one is configured
func (d *Dependencies) initDatabase(ctx context.Context, cfg *config.Config) error {
	if !cfg.Database.Enabled() {
		d.Logger.Warn("credential store not configured, user_id lookups fall back to environment credentials")
		return nil
	}

	db, err := postgres.NewDB(cfg.Database, d.Logger)
	if err != nil {
		return err
	}
	if err := db.HealthCheck(ctx); err != nil {
		_ = db.Close()
		return err
	}

	d.DB = db
	d.Credentials = postgres.NewCredentialRepository(db, d.Logger)

	d.Logger.Info("database connection established",
		zap.String("connection", cfg.Database.LogString()))
	return nil
}

func (d *Dependencies) initAudit(cfg *config.Config) error {
	env, err := cfg.Cloud.EnvironmentCredentials()
	if err != nil {
		return fmt.Errorf("invalid environment credentials: %w", err)
	}

	// A nil repository must reach the resolver as a nil interface
	var store credentials.Store
	if d.Credentials != nil {
		store = d.Credentials
	}

	d.Resolver = credentials.NewResolver(store, env, credentials.Config{
		DefaultAWSRegion: cfg.Cloud.AWS.Region,
		LookupTimeout:    cfg.Audit.CredentialTimeout,
	}, d.Logger.Named("credentials"), d.Metrics)

	d.Dispatcher = audit.NewDispatcher(d.Registry, d.Resolver, audit.Config{
		ControlTimeout: cfg.Audit.ControlTimeout,
		MaxConcurrency: cfg.Audit.MaxConcurrency,
	}, d.Logger.Named("audit"), d.Metrics)
	return nil
}

func (d *Dependencies) initAuth(cfg *config.Config) {
	if !cfg.Auth.Enabled() {
		d.Logger.Warn("SUPABASE_JWT_SECRET not set, audit endpoints are unauthenticated")
		return
	}

	validator := supabase.NewValidator(supabase.Config{
		JWTSecret: cfg.Auth.JWTSecret,
		Audience:  cfg.Auth.Audience,
		Issuer:    cfg.Auth.Issuer(),
	})
	d.AuthMiddleware = middleware.NewAuthMiddleware(&supabaseTokenValidatorAdapter{validator: validator}, d.Logger)
	d.Logger.Info("supabase token verification enabled",
		zap.String("audience", cfg.Auth.Audience),
		zap.String("issuer", cfg.Auth.Issuer()))
}

// tokenParser is satisfied by *supabase.Validator
type tokenParser interface {
	ValidateToken(ctx context.Context, token string) (*supabase.ParsedClaims, error)
}

// supabaseTokenValidatorAdapter adapts supabase.Validator to middleware.TokenValidator
type supabaseTokenValidatorAdapter struct {
	validator tokenParser
}

func (a *supabaseTokenValidatorAdapter) ValidateToken(ctx context.Context, token string) (*middleware.Claims, error) {
	parsed, err := a.validator.ValidateToken(ctx, token)
	if err != nil {
		return nil, err
	}
	return &middleware.Claims{
		Sub:   parsed.Sub.String(),
		Email: parsed.Email,
		Role:  parsed.Role,
	}, nil
}

// HealthChecker returns the credential store health check, or nil without a store
func (d *Dependencies) HealthChecker() handlers.HealthChecker {
	if d.DB == nil {
		return nil
	}
	return d.DB
}

func (d *Dependencies) closeDB() error {
	if d.DB == nil {
		return nil
	}
	err := d.DB.Close()
	d.DB = nil
	return err
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error
	if err := d.closeDB(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close database: %w", err))
	}

	_ = d.Logger.Sync()
	return errors.Join(errs...)
}
