// Package credentials resolves the credential bundle used for one audit request.
package credentials

import (
	"context"
	"time"

	"github.com/upb/auditron/internal/observability"
	"github.com/upb/auditron/models"
	"github.com/upb/auditron/services"
	"go.uber.org/zap"
)

// Store looks up the bundles a user saved. A missing user is not an error;
// implementations return an empty *models.StoredCredentials.
type Store interface {
	GetByUserID(ctx context.Context, userID string) (*models.StoredCredentials, error)
}

// Config controls resolver behavior
type Config struct {
	// DefaultAWSRegion completes stored AWS bundles saved without a region
	DefaultAWSRegion string
	// LookupTimeout bounds each store call
	LookupTimeout time.Duration
}

// Resolver picks a bundle for a provider: the user's stored bundle first,
// then the process environment, then none.
type Resolver struct {
	store   Store
	env     *models.StoredCredentials
	cfg     Config
	logger  *zap.Logger
	metrics *observability.Metrics
}

// NewResolver creates a Resolver. store may be nil when no credential store
// is configured; env holds the bundles taken from process configuration.
func NewResolver(store Store, env *models.StoredCredentials, cfg Config, logger *zap.Logger, metrics *observability.Metrics) *Resolver {
	if env == nil {
		env = &models.StoredCredentials{}
	}
	return &Resolver{
		store:   store,
		env:     env,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
	}
}

// Resolve returns the bundle for provider, or nil when neither source has one.
// The only error it returns is a credential store failure, which callers
// must treat as fatal for the whole request.
func (r *Resolver) Resolve(ctx context.Context, provider models.Provider, userID string) (models.Credentials, error) {
	if userID != "" {
		if r.store == nil {
			r.logger.Warn("user_id supplied but no credential store is configured, using environment",
				zap.String("provider", string(provider)))
		} else {
			creds, err := r.fromStore(ctx, provider, userID)
			if err != nil {
				r.metrics.IncCredentialResolution(string(provider), observability.SourceError)
				return nil, services.WrapCredentialStore(err)
			}
			if creds != nil {
				r.metrics.IncCredentialResolution(string(provider), observability.SourceStore)
				r.logger.Debug("resolved stored credentials",
					zap.String("provider", string(provider)),
					zap.String("user_id", userID))
				return creds, nil
			}
		}
	}

	if creds := r.env.For(provider); creds != nil {
		r.metrics.IncCredentialResolution(string(provider), observability.SourceEnvironment)
		return creds, nil
	}

	r.metrics.IncCredentialResolution(string(provider), observability.SourceNone)
	return nil, nil
}

func (r *Resolver) fromStore(ctx context.Context, provider models.Provider, userID string) (models.Credentials, error) {
	if r.cfg.LookupTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.LookupTimeout)
		defer cancel()
	}

	stored, err := r.store.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}

	creds := stored.For(provider)
	if creds == nil {
		return nil, nil
	}

	if aws, ok := creds.(*models.AWSCredentials); ok && aws.Region == "" {
		completed := *aws
		completed.Region = r.cfg.DefaultAWSRegion
		creds = &completed
	}

	if err := creds.Validate(); err != nil {
		r.logger.Warn("ignoring incomplete stored credentials",
			zap.String("provider", string(provider)),
			zap.String("user_id", userID),
			zap.Error(err))
		return nil, nil
	}
	return creds, nil
}
